// ABOUTME: Linear resampler for converting audio sample rates
// ABOUTME: Interpolates continuously across chunk boundaries for streamed frames
package resample

// Resampler performs linear interpolation to convert between sample rates
type Resampler struct {
	inputRate  int
	outputRate int
	channels   int
	ratio      float64
	position   float64 // Read position in input frames, relative to lastSample when primed
	lastSample []int32 // Final input frame of the previous chunk
	primed     bool
}

// New creates a new resampler
func New(inputRate, outputRate, channels int) *Resampler {
	return &Resampler{
		inputRate:  inputRate,
		outputRate: outputRate,
		channels:   channels,
		ratio:      float64(inputRate) / float64(outputRate),
		lastSample: make([]int32, channels),
	}
}

// Ratio returns input frames consumed per output frame
func (r *Resampler) Ratio() float64 {
	return r.ratio
}

// Resample converts input samples to output sample rate using linear interpolation.
// input: interleaved samples at inputRate
// output: interleaved samples at outputRate
// The last input frame is carried into the next call so consecutive chunks
// interpolate as one stream.
func (r *Resampler) Resample(input []int32, output []int32) int {
	inputFrames := len(input) / r.channels
	if inputFrames == 0 {
		return 0
	}
	outputFrames := len(output) / r.channels

	// Frame i of the virtual stream is lastSample followed by input when primed
	offset := 0
	if r.primed {
		offset = 1
	}
	total := inputFrames + offset
	frame := func(i, ch int) int32 {
		if i < offset {
			return r.lastSample[ch]
		}
		return input[(i-offset)*r.channels+ch]
	}

	outIdx := 0
	for outIdx < outputFrames {
		idx := int(r.position)
		if idx >= total-1 {
			break
		}
		frac := r.position - float64(idx)

		for ch := 0; ch < r.channels; ch++ {
			s1 := float64(frame(idx, ch))
			s2 := float64(frame(idx+1, ch))
			output[outIdx*r.channels+ch] = int32(s1*(1.0-frac) + s2*frac)
		}

		outIdx++
		r.position += r.ratio
	}

	// The final frame becomes frame 0 of the next chunk
	r.position -= float64(total - 1)
	if r.position < 0 {
		r.position = 0
	}
	copy(r.lastSample, input[(inputFrames-1)*r.channels:inputFrames*r.channels])
	r.primed = true

	return outIdx * r.channels
}

// Reset resets the resampler state
func (r *Resampler) Reset() {
	r.position = 0.0
	r.primed = false
	for i := range r.lastSample {
		r.lastSample[i] = 0
	}
}

// OutputSamplesNeeded returns the largest output one Resample call can
// produce from inputSamples, including the carried frame
func (r *Resampler) OutputSamplesNeeded(inputSamples int) int {
	inputFrames := inputSamples / r.channels
	outputFrames := int(float64(inputFrames)/r.ratio) + 1
	return outputFrames * r.channels
}

// InputSamplesNeeded calculates how many input samples are needed to produce output samples
func (r *Resampler) InputSamplesNeeded(outputSamples int) int {
	outputFrames := outputSamples / r.channels
	inputFrames := int(float64(outputFrames) * r.ratio)
	return inputFrames * r.channels
}
