// ABOUTME: Audio frame presenter writing to an Output and driving the audio clock
// ABOUTME: Reports device position to the clock and applies rate, volume and mute
package output

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sendspin/sendspin-avsync/pkg/audio"
	"github.com/Sendspin/sendspin-avsync/pkg/audio/resample"
	"github.com/Sendspin/sendspin-avsync/pkg/clock"
	"github.com/Sendspin/sendspin-avsync/pkg/media"
	"github.com/Sendspin/sendspin-avsync/pkg/renderer"
)

// minRetry is the shortest wait reported when the output is full
const minRetry = time.Millisecond

// PresenterConfig configures a Presenter
type PresenterConfig struct {
	SampleRate int // default: 48000
	Channels   int // default: 2
	Volume     int // 0-100, default: 100

	// Logger receives diagnostics (default: disabled)
	Logger *zerolog.Logger
}

// Presenter presents audio frames on an Output.
//
// It registers as an audio clock: after every write it reports the position
// actually audible (written end minus what is still buffered) so the clock
// controller can follow the device.
type Presenter struct {
	out        Output
	sampleRate int
	channels   int
	log        zerolog.Logger

	mu         sync.Mutex
	clock      *clock.Clock
	rate       float64
	resampler  *resample.Resampler
	volume     int
	muted      bool
	active     bool
	pending    []int32 // Output samples of the current frame not yet written
	total      int
	framePts   int64
	frameEnd   int64
	writtenEnd int64
}

// NewPresenter opens out and wraps it in a presenter
func NewPresenter(out Output, config PresenterConfig) (*Presenter, error) {
	if config.SampleRate <= 0 {
		config.SampleRate = 48000
	}
	if config.Channels <= 0 {
		config.Channels = 2
	}
	if config.Volume <= 0 {
		config.Volume = 100
	}

	logger := zerolog.Nop()
	if config.Logger != nil {
		logger = *config.Logger
	}

	if err := out.Open(config.SampleRate, config.Channels); err != nil {
		return nil, fmt.Errorf("failed to open audio output: %w", err)
	}

	return &Presenter{
		out:        out,
		sampleRate: config.SampleRate,
		channels:   config.Channels,
		log:        logger,
		rate:       1.0,
		volume:     min(config.Volume, 100),
	}, nil
}

// ClockType makes the audio device the preferred master
func (p *Presenter) ClockType() clock.Type {
	return clock.AudioClock
}

// AttachClock sets the clock positions are reported to
func (p *Presenter) AttachClock(c *clock.Clock) {
	p.mu.Lock()
	p.clock = c
	p.mu.Unlock()
}

// prepareLocked converts a frame's samples to output samples at the current rate
func (p *Presenter) prepareLocked(frame media.Frame) []int32 {
	samples := frame.Samples
	if p.resampler != nil {
		out := make([]int32, p.resampler.OutputSamplesNeeded(len(samples))+p.channels)
		n := p.resampler.Resample(samples, out)
		samples = out[:n]
	}
	return applyVolume(samples, p.volume, p.muted)
}

// RenderInternal writes as much of the frame as the output accepts. When the
// output is full it asks to be called again once enough has drained.
func (p *Presenter) RenderInternal(frame media.Frame) renderer.Result {
	if !frame.Valid {
		return renderer.Result{}
	}

	p.mu.Lock()
	if !p.active || p.framePts != frame.Pts || p.frameEnd != frame.End {
		p.pending = p.prepareLocked(frame)
		p.total = len(p.pending)
		p.framePts = frame.Pts
		p.frameEnd = frame.End
		p.active = true
	}

	free := p.out.Free()
	free -= free % p.channels
	n := p.out.Write(p.pending[:min(free, len(p.pending))])
	p.pending = p.pending[n:]

	var timeLeft time.Duration
	if p.total > 0 {
		p.writtenEnd = frame.End - frame.Duration()*int64(len(p.pending))/int64(p.total)
	} else {
		p.writtenEnd = frame.End
	}
	if len(p.pending) > 0 {
		missing := len(p.pending) / p.channels
		timeLeft = max(time.Duration(missing)*time.Second/time.Duration(p.sampleRate), minRetry)
	} else {
		p.active = false
		p.pending = nil
	}

	buffered := p.out.Buffered() / p.channels
	position := p.writtenEnd - int64(float64(buffered)*float64(time.Second/time.Microsecond)*p.rate/float64(p.sampleRate))
	c := p.clock
	p.mu.Unlock()

	if c != nil {
		c.TimeUpdated(position)
	}

	return renderer.Result{TimeLeft: timeLeft}
}

// OnSyncTo drops buffered audio after a seek
func (p *Presenter) OnSyncTo(usecs int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.out.Flush()
	p.active = false
	p.pending = nil
	p.writtenEnd = usecs
	if p.resampler != nil {
		p.resampler.Reset()
	}
}

// OnPlaybackRateChanged resamples subsequent frames so they play at rate
func (p *Presenter) OnPlaybackRateChanged(rate float64, _ int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if rate == p.rate {
		return
	}
	p.rate = rate
	if rate == 1.0 {
		p.resampler = nil
	} else {
		p.resampler = resample.New(int(float64(p.sampleRate)*rate), p.sampleRate, p.channels)
	}
	p.log.Debug().Float64("rate", rate).Msg("audio playback rate changed")
}

// OnPausedChanged stops or resumes the device
func (p *Presenter) OnPausedChanged(paused bool) {
	p.out.SetPaused(paused)
}

// SetVolume sets the volume (0-100) for frames presented from now on
func (p *Presenter) SetVolume(volume int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume = max(0, min(volume, 100))
	p.log.Debug().Int("volume", p.volume).Msg("volume set")
}

// SetMuted sets mute state
func (p *Presenter) SetMuted(muted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.muted = muted
	p.log.Debug().Bool("muted", muted).Msg("mute set")
}

// Volume returns current volume
func (p *Presenter) Volume() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// IsMuted returns mute state
func (p *Presenter) IsMuted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.muted
}

// Close closes the output
func (p *Presenter) Close() error {
	return p.out.Close()
}

// applyVolume applies volume and mute to samples with clipping protection
func applyVolume(samples []int32, volume int, muted bool) []int32 {
	multiplier := getVolumeMultiplier(volume, muted)

	result := make([]int32, len(samples))
	for i, sample := range samples {
		scaled := int64(float64(sample) * multiplier)

		// Clamp to 24-bit range to prevent overflow
		if scaled > audio.Max24Bit {
			scaled = audio.Max24Bit
		} else if scaled < audio.Min24Bit {
			scaled = audio.Min24Bit
		}

		result[i] = int32(scaled)
	}

	return result
}

// getVolumeMultiplier calculates volume multiplier
func getVolumeMultiplier(volume int, muted bool) float64 {
	if muted {
		return 0.0
	}
	return float64(volume) / 100.0
}
