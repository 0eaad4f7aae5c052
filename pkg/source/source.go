// ABOUTME: Frame source abstraction for feeding a playback session
// ABOUTME: Provides the Source interface, shared PCM framing and file opening
package source

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Sendspin/sendspin-avsync/pkg/media"
)

const (
	// DefaultSampleRate is used when a generator is given no rate
	DefaultSampleRate = 48000
	// DefaultChannels is used when a generator is given no channel count
	DefaultChannels = 2
	// FrameDuration is the length of each audio frame produced by PCM sources
	FrameDuration = 20 * time.Millisecond
	// Max24Bit is the largest 24-bit sample value
	Max24Bit = 8388607
)

// Source produces timestamped frames for one stream
type Source interface {
	// Stream returns the stream the frames belong to
	Stream() media.StreamType

	// ReadFrame returns the next frame. Returns io.EOF at the end of the media.
	ReadFrame() (media.Frame, error)

	// SeekTo repositions the source so the next frame covers pos (µs)
	SeekTo(pos int64) error

	// Duration returns the media length in µs, or 0 when unbounded
	Duration() int64

	// Close releases the underlying resources
	Close() error
}

// PCMSource is implemented by sources producing interleaved 24-bit samples
type PCMSource interface {
	Source
	SampleRate() int
	Channels() int
}

// Open creates a file source based on the file extension
func Open(path string) (PCMSource, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("audio file not found: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".mp3":
		return NewMP3Source(path)
	case ".flac":
		return NewFLACSource(path)
	default:
		return nil, fmt.Errorf("unsupported audio format: %s (supported: .mp3, .flac)", ext)
	}
}

// samplesToUsecs converts a per-channel sample count to microseconds
func samplesToUsecs(samples int64, sampleRate int) int64 {
	return samples * int64(time.Second/time.Microsecond) / int64(sampleRate)
}

// usecsToSamples converts microseconds to a per-channel sample count
func usecsToSamples(usecs int64, sampleRate int) int64 {
	return usecs * int64(sampleRate) / int64(time.Second/time.Microsecond)
}

// samplesPerFrame returns the per-channel sample count of one FrameDuration
func samplesPerFrame(sampleRate int) int {
	return sampleRate * int(FrameDuration/time.Millisecond) / 1000
}

// audioFrame wraps interleaved samples starting at sample index start
func audioFrame(samples []int32, start int64, sampleRate, channels int) media.Frame {
	count := int64(len(samples) / channels)
	pts := samplesToUsecs(start, sampleRate)
	frame := media.NewFrame(media.StreamAudio, pts, samplesToUsecs(start+count, sampleRate)-pts)
	frame.Samples = samples
	return frame
}
