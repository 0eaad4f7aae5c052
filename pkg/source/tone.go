// ABOUTME: Test tone generator source
// ABOUTME: Generates a 440Hz sine wave in 20ms frames
package source

import (
	"io"
	"math"
	"sync"
	"time"

	"github.com/Sendspin/sendspin-avsync/pkg/media"
)

// ToneSource generates a 440Hz test tone
type ToneSource struct {
	mu           sync.Mutex
	sampleIndex  int64
	totalSamples int64 // 0 means endless
	frequency    float64
	sampleRate   int
	channels     int
}

// NewTone creates a tone generator. A zero duration produces an endless tone.
func NewTone(sampleRate, channels int, duration time.Duration) *ToneSource {
	if sampleRate == 0 {
		sampleRate = DefaultSampleRate
	}
	if channels == 0 {
		channels = DefaultChannels
	}

	return &ToneSource{
		frequency:    440.0, // A4 note
		sampleRate:   sampleRate,
		channels:     channels,
		totalSamples: usecsToSamples(duration.Microseconds(), sampleRate),
	}
}

func (s *ToneSource) ReadFrame() (media.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := int64(samplesPerFrame(s.sampleRate))
	if s.totalSamples > 0 {
		remaining := s.totalSamples - s.sampleIndex
		if remaining <= 0 {
			return media.Frame{}, io.EOF
		}
		count = min(count, remaining)
	}

	samples := make([]int32, count*int64(s.channels))
	for i := int64(0); i < count; i++ {
		t := float64(s.sampleIndex+i) / float64(s.sampleRate)
		// 50% volume to avoid clipping
		value := int32(math.Sin(2*math.Pi*s.frequency*t) * Max24Bit * 0.5)
		for ch := 0; ch < s.channels; ch++ {
			samples[int(i)*s.channels+ch] = value
		}
	}

	frame := audioFrame(samples, s.sampleIndex, s.sampleRate, s.channels)
	s.sampleIndex += count
	return frame, nil
}

func (s *ToneSource) SeekTo(pos int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index := max(usecsToSamples(pos, s.sampleRate), 0)
	if s.totalSamples > 0 {
		index = min(index, s.totalSamples)
	}
	s.sampleIndex = index
	return nil
}

func (s *ToneSource) Duration() int64 {
	if s.totalSamples == 0 {
		return 0
	}
	return samplesToUsecs(s.totalSamples, s.sampleRate)
}

func (s *ToneSource) Stream() media.StreamType { return media.StreamAudio }
func (s *ToneSource) SampleRate() int          { return s.sampleRate }
func (s *ToneSource) Channels() int            { return s.channels }
func (s *ToneSource) Close() error             { return nil }
