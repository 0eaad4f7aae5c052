// ABOUTME: FLAC file source backed by mewkiz/flac
// ABOUTME: Regroups FLAC blocks into 20ms 24-bit frames and supports seeking
package source

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"

	"github.com/Sendspin/sendspin-avsync/pkg/media"
)

// FLACSource reads from a FLAC file
type FLACSource struct {
	mu          sync.Mutex
	file        *os.File
	stream      *flac.Stream
	sampleRate  int
	channels    int
	bitDepth    int
	length      int64
	sampleIndex int64
	pending     []int32 // Decoded interleaved samples not yet framed
	skip        int64   // Per-channel samples to drop after a coarse seek
}

// NewFLACSource opens and decodes a FLAC file
func NewFLACSource(filePath string) (*FLACSource, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open FLAC file: %w", err)
	}

	stream, err := flac.NewSeek(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decode FLAC: %w", err)
	}

	info := stream.Info
	return &FLACSource{
		file:       f,
		stream:     stream,
		sampleRate: int(info.SampleRate),
		channels:   int(info.NChannels),
		bitDepth:   int(info.BitsPerSample),
		length:     int64(info.NSamples),
	}, nil
}

// to24Bit scales a sample of the stream's bit depth to the 24-bit range
func (s *FLACSource) to24Bit(sample int32) int32 {
	switch shift := s.bitDepth - 24; {
	case shift > 0:
		return sample >> shift
	case shift < 0:
		return sample << -shift
	default:
		return sample
	}
}

func (s *FLACSource) appendBlock(f *frame.Frame) {
	for i := 0; i < int(f.BlockSize); i++ {
		if s.skip > 0 {
			s.skip--
			continue
		}
		for ch := 0; ch < s.channels; ch++ {
			s.pending = append(s.pending, s.to24Bit(f.Subframes[ch].Samples[i]))
		}
	}
}

func (s *FLACSource) ReadFrame() (media.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := samplesPerFrame(s.sampleRate) * s.channels
	for len(s.pending) < want {
		block, err := s.stream.ParseNext()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return media.Frame{}, fmt.Errorf("failed to parse FLAC frame: %w", err)
		}
		s.appendBlock(block)
	}

	if len(s.pending) == 0 {
		return media.Frame{}, io.EOF
	}

	n := min(want, len(s.pending))
	samples := make([]int32, n)
	copy(samples, s.pending)
	s.pending = s.pending[n:]

	out := audioFrame(samples, s.sampleIndex, s.sampleRate, s.channels)
	s.sampleIndex += int64(n / s.channels)
	return out, nil
}

func (s *FLACSource) SeekTo(pos int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index := max(usecsToSamples(pos, s.sampleRate), 0)
	if s.length > 0 {
		index = min(index, s.length)
	}

	start, err := s.stream.Seek(uint64(index))
	if err != nil {
		return fmt.Errorf("failed to seek FLAC: %w", err)
	}

	s.pending = s.pending[:0]
	s.skip = index - int64(start)
	s.sampleIndex = index
	return nil
}

func (s *FLACSource) Duration() int64 {
	return samplesToUsecs(s.length, s.sampleRate)
}

func (s *FLACSource) Stream() media.StreamType { return media.StreamAudio }
func (s *FLACSource) SampleRate() int          { return s.sampleRate }
func (s *FLACSource) Channels() int            { return s.channels }
func (s *FLACSource) Close() error             { return s.file.Close() }
