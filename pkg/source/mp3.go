// ABOUTME: MP3 file source backed by go-mp3
// ABOUTME: Decodes to 24-bit stereo frames and supports seeking
package source

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hajimehoshi/go-mp3"

	"github.com/Sendspin/sendspin-avsync/pkg/media"
)

// mp3 decoder output is 16-bit stereo
const (
	mp3Channels       = 2
	mp3BytesPerSample = 2 * mp3Channels
)

// MP3Source reads from an MP3 file
type MP3Source struct {
	mu          sync.Mutex
	file        *os.File
	decoder     *mp3.Decoder
	sampleRate  int
	sampleIndex int64
	length      int64 // Total per-channel samples, 0 if unknown
	title       string
	buf         []byte
}

// NewMP3Source opens and decodes an MP3 file
func NewMP3Source(filePath string) (*MP3Source, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open MP3 file: %w", err)
	}

	decoder, err := mp3.NewDecoder(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decode MP3: %w", err)
	}

	filename := filepath.Base(filePath)

	s := &MP3Source{
		file:       f,
		decoder:    decoder,
		sampleRate: decoder.SampleRate(),
		title:      strings.TrimSuffix(filename, filepath.Ext(filename)),
	}
	if n := decoder.Length(); n > 0 {
		s.length = n / mp3BytesPerSample
	}
	s.buf = make([]byte, samplesPerFrame(s.sampleRate)*mp3BytesPerSample)

	return s, nil
}

func (s *MP3Source) ReadFrame() (media.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := io.ReadFull(s.decoder, s.buf)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = nil
	}
	if err != nil {
		if errors.Is(err, io.EOF) {
			return media.Frame{}, io.EOF
		}
		return media.Frame{}, fmt.Errorf("failed to read MP3: %w", err)
	}

	count := n / mp3BytesPerSample
	if count == 0 {
		return media.Frame{}, io.EOF
	}

	samples := make([]int32, count*mp3Channels)
	for i := range samples {
		// Left-shift by 8 to convert 16-bit range to 24-bit range
		samples[i] = int32(int16(binary.LittleEndian.Uint16(s.buf[i*2:]))) << 8
	}

	frame := audioFrame(samples, s.sampleIndex, s.sampleRate, mp3Channels)
	s.sampleIndex += int64(count)
	return frame, nil
}

func (s *MP3Source) SeekTo(pos int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index := max(usecsToSamples(pos, s.sampleRate), 0)
	if s.length > 0 {
		index = min(index, s.length)
	}
	if _, err := s.decoder.Seek(index*mp3BytesPerSample, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek MP3: %w", err)
	}
	s.sampleIndex = index
	return nil
}

func (s *MP3Source) Duration() int64 {
	return samplesToUsecs(s.length, s.sampleRate)
}

// Title returns the file name without extension
func (s *MP3Source) Title() string { return s.title }

func (s *MP3Source) Stream() media.StreamType { return media.StreamAudio }
func (s *MP3Source) SampleRate() int          { return s.sampleRate }
func (s *MP3Source) Channels() int            { return mp3Channels }
func (s *MP3Source) Close() error             { return s.file.Close() }
