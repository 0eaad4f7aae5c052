// ABOUTME: Synthetic video source producing numbered frames at a fixed rate
// ABOUTME: Used to drive the video path without a real decoder
package source

import (
	"encoding/binary"
	"io"
	"sync"
	"time"

	"github.com/Sendspin/sendspin-avsync/pkg/media"
)

// DefaultFPS is used when NewTick is given no frame rate
const DefaultFPS = 25

// TickSource emits video frames whose payload is the big-endian frame number
type TickSource struct {
	mu     sync.Mutex
	fps    int
	index  int64
	frames int64 // 0 means endless
}

// NewTick creates a tick source. A zero duration produces endless frames.
func NewTick(fps int, duration time.Duration) *TickSource {
	if fps <= 0 {
		fps = DefaultFPS
	}
	return &TickSource{
		fps:    fps,
		frames: int64(duration) * int64(fps) / int64(time.Second),
	}
}

func (s *TickSource) frameTime(index int64) int64 {
	return index * int64(time.Second/time.Microsecond) / int64(s.fps)
}

func (s *TickSource) ReadFrame() (media.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frames > 0 && s.index >= s.frames {
		return media.Frame{}, io.EOF
	}

	pts := s.frameTime(s.index)
	frame := media.NewFrame(media.StreamVideo, pts, s.frameTime(s.index+1)-pts)
	frame.Data = binary.BigEndian.AppendUint64(nil, uint64(s.index))
	s.index++
	return frame, nil
}

func (s *TickSource) SeekTo(pos int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index := max(pos*int64(s.fps)/int64(time.Second/time.Microsecond), 0)
	if s.frames > 0 {
		index = min(index, s.frames)
	}
	s.index = index
	return nil
}

func (s *TickSource) Duration() int64 {
	return s.frameTime(s.frames)
}

// FPS returns the frame rate
func (s *TickSource) FPS() int { return s.fps }

func (s *TickSource) Stream() media.StreamType { return media.StreamVideo }
func (s *TickSource) Close() error             { return nil }

// TickNumber decodes the frame number carried by a tick frame
func TickNumber(frame media.Frame) (int64, bool) {
	if len(frame.Data) != 8 {
		return 0, false
	}
	return int64(binary.BigEndian.Uint64(frame.Data)), true
}
