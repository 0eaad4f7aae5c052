// ABOUTME: Video frame presenter handing frames to a display callback
// ABOUTME: Reports presented timestamps to a system clock and counts late frames
package video

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sendspin/sendspin-avsync/pkg/clock"
	"github.com/Sendspin/sendspin-avsync/pkg/media"
	"github.com/Sendspin/sendspin-avsync/pkg/renderer"
)

// DefaultLateTolerance is how far behind the timeline a frame may be shown
// before it counts as late (one frame at 25fps)
const DefaultLateTolerance = 40 * time.Millisecond

// Display shows a frame. It is called from the renderer goroutine and
// should return quickly.
type Display func(frame media.Frame)

// SinkConfig configures a Sink
type SinkConfig struct {
	Display       Display       // required
	LateTolerance time.Duration // default: DefaultLateTolerance

	// Logger receives diagnostics (default: disabled)
	Logger *zerolog.Logger
}

// Metrics holds presentation counters
type Metrics struct {
	Presented   uint64        `json:"presented"`
	Late        uint64        `json:"late"`
	LastPts     int64         `json:"last_pts"`
	MaxLateness time.Duration `json:"max_lateness"`
}

// Sink presents video frames.
//
// It runs on a SystemClock. With no audio stream that clock is master and
// the shown timestamps drive the timeline; otherwise the timeline comes back
// from the controller and is used to measure lateness.
type Sink struct {
	display   Display
	tolerance int64
	log       zerolog.Logger

	mu      sync.Mutex
	clock   *clock.Clock
	metrics Metrics
}

// NewSink creates a video sink
func NewSink(config SinkConfig) *Sink {
	if config.Display == nil {
		config.Display = func(media.Frame) {}
	}
	if config.LateTolerance <= 0 {
		config.LateTolerance = DefaultLateTolerance
	}

	logger := zerolog.Nop()
	if config.Logger != nil {
		logger = *config.Logger
	}

	return &Sink{
		display:   config.Display,
		tolerance: config.LateTolerance.Microseconds(),
		log:       logger,
	}
}

// ClockType returns SystemClock
func (s *Sink) ClockType() clock.Type {
	return clock.SystemClock
}

// AttachClock sets the clock presented timestamps are reported to
func (s *Sink) AttachClock(c *clock.Clock) {
	s.mu.Lock()
	s.clock = c
	s.mu.Unlock()
}

// RenderInternal shows the frame. A video frame is always finished in one call.
func (s *Sink) RenderInternal(frame media.Frame) renderer.Result {
	if !frame.Valid {
		return renderer.Result{}
	}

	s.display(frame)

	s.mu.Lock()
	c := s.clock
	s.mu.Unlock()

	now := frame.Pts
	if c != nil {
		now = c.TimeUpdated(frame.Pts)
	}
	lateness := now - frame.Pts

	s.mu.Lock()
	s.metrics.Presented++
	s.metrics.LastPts = frame.Pts
	if lateness > s.tolerance {
		s.metrics.Late++
		if d := time.Duration(lateness) * time.Microsecond; d > s.metrics.MaxLateness {
			s.metrics.MaxLateness = d
		}
	}
	s.mu.Unlock()

	if lateness > s.tolerance {
		s.log.Debug().
			Int64("pts", frame.Pts).
			Int64("lateness_us", lateness).
			Msg("late video frame")
	}

	return renderer.Result{}
}

// Metrics returns a snapshot of the presentation counters
func (s *Sink) Metrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics
}
