// ABOUTME: Per-stream clock handle registered with a shared Controller
// ABOUTME: Reports media time and forwards measured positions for master reconciliation
package clock

import (
	"math"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Type ranks a clock for master election. Higher values win.
type Type int

const (
	// SystemClock is a synthetic clock driven by the wall clock
	SystemClock Type = iota
	// AudioClock is tied to an audio output device, the least adjustable pacing source
	AudioClock
)

func (t Type) String() string {
	switch t {
	case SystemClock:
		return "system"
	case AudioClock:
		return "audio"
	default:
		return "unknown"
	}
}

// Hooks lets an output backend react to notifications pushed down by the controller
type Hooks interface {
	OnSyncTo(usecs int64)
	OnPlaybackRateChanged(rate float64, baseTime int64)
	OnPausedChanged(paused bool)
}

// Clock is one stream's view of the shared media timeline.
//
// The controller reference is non-owning: it is cleared when either the clock
// is closed or the controller is closed, after which every method degrades to
// a neutral default.
type Clock struct {
	id    uuid.UUID
	typ   Type
	hooks Hooks
	log   zerolog.Logger

	mu         sync.RWMutex
	controller *Controller
}

// NewClock creates a clock and registers it with controller. hooks may be nil.
func NewClock(controller *Controller, typ Type, hooks Hooks) *Clock {
	c := &Clock{
		id:         uuid.New(),
		typ:        typ,
		hooks:      hooks,
		controller: controller,
		log:        zerolog.Nop(),
	}

	if controller != nil {
		c.log = controller.log.With().
			Str("clock", c.id.String()[:8]).
			Stringer("type", typ).
			Logger()
		controller.AddClock(c)
	}

	return c
}

// ID returns the clock identity
func (c *Clock) ID() uuid.UUID {
	return c.id
}

// Type returns the election rank
func (c *Clock) Type() Type {
	return c.typ
}

func (c *Clock) ctrl() *Controller {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.controller
}

func (c *Clock) setController(controller *Controller) {
	c.mu.Lock()
	c.controller = controller
	c.mu.Unlock()
}

// IsMaster reports whether this clock is its controller's master
func (c *Clock) IsMaster() bool {
	ctrl := c.ctrl()
	return ctrl != nil && ctrl.Master() == c
}

// CurrentTime returns the controller's media time, or 0 when detached
func (c *Clock) CurrentTime() int64 {
	if ctrl := c.ctrl(); ctrl != nil {
		return ctrl.CurrentTime()
	}
	return 0
}

// PlaybackRate returns the controller's rate, or 1 when detached
func (c *Clock) PlaybackRate() float64 {
	if ctrl := c.ctrl(); ctrl != nil {
		return ctrl.PlaybackRate()
	}
	return 1
}

// TimeUpdated reports a measured position and returns the authoritative time
func (c *Clock) TimeUpdated(currentTime int64) int64 {
	if ctrl := c.ctrl(); ctrl != nil {
		return ctrl.TimeUpdated(c, currentTime)
	}
	return currentTime
}

// SyncTo is called by the controller after a seek or on registration
func (c *Clock) SyncTo(usecs int64) {
	c.log.Debug().Int64("time", usecs).Bool("master", c.IsMaster()).Msg("syncTo")
	if c.hooks != nil {
		c.hooks.OnSyncTo(usecs)
	}
}

// SetPlaybackRate is called by the controller when the rate changes at baseTime
func (c *Clock) SetPlaybackRate(rate float64, baseTime int64) {
	c.log.Debug().Float64("rate", rate).Int64("base", baseTime).Msg("setPlaybackRate")
	if c.hooks != nil {
		c.hooks.OnPlaybackRateChanged(rate, baseTime)
	}
}

// SetPaused is called by the controller when the pause state changes
func (c *Clock) SetPaused(paused bool) {
	c.log.Debug().Bool("paused", paused).Msg("setPaused")
	if c.hooks != nil {
		c.hooks.OnPausedChanged(paused)
	}
}

// UsecsTo returns how many wall microseconds to wait before displayTime is
// reached when the timeline is at currentTime. It returns -1 when detached or
// paused, meaning nothing will advance and no wait should be scheduled.
func (c *Clock) UsecsTo(currentTime, displayTime int64) int64 {
	ctrl := c.ctrl()
	if ctrl == nil {
		return -1
	}

	paused, rate := ctrl.pauseAndRate()
	if paused {
		return -1
	}

	t := int64(math.Round(float64(displayTime-currentTime) / rate))
	if t < 0 {
		return 0
	}
	return t
}

// Close unregisters the clock. Safe to call more than once.
func (c *Clock) Close() {
	c.mu.Lock()
	ctrl := c.controller
	c.controller = nil
	c.mu.Unlock()

	if ctrl != nil {
		ctrl.RemoveClock(c)
	}
}
