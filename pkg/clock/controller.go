// ABOUTME: Shared controller electing a master clock and extrapolating media time
// ABOUTME: Propagates seek, rate and pause changes to every registered clock
package clock

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultNotifyThreshold is the minimum master time change (µs) that triggers
// an OnMasterTime notification
const DefaultNotifyThreshold = 5000

// Config configures a Controller
type Config struct {
	// NotifyThreshold coalesces master time notifications (default: 5000µs)
	NotifyThreshold int64

	// OnMasterTime is called, outside the controller lock, when the master
	// clock moves the timeline by at least NotifyThreshold
	OnMasterTime func(usecs int64)

	// Now overrides the wall clock (default: time.Now)
	Now func() time.Time

	// Logger receives debug diagnostics (default: disabled)
	Logger *zerolog.Logger
}

// State is a point-in-time snapshot of the controller
type State struct {
	CurrentTime  int64
	SeekTime     int64
	PlaybackRate float64
	Paused       bool
	HasMaster    bool
	MasterType   Type
	Clocks       int
}

// Controller owns the shared media timeline.
//
// It does not own its clocks; clocks unregister themselves on Close and the
// controller clears every back-reference on its own Close.
type Controller struct {
	mu             sync.Mutex
	clocks         []*Clock
	master         *Clock
	baseTime       int64
	seekTime       int64
	anchor         time.Time
	rate           float64
	paused         bool
	lastMasterTime int64
	closed         bool

	threshold    int64
	onMasterTime func(int64)
	now          func() time.Time
	log          zerolog.Logger
}

// NewController creates a controller at media time 0, running at rate 1
func NewController(config Config) *Controller {
	if config.NotifyThreshold <= 0 {
		config.NotifyThreshold = DefaultNotifyThreshold
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	logger := zerolog.Nop()
	if config.Logger != nil {
		logger = *config.Logger
	}

	return &Controller{
		rate:         1.0,
		anchor:       config.Now(),
		threshold:    config.NotifyThreshold,
		onMasterTime: config.OnMasterTime,
		now:          config.Now,
		log:          logger,
	}
}

// currentTimeNoLock extrapolates from the last anchor. Caller holds mu.
func (c *Controller) currentTimeNoLock() int64 {
	if c.paused {
		return c.baseTime
	}
	elapsed := c.now().Sub(c.anchor).Microseconds()
	return c.baseTime + int64(math.Round(float64(elapsed)*c.rate))
}

func (c *Controller) snapshotNoLock() []*Clock {
	clocks := make([]*Clock, len(c.clocks))
	copy(clocks, c.clocks)
	return clocks
}

// CurrentTime returns the extrapolated media time in µs
func (c *Controller) CurrentTime() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentTimeNoLock()
}

// TimeUpdated reconciles a clock's measured position against the timeline.
//
// A slave clock never moves the timeline; it gets the current time back. The
// master clock's time is adopted as the new base.
func (c *Controller) TimeUpdated(clock *Clock, usecs int64) int64 {
	c.mu.Lock()
	if clock != c.master {
		current := c.currentTimeNoLock()
		c.mu.Unlock()
		return current
	}

	c.baseTime = usecs
	c.anchor = c.now()

	delta := usecs - c.lastMasterTime
	if delta < 0 {
		delta = -delta
	}
	if delta < c.threshold {
		c.mu.Unlock()
		return usecs
	}
	c.lastMasterTime = usecs
	notify := c.onMasterTime
	c.mu.Unlock()

	if notify != nil {
		notify(usecs)
	}
	return usecs
}

// AddClock registers clock and seeds it with the current time and pause state
func (c *Controller) AddClock(clock *Clock) {
	if clock == nil {
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		clock.setController(nil)
		return
	}
	for _, existing := range c.clocks {
		if existing == clock {
			c.mu.Unlock()
			return
		}
	}

	c.log.Debug().Str("clock", clock.ID().String()).Stringer("type", clock.Type()).Msg("addClock")

	if c.master == nil {
		c.master = clock
	}
	c.clocks = append(c.clocks, clock)
	if c.master != clock && clock.Type() > c.master.Type() {
		c.master = clock
	}

	current := c.currentTimeNoLock()
	paused := c.paused
	c.mu.Unlock()

	clock.SyncTo(current)
	clock.SetPaused(paused)
}

// RemoveClock unregisters clock, electing a new master if needed
func (c *Controller) RemoveClock(clock *Clock) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, existing := range c.clocks {
		if existing == clock {
			c.clocks = append(c.clocks[:i], c.clocks[i+1:]...)
			c.log.Debug().Str("clock", clock.ID().String()).Msg("removeClock")
			break
		}
	}

	if c.master != clock {
		return
	}

	c.master = nil
	for _, candidate := range c.clocks {
		if c.master == nil || c.master.Type() < candidate.Type() {
			c.master = candidate
		}
	}
}

// SyncTo hard-resets the timeline to usecs (seek)
func (c *Controller) SyncTo(usecs int64) {
	c.mu.Lock()
	c.log.Debug().Int64("time", usecs).Msg("syncTo")
	c.baseTime = usecs
	c.seekTime = usecs
	c.anchor = c.now()
	clocks := c.snapshotNoLock()
	c.mu.Unlock()

	for _, clock := range clocks {
		clock.SyncTo(usecs)
	}
}

// SetPlaybackRate freezes the current time into the base and continues
// extrapolating at rate from now on. Non-positive rates are ignored.
func (c *Controller) SetPlaybackRate(rate float64) {
	if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		c.log.Warn().Float64("rate", rate).Msg("ignoring invalid playback rate")
		return
	}

	c.mu.Lock()
	c.log.Debug().Float64("rate", rate).Msg("setPlaybackRate")
	c.baseTime = c.currentTimeNoLock()
	c.anchor = c.now()
	c.rate = rate
	base := c.baseTime
	clocks := c.snapshotNoLock()
	c.mu.Unlock()

	for _, clock := range clocks {
		clock.SetPlaybackRate(rate, base)
	}
}

// SetPaused freezes or resumes the timeline. Redundant calls are ignored.
func (c *Controller) SetPaused(paused bool) {
	c.mu.Lock()
	if c.paused == paused {
		c.mu.Unlock()
		return
	}

	c.log.Debug().Bool("paused", paused).Msg("setPaused")
	if paused {
		c.baseTime = c.currentTimeNoLock()
		c.seekTime = c.baseTime
	} else {
		c.anchor = c.now()
	}
	c.paused = paused
	clocks := c.snapshotNoLock()
	c.mu.Unlock()

	for _, clock := range clocks {
		clock.SetPaused(paused)
	}
}

// Master returns the current master clock, or nil
func (c *Controller) Master() *Clock {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.master
}

// Clocks returns the registered clocks in registration order
func (c *Controller) Clocks() []*Clock {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotNoLock()
}

// PlaybackRate returns the current rate
func (c *Controller) PlaybackRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rate
}

// IsPaused returns the pause state
func (c *Controller) IsPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// SeekTime returns the last seek (or pause) position
func (c *Controller) SeekTime() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seekTime
}

func (c *Controller) pauseAndRate() (bool, float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused, c.rate
}

// State returns a consistent snapshot for diagnostics
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := State{
		CurrentTime:  c.currentTimeNoLock(),
		SeekTime:     c.seekTime,
		PlaybackRate: c.rate,
		Paused:       c.paused,
		Clocks:       len(c.clocks),
	}
	if c.master != nil {
		s.HasMaster = true
		s.MasterType = c.master.Type()
	}
	return s
}

// Close detaches every registered clock so none of them reaches a dead controller
func (c *Controller) Close() {
	c.mu.Lock()
	clocks := c.clocks
	c.clocks = nil
	c.master = nil
	c.closed = true
	c.mu.Unlock()

	for _, clock := range clocks {
		clock.setController(nil)
	}
}
