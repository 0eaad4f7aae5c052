// ABOUTME: Maps between media positions and wall-clock deadlines for one renderer
// ABOUTME: Anchored on a (wall time, media position) pair scaled by playback rate
package timing

import (
	"math"
	"time"
)

// Controller converts media positions (µs) to wall instants and back.
//
// It is not safe for concurrent use; each renderer owns its own controller and
// only touches it from its own goroutine.
type Controller struct {
	anchorTime time.Time
	anchorPos  int64
	rate       float64
	paused     bool
	now        func() time.Time
}

// NewController creates a controller anchored at position pos right now.
// now may be nil to use time.Now.
func NewController(pos int64, now func() time.Time) *Controller {
	if now == nil {
		now = time.Now
	}
	return &Controller{
		anchorTime: now(),
		anchorPos:  pos,
		rate:       1.0,
		now:        now,
	}
}

func (c *Controller) mediaToWall(delta int64) time.Duration {
	return time.Duration(math.Round(float64(delta) * float64(time.Microsecond) / c.rate))
}

func (c *Controller) wallToMedia(d time.Duration) int64 {
	return int64(math.Round(float64(d.Microseconds()) * c.rate))
}

// TimeFromPosition returns the wall instant at which pos should be presented.
// While paused the position is frozen, so the result is computed as if
// playback resumed right now.
func (c *Controller) TimeFromPosition(pos int64) time.Time {
	base := c.anchorTime
	if c.paused {
		base = c.now()
	}
	return base.Add(c.mediaToWall(pos - c.anchorPos))
}

// PositionFromTime returns the media position presented at tp
func (c *Controller) PositionFromTime(tp time.Time) int64 {
	if c.paused {
		return c.anchorPos
	}
	return c.anchorPos + c.wallToMedia(tp.Sub(c.anchorTime))
}

// CurrentPosition returns the media position at now+offset
func (c *Controller) CurrentPosition(offset time.Duration) int64 {
	return c.PositionFromTime(c.now().Add(offset))
}

// SyncSoft re-anchors to (tp, pos) without touching rate or pause state
func (c *Controller) SyncSoft(tp time.Time, pos int64) {
	c.anchorTime = tp
	c.anchorPos = pos
}

// Sync re-anchors pos to the current instant
func (c *Controller) Sync(pos int64) {
	c.SyncSoft(c.now(), pos)
}

// SetPlaybackRate changes the rate from this instant forward.
// Non-positive rates are ignored.
func (c *Controller) SetPlaybackRate(rate float64) {
	if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) || rate == c.rate {
		return
	}
	now := c.now()
	c.anchorPos = c.PositionFromTime(now)
	c.anchorTime = now
	c.rate = rate
}

// SetPaused freezes the position on pause and re-anchors wall time on resume
func (c *Controller) SetPaused(paused bool) {
	if c.paused == paused {
		return
	}
	now := c.now()
	if paused {
		c.anchorPos = c.PositionFromTime(now)
	}
	c.anchorTime = now
	c.paused = paused
}

// PlaybackRate returns the current rate
func (c *Controller) PlaybackRate() float64 {
	return c.rate
}

// IsPaused returns the pause state
func (c *Controller) IsPaused() bool {
	return c.paused
}
