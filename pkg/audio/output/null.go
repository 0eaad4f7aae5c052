// ABOUTME: Silent audio output draining its buffer at the device rate
// ABOUTME: Used for headless playback and deterministic tests
package output

import (
	"sync"
	"time"
)

// Null discards audio while consuming it at real-time speed
type Null struct {
	mu         sync.Mutex
	ring       *RingBuffer
	sampleRate int
	channels   int
	bufferDur  time.Duration
	now        func() time.Time
	last       time.Time
	paused     bool
}

// NewNull creates a null output. now may be nil to use time.Now.
func NewNull(bufferDuration time.Duration, now func() time.Time) *Null {
	if bufferDuration <= 0 {
		bufferDuration = DefaultBufferDuration
	}
	if now == nil {
		now = time.Now
	}
	return &Null{bufferDur: bufferDuration, now: now}
}

func (n *Null) Open(sampleRate, channels int) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.sampleRate = sampleRate
	n.channels = channels
	n.ring = NewRingBuffer(int(int64(sampleRate*channels) * int64(n.bufferDur) / int64(time.Second)))
	n.last = n.now()
	return nil
}

// drainLocked consumes the samples played since the last call
func (n *Null) drainLocked() {
	now := n.now()
	if n.paused || n.ring == nil {
		n.last = now
		return
	}

	frames := int64(now.Sub(n.last)) * int64(n.sampleRate) / int64(time.Second)
	if frames <= 0 {
		return
	}
	n.ring.Discard(int(frames) * n.channels)
	// Keep the sub-sample remainder for the next drain
	n.last = n.last.Add(time.Duration(frames * int64(time.Second) / int64(n.sampleRate)))
}

func (n *Null) Write(samples []int32) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.ring == nil {
		return 0
	}
	n.drainLocked()
	return n.ring.Write(samples)
}

func (n *Null) Free() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.ring == nil {
		return 0
	}
	n.drainLocked()
	return n.ring.Free()
}

func (n *Null) Buffered() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.ring == nil {
		return 0
	}
	n.drainLocked()
	return n.ring.Available()
}

func (n *Null) Flush() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.ring != nil {
		n.ring.Clear()
	}
}

func (n *Null) SetPaused(paused bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.drainLocked()
	n.paused = paused
}

func (n *Null) Close() error {
	return nil
}
