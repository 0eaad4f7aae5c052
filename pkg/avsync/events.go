// ABOUTME: Playback session events delivered to subscribers
// ABOUTME: Non-blocking fan-out of renderer and controller notifications
package avsync

import (
	"time"

	"github.com/Sendspin/sendspin-avsync/pkg/media"
)

// EventType identifies a session event
type EventType int

const (
	EventStateChanged EventType = iota // Play, pause or rate change
	EventSeeked
	EventMasterTime
	EventSynchronized
	EventLoopChanged
	EventStepDone
	EventStreamEnded
	EventEnded
)

func (t EventType) String() string {
	switch t {
	case EventStateChanged:
		return "state"
	case EventSeeked:
		return "seeked"
	case EventMasterTime:
		return "master_time"
	case EventSynchronized:
		return "synchronized"
	case EventLoopChanged:
		return "loop_changed"
	case EventStepDone:
		return "step_done"
	case EventStreamEnded:
		return "stream_ended"
	case EventEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Event describes something that happened in the session
type Event struct {
	Type      EventType        `json:"-"`
	Name      string           `json:"type"`
	Stream    media.StreamType `json:"-"`
	StreamStr string           `json:"stream,omitempty"`
	Position  int64            `json:"position"`
	Time      time.Time        `json:"time"`
	LoopIndex int              `json:"loop_index,omitempty"`
	Rate      float64          `json:"rate,omitempty"`
	Paused    bool             `json:"paused"`
}

func newEvent(typ EventType, stream media.StreamType, position int64) Event {
	e := Event{
		Type:     typ,
		Name:     typ.String(),
		Stream:   stream,
		Position: position,
		Time:     time.Now(),
	}
	if stream != 0 {
		e.StreamStr = stream.String()
	}
	return e
}

// emit delivers e to every subscriber, dropping it for subscribers that are behind
func (s *Session) emit(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	for ch := range s.subscribers {
		select {
		case ch <- e:
		default:
			s.log.Debug().Stringer("event", e.Type).Msg("subscriber behind, dropping event")
		}
	}
}

// Subscribe returns a channel of session events and a function that cancels
// the subscription. The channel is closed on cancel or when the session closes.
func (s *Session) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, s.config.EventBuffer)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
	}
	return ch, cancel
}
