// ABOUTME: Playback session tying the clock controller to per-stream renderers
// ABOUTME: Routes frames, transport commands and master time reconciliation
package avsync

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"github.com/Sendspin/sendspin-avsync/pkg/clock"
	"github.com/Sendspin/sendspin-avsync/pkg/media"
	"github.com/Sendspin/sendspin-avsync/pkg/renderer"
)

var (
	// ErrClosed is returned by operations on a closed session
	ErrClosed = errors.New("avsync: session closed")
	// ErrInvalidRate is returned for non-positive playback rates
	ErrInvalidRate = errors.New("avsync: playback rate must be positive")
	// ErrNoStreams is returned when no presenter is configured
	ErrNoStreams = errors.New("avsync: at least one presenter is required")
	// ErrUnknownStream is returned for frames of a stream without a presenter
	ErrUnknownStream = errors.New("avsync: stream not configured")

	errStaleFrame = errors.New("avsync: frame predates the last seek")
)

const (
	// DefaultMaxInFlight bounds frames handed to a renderer but not yet processed
	DefaultMaxInFlight = 16
	// DefaultEventBuffer is the per-subscriber event channel size
	DefaultEventBuffer = 64

	noEpoch = -1
)

// ClockedPresenter is a presenter that paces itself against its own clock.
// The session registers a clock of ClockType for it and attaches it before
// playback starts. If the presenter also implements clock.Hooks it receives
// the controller's seek, rate and pause notifications.
type ClockedPresenter interface {
	renderer.Presenter
	ClockType() clock.Type
	AttachClock(c *clock.Clock)
}

// Config configures a Session
type Config struct {
	// Audio and Video are the stream presenters. At least one is required.
	Audio renderer.Presenter
	Video renderer.Presenter

	// StartPosition is the media position (µs) playback starts from
	StartPosition int64

	// Paused starts the session paused
	Paused bool

	// MaxInFlight bounds unprocessed frames per stream (default: 16)
	MaxInFlight int

	// NotifyThreshold coalesces master time notifications (default: 5000µs)
	NotifyThreshold int64

	// EventBuffer is the per-subscriber channel size (default: 64)
	EventBuffer int

	// Now overrides the wall clock (default: time.Now)
	Now func() time.Time

	// Logger receives diagnostics (default: disabled)
	Logger *zerolog.Logger
}

// Stats is a snapshot of the whole session
type Stats struct {
	ID       string           `json:"id"`
	Position int64            `json:"position"`
	Clock    clock.State      `json:"clock"`
	Streams  []renderer.Stats `json:"streams"`
	Ended    bool             `json:"ended"`
}

type stream struct {
	typ      media.StreamType
	clock    *clock.Clock
	renderer *renderer.Renderer
	slots    chan struct{}
	ended    atomic.Bool
}

func (st *stream) release() {
	select {
	case <-st.slots:
	default:
	}
}

// Session plays one or two synchronized streams.
//
// It owns a clock.Controller, and per stream a clock.Clock and a
// renderer.Renderer. Presenters are owned by the caller.
type Session struct {
	id         uuid.UUID
	config     Config
	log        zerolog.Logger
	controller *clock.Controller
	streams    []*stream

	seekMu sync.RWMutex
	epoch  int64
	feeds  map[chan seekRequest]struct{}

	mu          sync.Mutex
	subscribers map[chan Event]struct{}
	closed      bool
	done        chan struct{}
	closeOnce   sync.Once
}

// NewSession creates a session and starts its renderers
func NewSession(config Config) (*Session, error) {
	if config.Audio == nil && config.Video == nil {
		return nil, ErrNoStreams
	}
	if config.MaxInFlight <= 0 {
		config.MaxInFlight = DefaultMaxInFlight
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = DefaultEventBuffer
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	id := uuid.New()
	logger := zerolog.Nop()
	if config.Logger != nil {
		logger = config.Logger.With().Str("session", id.String()[:8]).Logger()
	}

	s := &Session{
		id:          id,
		config:      config,
		log:         logger,
		feeds:       make(map[chan seekRequest]struct{}),
		subscribers: make(map[chan Event]struct{}),
		done:        make(chan struct{}),
	}

	controllerLog := logger.With().Str("component", "clock").Logger()
	s.controller = clock.NewController(clock.Config{
		NotifyThreshold: config.NotifyThreshold,
		OnMasterTime:    s.onMasterTime,
		Now:             config.Now,
		Logger:          &controllerLog,
	})
	if config.StartPosition != 0 {
		s.controller.SyncTo(config.StartPosition)
	}
	if config.Paused {
		s.controller.SetPaused(true)
	}

	if config.Audio != nil {
		if err := s.addStream(media.StreamAudio, config.Audio); err != nil {
			s.Close()
			return nil, err
		}
	}
	if config.Video != nil {
		if err := s.addStream(media.StreamVideo, config.Video); err != nil {
			s.Close()
			return nil, err
		}
	}

	for _, st := range s.streams {
		st.renderer.Start()
	}

	s.log.Info().
		Int("streams", len(s.streams)).
		Int64("start", config.StartPosition).
		Msg("session started")

	return s, nil
}

func (s *Session) addStream(typ media.StreamType, p renderer.Presenter) error {
	clockType := clock.SystemClock
	cp, clocked := p.(ClockedPresenter)
	if clocked {
		clockType = cp.ClockType()
	}
	var hooks clock.Hooks
	if h, ok := p.(clock.Hooks); ok {
		hooks = h
	}

	st := &stream{
		typ:   typ,
		clock: clock.NewClock(s.controller, clockType, hooks),
		slots: make(chan struct{}, s.config.MaxInFlight),
	}
	if clocked {
		cp.AttachClock(st.clock)
	}

	rendererLog := s.log.With().Str("component", "renderer").Logger()
	r, err := renderer.New(renderer.Config{
		Stream:        typ,
		Presenter:     p,
		StartPosition: s.controller.CurrentTime(),
		Paused:        s.config.Paused,
		Now:           s.config.Now,
		Logger:        &rendererLog,
		OnFrameProcessed: func(media.Frame) {
			st.release()
		},
		OnSynchronized: func(_ time.Time, pos int64) {
			s.emit(newEvent(EventSynchronized, typ, pos))
		},
		OnLoopChanged: func(loopStart int64, index int) {
			e := newEvent(EventLoopChanged, typ, loopStart)
			e.LoopIndex = index
			s.emit(e)
		},
		OnForceStepDone: func() {
			s.emit(newEvent(EventStepDone, typ, s.controller.CurrentTime()))
		},
		OnAtEnd: func() {
			s.onStreamEnded(st)
		},
	})
	if err != nil {
		st.clock.Close()
		return err
	}
	st.renderer = r

	s.streams = append(s.streams, st)
	return nil
}

// onMasterTime re-anchors every renderer not driven by the master clock
func (s *Session) onMasterTime(usecs int64) {
	now := s.config.Now()
	for _, st := range s.streams {
		if !st.clock.IsMaster() {
			st.renderer.SyncSoft(now, usecs)
		}
	}
	s.emit(newEvent(EventMasterTime, 0, usecs))
}

func (s *Session) onStreamEnded(st *stream) {
	st.ended.Store(true)
	s.emit(newEvent(EventStreamEnded, st.typ, st.renderer.LastPosition()))

	if s.allEnded() {
		s.log.Info().Msg("playback ended")
		s.emit(newEvent(EventEnded, 0, s.controller.CurrentTime()))
	}
}

func (s *Session) allEnded() bool {
	for _, st := range s.streams {
		if !st.ended.Load() {
			return false
		}
	}
	return true
}

func (s *Session) lookup(typ media.StreamType) (*stream, error) {
	for _, st := range s.streams {
		if st.typ == typ {
			return st, nil
		}
	}
	return nil, ErrUnknownStream
}

func (s *Session) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// ID returns the session identity
func (s *Session) ID() string {
	return s.id.String()
}

// Push hands a frame to its stream's renderer, blocking while too many
// frames of that stream are still waiting to be processed. An invalid frame
// is treated as that stream's end-of-stream marker.
func (s *Session) Push(ctx context.Context, frame media.Frame) error {
	return s.push(ctx, frame, noEpoch)
}

func (s *Session) push(ctx context.Context, frame media.Frame, epoch int64) error {
	st, err := s.lookup(frame.Stream)
	if err != nil {
		return err
	}
	if !frame.Valid {
		return s.endOfStream(st, epoch)
	}

	select {
	case st.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}

	s.seekMu.RLock()
	defer s.seekMu.RUnlock()

	if epoch != noEpoch && epoch != s.epoch {
		st.release()
		return errStaleFrame
	}
	if s.isClosed() {
		st.release()
		return ErrClosed
	}

	st.renderer.Render(frame)
	return nil
}

// EndOfStream marks the end of a stream's frames
func (s *Session) EndOfStream(typ media.StreamType) error {
	st, err := s.lookup(typ)
	if err != nil {
		return err
	}
	return s.endOfStream(st, noEpoch)
}

func (s *Session) endOfStream(st *stream, epoch int64) error {
	s.seekMu.RLock()
	defer s.seekMu.RUnlock()

	if epoch != noEpoch && epoch != s.epoch {
		return errStaleFrame
	}
	if s.isClosed() {
		return ErrClosed
	}

	st.renderer.OnFinalFrameReceived()
	return nil
}

// Play resumes playback
func (s *Session) Play() error {
	return s.setPaused(false)
}

// Pause freezes playback. Queued frames stay queued.
func (s *Session) Pause() error {
	return s.setPaused(true)
}

func (s *Session) setPaused(paused bool) error {
	if s.isClosed() {
		return ErrClosed
	}

	s.controller.SetPaused(paused)
	for _, st := range s.streams {
		st.renderer.SetPaused(paused)
	}

	s.log.Debug().Bool("paused", paused).Msg("pause state changed")
	s.emitState()
	return nil
}

// SetPlaybackRate changes the playback speed
func (s *Session) SetPlaybackRate(rate float64) error {
	if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return ErrInvalidRate
	}
	if s.isClosed() {
		return ErrClosed
	}

	s.controller.SetPlaybackRate(rate)
	for _, st := range s.streams {
		st.renderer.SetPlaybackRate(rate)
	}

	s.log.Debug().Float64("rate", rate).Msg("playback rate changed")
	s.emitState()
	return nil
}

func (s *Session) emitState() {
	state := s.controller.State()
	e := newEvent(EventStateChanged, 0, state.CurrentTime)
	e.Paused = state.Paused
	e.Rate = state.PlaybackRate
	s.emit(e)
}

// Seek jumps to pos (µs). Queued frames are discarded and feeding sources
// are repositioned.
func (s *Session) Seek(pos int64) error {
	if s.isClosed() {
		return ErrClosed
	}
	pos = max(pos, 0)

	s.seekMu.Lock()
	s.epoch++
	req := seekRequest{pos: pos, epoch: s.epoch}

	// Renderers flush before the timeline reset so a queued pre-seek frame
	// cannot report its old position to the fresh controller.
	for _, st := range s.streams {
		st.ended.Store(false)
		st.renderer.Seek(pos)
	}
	s.controller.SyncTo(pos)

	// Master notifications raised before the flush may still be queued on
	// the slave renderers; anchor them after those.
	now := s.config.Now()
	for _, st := range s.streams {
		if !st.clock.IsMaster() {
			st.renderer.SyncSoft(now, pos)
		}
	}
	for ch := range s.feeds {
		select {
		case <-ch:
		default:
		}
		ch <- req
	}
	s.seekMu.Unlock()

	s.log.Info().Int64("pos", pos).Msg("seek")
	s.emit(newEvent(EventSeeked, 0, pos))
	return nil
}

// Step presents the next frame of every stream regardless of its deadline.
// Mostly useful while paused.
func (s *Session) Step() error {
	if s.isClosed() {
		return ErrClosed
	}
	for _, st := range s.streams {
		st.renderer.DoForceStep()
	}
	return nil
}

// Position returns the current media time (µs)
func (s *Session) Position() int64 {
	return s.controller.CurrentTime()
}

// IsPaused returns the pause state
func (s *Session) IsPaused() bool {
	return s.controller.IsPaused()
}

// PlaybackRate returns the current rate
func (s *Session) PlaybackRate() float64 {
	return s.controller.PlaybackRate()
}

// Ended reports whether every stream has consumed its end-of-stream marker
func (s *Session) Ended() bool {
	return s.allEnded()
}

// Stats returns a snapshot of the controller and every renderer
func (s *Session) Stats() Stats {
	stats := Stats{
		ID:       s.id.String(),
		Position: s.controller.CurrentTime(),
		Clock:    s.controller.State(),
		Ended:    s.allEnded(),
	}
	for _, st := range s.streams {
		stats.Streams = append(stats.Streams, st.renderer.Stats())
	}
	return stats
}

// Close stops the renderers, detaches the clocks and shuts down the controller.
// Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)

		for _, st := range s.streams {
			st.renderer.Close()
		}
		for _, st := range s.streams {
			st.clock.Close()
		}
		s.controller.Close()

		s.mu.Lock()
		for ch := range s.subscribers {
			close(ch)
		}
		s.subscribers = nil
		s.mu.Unlock()

		s.log.Info().Msg("session closed")
	})
	return nil
}
