// ABOUTME: Per-stream frame scheduler running as a single-goroutine actor
// ABOUTME: Waits for each head-of-queue frame's deadline, presents it, then dequeues it
package renderer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"github.com/Sendspin/sendspin-avsync/pkg/media"
	"github.com/Sendspin/sendspin-avsync/pkg/timing"
)

// DefaultMailboxSize bounds the number of queued commands
const DefaultMailboxSize = 256

// Config configures a Renderer
type Config struct {
	// Stream labels log lines and stats
	Stream media.StreamType

	// Presenter presents frames (required)
	Presenter Presenter

	// StartPosition is the media position (µs) playback starts from
	StartPosition int64

	// SeekOffset moves the initial stale threshold back by this much wall time
	SeekOffset time.Duration

	// PlaybackRate is the initial rate (default: 1.0)
	PlaybackRate float64

	// Paused starts the renderer paused
	Paused bool

	// MailboxSize bounds queued commands (default: 256)
	MailboxSize int

	// Now overrides the wall clock (default: time.Now)
	Now func() time.Time

	// Logger receives diagnostics (default: disabled)
	Logger *zerolog.Logger

	// Event callbacks. They run on the renderer goroutine and must not block
	// or call back into the renderer synchronously.
	OnFrameProcessed func(frame media.Frame)
	OnSynchronized   func(tp time.Time, pos int64)
	OnLoopChanged    func(loopStart int64, index int)
	OnForceStepDone  func()
	OnAtEnd          func()
}

// Stats contains renderer counters
type Stats struct {
	Stream       media.StreamType
	Received     int64
	Presented    int64
	Dropped      int64 // Stale on arrival
	Flushed      int64 // Discarded by a seek
	Stalls       int64 // Presenter asked for more time
	QueueDepth   int
	LastPosition int64
	SeekPosition int64
	AtEnd        bool
	StepForced   bool
}

// ErrNoPresenter is returned when Config.Presenter is nil
var ErrNoPresenter = errors.New("renderer: presenter is required")

// Renderer sequences one stream's frames against its timing controller.
//
// All queue and timing state is owned by the renderer goroutine; public
// mutators post closures to it. Positions and flags readable from other
// goroutines are mirrored in atomics.
type Renderer struct {
	config Config
	log    zerolog.Logger
	now    func() time.Time

	// Owned by the run goroutine
	tc        *timing.Controller
	frames    []media.Frame
	timer     *time.Timer
	paused    bool
	atEnd     bool
	loopIndex int

	stepForced   atomic.Bool
	atEndFlag    atomic.Bool
	lastPosition atomic.Int64
	seekPos      atomic.Int64
	queueDepth   atomic.Int64
	received     atomic.Int64
	presented    atomic.Int64
	dropped      atomic.Int64
	flushed      atomic.Int64
	stalls       atomic.Int64

	mailbox   chan func()
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
}

// New creates a renderer. Call Start to begin processing.
func New(config Config) (*Renderer, error) {
	if config.Presenter == nil {
		return nil, ErrNoPresenter
	}
	if config.PlaybackRate <= 0 {
		config.PlaybackRate = 1.0
	}
	if config.MailboxSize <= 0 {
		config.MailboxSize = DefaultMailboxSize
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	logger := zerolog.Nop()
	if config.Logger != nil {
		logger = config.Logger.With().Stringer("stream", config.Stream).Logger()
	}

	tc := timing.NewController(config.StartPosition, config.Now)
	tc.SetPlaybackRate(config.PlaybackRate)

	timer := time.NewTimer(time.Hour)
	timer.Stop()

	ctx, cancel := context.WithCancel(context.Background())

	r := &Renderer{
		config:  config,
		log:     logger,
		now:     config.Now,
		tc:      tc,
		timer:   timer,
		mailbox: make(chan func(), config.MailboxSize),
		ctx:     ctx,
		cancel:  cancel,
	}

	r.lastPosition.Store(tc.CurrentPosition(0))
	r.seekPos.Store(tc.CurrentPosition(-config.SeekOffset))

	if config.Paused {
		r.paused = true
		tc.SetPaused(true)
	}

	return r, nil
}

// Start launches the renderer goroutine. Subsequent calls do nothing.
func (r *Renderer) Start() {
	r.startOnce.Do(func() {
		r.wg.Add(1)
		go r.run()
	})
}

func (r *Renderer) run() {
	defer r.wg.Done()
	defer r.timer.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case fn := <-r.mailbox:
			fn()
		case <-r.timer.C:
			if r.canDoNextStep() {
				r.doNextStep()
			}
		}
	}
}

// post runs fn on the renderer goroutine
func (r *Renderer) post(fn func()) {
	select {
	case r.mailbox <- fn:
	case <-r.ctx.Done():
	}
}

// Render enqueues a frame. Stale frames are acknowledged and dropped.
func (r *Renderer) Render(frame media.Frame) {
	r.post(func() { r.render(frame) })
}

// OnFinalFrameReceived enqueues the end-of-stream marker
func (r *Renderer) OnFinalFrameReceived() {
	r.Render(media.Frame{})
}

// SetPlaybackRate changes the rate and recomputes the pending wait
func (r *Renderer) SetPlaybackRate(rate float64) {
	r.post(func() {
		r.tc.SetPlaybackRate(rate)
		r.log.Debug().Float64("rate", rate).Msg("playback rate changed")
		r.scheduleNextStep(true)
	})
}

// SetPaused pauses or resumes scheduling. The head frame stays queued.
func (r *Renderer) SetPaused(paused bool) {
	r.post(func() {
		if r.paused == paused {
			return
		}
		r.paused = paused
		r.tc.SetPaused(paused)
		r.scheduleNextStep(true)
	})
}

// SyncSoft re-anchors timing to (tp, pos) without a hard reset
func (r *Renderer) SyncSoft(tp time.Time, pos int64) {
	r.post(func() {
		r.tc.SyncSoft(tp, pos)
		r.scheduleNextStep(true)
	})
}

// Seek discards queued frames and restarts timing at pos. Frames that end
// before pos and arrive later are treated as stale. It returns once the
// queue has been flushed, so no pre-seek frame reaches the presenter after.
func (r *Renderer) Seek(pos int64) {
	done := make(chan struct{})
	r.post(func() {
		defer close(done)

		r.stopTimer()
		for _, frame := range r.frames {
			if frame.Valid {
				r.flushed.Inc()
				r.emitFrameProcessed(frame)
			}
		}
		r.frames = nil
		r.queueDepth.Store(0)

		r.tc.Sync(pos)
		r.seekPos.Store(pos)
		r.lastPosition.Store(pos)
		r.loopIndex = 0
		r.setAtEnd(false)

		r.log.Debug().Int64("pos", pos).Msg("seek")
		r.scheduleNextStep(true)
	})

	select {
	case <-done:
	case <-r.ctx.Done():
	}
}

// DoForceStep presents the next frame immediately, ignoring its deadline
func (r *Renderer) DoForceStep() {
	if r.stepForced.Swap(true) {
		return
	}
	r.post(func() {
		if r.atEnd {
			r.setForceStepDone()
		} else {
			r.scheduleNextStep(true)
		}
	})
}

// IsStepForced reports whether a forced step is pending
func (r *Renderer) IsStepForced() bool {
	return r.stepForced.Load()
}

// IsAtEnd reports whether the end-of-stream marker has been consumed
func (r *Renderer) IsAtEnd() bool {
	return r.atEndFlag.Load()
}

// SeekPosition returns the stale threshold (µs)
func (r *Renderer) SeekPosition() int64 {
	return r.seekPos.Load()
}

// LastPosition returns the highest presented position (µs)
func (r *Renderer) LastPosition() int64 {
	return r.lastPosition.Load()
}

// PlaybackRate runs on the renderer goroutine and returns the current rate
func (r *Renderer) PlaybackRate() float64 {
	result := make(chan float64, 1)
	r.post(func() { result <- r.tc.PlaybackRate() })
	select {
	case rate := <-result:
		return rate
	case <-r.ctx.Done():
		return 0
	}
}

// Stats returns a snapshot of the renderer counters
func (r *Renderer) Stats() Stats {
	return Stats{
		Stream:       r.config.Stream,
		Received:     r.received.Load(),
		Presented:    r.presented.Load(),
		Dropped:      r.dropped.Load(),
		Flushed:      r.flushed.Load(),
		Stalls:       r.stalls.Load(),
		QueueDepth:   int(r.queueDepth.Load()),
		LastPosition: r.lastPosition.Load(),
		SeekPosition: r.seekPos.Load(),
		AtEnd:        r.atEndFlag.Load(),
		StepForced:   r.stepForced.Load(),
	}
}

// Close stops the renderer goroutine. Queued frames are discarded.
func (r *Renderer) Close() {
	r.cancel()
	r.wg.Wait()
}

func (r *Renderer) render(frame media.Frame) {
	if frame.Valid {
		r.received.Inc()
	}

	if frame.Valid && frame.End < r.seekPos.Load() {
		r.log.Debug().
			Int64("end", frame.End).
			Int64("pts", frame.Pts).
			Int64("seekPos", r.seekPos.Load()).
			Msg("frame outdated")
		r.dropped.Inc()
		r.emitFrameProcessed(frame)
		return
	}

	r.frames = append(r.frames, frame)
	r.queueDepth.Store(int64(len(r.frames)))

	if len(r.frames) == 1 {
		r.scheduleNextStep(true)
	}
}

func (r *Renderer) canDoNextStep() bool {
	return len(r.frames) > 0 && (r.stepForced.Load() || !r.paused)
}

func (r *Renderer) timerInterval() time.Duration {
	if frame := r.frames[0]; frame.Valid && !r.stepForced.Load() {
		delay := r.tc.TimeFromPosition(frame.Pts).Sub(r.now())
		if delay > 0 {
			return delay
		}
	}
	return 0
}

func (r *Renderer) stopTimer() {
	r.timer.Stop()
}

// scheduleNextStep arms the single timer for the head frame, replacing any
// pending wake-up. With allowImmediate a zero wait runs the step inline.
func (r *Renderer) scheduleNextStep(allowImmediate bool) {
	if !r.canDoNextStep() {
		r.stopTimer()
		return
	}

	interval := r.timerInterval()
	if allowImmediate && interval == 0 {
		r.stopTimer()
		r.doNextStep()
		return
	}

	r.timer.Reset(interval)
}

func (r *Renderer) setForceStepDone() bool {
	if !r.stepForced.Swap(false) {
		return false
	}
	if r.config.OnForceStepDone != nil {
		r.config.OnForceStepDone()
	}
	return true
}

func (r *Renderer) setAtEnd(atEnd bool) {
	if r.atEnd == atEnd {
		return
	}
	r.atEnd = atEnd
	r.atEndFlag.Store(atEnd)
	if atEnd {
		r.log.Debug().Msg("reached end of stream")
		if r.config.OnAtEnd != nil {
			r.config.OnAtEnd()
		}
	}
}

func (r *Renderer) emitFrameProcessed(frame media.Frame) {
	if r.config.OnFrameProcessed != nil {
		r.config.OnFrameProcessed(frame)
	}
}

func (r *Renderer) doNextStep() {
	frame := r.frames[0]

	r.setForceStepDone()

	result := r.config.Presenter.RenderInternal(frame)
	done := result.TimeLeft <= 0

	if !done && frame.Valid {
		tp := r.now().Add(result.TimeLeft)
		r.tc.SyncSoft(tp, frame.Pts)
		r.stalls.Inc()
		if r.config.OnSynchronized != nil {
			r.config.OnSynchronized(tp, frame.Pts)
		}
	}

	if done {
		r.frames[0] = media.Frame{}
		r.frames = r.frames[1:]
		r.queueDepth.Store(int64(len(r.frames)))

		if frame.Valid {
			if frame.Pts > r.lastPosition.Load() {
				r.lastPosition.Store(frame.Pts)
			}
			r.seekPos.Store(frame.End)

			if index := frame.Loop.Index; r.loopIndex < index {
				r.loopIndex = index
				if r.config.OnLoopChanged != nil {
					r.config.OnLoopChanged(frame.Loop.Pos, index)
				}
			}

			r.presented.Inc()
			r.emitFrameProcessed(frame)
		}
	}

	r.setAtEnd(done && !frame.Valid && len(r.frames) == 0)

	r.scheduleNextStep(false)
}
