// ABOUTME: Tests for the playback session
// ABOUTME: Covers clock election, backpressure, transport commands, looping and shutdown
package avsync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Sendspin/sendspin-avsync/pkg/clock"
	"github.com/Sendspin/sendspin-avsync/pkg/media"
	"github.com/Sendspin/sendspin-avsync/pkg/renderer"
	"github.com/Sendspin/sendspin-avsync/pkg/source"
)

const waitFor = 3 * time.Second

type fakePresenter struct {
	mu     sync.Mutex
	frames []media.Frame
}

func (p *fakePresenter) RenderInternal(frame media.Frame) renderer.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = append(p.frames, frame)
	return renderer.Result{}
}

func (p *fakePresenter) presented() []media.Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]media.Frame(nil), p.frames...)
}

// clockedPresenter reports each frame's pts as its measured position
type clockedPresenter struct {
	fakePresenter
	typ   clock.Type
	clock *clock.Clock
	syncs chan int64
}

func newClockedPresenter(typ clock.Type) *clockedPresenter {
	return &clockedPresenter{typ: typ, syncs: make(chan int64, 16)}
}

func (p *clockedPresenter) ClockType() clock.Type      { return p.typ }
func (p *clockedPresenter) AttachClock(c *clock.Clock) { p.clock = c }

func (p *clockedPresenter) OnSyncTo(usecs int64) {
	select {
	case p.syncs <- usecs:
	default:
	}
}
func (p *clockedPresenter) OnPlaybackRateChanged(float64, int64) {}
func (p *clockedPresenter) OnPausedChanged(bool)                 {}

func (p *clockedPresenter) RenderInternal(frame media.Frame) renderer.Result {
	result := p.fakePresenter.RenderInternal(frame)
	if frame.Valid {
		p.clock.TimeUpdated(frame.Pts)
	}
	return result
}

func newSession(t *testing.T, config Config) *Session {
	t.Helper()
	s, err := NewSession(config)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func waitEvent(t *testing.T, events <-chan Event, typ EventType) Event {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case e, ok := <-events:
			require.True(t, ok, "event channel closed while waiting for %s", typ)
			if e.Type == typ {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", typ)
		}
	}
}

func feed(t *testing.T, s *Session, src source.Source, loops int) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Feed(ctx, src, loops)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

func TestNewSessionRequiresPresenter(t *testing.T) {
	_, err := NewSession(Config{})
	require.ErrorIs(t, err, ErrNoStreams)
}

func TestClockedPresenterBecomesMaster(t *testing.T) {
	audio := newClockedPresenter(clock.AudioClock)
	video := &fakePresenter{}
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newSession(t, Config{
		Audio:         audio,
		Video:         video,
		StartPosition: 2000000,
		Paused:        true,
		Now:           func() time.Time { return fixed },
	})

	require.NotNil(t, audio.clock)
	require.True(t, audio.clock.IsMaster())
	require.Equal(t, int64(2000000), <-audio.syncs, "new clock is seeded with the start position")

	stats := s.Stats()
	require.True(t, stats.Clock.HasMaster)
	require.Equal(t, clock.AudioClock, stats.Clock.MasterType)
	require.Equal(t, 2, stats.Clock.Clocks)
	require.Len(t, stats.Streams, 2)
	require.Equal(t, int64(2000000), s.Position())
	require.True(t, s.IsPaused())
}

func TestUnknownStream(t *testing.T) {
	s := newSession(t, Config{Video: &fakePresenter{}})

	err := s.Push(context.Background(), media.NewFrame(media.StreamAudio, 0, 20000))
	require.ErrorIs(t, err, ErrUnknownStream)
	require.ErrorIs(t, s.EndOfStream(media.StreamAudio), ErrUnknownStream)
}

func TestPushBackpressure(t *testing.T) {
	video := &fakePresenter{}
	s := newSession(t, Config{Video: video, Paused: true, MaxInFlight: 2})

	ctx := context.Background()
	require.NoError(t, s.Push(ctx, media.NewFrame(media.StreamVideo, 0, 40000)))
	require.NoError(t, s.Push(ctx, media.NewFrame(media.StreamVideo, 40000, 40000)))

	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err := s.Push(short, media.NewFrame(media.StreamVideo, 80000, 40000))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, s.Seek(0))

	short2, cancel2 := context.WithTimeout(ctx, waitFor)
	defer cancel2()
	require.NoError(t, s.Push(short2, media.NewFrame(media.StreamVideo, 0, 40000)))
	require.Empty(t, video.presented(), "paused session presents nothing")
}

func TestFeedPlaysToEnd(t *testing.T) {
	video := &fakePresenter{}
	s := newSession(t, Config{Video: video})
	events, cancel := s.Subscribe()
	defer cancel()

	feed(t, s, source.NewTick(50, 200*time.Millisecond), 1)

	waitEvent(t, events, EventStreamEnded)
	waitEvent(t, events, EventEnded)
	require.True(t, s.Ended())

	presented := video.presented()
	require.Len(t, presented, 11, "ten frames plus the end marker")
	for i := 1; i < 10; i++ {
		require.Greater(t, presented[i].Pts, presented[i-1].Pts)
	}
	require.False(t, presented[10].Valid)
}

func TestFeedLoops(t *testing.T) {
	video := &fakePresenter{}
	s := newSession(t, Config{Video: video})
	events, cancel := s.Subscribe()
	defer cancel()

	feed(t, s, source.NewTick(50, 100*time.Millisecond), 2)

	e := waitEvent(t, events, EventLoopChanged)
	require.Equal(t, 1, e.LoopIndex)
	require.Equal(t, int64(100000), e.Position)
	require.Equal(t, "video", e.StreamStr)

	waitEvent(t, events, EventEnded)
	presented := video.presented()
	require.Len(t, presented, 11)
	require.Equal(t, int64(180000), presented[9].Pts)
	require.Equal(t, 1, presented[9].Loop.Index)
}

func TestSeekRepositionsFeed(t *testing.T) {
	video := &fakePresenter{}
	s := newSession(t, Config{Video: video})
	events, cancel := s.Subscribe()
	defer cancel()

	feed(t, s, source.NewTick(25, 0), 1)
	require.Eventually(t, func() bool { return len(video.presented()) > 0 }, waitFor, 5*time.Millisecond)

	require.NoError(t, s.Seek(30000000))
	e := waitEvent(t, events, EventSeeked)
	require.Equal(t, int64(30000000), e.Position)

	require.Eventually(t, func() bool {
		presented := video.presented()
		return presented[len(presented)-1].Pts >= 30000000
	}, waitFor, 5*time.Millisecond)
	require.GreaterOrEqual(t, s.Position(), int64(30000000))
}

// resetWatchPresenter counts frames presented after its clock was reset to resetPos
type resetWatchPresenter struct {
	*clockedPresenter
	resetPos int64

	mu    sync.Mutex
	reset bool
	late  int
}

func (p *resetWatchPresenter) OnSyncTo(usecs int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if usecs == p.resetPos {
		p.reset = true
	}
}

func (p *resetWatchPresenter) RenderInternal(frame media.Frame) renderer.Result {
	p.mu.Lock()
	if p.reset && frame.Valid {
		p.late++
	}
	p.mu.Unlock()
	return p.clockedPresenter.RenderInternal(frame)
}

func (p *resetWatchPresenter) lateFrames() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.late
}

func TestSeekFlushesRenderersBeforeClockReset(t *testing.T) {
	audio := &resetWatchPresenter{
		clockedPresenter: newClockedPresenter(clock.AudioClock),
		resetPos:         5000,
	}
	s := newSession(t, Config{Audio: audio, MaxInFlight: 64})

	ctx := context.Background()
	for i := int64(0); i < 40; i++ {
		require.NoError(t, s.Push(ctx, media.NewFrame(media.StreamAudio, i*20000, 20000)))
	}
	require.Eventually(t, func() bool { return len(audio.presented()) >= 3 }, waitFor, time.Millisecond)

	require.NoError(t, s.Seek(5000))
	stats := s.Stats()
	require.Equal(t, 0, stats.Streams[0].QueueDepth)

	time.Sleep(60 * time.Millisecond)
	require.Zero(t, audio.lateFrames(), "queued frames reached the presenter after the reset")
	require.Less(t, s.Position(), int64(100000))
}

func TestSeekAfterEndResumes(t *testing.T) {
	video := &fakePresenter{}
	s := newSession(t, Config{Video: video})
	events, cancel := s.Subscribe()
	defer cancel()

	feed(t, s, source.NewTick(50, 100*time.Millisecond), 1)
	waitEvent(t, events, EventEnded)

	before := len(video.presented())
	require.NoError(t, s.Seek(0))
	require.False(t, s.Ended())

	waitEvent(t, events, EventEnded)
	require.Equal(t, 2*before, len(video.presented()))
}

func TestPauseFreezesPosition(t *testing.T) {
	s := newSession(t, Config{Video: &fakePresenter{}})
	events, cancel := s.Subscribe()
	defer cancel()

	require.NoError(t, s.Pause())
	e := waitEvent(t, events, EventStateChanged)
	require.True(t, e.Paused)

	pos := s.Position()
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, pos, s.Position())

	require.NoError(t, s.Play())
	e = waitEvent(t, events, EventStateChanged)
	require.False(t, e.Paused)
	require.Eventually(t, func() bool { return s.Position() > pos }, waitFor, 5*time.Millisecond)
}

func TestSetPlaybackRate(t *testing.T) {
	s := newSession(t, Config{Video: &fakePresenter{}})

	require.ErrorIs(t, s.SetPlaybackRate(0), ErrInvalidRate)
	require.ErrorIs(t, s.SetPlaybackRate(-1), ErrInvalidRate)
	require.Equal(t, 1.0, s.PlaybackRate())

	require.NoError(t, s.SetPlaybackRate(2))
	require.Equal(t, 2.0, s.PlaybackRate())
}

func TestStepWhilePaused(t *testing.T) {
	video := &fakePresenter{}
	s := newSession(t, Config{Video: video, Paused: true})
	events, cancel := s.Subscribe()
	defer cancel()

	ctx := context.Background()
	require.NoError(t, s.Push(ctx, media.NewFrame(media.StreamVideo, 0, 40000)))
	require.NoError(t, s.Push(ctx, media.NewFrame(media.StreamVideo, 40000, 40000)))

	require.NoError(t, s.Step())
	e := waitEvent(t, events, EventStepDone)
	require.Equal(t, media.StreamVideo, e.Stream)

	require.Eventually(t, func() bool { return len(video.presented()) == 1 }, waitFor, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	require.Len(t, video.presented(), 1)
}

func TestMasterTimeReconcilesSlaves(t *testing.T) {
	audio := newClockedPresenter(clock.AudioClock)
	video := &fakePresenter{}
	s := newSession(t, Config{Audio: audio, Video: video})
	events, cancel := s.Subscribe()
	defer cancel()

	feed(t, s, source.NewTone(48000, 2, 200*time.Millisecond), 1)

	e := waitEvent(t, events, EventMasterTime)
	require.GreaterOrEqual(t, e.Position, int64(0))
	require.True(t, audio.clock.IsMaster())
}

func TestClose(t *testing.T) {
	audio := newClockedPresenter(clock.AudioClock)
	s, err := NewSession(Config{Audio: audio})
	require.NoError(t, err)
	events, _ := s.Subscribe()

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, ok := <-events
	require.False(t, ok, "subscriber channel closed")

	require.Equal(t, int64(-1), audio.clock.UsecsTo(0, 1000), "clock detached from the controller")
	require.ErrorIs(t, s.Play(), ErrClosed)
	require.ErrorIs(t, s.Seek(0), ErrClosed)
	require.ErrorIs(t, s.Push(context.Background(), media.NewFrame(media.StreamAudio, 0, 20000)), ErrClosed)

	late, cancel := s.Subscribe()
	defer cancel()
	_, ok = <-late
	require.False(t, ok)
}
