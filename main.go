// ABOUTME: Entry point for the avsync player
// ABOUTME: Plays a tone, file or remote feed through a synchronized audio/video session
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Sendspin/sendspin-avsync/internal/client"
	"github.com/Sendspin/sendspin-avsync/internal/config"
	"github.com/Sendspin/sendspin-avsync/internal/discovery"
	"github.com/Sendspin/sendspin-avsync/internal/logging"
	"github.com/Sendspin/sendspin-avsync/internal/monitor"
	"github.com/Sendspin/sendspin-avsync/internal/ui"
	"github.com/Sendspin/sendspin-avsync/internal/version"
	"github.com/Sendspin/sendspin-avsync/pkg/audio/output"
	"github.com/Sendspin/sendspin-avsync/pkg/avsync"
	"github.com/Sendspin/sendspin-avsync/pkg/media"
	"github.com/Sendspin/sendspin-avsync/pkg/source"
	"github.com/Sendspin/sendspin-avsync/pkg/video"
)

const (
	seekStep      = 5 * time.Second
	rateStep      = 0.25
	minRate       = 0.25
	maxRate       = 4.0
	discoveryWait = 10 * time.Second
)

func main() {
	cfg := config.DefaultPlayer()
	kong.Parse(cfg,
		kong.Name(version.Product),
		kong.Description("Synchronized audio/video playback of a tone, file or network feed."),
		kong.UsageOnError(),
	)

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// streams are the sources feeding one session
type streams struct {
	audio  source.PCMSource
	video  source.Source
	loops  int
	label  string
	format string
	feed   *client.Client
	once   sync.Once
}

// Close releases every source. Closing the feed client also unblocks
// pending reads.
func (s *streams) Close() {
	s.once.Do(func() {
		if s.feed != nil {
			s.feed.Close()
		}
		if s.audio != nil {
			s.audio.Close()
		}
		if s.video != nil {
			s.video.Close()
		}
	})
}

func run(cfg *config.Player) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	useTUI := !cfg.NoTUI
	logger, closer, err := logging.New(logging.Options{
		Level:   cfg.LogLevel,
		File:    cfg.LogFile,
		Console: !useTUI,
	})
	if err != nil {
		return err
	}
	defer closer.Close()

	name := cfg.Name
	if name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		name = hostname + "-avsync-player"
	}

	logger.Info().Str("name", name).Str("version", version.String()).Stringer("config", cfg).Msg("starting player")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	src, err := openStreams(ctx, cfg, name, logger)
	if err != nil {
		return err
	}
	defer src.Close()

	var out output.Output
	if cfg.Output == "null" {
		out = output.NewNull(cfg.Buffer, nil)
	} else {
		out = output.NewOto(output.OtoConfig{
			BufferDuration: cfg.Buffer,
			Logger:         logging.Component(logger, "output"),
		})
	}

	speaker, err := output.NewPresenter(out, output.PresenterConfig{
		SampleRate: src.audio.SampleRate(),
		Channels:   src.audio.Channels(),
		Volume:     cfg.Volume,
		Logger:     logging.Component(logger, "presenter"),
	})
	if err != nil {
		return err
	}
	defer speaker.Close()

	sessionConfig := avsync.Config{
		Audio:         speaker,
		StartPosition: cfg.Start.Microseconds(),
		Paused:        cfg.Paused,
		Logger:        logging.Component(logger, "session"),
	}
	if src.video != nil {
		display := logging.Component(logger, "display")
		sessionConfig.Video = video.NewSink(video.SinkConfig{
			Display: func(frame media.Frame) {
				n, _ := source.TickNumber(frame)
				display.Trace().Int64("tick", n).Int64("pts", frame.Pts).Msg("frame shown")
			},
			Logger: logging.Component(logger, "video"),
		})
	}

	session, err := avsync.NewSession(sessionConfig)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	if cfg.Rate != 1.0 {
		if err := session.SetPlaybackRate(cfg.Rate); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	feed := func(s source.Source) func() error {
		return func() error {
			err := session.Feed(ctx, s, src.loops)
			if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, avsync.ErrClosed) {
				return nil
			}
			return fmt.Errorf("%s feed: %w", s.Stream(), err)
		}
	}
	g.Go(feed(src.audio))
	if src.video != nil {
		g.Go(feed(src.video))
	}

	if cfg.Monitor != "" {
		mon := monitor.NewServer(session, monitor.Config{
			Name:      name,
			Addr:      cfg.Monitor,
			Advertise: cfg.Advertise,
			Logger:    logging.Component(logger, "monitor"),
		})
		g.Go(func() error { return mon.ListenAndServe(ctx) })
	}

	var quit <-chan ui.QuitMsg
	if useTUI {
		controls := ui.NewControls()
		quit = controls.Quit
		prog := ui.Run(controls, cfg.Volume)
		tuiDone := make(chan struct{})
		go func() {
			defer close(tuiDone)
			if _, err := prog.Run(); err != nil {
				logger.Error().Err(err).Msg("TUI error")
			}
		}()
		defer func() {
			prog.Quit()
			<-tuiDone
		}()

		prog.Send(ui.StatusMsg{Source: src.label, Format: src.format})
		go handleControls(ctx, session, speaker, controls, logger)
		go statusLoop(ctx, session, prog)
		go forwardEvents(ctx, session, prog)
	} else {
		go logEvents(ctx, session, logger)
	}

	var feedDone <-chan struct{}
	if src.feed != nil {
		feedDone = src.feed.Done()
		go forwardRate(ctx, session, src.feed, logger)
	}

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case <-quit:
		logger.Info().Msg("received quit signal from TUI")
	case <-feedDone:
		if err := src.feed.Err(); err != nil {
			logger.Error().Err(err).Msg("feed connection lost")
		}
	case <-endedWithoutControl(ctx, session, useTUI || cfg.Monitor != ""):
		logger.Info().Msg("playback finished")
	}

	cancel()
	session.Close()
	src.Close()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info().Msg("player stopped")
	return nil
}

// openStreams opens the configured audio source and the matching video source
func openStreams(ctx context.Context, cfg *config.Player, name string, logger zerolog.Logger) (*streams, error) {
	s := &streams{loops: cfg.Loops, label: cfg.Source}

	switch cfg.Source {
	case "tone":
		s.audio = source.NewTone(source.DefaultSampleRate, source.DefaultChannels, cfg.Duration)
	case "mp3", "flac":
		audio, err := source.Open(cfg.File)
		if err != nil {
			return nil, err
		}
		s.audio = audio
		s.label = cfg.File
	case "feed":
		return openFeed(ctx, cfg, name, logger)
	}

	if cfg.Video {
		s.video = source.NewTick(cfg.FPS, time.Duration(s.audio.Duration())*time.Microsecond)
	}
	s.format = fmt.Sprintf("pcm %dHz %dch", s.audio.SampleRate(), s.audio.Channels())
	return s, nil
}

// openFeed connects to a feed server, discovering one when no address is set
func openFeed(ctx context.Context, cfg *config.Player, name string, logger zerolog.Logger) (*streams, error) {
	addr := cfg.Server
	path := ""
	if addr == "" {
		logger.Info().Msg("discovering feed servers")
		disc := discovery.NewManager(discovery.Config{
			Service: discovery.ServiceFeed,
			Logger:  logging.Component(logger, "discovery"),
		})
		defer disc.Stop()

		discoverCtx, cancel := context.WithTimeout(ctx, discoveryWait)
		defer cancel()
		server, err := disc.Discover(discoverCtx)
		if err != nil {
			return nil, err
		}
		addr, path = server.Addr(), server.Path
		logger.Info().Str("server", server.Name).Str("addr", addr).Msg("discovered feed server")
	}

	// The session seeks to the start position, so the feed starts at zero
	// and loops on the server
	c := client.NewClient(client.Config{
		ServerAddr: addr,
		Path:       path,
		Name:       name,
		Video:      cfg.Video,
		Loops:      cfg.Loops,
		Logger:     logging.Component(logger, "client"),
	})
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}

	s := &streams{
		audio:  c.Audio(),
		loops:  1,
		label:  "feed " + addr,
		format: c.Format().String(),
		feed:   c,
	}
	if v := c.Video(); v != nil {
		s.video = v
	}
	return s, nil
}

// handleControls applies key actions from the TUI to the session
func handleControls(ctx context.Context, session *avsync.Session, speaker *output.Presenter, controls *ui.Controls, logger zerolog.Logger) {
	for {
		var err error
		select {
		case cmd := <-controls.Commands:
			switch cmd {
			case ui.CommandTogglePause:
				if session.IsPaused() {
					err = session.Play()
				} else {
					err = session.Pause()
				}
			case ui.CommandFaster:
				err = session.SetPlaybackRate(min(session.PlaybackRate()+rateStep, maxRate))
			case ui.CommandSlower:
				err = session.SetPlaybackRate(max(session.PlaybackRate()-rateStep, minRate))
			case ui.CommandSeekBack:
				err = session.Seek(max(session.Position()-seekStep.Microseconds(), 0))
			case ui.CommandSeekForward:
				err = session.Seek(session.Position() + seekStep.Microseconds())
			case ui.CommandStep:
				err = session.Step()
			}
			if err != nil {
				logger.Warn().Err(err).Stringer("command", cmd).Msg("command failed")
			}
		case vol := <-controls.Volume:
			logger.Debug().Int("volume", vol.Volume).Bool("muted", vol.Muted).Msg("volume change")
			speaker.SetVolume(vol.Volume)
			speaker.SetMuted(vol.Muted)
		case <-ctx.Done():
			return
		}
	}
}

// statusLoop periodically updates the TUI with session statistics
func statusLoop(ctx context.Context, session *avsync.Session, prog *tea.Program) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	// Runtime stats are collected less often to avoid GC pauses
	runtimeTicker := time.NewTicker(2 * time.Second)
	defer runtimeTicker.Stop()

	var goroutines int
	var memAlloc uint64

	for {
		select {
		case <-runtimeTicker.C:
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			goroutines = runtime.NumGoroutine()
			memAlloc = m.Alloc
		case <-ticker.C:
			stats := session.Stats()
			prog.Send(ui.StatusMsg{Stats: &stats, Goroutines: goroutines, MemAlloc: memAlloc})
		case <-ctx.Done():
			return
		}
	}
}

func forwardEvents(ctx context.Context, session *avsync.Session, prog *tea.Program) {
	events, unsubscribe := session.Subscribe()
	defer unsubscribe()
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			if e.Type != avsync.EventMasterTime {
				prog.Send(ui.EventMsg(e))
			}
		case <-ctx.Done():
			return
		}
	}
}

// forwardRate keeps the feed server pacing at the session's playback rate
func forwardRate(ctx context.Context, session *avsync.Session, feed *client.Client, logger zerolog.Logger) {
	events, unsubscribe := session.Subscribe()
	defer unsubscribe()

	sent := 1.0
	update := func(rate float64) {
		if rate == sent {
			return
		}
		if err := feed.SetPlaybackRate(rate); err != nil {
			logger.Warn().Err(err).Msg("failed to report playback rate")
			return
		}
		sent = rate
	}

	update(session.PlaybackRate())
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			if e.Type == avsync.EventStateChanged {
				update(e.Rate)
			}
		case <-ctx.Done():
			return
		}
	}
}

func logEvents(ctx context.Context, session *avsync.Session, logger zerolog.Logger) {
	events, unsubscribe := session.Subscribe()
	defer unsubscribe()
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			if e.Type == avsync.EventMasterTime {
				continue
			}
			logger.Info().
				Str("event", e.Name).
				Str("stream", e.StreamStr).
				Int64("position", e.Position).
				Int("loop", e.LoopIndex).
				Msg("session event")
		case <-ctx.Done():
			return
		}
	}
}

// endedWithoutControl closes once playback ends when nothing could seek
// it again
func endedWithoutControl(ctx context.Context, session *avsync.Session, controlled bool) <-chan struct{} {
	done := make(chan struct{})
	if controlled {
		return done
	}
	events, unsubscribe := session.Subscribe()
	go func() {
		defer unsubscribe()
		for {
			select {
			case e, ok := <-events:
				if !ok {
					return
				}
				if e.Type == avsync.EventEnded {
					close(done)
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return done
}
