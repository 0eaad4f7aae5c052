// ABOUTME: Test app to verify audio/video sync against a feed server
// ABOUTME: Plays a remote feed silently and reports video lateness and renderer counters
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sendspin/sendspin-avsync/internal/client"
	"github.com/Sendspin/sendspin-avsync/pkg/audio/output"
	"github.com/Sendspin/sendspin-avsync/pkg/avsync"
	"github.com/Sendspin/sendspin-avsync/pkg/video"
)

var (
	serverAddr = flag.String("server", "localhost:8927", "Server address")
	name       = flag.String("name", "test-sync", "Player name")
	length     = flag.Duration("duration", 10*time.Second, "How long to measure")
	seekEvery  = flag.Duration("seek-every", 0, "Seek back to the start this often (0 disables)")
)

func main() {
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05.000"}).
		With().Timestamp().Logger()

	fmt.Println("=== A/V Sync Test App ===")
	fmt.Println("This test will:")
	fmt.Println("1. Connect to the server and request audio and video")
	fmt.Println("2. Play audio into a silent output that drains in real time")
	fmt.Println("3. Measure how late each video frame is against the audio clock")
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *length)
	defer cancel()

	c := client.NewClient(client.Config{ServerAddr: *serverAddr, Name: *name, Video: true})
	fmt.Printf("Connecting to %s as '%s'...\n", *serverAddr, *name)
	if err := c.Connect(ctx); err != nil {
		logger.Fatal().Err(err).Msg("connection failed")
	}
	defer c.Close()
	if c.Video() == nil {
		logger.Fatal().Msg("server does not send video, start it with --video")
	}

	speaker, err := output.NewPresenter(output.NewNull(0, nil), output.PresenterConfig{
		SampleRate: c.Format().SampleRate,
		Channels:   c.Format().Channels,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open output")
	}
	screen := video.NewSink(video.SinkConfig{})

	session, err := avsync.NewSession(avsync.Config{Audio: speaker, Video: screen})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create session")
	}
	defer session.Close()

	go session.Feed(ctx, c.Audio(), 1)
	go session.Feed(ctx, c.Video(), 1)

	report := time.NewTicker(time.Second)
	defer report.Stop()
	var seeks <-chan time.Time
	if *seekEvery > 0 {
		t := time.NewTicker(*seekEvery)
		defer t.Stop()
		seeks = t.C
	}

	for {
		select {
		case <-report.C:
			m := screen.Metrics()
			e := logger.Info().
				Int64("position", session.Position()).
				Uint64("video_presented", m.Presented).
				Uint64("video_late", m.Late).
				Dur("max_lateness", m.MaxLateness)
			for _, st := range session.Stats().Streams {
				e = e.Int64(st.Stream.String()+"_dropped", st.Dropped)
			}
			e.Msg("sync report")
		case <-seeks:
			if err := session.Seek(0); err != nil {
				logger.Warn().Err(err).Msg("seek failed")
			}
		case <-c.Done():
			logger.Fatal().Err(c.Err()).Msg("connection lost")
		case <-ctx.Done():
			m := screen.Metrics()
			logger.Info().Uint64("presented", m.Presented).Uint64("late", m.Late).Msg("test complete")
			return
		}
	}
}
