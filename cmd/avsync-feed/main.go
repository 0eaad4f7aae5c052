// ABOUTME: Entry point for the avsync feed server
// ABOUTME: Streams a tone or audio file, plus optional video ticks, to network players
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/Sendspin/sendspin-avsync/internal/config"
	"github.com/Sendspin/sendspin-avsync/internal/feed"
	"github.com/Sendspin/sendspin-avsync/internal/logging"
	"github.com/Sendspin/sendspin-avsync/internal/version"
	"github.com/Sendspin/sendspin-avsync/pkg/source"
)

func main() {
	cfg := config.DefaultFeed()
	kong.Parse(cfg,
		kong.Name("avsync-feed"),
		kong.Description("Stream timestamped audio and video frames to avsync players."),
		kong.UsageOnError(),
	)

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Feed) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, closer, err := logging.New(logging.Options{Level: cfg.LogLevel, Console: true})
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
		name = hostname + "-avsync-feed"
	}

	// Each connection gets its own source so players seek independently
	factory := func() (source.PCMSource, error) {
		if cfg.Source == "tone" {
			return source.NewTone(cfg.SampleRate, cfg.Channels, cfg.Duration), nil
		}
		return source.Open(cfg.File)
	}

	// Fail at startup rather than on the first connection
	sample, err := factory()
	if err != nil {
		return err
	}
	logger.Info().
		Int("sample_rate", sample.SampleRate()).
		Int("channels", sample.Channels()).
		Int64("duration_us", sample.Duration()).
		Msg("source ready")
	sample.Close()

	srv, err := feed.NewServer(feed.Config{
		Name:      name,
		Addr:      cfg.Addr,
		Audio:     factory,
		Codec:     cfg.Codec,
		Video:     cfg.Video,
		FPS:       cfg.FPS,
		Loops:     cfg.Loops,
		Lead:      cfg.Lead,
		Advertise: cfg.Advertise,
		Logger:    logging.Component(logger, "feed"),
	})
	if err != nil {
		return err
	}

	logger.Info().Str("name", name).Str("version", version.String()).Stringer("config", cfg).Msg("starting feed server")
	logger.Info().Msg("press Ctrl-C to stop")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return srv.ListenAndServe(ctx)
}
