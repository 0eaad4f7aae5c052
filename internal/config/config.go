// ABOUTME: Command line and environment configuration for the player and feed server
// ABOUTME: Kong-tagged structs with defaults, validation and a loggable summary
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Player holds configuration for the avsync player.
//
// Every flag can also be set through an AVSYNC_* environment variable.
type Player struct {
	Source string `help:"Media source: tone, mp3, flac or feed." enum:"tone,mp3,flac,feed" default:"tone" env:"AVSYNC_SOURCE"`
	File   string `help:"Audio file for the mp3 and flac sources." type:"path" env:"AVSYNC_FILE"`
	Server string `help:"Feed server address host:port (default: discover with mDNS)." env:"AVSYNC_SERVER"`

	Video bool `help:"Add a synthetic video stream alongside the audio." env:"AVSYNC_VIDEO"`
	FPS   int  `help:"Frame rate of the synthetic video stream." default:"25" env:"AVSYNC_FPS"`

	Output   string        `help:"Audio output: oto or null." enum:"oto,null" default:"oto" env:"AVSYNC_OUTPUT"`
	Buffer   time.Duration `help:"Audio device buffer length." default:"500ms" env:"AVSYNC_BUFFER"`
	Volume   int           `help:"Initial volume (0-100)." default:"100" env:"AVSYNC_VOLUME"`
	Rate     float64       `help:"Initial playback rate." default:"1.0" env:"AVSYNC_RATE"`
	Start    time.Duration `help:"Start position." default:"0s" env:"AVSYNC_START"`
	Loops    int           `help:"Times to repeat the source, -1 for forever." default:"0" env:"AVSYNC_LOOPS"`
	Paused   bool          `help:"Start paused." env:"AVSYNC_PAUSED"`
	Duration time.Duration `help:"Length of the tone source, 0 for endless." default:"0s" env:"AVSYNC_DURATION"`

	Monitor   string `help:"Listen address for the HTTP monitor (empty disables)." env:"AVSYNC_MONITOR"`
	Advertise bool   `help:"Advertise the monitor with mDNS." env:"AVSYNC_ADVERTISE"`
	Name      string `help:"Friendly name (default: hostname-avsync-player)." env:"AVSYNC_NAME"`

	NoTUI    bool   `name:"no-tui" help:"Disable the TUI and stream logs to stdout." env:"AVSYNC_NO_TUI"`
	LogFile  string `help:"Log file path." default:"avsync-player.log" env:"AVSYNC_LOG_FILE"`
	LogLevel string `help:"Log level: debug, info, warn or error." enum:"debug,info,warn,error" default:"info" env:"AVSYNC_LOG_LEVEL"`
}

// DefaultPlayer returns a Player with default values
func DefaultPlayer() *Player {
	return &Player{
		Source:   "tone",
		FPS:      25,
		Output:   "oto",
		Buffer:   500 * time.Millisecond,
		Volume:   100,
		Rate:     1.0,
		LogFile:  "avsync-player.log",
		LogLevel: "info",
	}
}

// Validate checks that the configuration values are valid
func (c *Player) Validate() error {
	switch c.Source {
	case "tone", "feed":
	case "mp3", "flac":
		if c.File == "" {
			return fmt.Errorf("source %s requires a file", c.Source)
		}
	default:
		return fmt.Errorf("unknown source: %s", c.Source)
	}

	if c.Output != "oto" && c.Output != "null" {
		return errors.New("Output must be 'oto' or 'null'")
	}
	if c.Video && (c.FPS <= 0 || c.FPS > 240) {
		return errors.New("FPS must be between 1 and 240")
	}
	if c.Buffer < 10*time.Millisecond || c.Buffer > 10*time.Second {
		return errors.New("Buffer must be between 10ms and 10s")
	}
	if c.Volume < 0 || c.Volume > 100 {
		return errors.New("Volume must be between 0 and 100")
	}
	if c.Rate <= 0 {
		return errors.New("Rate must be positive")
	}
	if c.Start < 0 {
		return errors.New("Start cannot be negative")
	}
	if c.Loops < -1 {
		return errors.New("Loops must be -1 or more")
	}
	if c.Advertise && c.Monitor == "" {
		return errors.New("Advertise requires a Monitor address")
	}
	return validateLevel(c.LogLevel)
}

// String returns a string representation of the config for logging purposes
func (c *Player) String() string {
	parts := []string{
		"Source: " + c.Source,
	}
	if c.File != "" {
		parts = append(parts, "File: "+c.File)
	}
	if c.Server != "" {
		parts = append(parts, "Server: "+c.Server)
	}
	if c.Video {
		parts = append(parts, "Video: "+strconv.Itoa(c.FPS)+"fps")
	}
	parts = append(parts,
		"Output: "+c.Output,
		"Buffer: "+c.Buffer.String(),
		"Volume: "+strconv.Itoa(c.Volume),
		"Rate: "+strconv.FormatFloat(c.Rate, 'g', -1, 64),
		"Loops: "+strconv.Itoa(c.Loops),
	)
	if c.Monitor != "" {
		parts = append(parts, "Monitor: "+c.Monitor)
	}
	parts = append(parts, "LogLevel: "+c.LogLevel)
	return "Player{" + strings.Join(parts, ", ") + "}"
}

// Feed holds configuration for the feed server
type Feed struct {
	Addr   string `help:"Listen address." default:":8927" env:"AVSYNC_FEED_ADDR"`
	Source string `help:"Media source: tone, mp3 or flac." enum:"tone,mp3,flac" default:"tone" env:"AVSYNC_FEED_SOURCE"`
	File   string `help:"Audio file for the mp3 and flac sources." type:"path" env:"AVSYNC_FEED_FILE"`

	Codec      string `help:"Wire codec: pcm, pcm24 or opus." enum:"pcm,pcm16,pcm24,opus" default:"pcm" env:"AVSYNC_FEED_CODEC"`
	SampleRate int    `help:"Tone sample rate." default:"48000" env:"AVSYNC_FEED_SAMPLE_RATE"`
	Channels   int    `help:"Tone channel count." default:"2" env:"AVSYNC_FEED_CHANNELS"`

	Video    bool          `help:"Send a synthetic video stream." env:"AVSYNC_FEED_VIDEO"`
	FPS      int           `help:"Frame rate of the synthetic video stream." default:"25" env:"AVSYNC_FEED_FPS"`
	Loops    int           `help:"Times to repeat the source, -1 for forever." default:"0" env:"AVSYNC_FEED_LOOPS"`
	Lead     time.Duration `help:"How far ahead of real time frames are sent." default:"500ms" env:"AVSYNC_FEED_LEAD"`
	Duration time.Duration `help:"Length of the tone source, 0 for endless." default:"0s" env:"AVSYNC_FEED_DURATION"`

	Name      string `help:"Friendly name (default: hostname-avsync-feed)." env:"AVSYNC_FEED_NAME"`
	Advertise bool   `help:"Advertise with mDNS." default:"true" negatable:"" env:"AVSYNC_FEED_ADVERTISE"`
	LogLevel  string `help:"Log level: debug, info, warn or error." enum:"debug,info,warn,error" default:"info" env:"AVSYNC_LOG_LEVEL"`
}

// DefaultFeed returns a Feed with default values
func DefaultFeed() *Feed {
	return &Feed{
		Addr:       ":8927",
		Source:     "tone",
		Codec:      "pcm",
		SampleRate: 48000,
		Channels:   2,
		FPS:        25,
		Lead:       500 * time.Millisecond,
		Advertise:  true,
		LogLevel:   "info",
	}
}

// Validate checks that the configuration values are valid
func (c *Feed) Validate() error {
	if c.Addr == "" {
		return errors.New("Addr cannot be empty")
	}
	switch c.Source {
	case "tone":
		if c.SampleRate <= 0 || c.SampleRate > 384000 {
			return errors.New("SampleRate must be between 1 and 384000")
		}
		if c.Channels < 1 || c.Channels > 8 {
			return errors.New("Channels must be between 1 and 8")
		}
	case "mp3", "flac":
		if c.File == "" {
			return fmt.Errorf("source %s requires a file", c.Source)
		}
	default:
		return fmt.Errorf("unknown source: %s", c.Source)
	}
	if c.Video && (c.FPS <= 0 || c.FPS > 240) {
		return errors.New("FPS must be between 1 and 240")
	}
	if c.Loops < -1 {
		return errors.New("Loops must be -1 or more")
	}
	if c.Lead <= 0 {
		return errors.New("Lead must be positive")
	}
	return validateLevel(c.LogLevel)
}

// String returns a string representation of the config for logging purposes
func (c *Feed) String() string {
	parts := []string{
		"Addr: " + c.Addr,
		"Source: " + c.Source,
	}
	if c.File != "" {
		parts = append(parts, "File: "+c.File)
	}
	parts = append(parts, "Codec: "+c.Codec)
	if c.Video {
		parts = append(parts, "Video: "+strconv.Itoa(c.FPS)+"fps")
	}
	parts = append(parts,
		"Loops: "+strconv.Itoa(c.Loops),
		"Lead: "+c.Lead.String(),
		"Advertise: "+strconv.FormatBool(c.Advertise),
		"LogLevel: "+c.LogLevel,
	)
	return "Feed{" + strings.Join(parts, ", ") + "}"
}

func validateLevel(level string) error {
	switch level {
	case "debug", "info", "warn", "error":
		return nil
	}
	return errors.New("LogLevel must be 'debug', 'info', 'warn', or 'error'")
}
