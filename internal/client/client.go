// ABOUTME: Websocket client receiving a media feed from a feed server
// ABOUTME: Handles handshake, frame decoding and seek sequencing
package client

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"github.com/Sendspin/sendspin-avsync/internal/protocol"
	"github.com/Sendspin/sendspin-avsync/internal/version"
	"github.com/Sendspin/sendspin-avsync/pkg/audio"
	"github.com/Sendspin/sendspin-avsync/pkg/audio/decode"
	"github.com/Sendspin/sendspin-avsync/pkg/media"
)

const (
	handshakeTimeout = 5 * time.Second
	frameBuffer      = 64
)

// ErrClosed is returned by reads after the connection ends
var ErrClosed = errors.New("feed connection closed")

// Config holds client configuration
type Config struct {
	ServerAddr string // host:port
	Path       string // default: /feed
	ClientID   string // default: random UUID
	Name       string
	DeviceInfo protocol.DeviceInfo

	// Formats lists accepted audio formats (default: pcm16, pcm24, opus)
	Formats []protocol.AudioFormat
	Video   bool  // Ask for the video stream
	StartAt int64 // Initial position in µs
	Loops   int   // Requested repeats, -1 for forever

	// Logger receives diagnostics (default: disabled)
	Logger *zerolog.Logger
}

// Client is a connection to a feed server
type Client struct {
	config Config
	log    zerolog.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex

	start   protocol.StreamStart
	format  audio.Format
	decoder decode.Decoder
	audio   *StreamSource
	video   *StreamSource

	// Seek sequencing: frames received while acked < seq predate the latest seek
	mu    sync.Mutex
	round uint64
	seq   uint64
	acked atomic.Uint64

	done      chan struct{}
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

// DefaultFormats are the formats a client accepts when none are configured
func DefaultFormats() []protocol.AudioFormat {
	return []protocol.AudioFormat{
		{Codec: audio.CodecPCM, BitDepth: 24},
		{Codec: audio.CodecPCM, BitDepth: 16},
		{Codec: audio.CodecOpus, BitDepth: 16},
	}
}

// NewClient creates a new client
func NewClient(config Config) *Client {
	if config.Path == "" {
		config.Path = "/feed"
	}
	if config.ClientID == "" {
		config.ClientID = uuid.New().String()
	}
	if config.Name == "" {
		config.Name = "avsync player"
	}
	if len(config.Formats) == 0 {
		config.Formats = DefaultFormats()
	}
	if config.DeviceInfo.SoftwareVersion == "" {
		config.DeviceInfo = protocol.DeviceInfo{
			ProductName:     version.Product,
			Manufacturer:    version.Manufacturer,
			SoftwareVersion: version.Version,
		}
	}

	logger := zerolog.Nop()
	if config.Logger != nil {
		logger = *config.Logger
	}

	return &Client{
		config: config,
		log:    logger,
		done:   make(chan struct{}),
	}
}

// Connect dials the server, performs the handshake and starts receiving
func (c *Client) Connect(ctx context.Context) error {
	u := url.URL{Scheme: "ws", Host: c.config.ServerAddr, Path: c.config.Path}
	c.log.Info().Str("url", u.String()).Msg("connecting")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	c.conn = conn

	if err := c.handshake(); err != nil {
		conn.Close()
		return fmt.Errorf("handshake failed: %w", err)
	}

	go c.readMessages()
	return nil
}

// handshake sends client/hello and waits for server/hello and stream/start
func (c *Client) handshake() error {
	hello := protocol.ClientHello{
		ClientID:         c.config.ClientID,
		Name:             c.config.Name,
		Version:          protocol.Version,
		DeviceInfo:       &c.config.DeviceInfo,
		SupportedFormats: c.config.Formats,
		Video:            c.config.Video,
		StartAt:          c.config.StartAt,
		Loops:            c.config.Loops,
	}
	if err := c.sendJSON(protocol.Message{Type: protocol.TypeClientHello, Payload: hello}); err != nil {
		return fmt.Errorf("failed to send client/hello: %w", err)
	}

	_ = c.conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer c.conn.SetReadDeadline(time.Time{})

	var server protocol.ServerHello
	if err := c.expect(protocol.TypeServerHello, &server); err != nil {
		return err
	}
	if server.Version != protocol.Version {
		return fmt.Errorf("unsupported protocol version %d", server.Version)
	}
	c.log.Info().Str("server", server.Name).Str("id", server.ServerID).Msg("handshake complete")

	if err := c.expect(protocol.TypeStreamStart, &c.start); err != nil {
		return err
	}
	if c.start.Audio == nil {
		return errors.New("stream/start without audio")
	}

	c.format = audio.Format{
		Codec:      c.start.Audio.Codec,
		SampleRate: c.start.Audio.SampleRate,
		Channels:   c.start.Audio.Channels,
		BitDepth:   c.start.Audio.BitDepth,
	}
	decoder, err := decode.New(c.format)
	if err != nil {
		return err
	}
	c.decoder = decoder

	c.audio = newStreamSource(c, media.StreamAudio)
	if c.start.Video != nil {
		c.video = newStreamSource(c, media.StreamVideo)
	}

	c.log.Info().Stringer("format", c.format).Bool("video", c.video != nil).Msg("stream started")
	return nil
}

// expect reads one text message of type typ into v
func (c *Client) expect(typ string, v interface{}) error {
	msgType, data, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", typ, err)
	}
	if msgType != websocket.TextMessage {
		return fmt.Errorf("expected %s, got binary message", typ)
	}
	env, err := protocol.ParseEnvelope(data)
	if err != nil {
		return err
	}
	if env.Type != typ {
		return fmt.Errorf("expected %s, got %s", typ, env.Type)
	}
	return env.Decode(v)
}

// sendJSON sends a JSON message
func (c *Client) sendJSON(msg protocol.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(msg)
}

// readMessages reads and routes incoming messages until the connection ends
func (c *Client) readMessages() {
	defer c.shutdown(nil)

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.shutdown(fmt.Errorf("read error: %w", err))
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			if err := c.handleBinaryMessage(data); err != nil {
				c.shutdown(err)
				return
			}
		case websocket.TextMessage:
			c.handleJSONMessage(data)
		}
	}
}

// handleBinaryMessage decodes a media frame and queues it on its stream
func (c *Client) handleBinaryMessage(data []byte) error {
	bf, err := protocol.UnmarshalFrame(data)
	if err != nil {
		c.log.Warn().Err(err).Msg("invalid binary frame")
		return nil
	}

	tag := c.acked.Load()
	if tag < c.currentSeq() {
		return nil
	}

	frame := bf.Media()
	if bf.Kind == protocol.KindAudio {
		samples, err := c.decoder.Decode(bf.Payload)
		if err != nil {
			return fmt.Errorf("failed to decode audio: %w", err)
		}
		frame.Samples = samples
	}

	target := c.audio
	if frame.Stream == media.StreamVideo {
		target = c.video
	}
	if target == nil {
		return nil
	}

	select {
	case target.frames <- taggedFrame{frame: frame, seq: tag}:
	case <-c.done:
	}
	return nil
}

// handleJSONMessage routes control messages
func (c *Client) handleJSONMessage(data []byte) {
	env, err := protocol.ParseEnvelope(data)
	if err != nil {
		c.log.Warn().Err(err).Msg("failed to parse message")
		return
	}

	switch env.Type {
	case protocol.TypeStreamSeek:
		var seek protocol.StreamSeek
		if err := env.Decode(&seek); err != nil {
			c.log.Warn().Err(err).Msg("failed to parse seek ack")
			return
		}
		c.acked.Store(seek.Seq)
		c.log.Debug().Int64("position", seek.Position).Uint64("seq", seek.Seq).Msg("seek acknowledged")
	case protocol.TypeStreamEnd:
		c.log.Debug().Msg("server finished streaming")
	default:
		c.log.Debug().Str("type", env.Type).Msg("unknown message type")
	}
}

func (c *Client) currentSeq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// seek is called once per stream for every session seek. The first stream
// to reach a new round sends the request; later ones reuse its sequence.
func (c *Client) seek(s *StreamSource, pos int64) (uint64, error) {
	c.mu.Lock()
	s.round++
	if s.round <= c.round {
		seq := c.seq
		c.mu.Unlock()
		return seq, nil
	}
	c.round = s.round
	c.seq++
	seq := c.seq
	c.mu.Unlock()

	err := c.sendJSON(protocol.Message{
		Type:    protocol.TypeStreamSeek,
		Payload: protocol.StreamSeek{Position: pos, Seq: seq},
	})
	if err != nil {
		return seq, fmt.Errorf("failed to send seek: %w", err)
	}
	return seq, nil
}

// SetPlaybackRate tells the server the rate frames are consumed at, so it
// keeps sending them ahead of playback
func (c *Client) SetPlaybackRate(rate float64) error {
	if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return fmt.Errorf("invalid playback rate: %v", rate)
	}
	err := c.sendJSON(protocol.Message{
		Type:    protocol.TypeStreamRate,
		Payload: protocol.StreamRate{Rate: rate},
	})
	if err != nil {
		return fmt.Errorf("failed to send rate: %w", err)
	}
	c.log.Debug().Float64("rate", rate).Msg("playback rate sent")
	return nil
}

// Format returns the negotiated audio format
func (c *Client) Format() audio.Format {
	return c.format
}

// Start returns the server's stream announcement
func (c *Client) Start() protocol.StreamStart {
	return c.start
}

// Audio returns the audio stream
func (c *Client) Audio() *StreamSource {
	return c.audio
}

// Video returns the video stream, or nil when the server sends none
func (c *Client) Video() *StreamSource {
	return c.video
}

// Done is closed when the connection ends
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection ended, or nil after Close
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Client) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.errMu.Lock()
		c.err = err
		c.errMu.Unlock()
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
		if c.decoder != nil {
			c.decoder.Close()
		}
		if err != nil {
			c.log.Warn().Err(err).Msg("connection lost")
		}
	})
}

// Close says goodbye and closes the connection
func (c *Client) Close() error {
	select {
	case <-c.done:
		return nil
	default:
	}
	if c.conn != nil {
		_ = c.sendJSON(protocol.Message{
			Type:    protocol.TypeClientGoodbye,
			Payload: protocol.ClientGoodbye{Reason: "shutdown"},
		})
	}
	c.shutdown(nil)
	c.log.Info().Msg("connection closed")
	return nil
}
