// ABOUTME: Websocket feed server streaming timestamped media frames to players
// ABOUTME: Paces frames ahead of real time, honors seeks and advertises over mDNS
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"github.com/Sendspin/sendspin-avsync/internal/discovery"
	"github.com/Sendspin/sendspin-avsync/internal/protocol"
	"github.com/Sendspin/sendspin-avsync/pkg/audio"
	"github.com/Sendspin/sendspin-avsync/pkg/source"
)

const (
	// DefaultAddr is the default listen address
	DefaultAddr = ":8927"
	// DefaultLead is how far ahead of real time frames are sent
	DefaultLead = 500 * time.Millisecond
	// Path is the websocket endpoint
	Path = "/feed"

	helloTimeout  = 5 * time.Second
	writeDeadline = 10 * time.Second
	pingInterval  = 30 * time.Second
	sendBuffer    = 64
)

// SourceFactory opens a fresh audio source for one connection
type SourceFactory func() (source.PCMSource, error)

// Config configures a feed server
type Config struct {
	Name  string        // default: "avsync feed"
	Addr  string        // default: DefaultAddr
	Audio SourceFactory // required
	Codec string        // pcm, pcm16, pcm24 or opus (default: pcm)

	Video bool // Send a tick video stream to clients that accept video
	FPS   int  // default: source.DefaultFPS

	Loops int           // 0 plays once, source.LoopForever repeats forever. Clients may override.
	Lead  time.Duration // default: DefaultLead

	// Advertise enables mDNS advertisement while serving
	Advertise bool

	// Logger receives diagnostics (default: disabled)
	Logger *zerolog.Logger
}

// ClientInfo describes a connected player
type ClientInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Format   string `json:"format"`
	Video    bool   `json:"video"`
	Sent     uint64 `json:"sent"`
	Position int64  `json:"position"`
}

// Server streams media to connected players
type Server struct {
	config   Config
	serverID string
	log      zerolog.Logger
	router   *mux.Router
	upgrader websocket.Upgrader

	clientsMu sync.RWMutex
	clients   map[string]*client

	wg sync.WaitGroup
}

// client is one connected player
type client struct {
	id       string
	name     string
	ws       *websocket.Conn
	format   audio.Format
	video    bool
	sendChan chan interface{}
	seeks    chan protocol.StreamSeek
	rates    chan float64
	sent     atomic.Uint64
	position atomic.Int64
}

// NewServer creates a feed server
func NewServer(config Config) (*Server, error) {
	if config.Audio == nil {
		return nil, errors.New("audio source is required")
	}
	if config.Name == "" {
		config.Name = "avsync feed"
	}
	if config.Addr == "" {
		config.Addr = DefaultAddr
	}
	if config.Codec == "" {
		config.Codec = audio.CodecPCM
	}
	if config.FPS <= 0 {
		config.FPS = source.DefaultFPS
	}
	if config.Lead <= 0 {
		config.Lead = DefaultLead
	}

	logger := zerolog.Nop()
	if config.Logger != nil {
		logger = *config.Logger
	}

	s := &Server{
		config:   config,
		serverID: uuid.New().String(),
		log:      logger,
		router:   mux.NewRouter(),
		upgrader: websocket.Upgrader{
			// Players on the local network connect from anywhere
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*client),
	}

	s.router.HandleFunc(Path, s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/api/clients", s.handleClients).Methods(http.MethodGet)

	return s, nil
}

// Handler returns the HTTP handler serving the feed
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on the configured address until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.log.Info().
		Str("name", s.config.Name).
		Str("id", s.serverID).
		Str("addr", ln.Addr().String()).
		Msg("feed server starting")

	if s.config.Advertise {
		mgr := discovery.NewManager(discovery.Config{
			ServiceName: s.config.Name,
			Port:        listenerPort(ln),
			Service:     discovery.ServiceFeed,
			Path:        Path,
			Logger:      s.config.Logger,
		})
		if err := mgr.Advertise(); err != nil {
			s.log.Warn().Err(err).Msg("failed to start mDNS advertisement")
		}
		defer mgr.Stop()
	}

	httpServer := &http.Server{Handler: s.router}

	errChan := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(ln); err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.log.Info().Msg("feed server shutting down")
	case err := <-errChan:
		return fmt.Errorf("http server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Warn().Err(err).Msg("http server shutdown error")
	}

	// Hijacked websocket connections are not closed by Shutdown
	s.clientsMu.RLock()
	for _, c := range s.clients {
		c.ws.Close()
	}
	s.clientsMu.RUnlock()

	s.wg.Wait()
	s.log.Info().Msg("feed server stopped")
	return nil
}

// Clients returns information about all connected clients
func (s *Server) Clients() []ClientInfo {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	clients := make([]ClientInfo, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, ClientInfo{
			ID:       c.id,
			Name:     c.name,
			Format:   c.format.String(),
			Video:    c.video,
			Sent:     c.sent.Load(),
			Position: c.position.Load(),
		})
	}
	return clients
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleClients(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.Clients()); err != nil {
		s.log.Warn().Err(err).Msg("failed to write client list")
	}
}

// handleWebSocket handles websocket connections
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade error")
		return
	}

	s.log.Debug().Str("remote", r.RemoteAddr).Msg("new websocket connection")
	s.wg.Add(1)
	defer s.wg.Done()
	s.handleConnection(ws)
}

// readHello waits for and validates client/hello
func readHello(ws *websocket.Conn) (protocol.ClientHello, error) {
	_ = ws.SetReadDeadline(time.Now().Add(helloTimeout))
	defer ws.SetReadDeadline(time.Time{})

	_, data, err := ws.ReadMessage()
	if err != nil {
		return protocol.ClientHello{}, fmt.Errorf("failed to read hello: %w", err)
	}
	env, err := protocol.ParseEnvelope(data)
	if err != nil {
		return protocol.ClientHello{}, err
	}
	if env.Type != protocol.TypeClientHello {
		return protocol.ClientHello{}, fmt.Errorf("expected %s, got %s", protocol.TypeClientHello, env.Type)
	}

	var hello protocol.ClientHello
	if err := env.Decode(&hello); err != nil {
		return protocol.ClientHello{}, err
	}
	if hello.ClientID == "" || hello.Name == "" {
		return protocol.ClientHello{}, errors.New("client hello missing required fields")
	}
	return hello, nil
}

// handleConnection manages a client connection
func (s *Server) handleConnection(ws *websocket.Conn) {
	defer ws.Close()

	hello, err := readHello(ws)
	if err != nil {
		s.log.Warn().Err(err).Msg("handshake failed")
		return
	}

	src, err := s.config.Audio()
	if err != nil {
		s.log.Error().Err(err).Msg("failed to open audio source")
		return
	}
	defer src.Close()

	format := s.negotiateFormat(src, hello.SupportedFormats)
	c := &client{
		id:       hello.ClientID,
		name:     hello.Name,
		ws:       ws,
		format:   format,
		video:    s.config.Video && hello.Video,
		sendChan: make(chan interface{}, sendBuffer),
		seeks:    make(chan protocol.StreamSeek, 1),
		rates:    make(chan float64, 1),
	}

	s.clientsMu.Lock()
	if _, exists := s.clients[c.id]; exists {
		s.clientsMu.Unlock()
		s.log.Warn().Str("client", c.id).Msg("client ID already connected, rejecting duplicate")
		return
	}
	s.clients[c.id] = c
	s.clientsMu.Unlock()

	log := s.log.With().Str("client", c.name).Str("id", c.id).Logger()
	log.Info().Stringer("format", format).Bool("video", c.video).Msg("client connected")

	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, c.id)
		s.clientsMu.Unlock()
		log.Info().Msg("client disconnected")
	}()

	loops := s.config.Loops
	if hello.Loops != 0 {
		loops = hello.Loops
	}
	tracks, err := s.openTracks(c, src, loops)
	if err != nil {
		log.Error().Err(err).Msg("failed to prepare streams")
		return
	}
	defer func() {
		for _, t := range tracks {
			t.close()
		}
	}()

	if hello.StartAt > 0 {
		for _, t := range tracks {
			if err := t.seek(hello.StartAt); err != nil {
				log.Error().Err(err).Msg("failed to seek to start position")
				return
			}
		}
	}

	start := protocol.StreamStart{
		Audio: &protocol.AudioFormat{
			Codec:      format.Codec,
			Channels:   format.Channels,
			SampleRate: format.SampleRate,
			BitDepth:   format.BitDepth,
		},
		Duration: src.Duration(),
	}
	if c.video {
		start.Video = &protocol.VideoFormat{FPS: s.config.FPS}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.send(ctx, c, protocol.Message{
		Type: protocol.TypeServerHello,
		Payload: protocol.ServerHello{
			ServerID: s.serverID,
			Name:     s.config.Name,
			Version:  protocol.Version,
		},
	}); err != nil {
		return
	}
	if err := s.send(ctx, c, protocol.Message{Type: protocol.TypeStreamStart, Payload: start}); err != nil {
		return
	}

	var workers sync.WaitGroup
	workers.Add(2)
	go func() {
		defer workers.Done()
		defer cancel()
		s.clientWriter(ctx, c)
	}()
	go func() {
		defer workers.Done()
		defer cancel()
		if err := s.stream(ctx, c, tracks, hello.StartAt, log); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("streaming failed")
		}
	}()

	s.readLoop(ctx, c, log)
	cancel()
	workers.Wait()
}

// readLoop handles messages from the client until it disconnects
func (s *Server) readLoop(ctx context.Context, c *client, log zerolog.Logger) {
	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("websocket read error")
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		env, err := protocol.ParseEnvelope(data)
		if err != nil {
			log.Debug().Err(err).Msg("ignoring malformed message")
			continue
		}

		switch env.Type {
		case protocol.TypeStreamSeek:
			var seek protocol.StreamSeek
			if err := env.Decode(&seek); err != nil {
				log.Debug().Err(err).Msg("ignoring malformed seek")
				continue
			}
			// Only the latest seek matters
			select {
			case <-c.seeks:
			default:
			}
			select {
			case c.seeks <- seek:
			case <-ctx.Done():
				return
			}
		case protocol.TypeStreamRate:
			var rate protocol.StreamRate
			if err := env.Decode(&rate); err != nil || !validRate(rate.Rate) {
				log.Debug().Float64("rate", rate.Rate).Msg("ignoring invalid rate")
				continue
			}
			select {
			case <-c.rates:
			default:
			}
			select {
			case c.rates <- rate.Rate:
			case <-ctx.Done():
				return
			}
		case protocol.TypeClientGoodbye:
			var goodbye protocol.ClientGoodbye
			_ = env.Decode(&goodbye)
			log.Info().Str("reason", goodbye.Reason).Msg("client goodbye")
			return
		default:
			log.Debug().Str("type", env.Type).Msg("unknown message type")
		}
	}
}

func validRate(rate float64) bool {
	return rate > 0 && !math.IsNaN(rate) && !math.IsInf(rate, 0)
}

// clientWriter sends queued messages to the client
func (s *Server) clientWriter(ctx context.Context, c *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.sendChan:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeDeadline))
			switch v := msg.(type) {
			case []byte:
				if err := c.ws.WriteMessage(websocket.BinaryMessage, v); err != nil {
					return
				}
			default:
				data, err := json.Marshal(v)
				if err != nil {
					continue
				}
				if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
					return
				}
			}

		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline)); err != nil {
				return
			}

		case <-ctx.Done():
			return
		}
	}
}

// send queues a message, waiting while the client is behind
func (s *Server) send(ctx context.Context, c *client, msg interface{}) error {
	select {
	case c.sendChan <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// negotiateFormat picks the configured codec when the client accepts it,
// falling back to 16-bit PCM
func (s *Server) negotiateFormat(src source.PCMSource, supported []protocol.AudioFormat) audio.Format {
	fallback := audio.Format{
		Codec:      audio.CodecPCM,
		SampleRate: src.SampleRate(),
		Channels:   src.Channels(),
		BitDepth:   16,
	}

	want, err := audio.ParseFormat(s.config.Codec, src.SampleRate(), src.Channels())
	if err != nil {
		s.log.Warn().Err(err).Str("codec", s.config.Codec).Msg("codec unusable for source, using PCM")
		return fallback
	}
	if len(supported) == 0 {
		return want
	}
	for _, f := range supported {
		if f.Codec == want.Codec && (want.Codec != audio.CodecPCM || f.BitDepth == want.BitDepth) {
			return want
		}
	}
	return fallback
}

// listenerPort extracts the TCP port of ln
func listenerPort(ln net.Listener) int {
	_, port, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		return 0
	}
	p, _ := strconv.Atoi(port)
	return p
}
