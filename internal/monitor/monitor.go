// ABOUTME: HTTP control and observability surface for a playback session
// ABOUTME: Serves status, transport commands and a websocket event stream
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Sendspin/sendspin-avsync/internal/discovery"
	"github.com/Sendspin/sendspin-avsync/pkg/avsync"
)

const (
	// DefaultAddr is the default listen address
	DefaultAddr = ":8928"

	writeDeadline = 10 * time.Second
	pingInterval  = 30 * time.Second
)

// Session is the part of avsync.Session the monitor drives
type Session interface {
	Play() error
	Pause() error
	Step() error
	Seek(pos int64) error
	SetPlaybackRate(rate float64) error
	Stats() avsync.Stats
	Subscribe() (<-chan avsync.Event, func())
}

// Config configures a monitor server
type Config struct {
	Name string // default: "avsync player"
	Addr string // default: DefaultAddr

	// Advertise enables mDNS advertisement while serving
	Advertise bool

	// Logger receives diagnostics (default: disabled)
	Logger *zerolog.Logger
}

// Server exposes a session over HTTP
type Server struct {
	config   Config
	session  Session
	log      zerolog.Logger
	router   *mux.Router
	upgrader websocket.Upgrader

	mu      sync.Mutex
	sockets map[*websocket.Conn]struct{}
	closed  bool
	wg      sync.WaitGroup
}

// NewServer creates a monitor for session
func NewServer(session Session, config Config) *Server {
	if config.Name == "" {
		config.Name = "avsync player"
	}
	if config.Addr == "" {
		config.Addr = DefaultAddr
	}

	logger := zerolog.Nop()
	if config.Logger != nil {
		logger = *config.Logger
	}

	s := &Server{
		config:  config,
		session: session,
		log:     logger,
		router:  mux.NewRouter(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		sockets: make(map[*websocket.Conn]struct{}),
	}

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	// Registered on the root router so a method mismatch answers 405
	s.router.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/api/play", s.command(session.Play)).Methods(http.MethodPost)
	s.router.HandleFunc("/api/pause", s.command(session.Pause)).Methods(http.MethodPost)
	s.router.HandleFunc("/api/step", s.command(session.Step)).Methods(http.MethodPost)
	s.router.HandleFunc("/api/rate", s.handleRate).Methods(http.MethodPost)
	s.router.HandleFunc("/api/seek", s.handleSeek).Methods(http.MethodPost)
	s.router.HandleFunc("/api/events", s.handleEvents).Methods(http.MethodGet)

	return s
}

// Handler returns the HTTP handler serving the monitor
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
	s.log.Info().Str("addr", ln.Addr().String()).Msg("monitor listening")

	if s.config.Advertise {
		port := 0
		if addr, ok := ln.Addr().(*net.TCPAddr); ok {
			port = addr.Port
		}
		mgr := discovery.NewManager(discovery.Config{
			ServiceName: s.config.Name,
			Port:        port,
			Service:     discovery.ServiceMonitor,
			Path:        "/api",
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
	case err := <-errChan:
		return fmt.Errorf("http server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Warn().Err(err).Msg("http server shutdown error")
	}

	// Shutdown does not track hijacked connections; closed keeps late
	// upgrades from joining wg after Wait has started.
	s.mu.Lock()
	s.closed = true
	for ws := range s.sockets {
		ws.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.session.Stats())
}

// command wraps a parameterless session operation
func (s *Server) command(op func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.respond(w, r, op())
	}
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	rate, err := strconv.ParseFloat(r.URL.Query().Get("value"), 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid rate: %w", err))
		return
	}
	s.respond(w, r, s.session.SetPlaybackRate(rate))
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	pos, err := strconv.ParseInt(r.URL.Query().Get("pos"), 10, 64)
	if err != nil || pos < 0 {
		s.writeError(w, http.StatusBadRequest, errors.New("pos must be a non-negative position in microseconds"))
		return
	}
	s.respond(w, r, s.session.Seek(pos))
}

// respond reports the outcome of a command, with the new status on success
func (s *Server) respond(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case err == nil:
		s.log.Debug().Str("path", r.URL.Path).Msg("command applied")
		s.writeJSON(w, http.StatusOK, s.session.Stats())
	case errors.Is(err, avsync.ErrInvalidRate):
		s.writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, avsync.ErrClosed):
		s.writeError(w, http.StatusServiceUnavailable, err)
	default:
		s.writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("failed to write response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// handleEvents streams session events to a websocket until either side closes
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade error")
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "monitor stopped"),
			time.Now().Add(writeDeadline))
		ws.Close()
		return
	}
	s.wg.Add(1)
	s.sockets[ws] = struct{}{}
	s.mu.Unlock()
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.sockets, ws)
		s.mu.Unlock()
		ws.Close()
	}()

	events, cancel := s.session.Subscribe()
	defer cancel()

	// The reader only notices the peer going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.log.Debug().Str("remote", r.RemoteAddr).Msg("event subscriber connected")

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-events:
			if !ok {
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"),
					time.Now().Add(writeDeadline))
				return
			}
			_ = ws.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := ws.WriteJSON(e); err != nil {
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline)); err != nil {
				return
			}
		case <-gone:
			s.log.Debug().Str("remote", r.RemoteAddr).Msg("event subscriber disconnected")
			return
		}
	}
}
