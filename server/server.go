// Package server serves agent sessions over WebSocket. Each connection gets
// its own session, closed when the socket closes.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/becomeliminal/nim-memory/engine"
)

// Session is one conversation. *engine.Engine satisfies it.
type Session interface {
	Step(ctx context.Context, input *engine.Input) (*engine.Output, error)
	Close() error
}

// SessionFactory creates the session for a new connection.
type SessionFactory func(ctx context.Context) (Session, error)

// Config configures the server.
type Config struct {
	Sessions SessionFactory

	// AllowedOrigins restricts browser origins. Empty allows any.
	AllowedOrigins []string

	// StepTimeout bounds a single agent step. Zero means no limit.
	StepTimeout time.Duration

	Logger *log.Logger
}

// ClientMessage is sent by the client.
type ClientMessage struct {
	Message string `json:"message"`
}

// ServerMessage is sent to the client.
type ServerMessage struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// Message types.
const (
	TypeText  = "text"
	TypeError = "error"
)

// Server handles /ws and /health.
type Server struct {
	cfg      Config
	upgrader websocket.Upgrader
	mux      *http.ServeMux
	logger   *log.Logger
}

// New creates a server.
func New(cfg Config) (*Server, error) {
	if cfg.Sessions == nil {
		return nil, errors.New("server: session factory is required")
	}
	s := &Server{
		cfg:    cfg,
		mux:    http.NewServeMux(),
		logger: cfg.Logger,
	}
	if s.logger == nil {
		s.logger = log.Default().WithPrefix("server")
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	s.mux.HandleFunc("/ws", s.handleWebSocket)
	s.mux.HandleFunc("/health", handleHealth)
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	return false
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	session, err := s.cfg.Sessions(ctx)
	if err != nil {
		s.logger.Error("creating session failed", "err", err)
		_ = conn.WriteJSON(ServerMessage{Type: TypeError, Content: "could not start session"})
		return
	}
	defer func() {
		if err := session.Close(); err != nil {
			s.logger.Warn("closing session failed", "err", err)
		}
	}()

	s.logger.Debug("session opened", "remote", r.RemoteAddr)
	for {
		var msg ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("read failed", "err", err)
			}
			return
		}

		if strings.TrimSpace(msg.Message) == "" {
			if err := conn.WriteJSON(ServerMessage{Type: TypeError, Content: "message is required"}); err != nil {
				return
			}
			continue
		}

		if err := conn.WriteJSON(s.step(ctx, session, msg.Message)); err != nil {
			s.logger.Warn("write failed", "err", err)
			return
		}
	}
}

func (s *Server) step(ctx context.Context, session Session, message string) ServerMessage {
	if s.cfg.StepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.StepTimeout)
		defer cancel()
	}

	out, err := session.Step(ctx, &engine.Input{UserMessage: message})
	if err != nil {
		s.logger.Error("step failed", "err", err)
		return ServerMessage{Type: TypeError, Content: err.Error()}
	}
	return ServerMessage{Type: TypeText, Content: out.Text}
}
