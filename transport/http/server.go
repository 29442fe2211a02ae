// Package http exposes an exec.Exec over HTTP with echo.
//
// Routes:
//
//	GET    /healthz       snapshot version and tool count
//	GET    /tools         every tool, or search results with ?q=
//	GET    /tools/:id     documentation for one tool, ?level=summary|schema|full
//	GET    /tree/*        a discovery directory listing or file content
//	POST   /dispatch      one traditional-mode turn
//	POST   /execute       one code-mode turn
//	DELETE /sessions/:id  end a session
//	GET    /tally         the token summary
//
// Turn requests carry an optional session id; a request without one starts
// a new session whose id is returned. Sessions idle for longer than the
// session TTL are dropped, as is the least recently used one when the
// server is at its session limit.
package http

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/jonwraymond/codemode/discovery"
	"github.com/jonwraymond/codemode/exec"
	"github.com/jonwraymond/codemode/registry"
	"github.com/jonwraymond/codemode/tokens"
	"github.com/jonwraymond/tooldiscovery/index"
	"github.com/jonwraymond/tooldiscovery/tooldoc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// Service is the part of *exec.Exec the server uses.
type Service interface {
	Snapshot() *registry.Snapshot
	Tree() (*discovery.Tree, error)
	SearchTools(ctx context.Context, query string, limit int) ([]index.Summary, error)
	DescribeTool(ctx context.Context, id string, level tooldoc.DetailLevel) (tooldoc.ToolDoc, error)
	NewSession() *exec.Session
	Accountant() *tokens.Accountant
}

// ErrUnknownSession is returned for turn requests naming a session this
// server did not create.
var ErrUnknownSession = errors.New("unknown session")

// Session limits used when no option sets them.
const (
	DefaultSessionTTL  = 30 * time.Minute
	DefaultMaxSessions = 1000
)

// Option configures a Server.
type Option func(*Server)

// WithSessionTTL drops sessions idle for longer than d.
func WithSessionTTL(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithMaxSessions bounds the number of live sessions.
func WithMaxSessions(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxSessions = n
		}
	}
}

// WithPersistGlobals makes new sessions carry snippet definitions between
// turns. A request can still turn it off for its session.
func WithPersistGlobals(on bool) Option {
	return func(s *Server) {
		s.persist = on
	}
}

// withClock replaces time.Now in tests.
func withClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// Server serves a Service.
type Server struct {
	svc         Service
	logger      *zap.Logger
	echo        *echo.Echo
	ttl         time.Duration
	maxSessions int
	persist     bool
	now         func() time.Time

	mu       sync.Mutex
	sessions map[string]*sessionEntry
}

type sessionEntry struct {
	sess     *exec.Session
	lastUsed time.Time
}

// NewServer creates a server with its routes and middleware installed.
func NewServer(svc Service, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		svc:         svc,
		logger:      logger,
		echo:        echo.New(),
		ttl:         DefaultSessionTTL,
		maxSessions: DefaultMaxSessions,
		now:         time.Now,
		sessions:    make(map[string]*sessionEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.setupEcho()
	return s
}

func (s *Server) setupEcho() {
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.BodyLimit("1M"))
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Info("request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.Error(v.Error),
			)
			return nil
		},
	}))
	RegisterRoutes(s.echo, s)
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on addr until Shutdown. It returns nil after a clean
// shutdown.
func (s *Server) Start(addr string) error {
	s.logger.Info("http server listening", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server, waiting for in-flight requests until ctx is
// done.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// session returns the named session, or a new one when id is empty.
// Expired sessions are dropped first.
func (s *Server) session(id string) (*exec.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.expireLocked(now)
	if id == "" {
		if len(s.sessions) >= s.maxSessions {
			s.evictOldestLocked()
		}
		sess := s.svc.NewSession()
		sess.PersistGlobals(s.persist)
		s.sessions[sess.ID()] = &sessionEntry{sess: sess, lastUsed: now}
		return sess, nil
	}
	e, ok := s.sessions[id]
	if !ok {
		return nil, ErrUnknownSession
	}
	e.lastUsed = now
	return e.sess, nil
}

// endSession forgets a session. It reports whether the session existed.
func (s *Server) endSession(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return false
	}
	delete(s.sessions, id)
	return true
}

// SessionCount returns the number of live sessions.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) expireLocked(now time.Time) {
	for id, e := range s.sessions {
		if now.Sub(e.lastUsed) > s.ttl {
			delete(s.sessions, id)
			s.logger.Debug("session expired", zap.String("session", id))
		}
	}
}

func (s *Server) evictOldestLocked() {
	var oldest string
	var at time.Time
	for id, e := range s.sessions {
		if oldest == "" || e.lastUsed.Before(at) {
			oldest, at = id, e.lastUsed
		}
	}
	if oldest != "" {
		delete(s.sessions, oldest)
		s.logger.Info("session evicted", zap.String("session", oldest))
	}
}

// shutdownTimeout bounds graceful shutdown in ListenAndServe.
const shutdownTimeout = 10 * time.Second

// ListenAndServe runs the server until ctx is done, then shuts it down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	errc := make(chan error, 1)
	go func() { errc <- s.Start(addr) }()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errc
}
