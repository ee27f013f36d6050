// Package api serves sessions and turns over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/aixgo-dev/datapilot/internal/router"
	"github.com/aixgo-dev/datapilot/pkg/observability"
	"github.com/aixgo-dev/datapilot/pkg/security"
	"github.com/aixgo-dev/datapilot/pkg/session"
)

// DefaultTurnTimeout bounds a single turn request.
const DefaultTurnTimeout = 5 * time.Minute

// Handler runs one turn of a session.
type Handler interface {
	Handle(ctx context.Context, sess session.Session, question string) (*router.Response, error)
}

// Options configures a Server.
type Options struct {
	Router   Handler
	Sessions session.Manager
	Health   *observability.HealthChecker

	// Guard screens questions; a default guard is used when nil.
	Guard *security.QuestionGuard
	// Limiter is optional.
	Limiter *security.RateLimiter

	Logger      *zap.Logger
	TurnTimeout time.Duration

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// Debug includes redacted error details in error responses.
	Debug bool
}

// Server is the HTTP API.
type Server struct {
	opts    Options
	logger  *zap.Logger
	handler http.Handler
	srv     *http.Server
}

// New creates a server.
func New(opts Options) (*Server, error) {
	if opts.Router == nil {
		return nil, errors.New("api: router is required")
	}
	if opts.Sessions == nil {
		return nil, errors.New("api: session manager is required")
	}
	if opts.Guard == nil {
		opts.Guard = security.NewQuestionGuard(0)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.TurnTimeout <= 0 {
		opts.TurnTimeout = DefaultTurnTimeout
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 15 * time.Second
	}
	if opts.WriteTimeout <= opts.TurnTimeout {
		opts.WriteTimeout = opts.TurnTimeout + 30*time.Second
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 30 * time.Second
	}

	s := &Server{opts: opts, logger: opts.Logger.Named("api")}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sessions", s.createSession)
	mux.HandleFunc("GET /v1/sessions/{id}", s.getSession)
	mux.HandleFunc("DELETE /v1/sessions/{id}", s.deleteSession)
	mux.HandleFunc("POST /v1/sessions/{id}/turns", s.postTurn)
	if opts.Health != nil {
		observability.Mount(mux, opts.Health)
	}

	var h http.Handler = mux
	if opts.Limiter != nil {
		h = opts.Limiter.Middleware(h)
	}
	s.handler = s.instrument(h)
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.handler }

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.opts.ReadTimeout,
		WriteTimeout:      s.opts.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", addr))
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ShutdownTimeout)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument records request metrics under the matched route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		d := time.Since(start)
		observability.RecordHTTPRequest(r.Method, route, strconv.Itoa(rec.status), d)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", rec.status),
			zap.Duration("duration", d),
		)
	})
}
