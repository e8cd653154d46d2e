package api

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roach88/ethbank/internal/engine"
	"github.com/roach88/ethbank/internal/events"
	"github.com/roach88/ethbank/internal/ledger"
)

// maxBodyBytes caps request bodies. Messages are bounded separately by the
// engine.
const maxBodyBytes = 1 << 20

// Sender submits transfers. Implemented by *engine.Engine.
type Sender interface {
	SendAndRecord(ctx context.Context, req engine.SendRequest) (ledger.TransferRecord, error)
}

// Server serves the HTTP API.
type Server struct {
	sender   Sender
	store    ledger.Store
	bus      *events.Bus
	buffer   int
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithEventBuffer sets the per-connection event buffer for /api/events.
func WithEventBuffer(n int) Option {
	return func(s *Server) {
		s.buffer = n
	}
}

// NewServer creates a Server. bus may be nil, in which case /api/events
// responds 404.
func NewServer(sender Sender, store ledger.Store, bus *events.Bus, opts ...Option) *Server {
	s := &Server{
		sender: sender,
		store:  store,
		bus:    bus,
		buffer: events.DefaultBuffer,
		logger: slog.Default(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler with request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/transfers", s.handleSend)
	mux.HandleFunc("GET /api/transfers", s.handleHistory)
	mux.HandleFunc("GET /api/transfers/count", s.handleCount)
	mux.HandleFunc("GET /api/accounts/{address}", s.handleAccount)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	if s.bus != nil {
		mux.HandleFunc("GET /api/events", s.handleEvents)
	}

	return s.logRequests(mux)
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully. ready, if non-nil, receives the bound address.
func (s *Server) ListenAndServe(ctx context.Context, addr string, ready chan<- net.Addr) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	s.logger.Info("http server listening", "addr", ln.Addr().String())
	if ready != nil {
		ready <- ln.Addr()
	}

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack passes WebSocket upgrades through to the underlying connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}
