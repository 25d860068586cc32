// Package http serves the status panel, the status stream and the send
// endpoint in front of one session manager.
package http

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/wagate/internal/compose"
	"github.com/nextlevelbuilder/wagate/internal/dispatch"
	"github.com/nextlevelbuilder/wagate/internal/session"
	"github.com/nextlevelbuilder/wagate/internal/transport"
)

const (
	maxBodyBytes    = 1 << 20
	shutdownTimeout = 10 * time.Second
)

// Session is the part of session.Manager the HTTP surface uses.
type Session interface {
	State() session.State
	Compose(req compose.OutboundRequest) (compose.Composed, error)
	Submit(ctx context.Context, req compose.OutboundRequest) (dispatch.Ack, error)
	Reset(ctx context.Context) error
	OnStateChange(fn func(session.State)) func()
	OnMessage(fn func(transport.MessageReceived)) func()
}

// Options configures a Server.
type Options struct {
	// Token guards /send, /pairing/reset and the message stream. Empty
	// disables auth.
	Token      string
	TrustProxy bool
	Limiter    *RateLimiter
}

// Server is the HTTP front of a session.
type Server struct {
	sess       Session
	token      atomic.Pointer[string]
	limiter    atomic.Pointer[RateLimiter]
	trustProxy bool
	mux        *http.ServeMux
}

// NewServer builds the route table.
func NewServer(sess Session, opts Options) *Server {
	s := &Server{
		sess:       sess,
		trustProxy: opts.TrustProxy,
		mux:        http.NewServeMux(),
	}
	s.SetToken(opts.Token)
	limiter := opts.Limiter
	if limiter == nil {
		limiter = NewRateLimiter(0, 0)
	}
	s.limiter.Store(limiter)

	s.mux.HandleFunc("GET /{$}", s.handlePanel)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /status", s.handleStatus)
	s.mux.HandleFunc("GET /status/qr.png", s.handleQR)
	s.mux.HandleFunc("GET /status/ws", s.handleStream)
	s.mux.HandleFunc("POST /send", s.handleSend)
	s.mux.HandleFunc("POST /pairing/reset", s.handleReset)
	return s
}

// SetToken replaces the auth token.
func (s *Server) SetToken(token string) {
	s.token.Store(&token)
}

// SetLimiter swaps the send rate limiter. The previous one is stopped.
func (s *Server) SetLimiter(rl *RateLimiter) {
	if old := s.limiter.Swap(rl); old != nil && old != rl {
		old.Stop()
	}
}

// Handler returns the root handler with request logging.
func (s *Server) Handler() http.Handler {
	return withRequestLog(s.mux)
}

// ListenAndServe serves on addr until ctx is cancelled, then drains
// in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe over an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http.listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http.shutdown", "error", err)
		return err
	}
	s.limiter.Load().Stop()
	return nil
}

func (s *Server) authorized(r *http.Request) bool {
	return tokenMatch(requestToken(r), *s.token.Load())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := s.sess.Reset(r.Context()); err != nil {
		slog.Error("pairing.reset_failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	slog.Info("pairing.reset")
	writeJSON(w, http.StatusOK, statusPayload(s.sess.State()))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack is needed by the websocket upgrader.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("http: response does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		slog.Debug("http.request",
			"id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", strconv.Itoa(rec.status),
			"duration", time.Since(start),
		)
	})
}
