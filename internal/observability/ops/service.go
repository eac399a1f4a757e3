// Package ops serves the operator endpoints: Prometheus metrics, pprof and a
// liveness probe.
package ops

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	rtsup "newsbot/internal/runtime/supervisor"
	logx "newsbot/pkg/logx"
)

const DefaultAddr = "127.0.0.1:9090"

var ErrInsecureBind = errors.New("ops: non-loopback addr requires a token")

// Config controls the optional ops HTTP server.
type Config struct {
	Enabled bool
	Addr    string
	Token   string
}

type Service struct {
	gatherer prometheus.Gatherer
	log      logx.Logger

	mu   sync.Mutex
	cfg  Config
	ln   net.Listener
	srv  *http.Server
	sup  *rtsup.Supervisor
	addr string
}

// New returns a stopped service. A nil gatherer serves the default registry.
func New(g prometheus.Gatherer, log logx.Logger) *Service {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{gatherer: g, log: log.With(logx.String("comp", "ops"))}
}

// Addr returns the bound address ("" when stopped).
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Reconfigure applies cfg, starting, stopping or restarting the server as needed.
// Safe to call during hot-reload.
func (s *Service) Reconfigure(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	prev := s.cfg
	running := s.srv != nil
	s.mu.Unlock()

	if running && cfg.Enabled && !needsRestart(prev, cfg) {
		return nil
	}
	if running {
		s.Stop(ctx)
	}
	if !cfg.Enabled {
		s.mu.Lock()
		s.cfg = cfg
		s.mu.Unlock()
		return nil
	}
	return s.Start(ctx, cfg)
}

func needsRestart(a, b Config) bool {
	return normalizeAddr(a.Addr) != normalizeAddr(b.Addr) || a.Token != b.Token
}

func normalizeAddr(addr string) string {
	if a := strings.TrimSpace(addr); a != "" {
		return a
	}
	return DefaultAddr
}

// Start binds the listener and serves until Stop or ctx is done.
func (s *Service) Start(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	if s.srv != nil || !cfg.Enabled {
		return nil
	}

	addr := normalizeAddr(cfg.Addr)
	if strings.TrimSpace(cfg.Token) == "" && !isLoopbackAddr(addr) {
		s.log.Error("ops refused to start", logx.String("addr", addr), logx.Err(ErrInsecureBind))
		return ErrInsecureBind
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.handler(cfg.Token),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log),
		// ops is optional; never take the bot down with it.
		rtsup.WithCancelOnError(false),
	)
	sup.Go("ops.http", func(c context.Context) error {
		go func() {
			<-c.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_ = srv.Shutdown(sctx)
			cancel()
		}()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	s.ln, s.srv, s.sup, s.addr = ln, srv, sup, ln.Addr().String()
	s.log.Info("ops started", logx.String("addr", s.addr), logx.Bool("token_set", cfg.Token != ""))
	return nil
}

// Stop shuts the server down; it is a no-op when not running.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	srv, ln, sup := s.srv, s.ln, s.sup
	s.srv, s.ln, s.sup, s.addr = nil, nil, nil, ""
	s.mu.Unlock()
	if srv == nil {
		return
	}

	_ = srv.Shutdown(ctx)
	_ = srv.Close()
	_ = ln.Close()
	sup.Cancel()
	_ = sup.Wait(ctx)
	s.log.Info("ops stopped")
}

func (s *Service) handler(token string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", withAuth(token, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	mux.Handle("/debug/pprof/", withAuth(token, http.HandlerFunc(hpprof.Index)))
	mux.Handle("/debug/pprof/cmdline", withAuth(token, http.HandlerFunc(hpprof.Cmdline)))
	mux.Handle("/debug/pprof/profile", withAuth(token, http.HandlerFunc(hpprof.Profile)))
	mux.Handle("/debug/pprof/symbol", withAuth(token, http.HandlerFunc(hpprof.Symbol)))
	mux.Handle("/debug/pprof/trace", withAuth(token, http.HandlerFunc(hpprof.Trace)))
	return mux
}

// withAuth accepts "Authorization: Bearer <token>" or "?token=<token>".
func withAuth(token string, h http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("token")
		if got == "" {
			got = strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(tok)) != 1 {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h.ServeHTTP(w, r)
	})
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		// empty host means all interfaces
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
