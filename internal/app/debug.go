package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"time"

	"puckbot/internal/config"
	"puckbot/internal/metrics"
	logx "puckbot/pkg/logx"
)

// debugServer exposes pprof and the metrics endpoint. It refuses to bind
// a non-loopback address without a token unless explicitly allowed.
type debugServer struct {
	cfg config.DebugConfig
	met *metrics.Metrics
	log logx.Logger

	readTimeout  time.Duration
	writeTimeout time.Duration
	idleTimeout  time.Duration

	srv *http.Server
	ln  net.Listener
}

func newDebugServer(cfg config.DebugConfig, met *metrics.Metrics, log logx.Logger) (*debugServer, error) {
	read, err := config.ParseDurationOrDefault("debug.read_timeout", cfg.ReadTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	// Write timeout defaults to 0: /debug/pprof/profile runs 30s+.
	write, err := config.ParseDurationOrDefault("debug.write_timeout", cfg.WriteTimeout, 0)
	if err != nil {
		return nil, err
	}
	idle, err := config.ParseDurationOrDefault("debug.idle_timeout", cfg.IdleTimeout, time.Minute)
	if err != nil {
		return nil, err
	}
	return &debugServer{
		cfg:          cfg,
		met:          met,
		log:          log,
		readTimeout:  read,
		writeTimeout: write,
		idleTimeout:  idle,
	}, nil
}

func (s *debugServer) Start(ctx context.Context) error {
	if s == nil || !s.cfg.Enabled {
		return nil
	}

	addr := strings.TrimSpace(s.cfg.Addr)
	if addr == "" {
		addr = "127.0.0.1:6060"
	}
	token := strings.TrimSpace(s.cfg.Token)

	if !s.cfg.AllowInsecure && token == "" && !isLoopbackAddr(addr) {
		s.log.Error("debug server refused to start: non-loopback addr requires token or allow_insecure",
			logx.String("addr", addr))
		return errors.New("debug server: insecure bind")
	}
	if s.cfg.AllowInsecure && token == "" && !isLoopbackAddr(addr) {
		s.log.Warn("debug server running without token on non-loopback addr", logx.String("addr", addr))
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	wrap := func(h http.Handler) http.Handler { return withToken(token, h) }
	mux := http.NewServeMux()
	mux.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	mux.Handle("/metrics", wrap(s.met.Handler()))
	mux.Handle("/debug/pprof/", wrap(http.HandlerFunc(hpprof.Index)))
	mux.Handle("/debug/pprof/cmdline", wrap(http.HandlerFunc(hpprof.Cmdline)))
	mux.Handle("/debug/pprof/profile", wrap(http.HandlerFunc(hpprof.Profile)))
	mux.Handle("/debug/pprof/symbol", wrap(http.HandlerFunc(hpprof.Symbol)))
	mux.Handle("/debug/pprof/trace", wrap(http.HandlerFunc(hpprof.Trace)))

	s.srv = &http.Server{
		Handler:      mux,
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
		IdleTimeout:  s.idleTimeout,
	}
	s.ln = ln

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("debug server exited", logx.Err(err))
		}
	}()
	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
	}()

	s.log.Info("debug server started",
		logx.String("addr", ln.Addr().String()), logx.Bool("token_set", token != ""))
	return nil
}

func (s *debugServer) Stop(ctx context.Context) {
	if s == nil || s.srv == nil {
		return
	}
	_ = s.srv.Shutdown(ctx)
	_ = s.srv.Close()
	if s.ln != nil {
		_ = s.ln.Close()
	}
	s.srv = nil
	s.ln = nil
}

// withToken accepts either Authorization: Bearer <token> or ?token=.
func withToken(token string, h http.Handler) http.Handler {
	if token == "" {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("token"); got != "" {
			if got == token {
				h.ServeHTTP(w, r)
				return
			}
			unauthorized(w)
			return
		}
		if ah := r.Header.Get("Authorization"); ah != "" {
			const p = "Bearer "
			if strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == token {
				h.ServeHTTP(w, r)
				return
			}
		}
		unauthorized(w)
	})
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
