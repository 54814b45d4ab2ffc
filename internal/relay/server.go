package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tunnelcast/internal/protocol"
)

// how long shutdown waits for in-flight http exchanges to drain.
const _shutdown_grace = 10 * time.Second

// Server is the relay: one listener carrying both public http traffic and
// agent control-channel upgrades on the fixed tunnel path.
type Server struct {
	cfg      *Config
	auth     *Authenticator
	registry *Registry
	handler  *Handler
	upgrader websocket.Upgrader
	draining atomic.Bool
}

// NewServer creates a configured relay server.
func NewServer(cfg *Config) *Server {
	s := &Server{
		cfg:      cfg,
		auth:     NewAuthenticator(cfg.Auth.Secrets),
		registry: NewRegistry(cfg.Tunnel.MaxTunnels),
		upgrader: websocket.Upgrader{
			// agents connect from arbitrary networks
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.handler = NewHandler(s.registry, cfg, &s.draining)
	return s
}

// Handler returns the root http handler: the control-channel upgrade on the
// tunnel path, the ingress everywhere else.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Tunnel.Path, s._handle_upgrade)
	mux.Handle("/", s.handler)
	return mux
}

// Registry exposes the tunnel registry, mainly for tests.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Listen.Addr,
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("relay listening", "addr", s.cfg.Listen.Addr, "base_domain", s.cfg.Tunnel.BaseDomain)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("relay server: %w", err)
	case <-ctx.Done():
	}

	slog.Info("relay shutting down")
	s.draining.Store(true)
	// closing every tunnel cancels its heartbeat and drains its pending
	// waiters; blocked ingress handlers wake up and answer 503
	s.registry.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), _shutdown_grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}

// _handle_upgrade performs admission control and the control-channel
// handshake for one agent.
func (s *Server) _handle_upgrade(w http.ResponseWriter, r *http.Request) {
	// only the base domain owns the control path; the same path on a
	// tunnel host is ordinary traffic for that tunnel's origin
	if _, ok := _subdomain_of(r.Host, s.cfg.Tunnel.BaseDomain); ok {
		s.handler.ServeHTTP(w, r)
		return
	}

	key := r.Header.Get(protocol.HeaderAPIKey)
	if !s.auth.Authenticate(key) {
		slog.Warn("agent auth failed", "remote", r.RemoteAddr)
		http.Error(w, "unauthorised", http.StatusUnauthorized)
		return
	}

	if s.draining.Load() {
		_write_json(w, http.StatusServiceUnavailable, map[string]any{"error": "Server shutting down"})
		return
	}
	if s.registry.Full() {
		_write_json(w, http.StatusServiceUnavailable, map[string]any{
			"error": "Max tunnel limit reached",
			"limit": s.registry.Max(),
		})
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	tunnel := NewTunnel(conn, s.cfg.Tunnel.PingInterval)
	preferred := r.Header.Get(protocol.HeaderSubdomain)
	id, err := s.registry.Add(preferred, tunnel)
	if err != nil {
		// cap race lost between the pre-upgrade check and insertion
		slog.Warn("tunnel refused after upgrade", "remote", r.RemoteAddr, "err", err)
		tunnel.SendError(err.Error())
		tunnel.Close()
		return
	}

	url := fmt.Sprintf("https://%s.%s", id, s.cfg.Tunnel.BaseDomain)
	if err := tunnel.SendAssigned(id, url); err != nil {
		slog.Warn("failed to send assignment", "subdomain", id, "err", err)
		tunnel.Close()
		return
	}
	tunnel.Start()
	slog.Info("agent connected", "subdomain", id, "url", url, "remote", r.RemoteAddr)
}
