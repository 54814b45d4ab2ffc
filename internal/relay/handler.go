package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tunnelcast/internal/protocol"
)

// Handler is the public http ingress. each request is dispatched by Host
// header to a tunnel, framed, and held until the agent's response or a
// timeout writes the reply.
type Handler struct {
	registry   *Registry
	baseDomain string
	timeout    time.Duration
	maxBody    int64
	draining   *atomic.Bool
}

// NewHandler creates the ingress over the given registry.
func NewHandler(registry *Registry, cfg *Config, draining *atomic.Bool) *Handler {
	return &Handler{
		registry:   registry,
		baseDomain: cfg.Tunnel.BaseDomain,
		timeout:    cfg.Tunnel.RequestTimeout,
		maxBody:    cfg.Tunnel.MaxBodyBytes,
		draining:   draining,
	}
}

// ServeHTTP dispatches a public request into a tunnel and writes back the
// correlated response.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sub, ok := _subdomain_of(r.Host, h.baseDomain)
	if !ok {
		h._serve_operational(w, r)
		return
	}

	tunnel, ok := h.registry.Get(sub)
	if !ok {
		_write_json(w, http.StatusNotFound, map[string]any{
			"error":     "tunnel not found",
			"subdomain": sub,
		})
		return
	}
	select {
	case <-tunnel.Done():
		// stale entry: the channel died but the reaper has not run yet
		h.registry.Remove(tunnel)
		_write_json(w, http.StatusBadGateway, map[string]any{"error": "tunnel closed"})
		return
	default:
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			// no frame reaches the agent; MaxBytesReader has already
			// poisoned the connection for reuse
			_write_json(w, http.StatusRequestEntityTooLarge, map[string]any{"error": "request body too large"})
			return
		}
		slog.Warn("failed to read request body", "subdomain", sub, "err", err)
		_write_json(w, http.StatusBadRequest, map[string]any{"error": "unreadable request body"})
		return
	}

	req := &protocol.RequestFrame{
		ID:      uuid.NewString(),
		Method:  r.Method,
		Path:    r.URL.RequestURI(),
		Headers: _flatten_headers(r.Header),
		Body:    protocol.EncodeBody(body),
	}

	respCh, err := tunnel.SendRequest(req)
	if err != nil {
		slog.Warn("failed to forward request", "subdomain", sub, "err", err)
		_write_json(w, http.StatusBadGateway, map[string]any{"error": "tunnel write failed"})
		return
	}

	timer := time.NewTimer(h.timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-respCh:
		if !ok {
			// the waiter was drained: tunnel close or server shutdown
			if h.draining.Load() {
				_write_json(w, http.StatusServiceUnavailable, map[string]any{"error": "Server shutting down"})
			} else {
				_write_json(w, http.StatusBadGateway, map[string]any{"error": "tunnel closed"})
			}
			return
		}
		_write_response(w, resp)

	case <-timer.C:
		tunnel.Dismiss(req.ID)
		slog.Warn("request timed out", "subdomain", sub, "id", req.ID)
		_write_json(w, http.StatusGatewayTimeout, map[string]any{"error": "request timed out"})
	}
}

// _serve_operational answers requests on the base domain itself.
func (h *Handler) _serve_operational(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" {
		_write_json(w, http.StatusOK, map[string]any{
			"status":     "ok",
			"tunnels":    h.registry.Size(),
			"maxTunnels": h.registry.Max(),
		})
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "tunnelcast relay\n\nConnect an agent to expose a local service under a *.%s subdomain.\n", h.baseDomain)
}

// _subdomain_of extracts the tunnel label from a Host header value.
// hosts equal to or unrelated to the base domain have no subdomain.
func _subdomain_of(hostport, baseDomain string) (string, bool) {
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	host = strings.ToLower(host)
	if host == "" || host == baseDomain {
		return "", false
	}
	label := strings.TrimSuffix(host, "."+baseDomain)
	if label == host {
		return "", false
	}
	return label, true
}

// _flatten_headers collapses multi-valued headers into single strings.
func _flatten_headers(header http.Header) map[string]string {
	flat := make(map[string]string, len(header))
	for k, v := range header {
		if len(v) > 0 {
			flat[k] = strings.Join(v, ", ")
		}
	}
	return flat
}

// _write_response writes the agent's response back to the public caller.
// transfer-encoding is hop-by-hop and never forwarded; everything else
// passes through verbatim.
func _write_response(w http.ResponseWriter, resp *protocol.ResponseFrame) {
	body, err := protocol.DecodeBody(resp.Body)
	if err != nil {
		slog.Warn("undecodable response body", "id", resp.ID, "err", err)
		_write_json(w, http.StatusBadGateway, map[string]any{"error": "invalid response from agent"})
		return
	}

	for k, v := range resp.Headers {
		if strings.EqualFold(k, "Transfer-Encoding") {
			continue
		}
		w.Header().Set(k, v)
	}
	w.WriteHeader(resp.Status)
	if len(body) > 0 {
		// the caller may already be gone; a failed write is harmless
		w.Write(body)
	}
}

// _write_json writes a json payload with the given status.
func _write_json(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
