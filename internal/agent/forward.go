package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tunnelcast/internal/protocol"
)

// Forwarder executes tunnelled requests against the local http origin.
type Forwarder struct {
	origin     string
	hostHeader string
	client     *http.Client
}

// NewForwarder creates a forwarder targeting http://host:port.
func NewForwarder(host string, port int, timeout time.Duration) *Forwarder {
	hostport := fmt.Sprintf("%s:%d", host, port)
	return &Forwarder{
		origin:     "http://" + hostport,
		hostHeader: hostport,
		client:     &http.Client{Timeout: timeout},
	}
}

// Forward executes one tunnelled request and returns the response frame
// to send back. origin failures are translated into a 502 frame with a
// json error body; Forward never returns nil.
func (f *Forwarder) Forward(req *protocol.RequestFrame) *protocol.ResponseFrame {
	body, err := protocol.DecodeBody(req.Body)
	if err != nil {
		slog.Warn("undecodable tunnelled body", "id", req.ID, "err", err)
		return _error_response(req.ID, http.StatusBadGateway, "invalid request body encoding")
	}

	var bodyReader io.Reader
	if len(body) > 0 {
		bodyReader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequest(req.Method, f.origin+req.Path, bodyReader)
	if err != nil {
		slog.Warn("failed to build origin request", "id", req.ID, "err", err)
		return _error_response(req.ID, http.StatusBadGateway, "malformed tunnelled request")
	}

	for k, v := range req.Headers {
		// hop-by-hop headers never cross the tunnel boundary, and the
		// public Host is replaced by the origin's
		if strings.EqualFold(k, "Host") || strings.EqualFold(k, "Connection") || strings.EqualFold(k, "Upgrade") {
			continue
		}
		httpReq.Header.Set(k, v)
	}
	httpReq.Host = f.hostHeader

	resp, err := f.client.Do(httpReq)
	if err != nil {
		slog.Warn("origin request failed", "id", req.ID, "method", req.Method, "path", req.Path, "err", err)
		return _error_response(req.ID, http.StatusBadGateway, "local origin unreachable")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		slog.Warn("reading origin response failed", "id", req.ID, "err", err)
		return _error_response(req.ID, http.StatusBadGateway, "reading local origin response failed")
	}

	headers := make(map[string]string, len(resp.Header))
	for k, v := range resp.Header {
		if len(v) > 0 {
			headers[k] = strings.Join(v, ", ")
		}
	}

	return &protocol.ResponseFrame{
		ID:      req.ID,
		Status:  resp.StatusCode,
		Headers: headers,
		Body:    protocol.EncodeBody(respBody),
	}
}

// _error_response builds a 502-style response frame with a json error body.
func _error_response(id string, status int, message string) *protocol.ResponseFrame {
	payload, _ := json.Marshal(map[string]string{"error": message})
	return &protocol.ResponseFrame{
		ID:      id,
		Status:  status,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    protocol.EncodeBody(payload),
	}
}
