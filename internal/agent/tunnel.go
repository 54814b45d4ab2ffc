package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tunnelcast/internal/protocol"
)

// how long to wait for the relay's assignment after the upgrade.
const _assign_timeout = 10 * time.Second

// Tunnel is one established control channel to the relay. a Tunnel only
// exists after the relay's tunnel-assigned frame has been received.
type Tunnel struct {
	codec     *protocol.Codec
	subdomain string
	url       string
	forwarder *Forwarder
	emit      func(Event)
	done      chan struct{}
	closeOnce sync.Once
}

// ConnectTunnel dials the relay, authenticates, and waits for the
// assignment frame. any failure before assignment is a connect-time
// failure and yields no tunnel.
func ConnectTunnel(ctx context.Context, cfg *Config, dialer *EgressDialer, preferred string, emit func(Event)) (*Tunnel, error) {
	wsDialer := websocket.Dialer{HandshakeTimeout: _assign_timeout}
	if dialer != nil {
		wsDialer.NetDialContext = dialer.DialContext
	}

	header := http.Header{}
	header.Set(protocol.HeaderAPIKey, cfg.Auth.APIKey)
	if preferred != "" {
		header.Set(protocol.HeaderSubdomain, preferred)
	}

	endpoint := strings.TrimSuffix(cfg.Relay.URL, "/") + "/tunnel"
	slog.Info("connecting to relay", "url", endpoint, "preferred", preferred)

	conn, resp, err := wsDialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("relay refused handshake: %s", resp.Status)
		}
		return nil, fmt.Errorf("dialling relay: %w", err)
	}

	codec := protocol.NewCodec(conn)
	conn.SetReadDeadline(time.Now().Add(_assign_timeout))
	frame, err := codec.ReadFrame()
	conn.SetReadDeadline(time.Time{})
	if err != nil {
		codec.Close()
		return nil, fmt.Errorf("awaiting assignment: %w", err)
	}
	if frame.Type != protocol.TypeTunnelAssigned {
		codec.Close()
		return nil, fmt.Errorf("expected tunnel-assigned, got %q", frame.Type)
	}

	slog.Info("tunnel assigned", "subdomain", frame.Subdomain, "url", frame.URL)
	return &Tunnel{
		codec:     codec,
		subdomain: frame.Subdomain,
		url:       frame.URL,
		forwarder: NewForwarder(cfg.Local.Host, cfg.Local.Port, cfg.Tunnel.OriginTimeout),
		emit:      emit,
		done:      make(chan struct{}),
	}, nil
}

// Subdomain returns the label assigned by the relay.
func (t *Tunnel) Subdomain() string {
	return t.subdomain
}

// URL returns the public url assigned by the relay.
func (t *Tunnel) URL() string {
	return t.url
}

// Done returns a channel that closes when the tunnel shuts down.
func (t *Tunnel) Done() <-chan struct{} {
	return t.done
}

// Close shuts down the control channel. in-flight origin calls finish on
// their own goroutines; their responses are dropped by the dead socket.
func (t *Tunnel) Close() {
	t.closeOnce.Do(func() {
		close(t.done)
		t.codec.Close()
	})
}

// Run processes frames from the relay until the channel closes. it returns
// nil after a local Close and the transport error otherwise.
func (t *Tunnel) Run() error {
	defer t.Close()
	for {
		frame, err := t.codec.ReadFrame()
		if err != nil {
			if errors.Is(err, protocol.ErrBadFrame) {
				slog.Warn("discarding bad frame from relay", "err", err)
				continue
			}
			select {
			case <-t.done:
				return nil
			default:
				return fmt.Errorf("reading frame: %w", err)
			}
		}

		switch frame.Type {
		case protocol.TypePing:
			if err := t.codec.WriteFrame(&protocol.Frame{Type: protocol.TypePong}); err != nil {
				return fmt.Errorf("sending pong: %w", err)
			}

		case protocol.TypeTunnelRequest:
			if frame.Request == nil {
				slog.Warn("tunnel-request frame without payload")
				continue
			}
			// each request runs on its own goroutine so a slow origin
			// does not stall the receive loop
			go t._handle_request(frame.Request)

		case protocol.TypeTunnelError:
			slog.Warn("relay reported error", "message", frame.Message)
			t.emit(Event{Kind: EventError, Err: errors.New(frame.Message)})

		default:
			slog.Warn("ignoring misdirected frame from relay", "type", frame.Type)
		}
	}
}

// _handle_request forwards one request to the origin and sends the
// response frame back.
func (t *Tunnel) _handle_request(req *protocol.RequestFrame) {
	resp := t.forwarder.Forward(req)
	t.emit(Event{Kind: EventRequest, Method: req.Method, Path: req.Path, Status: resp.Status})

	err := t.codec.WriteFrame(&protocol.Frame{
		Type:     protocol.TypeTunnelResponse,
		Response: resp,
	})
	if err != nil {
		// channel already gone; the relay will time the request out
		slog.Debug("dropping response for closed tunnel", "id", req.ID, "err", err)
	}
}
