package relay

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tunnelcast/internal/protocol"
)

// Tunnel represents a single attached agent connection on the relay side.
// it owns the pending-request waiters for requests routed to its subdomain
// and the heartbeat that polices liveness.
type Tunnel struct {
	id           string
	codec        *protocol.Codec
	pending      map[string]chan *protocol.ResponseFrame
	pendingMu    sync.Mutex
	alive        atomic.Bool
	done         chan struct{}
	closeOnce    sync.Once
	pingInterval time.Duration
}

// NewTunnel wraps an agent websocket connection. the subdomain is assigned
// by Registry.Add and the loops start with Start, after the assignment
// frame has been sent.
func NewTunnel(conn *websocket.Conn, pingInterval time.Duration) *Tunnel {
	t := &Tunnel{
		codec:        protocol.NewCodec(conn),
		pending:      make(map[string]chan *protocol.ResponseFrame),
		done:         make(chan struct{}),
		pingInterval: pingInterval,
	}
	t.alive.Store(true)
	return t
}

// Start launches the receive loop and the heartbeat.
func (t *Tunnel) Start() {
	go t._read_loop()
	go t._heartbeat_loop()
}

// ID returns the subdomain owned by this connection.
func (t *Tunnel) ID() string {
	return t.id
}

// Done returns a channel that is closed when the tunnel shuts down.
func (t *Tunnel) Done() <-chan struct{} {
	return t.done
}

// SendAssigned emits the tunnel-assigned frame carrying the public identity.
func (t *Tunnel) SendAssigned(id, url string) error {
	return t.codec.WriteFrame(&protocol.Frame{
		Type:      protocol.TypeTunnelAssigned,
		Subdomain: id,
		URL:       url,
	})
}

// SendError emits a tunnel-error frame without closing the channel.
func (t *Tunnel) SendError(message string) error {
	return t.codec.WriteFrame(&protocol.Frame{
		Type:    protocol.TypeTunnelError,
		Message: message,
	})
}

// SendRequest writes a request frame and registers a waiter for the
// matching response. the returned channel yields at most one response;
// it is closed without a value when the tunnel shuts down first.
func (t *Tunnel) SendRequest(req *protocol.RequestFrame) (<-chan *protocol.ResponseFrame, error) {
	ch := make(chan *protocol.ResponseFrame, 1)
	t.pendingMu.Lock()
	t.pending[req.ID] = ch
	t.pendingMu.Unlock()

	err := t.codec.WriteFrame(&protocol.Frame{
		Type:    protocol.TypeTunnelRequest,
		Request: req,
	})
	if err != nil {
		t.Dismiss(req.ID)
		return nil, fmt.Errorf("writing request frame: %w", err)
	}
	return ch, nil
}

// Dismiss drops the pending waiter for the given correlation id. a response
// arriving afterwards is discarded as a correlation miss.
func (t *Tunnel) Dismiss(id string) {
	t.pendingMu.Lock()
	delete(t.pending, id)
	t.pendingMu.Unlock()
}

// Close shuts down the tunnel: the heartbeat stops, the websocket closes,
// and every pending waiter is drained.
func (t *Tunnel) Close() {
	t.closeOnce.Do(func() {
		close(t.done)
		t.codec.Close()
		t.pendingMu.Lock()
		for id, ch := range t.pending {
			close(ch)
			delete(t.pending, id)
		}
		t.pendingMu.Unlock()
		slog.Info("tunnel closed", "subdomain", t.id)
	})
}

// _read_loop interprets frames from the agent until the channel dies.
func (t *Tunnel) _read_loop() {
	defer t.Close()
	for {
		frame, err := t.codec.ReadFrame()
		if err != nil {
			if errors.Is(err, protocol.ErrBadFrame) {
				slog.Warn("discarding bad frame from agent", "subdomain", t.id, "err", err)
				continue
			}
			select {
			case <-t.done:
			default:
				slog.Info("tunnel read error", "subdomain", t.id, "err", err)
			}
			return
		}

		switch frame.Type {
		case protocol.TypePong:
			t.alive.Store(true)

		case protocol.TypeTunnelResponse:
			if frame.Response == nil {
				slog.Warn("tunnel-response frame without payload", "subdomain", t.id)
				continue
			}
			t._deliver(frame.Response)

		default:
			// relay→agent frame types observed inbound are misdirected
			slog.Warn("ignoring misdirected frame from agent", "subdomain", t.id, "type", frame.Type)
		}
	}
}

// _deliver hands a response to its waiter. the entry is removed before
// delivery, so only the first response per correlation id is ever seen.
func (t *Tunnel) _deliver(resp *protocol.ResponseFrame) {
	t.pendingMu.Lock()
	ch, ok := t.pending[resp.ID]
	if ok {
		delete(t.pending, resp.ID)
	}
	t.pendingMu.Unlock()

	if !ok {
		slog.Debug("discarding response with unknown correlation id", "subdomain", t.id, "id", resp.ID)
		return
	}
	ch <- resp
	close(ch)
}

// _heartbeat_loop pings the agent on every tick and closes the connection
// when two consecutive ticks pass without a pong.
func (t *Tunnel) _heartbeat_loop() {
	ticker := time.NewTicker(t.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if !t.alive.Swap(false) {
				slog.Warn("heartbeat missed, closing tunnel", "subdomain", t.id)
				t.Close()
				return
			}
			if err := t.codec.WriteFrame(&protocol.Frame{Type: protocol.TypePing}); err != nil {
				slog.Warn("heartbeat ping failed", "subdomain", t.id, "err", err)
				t.Close()
				return
			}
		case <-t.done:
			return
		}
	}
}
