package relay

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/tunnelcast/internal/subdomain"
)

// ErrMaxTunnels is returned when admission would exceed the tunnel cap.
var ErrMaxTunnels = errors.New("max tunnel limit reached")

// Registry maps tunnel subdomains to their connections. each live
// subdomain appears at most once and each connection owns exactly one
// subdomain for its lifetime.
type Registry struct {
	mu      sync.Mutex
	tunnels map[string]*Tunnel
	max     int
}

// NewRegistry creates an empty registry with the given tunnel cap.
func NewRegistry(max int) *Registry {
	return &Registry{
		tunnels: make(map[string]*Tunnel),
		max:     max,
	}
}

// Add resolves a subdomain for the tunnel and inserts it atomically.
// preferred is honoured when it is syntactically valid and unclaimed;
// otherwise a fresh random label is minted. the tunnel is removed from
// the registry automatically when it closes.
func (r *Registry) Add(preferred string, t *Tunnel) (string, error) {
	r.mu.Lock()
	if len(r.tunnels) >= r.max {
		r.mu.Unlock()
		return "", ErrMaxTunnels
	}

	var id string
	if subdomain.Valid(preferred) {
		if _, taken := r.tunnels[preferred]; !taken {
			id = preferred
		}
	}
	if id == "" {
		// collisions over 36^8 labels are rare; the loop is expected
		// to terminate on the first draw.
		for {
			id = subdomain.Mint()
			if _, taken := r.tunnels[id]; !taken {
				break
			}
		}
	}
	t.id = id
	r.tunnels[id] = t
	size := len(r.tunnels)
	r.mu.Unlock()

	slog.Info("tunnel registered", "subdomain", id, "tunnels", size)

	// reap the entry when the connection closes, whatever the reason
	go func() {
		<-t.Done()
		r.Remove(t)
	}()

	return id, nil
}

// Remove removes the tunnel's registry entry, but only while the entry
// still belongs to this tunnel; a subdomain reused by a newer connection
// is left alone.
func (r *Registry) Remove(t *Tunnel) {
	r.mu.Lock()
	if existing, ok := r.tunnels[t.id]; ok && existing == t {
		delete(r.tunnels, t.id)
		slog.Info("tunnel removed", "subdomain", t.id, "tunnels", len(r.tunnels))
	}
	r.mu.Unlock()
}

// Get returns the tunnel registered under the given subdomain, if any.
func (r *Registry) Get(id string) (*Tunnel, bool) {
	r.mu.Lock()
	t, ok := r.tunnels[id]
	r.mu.Unlock()
	return t, ok
}

// Size returns the number of live tunnels.
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tunnels)
}

// Max returns the configured tunnel cap.
func (r *Registry) Max() int {
	return r.max
}

// Full reports whether the tunnel cap has been reached.
func (r *Registry) Full() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tunnels) >= r.max
}

// CloseAll closes every registered tunnel. used during shutdown; closing
// cancels each tunnel's heartbeat and drains its pending requests.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	snapshot := make([]*Tunnel, 0, len(r.tunnels))
	for _, t := range r.tunnels {
		snapshot = append(snapshot, t)
	}
	r.mu.Unlock()

	for _, t := range snapshot {
		t.Close()
	}
}
