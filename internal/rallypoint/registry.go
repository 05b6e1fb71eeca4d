// Package rallypoint manages the set of rally-point relay servers: resolving
// their addresses at startup, tracking per-client latency measurements, and
// announcing the server list to newly connected clients.
package rallypoint

import (
	"errors"
	"sync"
)

var (
	// ErrServerIndex is returned when a ping submission references a server
	// outside the resolved list.
	ErrServerIndex = errors.New("server index out of range")

	// ErrPingValue is returned when a ping submission carries a negative value.
	ErrPingValue = errors.New("ping must be non-negative")
)

// Server is a resolved rally-point server descriptor. At least one of
// Address4/Address6 is always set.
type Server struct {
	Address4 string `json:"address4,omitempty"`
	Address6 string `json:"address6,omitempty"`
	Port     int    `json:"port"`
}

// Registry holds the resolved server list and the most recent latency
// measurement from each connected client to each server. The list is fixed
// after resolution; measurements are informational for server selection and
// never gate a match.
type Registry struct {
	clients sync.Map // client name -> *pingSet
	servers []Server
}

// pingSet holds one client's measurements, keyed by server index.
// Its mutex orders a single client's writes without contending with others.
type pingSet struct {
	mu    sync.Mutex
	pings map[int]float64
}

// NewRegistry creates a registry over a resolved server list.
func NewRegistry(servers []Server) *Registry {
	return &Registry{servers: servers}
}

// Servers returns a read-only snapshot of the resolved server list.
func (r *Registry) Servers() []Server {
	out := make([]Server, len(r.servers))
	copy(out, r.servers)
	return out
}

// AddPing records or overwrites the client's latency to one server.
// Out-of-range indices and negative values are rejected with nothing mutated.
func (r *Registry) AddPing(client string, serverIndex int, ping float64) error {
	if serverIndex < 0 || serverIndex >= len(r.servers) {
		return ErrServerIndex
	}
	if ping < 0 {
		return ErrPingValue
	}

	set, _ := r.clients.LoadOrStore(client, &pingSet{pings: make(map[int]float64)})
	ps := set.(*pingSet)

	ps.mu.Lock()
	ps.pings[serverIndex] = ping
	ps.mu.Unlock()

	return nil
}

// Pings returns a snapshot of one client's measurements, or nil if the client
// has none recorded.
func (r *Registry) Pings(client string) map[int]float64 {
	set, ok := r.clients.Load(client)
	if !ok {
		return nil
	}
	ps := set.(*pingSet)

	ps.mu.Lock()
	defer ps.mu.Unlock()

	out := make(map[int]float64, len(ps.pings))
	for idx, ping := range ps.pings {
		out[idx] = ping
	}

	return out
}

// ClearPings removes all recorded measurements for a client. Called when the
// client disconnects to avoid unbounded growth.
func (r *Registry) ClearPings(client string) {
	r.clients.Delete(client)
}
