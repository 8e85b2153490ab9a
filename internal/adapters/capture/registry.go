// Package capture owns the pcap side of the sensor: opening ARP-filtered
// handles, normalizing frames and accounting per-interface counters.
package capture

import (
	"sort"
	"sync"
	"time"

	"github.com/safelink/safelink/internal/core/domain"
)

// Registry tracks per-interface capture counters. All methods are safe for
// concurrent use.
type Registry struct {
	mu     sync.RWMutex
	ifaces map[string]*domain.InterfaceStats
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{ifaces: make(map[string]*domain.InterfaceStats)}
}

func (r *Registry) state(iface string) *domain.InterfaceStats {
	if s, ok := r.ifaces[iface]; ok {
		return s
	}
	s := &domain.InterfaceStats{Interface: iface, StartedAt: time.Now()}
	r.ifaces[iface] = s
	return s
}

// Register adds an interface, resetting its window if it was known.
func (r *Registry) Register(iface string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ifaces[iface] = &domain.InterfaceStats{Interface: iface, StartedAt: time.Now()}
}

// SetActive flips the capture flag for an interface.
func (r *Registry) SetActive(iface string, active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state(iface).Active = active
}

// MarkCaptured counts one frame read off the wire.
func (r *Registry) MarkCaptured(iface string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.state(iface)
	s.PacketsCaptured++
	s.LastPacket = at
}

// MarkProcessed counts one frame accepted by the dispatcher.
func (r *Registry) MarkProcessed(iface string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state(iface).PacketsProcessed++
}

// MarkDropped counts one frame lost to buffer overflow.
func (r *Registry) MarkDropped(iface string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state(iface).PacketsDropped++
}

// MarkError counts one capture error on an interface.
func (r *Registry) MarkError(iface string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state(iface).Errors++
}

// Get returns a snapshot for one interface.
func (r *Registry) Get(iface string) (domain.InterfaceStats, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.ifaces[iface]
	if !ok {
		return domain.InterfaceStats{}, false
	}
	return *s, true
}

// Stats snapshots every interface, sorted by name.
func (r *Registry) Stats() []domain.InterfaceStats {
	r.mu.RLock()
	out := make([]domain.InterfaceStats, 0, len(r.ifaces))
	for _, s := range r.ifaces {
		out = append(out, *s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Interface < out[j].Interface })
	return out
}
