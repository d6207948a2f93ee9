// Package presence tracks which subjects currently hold a live connection.
// The registry is process-local and starts empty on every restart.
package presence

import (
	"sort"
	"sync"

	"github.com/talkora/chat-platform/internal/realtime"
	"github.com/talkora/chat-platform/pkg/metrics"
)

// Registry maps subject ids to their single live connection handle.
// A later Register for the same subject replaces the earlier handle.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]realtime.Conn
}

var _ realtime.Registry = (*Registry)(nil)

// New creates an empty registry.
func New() *Registry {
	return &Registry{conns: make(map[string]realtime.Conn)}
}

// Register stores c as the handle for subject, overwriting any previous one,
// and returns the overwritten handle or nil.
func (r *Registry) Register(subject string, c realtime.Conn) realtime.Conn {
	r.mu.Lock()
	prev := r.conns[subject]
	r.conns[subject] = c
	n := len(r.conns)
	r.mu.Unlock()
	metrics.OnlineUsers.Set(float64(n))
	return prev
}

// Unregister removes subject. It is a no-op when subject is absent.
func (r *Registry) Unregister(subject string) {
	r.mu.Lock()
	delete(r.conns, subject)
	n := len(r.conns)
	r.mu.Unlock()
	metrics.OnlineUsers.Set(float64(n))
}

// Release removes subject only while c is still its registered handle, so a
// stale connection closing late cannot evict a newer one.
func (r *Registry) Release(subject string, c realtime.Conn) bool {
	r.mu.Lock()
	cur, ok := r.conns[subject]
	if !ok || cur.ID() != c.ID() {
		r.mu.Unlock()
		return false
	}
	delete(r.conns, subject)
	n := len(r.conns)
	r.mu.Unlock()
	metrics.OnlineUsers.Set(float64(n))
	return true
}

// Lookup returns the handle registered for subject.
func (r *Registry) Lookup(subject string) (realtime.Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[subject]
	return c, ok
}

// ListOnline returns the online subject ids in sorted order.
func (r *Registry) ListOnline() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.conns))
	for id := range r.conns {
		out = append(out, id)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Conns returns a snapshot of every registered handle.
func (r *Registry) Conns() []realtime.Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]realtime.Conn, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

// Len returns the number of online subjects.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
