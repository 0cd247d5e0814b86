package realtime

import (
	"sort"
	"sync"

	"github.com/eldtechnologies/sensechat/internal/metrics"
)

// Registry maps users to their single live connection and back. All maps
// are guarded by one mutex so a reconnect and a stale disconnect for the
// same user cannot interleave.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]Conn   // conn ID -> conn, every attached connection
	byUser map[string]Conn   // user ID -> current conn
	byConn map[string]string // conn ID -> user ID
}

func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[string]Conn),
		byUser: make(map[string]Conn),
		byConn: make(map[string]string),
	}
}

// Attach records a connection that has not registered a user yet.
func (r *Registry) Attach(c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c.ID()] = c
	r.updateGauges()
}

// Register binds userID to c, replacing any previous connection for the
// user. It returns the replaced connection, if any.
func (r *Registry) Register(userID string, c Conn) Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns[c.ID()] = c

	// A connection re-registering under a new user releases the old one.
	if prevUser, ok := r.byConn[c.ID()]; ok && prevUser != userID {
		if cur, ok := r.byUser[prevUser]; ok && cur.ID() == c.ID() {
			delete(r.byUser, prevUser)
		}
	}

	prev, hadPrev := r.byUser[userID]
	if hadPrev && prev.ID() != c.ID() {
		delete(r.byConn, prev.ID())
	}

	r.byUser[userID] = c
	r.byConn[c.ID()] = userID
	r.updateGauges()

	if hadPrev && prev.ID() != c.ID() {
		return prev
	}
	return nil
}

// Unregister detaches c. It returns the user c was registered for only
// when c was still that user's current connection.
func (r *Registry) Unregister(c Conn) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.conns, c.ID())
	userID, ok := r.byConn[c.ID()]
	if !ok {
		r.updateGauges()
		return "", false
	}
	delete(r.byConn, c.ID())

	cur, ok := r.byUser[userID]
	if !ok || cur.ID() != c.ID() {
		r.updateGauges()
		return "", false
	}
	delete(r.byUser, userID)
	r.updateGauges()
	return userID, true
}

// Lookup returns the user's current connection.
func (r *Registry) Lookup(userID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byUser[userID]
	return c, ok
}

// UserFor returns the user a connection is registered as.
func (r *Registry) UserFor(c Conn) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	userID, ok := r.byConn[c.ID()]
	return userID, ok
}

// IsOnline reports whether userID has a registered connection.
func (r *Registry) IsOnline(userID string) bool {
	_, ok := r.Lookup(userID)
	return ok
}

// Online returns the registered user IDs, sorted.
func (r *Registry) Online() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	users := make([]string, 0, len(r.byUser))
	for id := range r.byUser {
		users = append(users, id)
	}
	sort.Strings(users)
	return users
}

// Conns returns a snapshot of every attached connection.
func (r *Registry) Conns() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Conn, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

// Count returns attached connections and registered users.
func (r *Registry) Count() (conns, users int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns), len(r.byUser)
}

// caller holds r.mu
func (r *Registry) updateGauges() {
	metrics.RealtimeConnections.Set(float64(len(r.conns)))
	metrics.OnlineUsers.Set(float64(len(r.byUser)))
}
