package supervisor

import (
	"context"
	"log/slog"
	"sync"
)

// ChangeEvent describes one structural mutation of the pool's membership.
type ChangeEvent struct {
	GUID  string
	Added bool // true when the connection entered the alive set
}

// ChangeListener observes pool membership changes. Notifications fire on
// every structural mutation, after the pool lock is released, and are
// advisory only.
type ChangeListener interface {
	OnPoolChange(ev ChangeEvent)
}

// ChangeListenerFunc adapts a function to the ChangeListener interface.
type ChangeListenerFunc func(ev ChangeEvent)

func (f ChangeListenerFunc) OnPoolChange(ev ChangeEvent) {
	f(ev)
}

// Pool is the process-wide registry of connections, split into disjoint
// alive and dead sets keyed by guid. A connection, once created, is a member
// of exactly one of the two sets at any time. All mutations are serialized
// under a single mutex.
type Pool struct {
	mu           sync.Mutex
	alive        []*Connection
	dead         []*Connection
	retryAllowed bool

	logger *slog.Logger

	listenersMu sync.RWMutex
	listeners   []ChangeListener
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolLogger sets the logger.
func WithPoolLogger(logger *slog.Logger) PoolOption {
	return func(p *Pool) {
		p.logger = logger
	}
}

// NewPool creates an empty pool with reconnection allowed.
func NewPool(options ...PoolOption) *Pool {
	p := &Pool{
		retryAllowed: true,
		logger:       slog.Default(),
	}

	for _, opt := range options {
		opt(p)
	}

	return p
}

// AddChangeListener registers a membership listener.
func (p *Pool) AddChangeListener(listener ChangeListener) {
	p.listenersMu.Lock()
	defer p.listenersMu.Unlock()
	p.listeners = append(p.listeners, listener)
}

// Add inserts conn into the alive set, dropping any stale entry for the same
// guid from either set first.
func (p *Pool) Add(conn *Connection) {
	p.mu.Lock()
	p.dead = without(p.dead, conn.ID())
	p.alive = without(p.alive, conn.ID())
	p.alive = append(p.alive, conn)
	p.mu.Unlock()

	p.notify(ChangeEvent{GUID: conn.ID(), Added: true})
}

// Remove moves the connection with the given guid from alive to dead,
// closing its transport best-effort. Unknown guids are a no-op.
func (p *Pool) Remove(guid string) {
	p.mu.Lock()
	conn := find(p.alive, guid)
	if conn == nil {
		p.mu.Unlock()
		return
	}
	p.alive = without(p.alive, guid)
	p.dead = append(without(p.dead, guid), conn)
	p.mu.Unlock()

	conn.closeTransport()
	p.notify(ChangeEvent{GUID: guid, Added: false})
}

// RemoveFromAll removes the guid from both sets unconditionally. Used when a
// connection has exhausted its budget and must not remain revivable through
// a stale entry.
func (p *Pool) RemoveFromAll(guid string) {
	p.mu.Lock()
	wasAlive := find(p.alive, guid) != nil
	wasDead := find(p.dead, guid) != nil
	p.alive = without(p.alive, guid)
	p.dead = without(p.dead, guid)
	p.mu.Unlock()

	if wasAlive || wasDead {
		p.notify(ChangeEvent{GUID: guid, Added: false})
	}
}

// AddDead appends conn directly to the dead set without closing anything.
// Used when a connect attempt never produced a transport.
func (p *Pool) AddDead(conn *Connection) {
	p.mu.Lock()
	p.dead = append(without(p.dead, conn.ID()), conn)
	p.mu.Unlock()

	p.notify(ChangeEvent{GUID: conn.ID(), Added: false})
}

// retire moves conn to the dead set in one step, wherever it currently is.
// Used on budget exhaustion so the one-set-membership invariant holds at
// every observation point.
func (p *Pool) retire(conn *Connection) {
	p.mu.Lock()
	p.alive = without(p.alive, conn.ID())
	p.dead = append(without(p.dead, conn.ID()), conn)
	p.mu.Unlock()

	p.notify(ChangeEvent{GUID: conn.ID(), Added: false})
}

// Get looks the guid up in alive first, then dead.
func (p *Pool) Get(guid string) (*Connection, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if conn := find(p.alive, guid); conn != nil {
		return conn, true
	}
	if conn := find(p.dead, guid); conn != nil {
		return conn, true
	}
	return nil, false
}

// Exists reports whether the guid is present in either set.
func (p *Pool) Exists(guid string) bool {
	_, ok := p.Get(guid)
	return ok
}

// IsAlive reports whether the guid is currently in the alive set.
func (p *Pool) IsAlive(guid string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return find(p.alive, guid) != nil
}

// AttachHandlers sets the registered handler list on the matching alive
// connection. Unknown guids are a no-op.
func (p *Pool) AttachHandlers(guid string, handlers []HandlerDescriptor) {
	p.mu.Lock()
	conn := find(p.alive, guid)
	p.mu.Unlock()

	if conn != nil {
		conn.setHandlers(handlers)
	}
}

// Revive re-attempts connection for a member of the dead set, reusing its
// last-known configuration. On success the connection rejoins the alive set
// and its prior handler set is re-registered verbatim.
func (p *Pool) Revive(ctx context.Context, guid string) error {
	p.mu.Lock()
	conn := find(p.dead, guid)
	p.mu.Unlock()

	if conn == nil {
		return ErrConnectionNotFound
	}

	p.logger.Info("reviving connection", "guid", guid)
	return conn.reestablish(ctx)
}

// Flush closes every alive connection, moves each to dead, and sets the
// pool-wide retry gate. With retryAllowed false every future reconnect
// attempt is suppressed, regardless of remaining budget, until a later
// Flush(true) re-enables recovery.
func (p *Pool) Flush(retryAllowed bool) {
	p.mu.Lock()
	p.retryAllowed = retryAllowed
	drained := p.alive
	p.alive = nil
	for _, conn := range drained {
		p.dead = append(without(p.dead, conn.ID()), conn)
	}
	p.mu.Unlock()

	for _, conn := range drained {
		conn.closeTransport()
		p.notify(ChangeEvent{GUID: conn.ID(), Added: false})
	}

	p.logger.Info("pool flushed",
		"connections", len(drained),
		"retryAllowed", retryAllowed)
}

// RetryAllowed reports whether reconnect attempts are currently permitted.
// Consulted by every connection on every close event.
func (p *Pool) RetryAllowed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.retryAllowed
}

// Stats returns the current alive and dead set sizes.
func (p *Pool) Stats() (alive, dead int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.alive), len(p.dead)
}

// Snapshot returns both guid lists from one consistent view of the pool.
func (p *Pool) Snapshot() (alive, dead []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return ids(p.alive), ids(p.dead)
}

// AliveIDs returns the guids of the alive set in insertion order.
func (p *Pool) AliveIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return ids(p.alive)
}

// DeadIDs returns the guids of the dead set in insertion order.
func (p *Pool) DeadIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return ids(p.dead)
}

func (p *Pool) notify(ev ChangeEvent) {
	p.listenersMu.RLock()
	listeners := make([]ChangeListener, len(p.listeners))
	copy(listeners, p.listeners)
	p.listenersMu.RUnlock()

	for _, l := range listeners {
		l.OnPoolChange(ev)
	}
}

func find(set []*Connection, guid string) *Connection {
	for _, conn := range set {
		if conn.ID() == guid {
			return conn
		}
	}
	return nil
}

func without(set []*Connection, guid string) []*Connection {
	for i, conn := range set {
		if conn.ID() == guid {
			return append(set[:i:i], set[i+1:]...)
		}
	}
	return set
}

func ids(set []*Connection) []string {
	out := make([]string, len(set))
	for i, conn := range set {
		out[i] = conn.ID()
	}
	return out
}
