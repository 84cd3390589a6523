package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/glimte/tether-go/internal/reliability"
)

const (
	// DefaultMaxConnectAttempts bounds reconnection of a single connection.
	DefaultMaxConnectAttempts = 10

	// DefaultMaxChannelAttempts bounds channel recovery before it escalates
	// to connection removal.
	DefaultMaxChannelAttempts = 10

	// DefaultReconnectDelay is the pause between reconnect attempts.
	DefaultReconnectDelay = 1 * time.Second

	defaultDialTimeout = 30 * time.Second
)

// StateListener receives connection lifecycle notifications. Notifications
// are advisory and must not be used for synchronization.
type StateListener interface {
	OnConnected(guid string)
	OnReconnecting(guid string, attempt int)
	OnFailure(guid string, err error)
}

// Connection is one logical broker connection. It keeps a stable guid across
// reconnects, owns its retry counters and handler list, and holds the live
// transport handle while connected.
//
// A created connection is always a member of exactly one of the pool's alive
// or dead sets. Dialing for a given connection is serialized: automatic
// recovery, Connect, and Revive take the same per-connection lock, so at
// most one of them holds a dial in flight and two live transports can never
// coexist for one guid.
type Connection struct {
	id       string
	cfg      Config
	url      string
	dialer   Dialer
	pool     *Pool
	channels *ChannelSupervisor

	// connectMu serializes every dial path for this guid.
	connectMu sync.Mutex

	mu              sync.Mutex
	transport       Transport
	handlers        []HandlerDescriptor
	connectAttempts int
	channelAttempts int
	closing         bool
	failed          bool

	maxConnectAttempts int
	maxChannelAttempts int
	delay              reliability.DelayPolicy
	logger             *slog.Logger

	listenersMu sync.RWMutex
	listeners   []StateListener
}

// ConnectionOption configures a Connection.
type ConnectionOption func(*Connection)

// WithMaxConnectAttempts sets the connection-level retry budget.
func WithMaxConnectAttempts(n int) ConnectionOption {
	return func(c *Connection) {
		c.maxConnectAttempts = n
	}
}

// WithMaxChannelAttempts sets the channel-level retry budget.
func WithMaxChannelAttempts(n int) ConnectionOption {
	return func(c *Connection) {
		c.maxChannelAttempts = n
	}
}

// WithDelayPolicy sets the policy for the pause between reconnect attempts.
// The retry budget counts attempts, not wall-clock time, regardless of
// policy.
func WithDelayPolicy(policy reliability.DelayPolicy) ConnectionOption {
	return func(c *Connection) {
		c.delay = policy
	}
}

// WithConnectionLogger sets the logger.
func WithConnectionLogger(logger *slog.Logger) ConnectionOption {
	return func(c *Connection) {
		c.logger = logger
	}
}

// NewConnection creates a connection bound to pool and channels. The guid is
// assigned here and never changes, including across reconnects and revivals.
func NewConnection(cfg Config, dialer Dialer, pool *Pool, channels *ChannelSupervisor, options ...ConnectionOption) *Connection {
	c := &Connection{
		id:                 uuid.New().String(),
		cfg:                cfg,
		url:                cfg.URL(),
		dialer:             dialer,
		pool:               pool,
		channels:           channels,
		maxConnectAttempts: DefaultMaxConnectAttempts,
		maxChannelAttempts: DefaultMaxChannelAttempts,
		delay:              reliability.Fixed(DefaultReconnectDelay),
		logger:             slog.Default(),
	}

	for _, opt := range options {
		opt(c)
	}

	return c
}

// ID returns the connection's guid.
func (c *Connection) ID() string {
	return c.id
}

// Config returns the configuration the connection was created with. The same
// value is reused for every reconnect and revival.
func (c *Connection) Config() Config {
	return c.cfg
}

// Handlers returns a copy of the registered handler descriptors.
func (c *Connection) Handlers() []HandlerDescriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]HandlerDescriptor, len(c.handlers))
	copy(out, c.handlers)
	return out
}

// IsConnected reports whether a live transport is held.
func (c *Connection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transport != nil
}

// ConnectAttempts returns the current connection-attempt counter.
func (c *Connection) ConnectAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectAttempts
}

// ChannelAttempts returns the current channel-attempt counter.
func (c *Connection) ChannelAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channelAttempts
}

// Transport returns the live transport handle.
func (c *Connection) Transport() (Transport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transport == nil {
		return nil, ErrNotConnected
	}
	return c.transport, nil
}

// AddStateListener registers a lifecycle listener.
func (c *Connection) AddStateListener(listener StateListener) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners = append(c.listeners, listener)
}

// Connect establishes the transport, retrying dial failures against the
// connection budget with the configured delay policy. On success the
// connection is inserted into the pool's alive set (dropping any stale dead
// entry) and both attempt counters reset to zero. When the budget runs out,
// or the pool's retry gate is closed, the connection is parked in the dead
// set and the failure signal fires; only an explicit Revive tries again.
// Concurrent calls for the same connection are serialized, and a call that
// finds the transport already established is a no-op.
func (c *Connection) Connect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()
	return c.connect(ctx)
}

// connect runs the bounded dial loop. Callers hold connectMu.
func (c *Connection) connect(ctx context.Context) error {
	if c.IsConnected() {
		return nil
	}

	attempts := 0
	for {
		err := c.dial(ctx)
		if err == nil {
			return nil
		}

		if ctx.Err() != nil {
			// Caller-initiated cancellation: park without a failure signal
			// so the connection stays visible to Revive.
			c.park()
			return err
		}

		attempts++
		c.mu.Lock()
		c.connectAttempts = attempts
		budget := c.maxConnectAttempts
		c.mu.Unlock()

		if !c.pool.RetryAllowed() || attempts >= budget {
			return c.exhaust(err, attempts)
		}

		c.notifyReconnecting(attempts + 1)
		c.logger.Info("retrying connect",
			"guid", c.id,
			"attempt", attempts+1,
			"maxAttempts", budget)

		select {
		case <-time.After(c.delay.NextDelay(attempts)):
		case <-ctx.Done():
			c.park()
			return &ConnectError{
				Op:        "connect",
				Server:    c.cfg.Server,
				Err:       ctx.Err(),
				Timestamp: time.Now(),
				Attempts:  attempts,
			}
		}
	}
}

// park makes a never-connected connection visible in the dead set.
func (c *Connection) park() {
	if !c.pool.Exists(c.id) {
		c.pool.AddDead(c)
	}
}

// exhaust retires the connection after the initial-connect budget ran out,
// emitting the failure signal under the same once-per-lifetime latch the
// reconnect path uses.
func (c *Connection) exhaust(lastErr error, attempts int) error {
	c.mu.Lock()
	already := c.failed
	c.failed = true
	c.mu.Unlock()

	err := &ConnectError{
		Op:        "connect",
		Server:    c.cfg.Server,
		Err:       fmt.Errorf("%w: %v", ErrRetriesExhausted, lastErr),
		Timestamp: time.Now(),
		Attempts:  attempts,
	}
	c.logger.Error("connect budget exhausted",
		"guid", c.id,
		"attempts", attempts,
		"error", err)

	c.pool.retire(c)
	if !already {
		c.notifyFailure(err)
	}
	return err
}

func (c *Connection) dial(ctx context.Context) error {
	type dialResult struct {
		transport Transport
		err       error
	}
	results := make(chan dialResult, 1)

	go func() {
		t, err := c.dialer.Dial(c.url)
		results <- dialResult{t, err}
	}()

	select {
	case res := <-results:
		if res.err != nil {
			return &ConnectError{
				Op:        "connect",
				Server:    c.cfg.Server,
				Err:       res.err,
				Timestamp: time.Now(),
				Attempts:  1,
			}
		}

		c.mu.Lock()
		c.transport = res.transport
		c.connectAttempts = 0
		c.channelAttempts = 0
		c.closing = false
		c.failed = false
		c.mu.Unlock()

		c.pool.Add(c)
		go c.watch(res.transport)

		c.logger.Info("connected to broker",
			"guid", c.id,
			"server", c.cfg.Server,
			"vhost", c.cfg.VHost)
		c.notifyConnected()
		return nil

	case <-ctx.Done():
		// Reap the transport if the dial wins the race after cancellation.
		go func() {
			if res := <-results; res.err == nil && res.transport != nil {
				_ = res.transport.Close()
			}
		}()
		return &ConnectError{
			Op:        "connect",
			Server:    c.cfg.Server,
			Err:       ctx.Err(),
			Timestamp: time.Now(),
			Attempts:  1,
		}
	}
}

// watch observes one established transport until it goes away. Exactly one
// watch goroutine exists per live transport, which serializes recovery per
// guid.
func (c *Connection) watch(t Transport) {
	closes := t.NotifyClose(make(chan *CloseError, 1))
	errs := t.NotifyError(make(chan error, 1))

	for {
		select {
		case reason, ok := <-closes:
			if !ok || reason == nil {
				// Graceful shutdown from our side.
				return
			}
			if c.isClosing() {
				return
			}
			c.recover(t, reason)
			return

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err == nil || errors.Is(err, ErrConnectionClosing) {
				// Expected race with a close already in flight.
				continue
			}
			c.logger.Error("transport error, forcing close",
				"guid", c.id,
				"error", err)
			// Close errors are ignored; the close event drives recovery.
			_ = t.Close()
		}
	}
}

// recover runs the reconnect sequence after a broker-initiated close. A
// server-forced close (code 320) is always eligible for the immediate retry
// and never consumes budget; any other close counts against it. The pool's
// retry gate is consulted on every close event and wins over everything,
// including forced closes, so a flush stops all recovery.
//
// recover holds connectMu for the whole sequence, so a Connect or Revive
// issued mid-recovery waits and then finds the transport already
// re-established (or the connection retired) instead of racing the loop.
func (c *Connection) recover(failed Transport, reason *CloseError) {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	stale := c.transport != failed
	c.mu.Unlock()
	if stale {
		// Another dial path already replaced or cleared the transport
		// while this close event was waiting its turn.
		return
	}

	forced := reason.ServerForced()
	c.logger.Warn("connection closed by broker",
		"guid", c.id,
		"code", reason.Code,
		"reason", reason.Reason,
		"serverForced", forced)

	if !forced {
		c.mu.Lock()
		c.connectAttempts++
		c.mu.Unlock()
	}

	for {
		c.mu.Lock()
		attempts := c.connectAttempts
		budget := c.maxConnectAttempts
		c.mu.Unlock()

		if !c.pool.RetryAllowed() || (!forced && attempts >= budget) {
			c.fail(reason, attempts)
			return
		}
		// A forced close grants the retry it triggered, nothing beyond.
		forced = false

		c.pool.Remove(c.id)
		c.notifyReconnecting(attempts + 1)
		c.logger.Info("reconnecting",
			"guid", c.id,
			"attempt", attempts+1,
			"maxAttempts", budget)

		time.Sleep(c.delay.NextDelay(attempts))

		dialCtx, cancel := context.WithTimeout(context.Background(), defaultDialTimeout)
		err := c.dial(dialCtx)
		cancel()
		if err != nil {
			c.logger.Error("reconnect attempt failed",
				"guid", c.id,
				"attempt", attempts+1,
				"error", err)
			c.mu.Lock()
			c.connectAttempts++
			c.mu.Unlock()
			continue
		}

		if c.channels != nil {
			c.channels.RegisterHandlers(context.Background(), c, c.Handlers())
		}
		return
	}
}

// fail retires the connection: it leaves every pool set, joins the dead set,
// and emits the failure signal exactly once per lifetime (a successful
// connect re-arms it). Only an explicit Revive resurrects the connection.
func (c *Connection) fail(reason *CloseError, attempts int) {
	c.mu.Lock()
	if c.failed {
		c.mu.Unlock()
		return
	}
	c.failed = true
	c.transport = nil
	c.mu.Unlock()

	err := &ConnectError{
		Op:        "reconnect",
		Server:    c.cfg.Server,
		Err:       fmt.Errorf("%w: last close: %v", ErrRetriesExhausted, reason),
		Timestamp: time.Now(),
		Attempts:  attempts,
	}
	c.logger.Error("connection retired",
		"guid", c.id,
		"attempts", attempts,
		"error", err)

	c.pool.retire(c)
	c.notifyFailure(err)
}

// reestablish reconnects with the stored configuration and re-registers the
// handler set that was active before the connection died. Used by Revive.
// A call that lands while recovery is in flight waits its turn; when the
// recovery already brought the transport back, reestablish is a no-op so
// the handler set is not registered twice.
func (c *Connection) reestablish(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	if c.IsConnected() {
		return nil
	}
	if err := c.connect(ctx); err != nil {
		return err
	}
	if c.channels != nil {
		c.channels.RegisterHandlers(ctx, c, c.Handlers())
	}
	return nil
}

func (c *Connection) setHandlers(handlers []HandlerDescriptor) {
	out := make([]HandlerDescriptor, len(handlers))
	copy(out, handlers)
	c.mu.Lock()
	c.handlers = out
	c.mu.Unlock()
}

func (c *Connection) isClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

// closeTransport shuts the transport down deliberately. The closing flag is
// raised first so the watch goroutine treats the resulting close event as
// client-initiated and skips recovery.
func (c *Connection) closeTransport() {
	c.mu.Lock()
	t := c.transport
	c.closing = true
	c.transport = nil
	c.mu.Unlock()
	if t != nil {
		_ = t.Close()
	}
}

func (c *Connection) bumpChannelAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channelAttempts++
	return c.channelAttempts
}

// exhaustConnectBudget forces the connection-attempt counter to its maximum
// so the connection-level state machine treats the next close as exhausted.
func (c *Connection) exhaustConnectBudget() {
	c.mu.Lock()
	c.connectAttempts = c.maxConnectAttempts
	c.mu.Unlock()
}

func (c *Connection) notifyConnected() {
	for _, l := range c.snapshotListeners() {
		l.OnConnected(c.id)
	}
}

func (c *Connection) notifyReconnecting(attempt int) {
	for _, l := range c.snapshotListeners() {
		l.OnReconnecting(c.id, attempt)
	}
}

func (c *Connection) notifyFailure(err error) {
	for _, l := range c.snapshotListeners() {
		l.OnFailure(c.id, err)
	}
}

func (c *Connection) snapshotListeners() []StateListener {
	c.listenersMu.RLock()
	defer c.listenersMu.RUnlock()
	out := make([]StateListener, len(c.listeners))
	copy(out, c.listeners)
	return out
}
