package supervisor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPoolConnection(t *testing.T, pool *Pool) (*Connection, *fakeTransport) {
	t.Helper()
	transport := newFakeTransport()
	dialer := &fakeDialer{}
	dialer.enqueue(dialOutcome{transport: transport})
	conn := NewConnection(testConfig(), dialer, pool, nil, fastOptions()...)
	require.NoError(t, conn.Connect(context.Background()))
	return conn, transport
}

func TestPoolMembership(t *testing.T) {
	t.Run("add places connection in alive set only", func(t *testing.T) {
		pool := NewPool()
		conn, _ := newPoolConnection(t, pool)

		alive, dead := pool.Snapshot()
		assert.Equal(t, []string{conn.ID()}, alive)
		assert.Empty(t, dead)
	})

	t.Run("add drops stale dead entry", func(t *testing.T) {
		pool := NewPool()
		conn := NewConnection(testConfig(), &fakeDialer{}, pool, nil)
		pool.AddDead(conn)
		pool.Add(conn)

		alive, dead := pool.Snapshot()
		assert.Equal(t, []string{conn.ID()}, alive)
		assert.Empty(t, dead)
	})

	t.Run("add never duplicates a guid", func(t *testing.T) {
		pool := NewPool()
		conn := NewConnection(testConfig(), &fakeDialer{}, pool, nil)
		pool.Add(conn)
		pool.Add(conn)

		alive, dead := pool.Snapshot()
		assert.Len(t, alive, 1)
		assert.Empty(t, dead)
	})

	t.Run("remove closes transport and moves to dead", func(t *testing.T) {
		pool := NewPool()
		conn, transport := newPoolConnection(t, pool)

		pool.Remove(conn.ID())

		assert.True(t, transport.isClosed())
		assert.False(t, pool.IsAlive(conn.ID()))
		assert.True(t, pool.Exists(conn.ID()))
	})

	t.Run("remove unknown guid is a no-op", func(t *testing.T) {
		pool := NewPool()
		assert.NotPanics(t, func() { pool.Remove("missing") })
	})

	t.Run("removeFromAll clears both sets", func(t *testing.T) {
		pool := NewPool()
		conn, _ := newPoolConnection(t, pool)

		pool.RemoveFromAll(conn.ID())

		assert.False(t, pool.Exists(conn.ID()))

		dead := NewConnection(testConfig(), &fakeDialer{}, pool, nil)
		pool.AddDead(dead)
		pool.RemoveFromAll(dead.ID())
		assert.False(t, pool.Exists(dead.ID()))
	})

	t.Run("addDead skips transport close", func(t *testing.T) {
		pool := NewPool()
		conn := NewConnection(testConfig(), &fakeDialer{}, pool, nil)
		pool.AddDead(conn)

		assert.True(t, pool.Exists(conn.ID()))
		assert.False(t, pool.IsAlive(conn.ID()))
	})
}

func TestPoolLookup(t *testing.T) {
	t.Run("get prefers alive over dead", func(t *testing.T) {
		pool := NewPool()
		conn, _ := newPoolConnection(t, pool)

		got, ok := pool.Get(conn.ID())
		require.True(t, ok)
		assert.Same(t, conn, got)
	})

	t.Run("get finds dead connections", func(t *testing.T) {
		pool := NewPool()
		conn := NewConnection(testConfig(), &fakeDialer{}, pool, nil)
		pool.AddDead(conn)

		got, ok := pool.Get(conn.ID())
		require.True(t, ok)
		assert.Same(t, conn, got)
	})

	t.Run("get unknown guid reports not found", func(t *testing.T) {
		pool := NewPool()
		got, ok := pool.Get("missing")
		assert.Nil(t, got)
		assert.False(t, ok)
	})

	t.Run("exists covers both sets", func(t *testing.T) {
		pool := NewPool()
		alive, _ := newPoolConnection(t, pool)
		dead := NewConnection(testConfig(), &fakeDialer{}, pool, nil)
		pool.AddDead(dead)

		assert.True(t, pool.Exists(alive.ID()))
		assert.True(t, pool.Exists(dead.ID()))
		assert.False(t, pool.Exists("missing"))
	})
}

func TestAttachHandlers(t *testing.T) {
	t.Run("sets handler list on alive connection", func(t *testing.T) {
		pool := NewPool()
		conn, _ := newPoolConnection(t, pool)

		handlers := []HandlerDescriptor{
			{Queue: "orders", PrefetchCount: 5, OnMessage: func(ctx context.Context, d Delivery) error { return nil }},
		}
		pool.AttachHandlers(conn.ID(), handlers)

		require.Len(t, conn.Handlers(), 1)
		assert.Equal(t, "orders", conn.Handlers()[0].Queue)
	})

	t.Run("ignores dead and unknown guids", func(t *testing.T) {
		pool := NewPool()
		dead := NewConnection(testConfig(), &fakeDialer{}, pool, nil)
		pool.AddDead(dead)

		handlers := []HandlerDescriptor{
			{Queue: "orders", PrefetchCount: 5, OnMessage: func(ctx context.Context, d Delivery) error { return nil }},
		}
		assert.NotPanics(t, func() {
			pool.AttachHandlers(dead.ID(), handlers)
			pool.AttachHandlers("missing", handlers)
		})
		assert.Empty(t, dead.Handlers())
	})
}

func TestRevive(t *testing.T) {
	t.Run("reconnects with stored config and handler set", func(t *testing.T) {
		pool := NewPool()
		channels := NewChannelSupervisor(pool)

		t1 := newFakeTransport()
		t2 := newFakeTransport()
		dialer := &fakeDialer{}
		dialer.enqueue(dialOutcome{transport: t1}, dialOutcome{transport: t2})

		conn := NewConnection(testConfig(), dialer, pool, channels, fastOptions()...)
		require.NoError(t, conn.Connect(context.Background()))
		channels.RegisterHandlers(context.Background(), conn, []HandlerDescriptor{
			{Queue: "orders", PrefetchCount: 5, OnMessage: func(ctx context.Context, d Delivery) error { return nil }},
		})

		// Retire it deliberately.
		pool.Remove(conn.ID())
		require.False(t, pool.IsAlive(conn.ID()))

		require.NoError(t, pool.Revive(context.Background(), conn.ID()))

		assert.True(t, pool.IsAlive(conn.ID()))
		assert.Equal(t, 2, dialer.dials())
		// Both dials used the same connection string.
		assert.Equal(t, dialer.urls[0], dialer.urls[1])

		require.Len(t, t2.openChannels(), 1)
		assert.Equal(t, []string{"orders"}, t2.openChannels()[0].consumedQueues())
		assert.Equal(t, 5, t2.openChannels()[0].prefetchCount())
	})

	t.Run("unknown guid", func(t *testing.T) {
		pool := NewPool()
		err := pool.Revive(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrConnectionNotFound)
	})

	t.Run("alive guid is not revivable", func(t *testing.T) {
		pool := NewPool()
		conn, _ := newPoolConnection(t, pool)

		err := pool.Revive(context.Background(), conn.ID())
		assert.ErrorIs(t, err, ErrConnectionNotFound)
	})

	t.Run("failed revive leaves connection dead", func(t *testing.T) {
		pool := NewPool()
		dialer := &fakeDialer{}
		dialer.enqueue(dialOutcome{err: assert.AnError})
		conn := NewConnection(testConfig(), dialer, pool, nil,
			fastOptions(WithMaxConnectAttempts(1))...)
		pool.AddDead(conn)

		err := pool.Revive(context.Background(), conn.ID())

		require.Error(t, err)
		assert.False(t, pool.IsAlive(conn.ID()))
		assert.True(t, pool.Exists(conn.ID()))
	})
}

func TestFlush(t *testing.T) {
	t.Run("moves every alive connection to dead and closes transports", func(t *testing.T) {
		pool := NewPool()
		c1, t1 := newPoolConnection(t, pool)
		c2, t2 := newPoolConnection(t, pool)

		pool.Flush(false)

		alive, dead := pool.Snapshot()
		assert.Empty(t, alive)
		assert.ElementsMatch(t, []string{c1.ID(), c2.ID()}, dead)
		assert.True(t, t1.isClosed())
		assert.True(t, t2.isClosed())
		assert.False(t, pool.RetryAllowed())
	})

	t.Run("flush with retries allowed re-opens the gate", func(t *testing.T) {
		pool := NewPool()
		pool.Flush(false)
		assert.False(t, pool.RetryAllowed())

		pool.Flush(true)
		assert.True(t, pool.RetryAllowed())
	})
}

func TestChangeNotifications(t *testing.T) {
	t.Run("every structural mutation notifies", func(t *testing.T) {
		pool := NewPool()
		recorder := &changeRecorder{}
		pool.AddChangeListener(recorder)

		conn, _ := newPoolConnection(t, pool)
		pool.Remove(conn.ID())
		pool.RemoveFromAll(conn.ID())

		events := recorder.all()
		require.Len(t, events, 3)
		assert.Equal(t, ChangeEvent{GUID: conn.ID(), Added: true}, events[0])
		assert.Equal(t, ChangeEvent{GUID: conn.ID(), Added: false}, events[1])
		assert.Equal(t, ChangeEvent{GUID: conn.ID(), Added: false}, events[2])
	})

	t.Run("no notification when removeFromAll misses", func(t *testing.T) {
		pool := NewPool()
		recorder := &changeRecorder{}
		pool.AddChangeListener(recorder)

		pool.RemoveFromAll("missing")

		assert.Empty(t, recorder.all())
	})
}
