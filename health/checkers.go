package health

import (
	"context"
	"fmt"
	"time"

	"github.com/glimte/tether-go/supervisor"
)

// PoolChecker reports on the pool's alive/dead census.
type PoolChecker struct {
	pool *supervisor.Pool
}

// NewPoolChecker creates a pool health checker.
func NewPoolChecker(pool *supervisor.Pool) *PoolChecker {
	return &PoolChecker{pool: pool}
}

func (c *PoolChecker) Name() string {
	return "connection_pool"
}

func (c *PoolChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]interface{}),
	}

	alive, dead := c.pool.Stats()
	result.Details["alive_connections"] = alive
	result.Details["dead_connections"] = dead

	switch {
	case alive == 0 && dead == 0:
		result.Status = StatusUnhealthy
		result.Message = "No connections registered"
	case alive == 0:
		result.Status = StatusUnhealthy
		result.Message = "All connections are dead"
	case dead > 0:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("%d of %d connections dead", dead, alive+dead)
	default:
		result.Status = StatusHealthy
		result.Message = "All connections alive"
	}

	result.Duration = time.Since(start)
	return result
}

// ConnectionChecker reports on one connection identified by guid.
type ConnectionChecker struct {
	pool *supervisor.Pool
	guid string
}

// NewConnectionChecker creates a checker for a single connection.
func NewConnectionChecker(pool *supervisor.Pool, guid string) *ConnectionChecker {
	return &ConnectionChecker{pool: pool, guid: guid}
}

func (c *ConnectionChecker) Name() string {
	return fmt.Sprintf("connection_%s", c.guid)
}

func (c *ConnectionChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]interface{}),
	}

	conn, ok := c.pool.Get(c.guid)
	if !ok {
		result.Status = StatusUnhealthy
		result.Message = "Connection not found in pool"
		result.Duration = time.Since(start)
		return result
	}

	result.Details["connected"] = conn.IsConnected()
	result.Details["connect_attempts"] = conn.ConnectAttempts()
	result.Details["channel_attempts"] = conn.ChannelAttempts()
	result.Details["handlers"] = len(conn.Handlers())

	if c.pool.IsAlive(c.guid) {
		result.Status = StatusHealthy
		result.Message = "Connection is alive"
	} else {
		result.Status = StatusUnhealthy
		result.Message = "Connection is in the dead set"
	}

	result.Duration = time.Since(start)
	return result
}
