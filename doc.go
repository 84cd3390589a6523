// Package tether is a resilience layer between application code and a
// RabbitMQ transport. It manages a pool of broker connections, reconnects
// automatically within bounded retry budgets, supervises one channel per
// consumer handler, and re-attaches handlers transparently after any
// reconnection.
//
// The Client type is the entry point: give it a Config and a set of handler
// descriptors, and it wires the pool, connection state machine, and channel
// supervisor together. The supervisor package exposes the underlying pieces
// for callers that need finer control.
package tether
