// Package supervisor implements the connection resilience core of tether.
//
// This package includes:
//   - Pool: process-wide registry splitting connections into alive and dead
//     sets, with change notifications on every membership mutation
//   - Connection: one logical broker connection with a stable guid, bounded
//     automatic reconnection, and transparent handler re-attachment
//   - ChannelSupervisor: per-connection channel management with prefetch,
//     acknowledgment-required consumers, and budget-limited channel recovery
//   - HandlerDescriptor: a queue binding request re-applied verbatim after
//     every reconnect
//
// The transport itself is consumed through the Dialer, Transport, and
// Channel interfaces; the production adapter over the RabbitMQ client lives
// in transports/rabbitmq.
package supervisor
