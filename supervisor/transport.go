package supervisor

import (
	"context"
	"fmt"
)

// ConnectionForced is the broker close code for a server-initiated forced
// disconnect. A close carrying this code is a policy decision on the broker
// side, not a client failure, and is always eligible for reconnection.
const ConnectionForced = 320

// Dialer opens broker connections from a connection URL. The production
// implementation lives in transports/rabbitmq; tests substitute fakes.
type Dialer interface {
	Dial(url string) (Transport, error)
}

// Transport is the live broker connection handle consumed by the supervisor.
// It mirrors the small slice of the client library this layer needs: channel
// creation, close/error notification, and best-effort shutdown.
type Transport interface {
	// OpenChannel creates a new channel multiplexed over this connection.
	OpenChannel() (Channel, error)

	// NotifyClose registers receiver for the connection close event. The
	// receiver gets at most one CloseError and is then closed; a close
	// without a reason (client-initiated shutdown) only closes the channel.
	NotifyClose(receiver chan *CloseError) chan *CloseError

	// NotifyError registers receiver for out-of-band transport errors.
	// Implementations that report failures exclusively through the close
	// event may never fire it.
	NotifyError(receiver chan error) chan error

	// Close shuts the connection down. Best-effort: callers ignore the error.
	Close() error
}

// Channel is a lightweight virtual connection multiplexed over a Transport,
// used to consume deliveries or verify publish topology.
type Channel interface {
	// Qos limits the number of unacknowledged deliveries in flight.
	Qos(prefetchCount int) error

	// Consume begins delivering messages from queue to handler. Deliveries
	// require explicit acknowledgment; auto-ack is never used.
	Consume(ctx context.Context, queue string, handler MessageHandler) error

	// CheckExchange verifies that the named exchange exists, failing if it
	// is absent. It declares nothing.
	CheckExchange(name string) error

	// NotifyClose registers receiver for the channel close event, with the
	// same semantics as Transport.NotifyClose.
	NotifyClose(receiver chan *CloseError) chan *CloseError

	// Close releases the channel.
	Close() error
}

// Delivery is a single message handed to a handler.
type Delivery interface {
	Body() []byte
	Headers() map[string]interface{}
	Ack() error
	Nack(requeue bool) error
}

// MessageHandler processes one delivery. The channel supervisor acknowledges
// the delivery when the handler returns nil and rejects it with requeue
// otherwise; handlers never ack themselves.
type MessageHandler func(ctx context.Context, d Delivery) error

// CloseError is the reason a transport or channel was closed by the peer.
type CloseError struct {
	Code   int    // broker close code
	Reason string // human-readable reason from the broker
	Server bool   // true when the close was initiated by the server
}

func (e *CloseError) Error() string {
	side := "client"
	if e.Server {
		side = "server"
	}
	return fmt.Sprintf("tether: %s closed connection (%d) %s", side, e.Code, e.Reason)
}

// ServerForced reports whether this close is a server-initiated forced
// disconnect, which never consumes reconnect budget.
func (e *CloseError) ServerForced() bool {
	return e != nil && e.Server && e.Code == ConnectionForced
}
