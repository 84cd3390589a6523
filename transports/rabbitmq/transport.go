// Package rabbitmq adapts the amqp091-go client to the transport contract
// consumed by the supervisor package.
package rabbitmq

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/glimte/tether-go/supervisor"
)

// Dialer opens RabbitMQ connections. It implements supervisor.Dialer.
type Dialer struct {
	// Properties are optional client properties presented to the broker.
	Properties amqp.Table
}

// Dial connects to the broker at url. Heartbeat, if present, rides in the
// URL query string and is honored by the client library.
func (d Dialer) Dial(url string) (supervisor.Transport, error) {
	cfg := amqp.Config{Properties: d.Properties}
	conn, err := amqp.DialConfig(url, cfg)
	if err != nil {
		return nil, err
	}
	return &Transport{conn: conn}, nil
}

// Transport wraps an amqp091 connection. It implements supervisor.Transport.
type Transport struct {
	conn *amqp.Connection
}

// OpenChannel creates a channel on the connection.
func (t *Transport) OpenChannel() (supervisor.Channel, error) {
	ch, err := t.conn.Channel()
	if err != nil {
		return nil, err
	}
	return &Channel{ch: ch}, nil
}

// NotifyClose forwards the connection close event. A graceful local close
// produces no CloseError: the receiver is simply closed.
func (t *Transport) NotifyClose(receiver chan *supervisor.CloseError) chan *supervisor.CloseError {
	source := t.conn.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		defer close(receiver)
		if err, ok := <-source; ok && err != nil {
			receiver <- convertClose(err)
		}
	}()
	return receiver
}

// NotifyError never fires: amqp091 reports connection failures exclusively
// through the close event. The receiver is returned unused.
func (t *Transport) NotifyError(receiver chan error) chan error {
	return receiver
}

// Close shuts the connection down.
func (t *Transport) Close() error {
	return t.conn.Close()
}

// Channel wraps an amqp091 channel. It implements supervisor.Channel.
type Channel struct {
	ch *amqp.Channel
}

// Qos limits unacknowledged deliveries in flight on this channel.
func (c *Channel) Qos(prefetchCount int) error {
	return c.ch.Qos(prefetchCount, 0, false)
}

// Consume starts an acknowledgment-required consumer on queue and pumps
// deliveries to handler until the context ends or the channel closes.
func (c *Channel) Consume(ctx context.Context, queue string, handler supervisor.MessageHandler) error {
	deliveries, err := c.ch.Consume(
		queue,
		"",    // consumer tag, server-generated
		false, // autoAck: explicit acknowledgment required
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,
	)
	if err != nil {
		return err
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				// The supervisor's wrapper owns ack/nack and error logging.
				_ = handler(ctx, delivery{d: d})
			}
		}
	}()

	return nil
}

// CheckExchange passively declares the exchange, failing if it is absent.
// The declared attributes are ignored by the broker on a passive declare.
func (c *Channel) CheckExchange(name string) error {
	return c.ch.ExchangeDeclarePassive(name, "direct", true, false, false, false, nil)
}

// NotifyClose forwards the channel close event with the same semantics as
// Transport.NotifyClose.
func (c *Channel) NotifyClose(receiver chan *supervisor.CloseError) chan *supervisor.CloseError {
	source := c.ch.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		defer close(receiver)
		if err, ok := <-source; ok && err != nil {
			receiver <- convertClose(err)
		}
	}()
	return receiver
}

// Close releases the channel.
func (c *Channel) Close() error {
	return c.ch.Close()
}

type delivery struct {
	d amqp.Delivery
}

func (m delivery) Body() []byte {
	return m.d.Body
}

func (m delivery) Headers() map[string]interface{} {
	return m.d.Headers
}

func (m delivery) Ack() error {
	return m.d.Ack(false)
}

func (m delivery) Nack(requeue bool) error {
	return m.d.Nack(false, requeue)
}

func convertClose(err *amqp.Error) *supervisor.CloseError {
	return &supervisor.CloseError{
		Code:   err.Code,
		Reason: err.Reason,
		Server: err.Server,
	}
}
