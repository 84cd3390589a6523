package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ChannelSupervisor opens and watches channels on behalf of connections.
// Every handler descriptor gets its own channel; channel failures are
// retried against the connection's channel budget and escalate to
// connection removal once that budget is exhausted.
type ChannelSupervisor struct {
	pool   *Pool
	logger *slog.Logger
}

// ChannelSupervisorOption configures a ChannelSupervisor.
type ChannelSupervisorOption func(*ChannelSupervisor)

// WithChannelLogger sets the logger.
func WithChannelLogger(logger *slog.Logger) ChannelSupervisorOption {
	return func(s *ChannelSupervisor) {
		s.logger = logger
	}
}

// NewChannelSupervisor creates a channel supervisor over pool.
func NewChannelSupervisor(pool *Pool, options ...ChannelSupervisorOption) *ChannelSupervisor {
	s := &ChannelSupervisor{
		pool:   pool,
		logger: slog.Default(),
	}

	for _, opt := range options {
		opt(s)
	}

	return s
}

// OpenChannel requests a channel from the connection's transport, applies
// the prefetch limit, and starts watching the channel for closure.
func (s *ChannelSupervisor) OpenChannel(conn *Connection, prefetch int) (Channel, error) {
	t, err := conn.Transport()
	if err != nil {
		return nil, &ChannelError{
			Op:           "open channel",
			ConnectionID: conn.ID(),
			Err:          err,
			Timestamp:    time.Now(),
		}
	}

	ch, err := t.OpenChannel()
	if err != nil {
		return nil, &ChannelError{
			Op:           "open channel",
			ConnectionID: conn.ID(),
			Err:          err,
			Timestamp:    time.Now(),
		}
	}

	if err := ch.Qos(prefetch); err != nil {
		_ = ch.Close()
		return nil, &ChannelError{
			Op:           "set prefetch",
			ConnectionID: conn.ID(),
			Err:          err,
			Timestamp:    time.Now(),
		}
	}

	go s.watch(conn, ch)

	return ch, nil
}

// watch handles one channel's close event. A broker-initiated channel close
// below the budget re-runs registration for the connection's whole
// descriptor set, re-synchronizing every consumer rather than tracking the
// identity of the one channel that failed. At the budget the connection's
// own retry budget is forced to exhausted and the connection leaves the
// alive set.
func (s *ChannelSupervisor) watch(conn *Connection, ch Channel) {
	reason, ok := <-ch.NotifyClose(make(chan *CloseError, 1))
	if !ok || reason == nil {
		return
	}
	if conn.isClosing() {
		return
	}

	attempts := conn.bumpChannelAttempts()
	if attempts < conn.maxChannelAttempts {
		s.logger.Warn("channel closed, re-registering handlers",
			"guid", conn.ID(),
			"code", reason.Code,
			"reason", reason.Reason,
			"attempt", attempts)
		s.RegisterHandlers(context.Background(), conn, conn.Handlers())
		return
	}

	s.logger.Error("channel retry budget exhausted, retiring connection",
		"guid", conn.ID(),
		"attempts", attempts)
	conn.exhaustConnectBudget()
	s.pool.Remove(conn.ID())
}

// RegisterHandlers records handlers on the pool entry for conn, then opens a
// channel and starts an acknowledgment-required consumer for each
// descriptor. Each handler's setup is independent and best-effort: a failing
// descriptor is logged and skipped without aborting its siblings.
func (s *ChannelSupervisor) RegisterHandlers(ctx context.Context, conn *Connection, handlers []HandlerDescriptor) {
	s.pool.AttachHandlers(conn.ID(), handlers)

	for _, h := range handlers {
		if err := h.validate(); err != nil {
			s.logger.Error("skipping handler",
				"guid", conn.ID(),
				"queue", h.Queue,
				"error", err)
			continue
		}

		ch, err := s.OpenChannel(conn, h.PrefetchCount)
		if err != nil {
			s.logHandshake(conn, h.Queue, err)
			continue
		}

		if err := ch.Consume(ctx, h.Queue, s.withAcknowledgment(h.OnMessage)); err != nil {
			_ = ch.Close()
			s.logHandshake(conn, h.Queue, err)
			continue
		}

		s.logger.Info("handler registered",
			"guid", conn.ID(),
			"queue", h.Queue,
			"prefetch", h.PrefetchCount)
	}
}

// RegisterPublisher opens a channel on transport and verifies that the named
// exchange exists, confirming publish-readiness without creating a consumer.
func (s *ChannelSupervisor) RegisterPublisher(exchange string, transport Transport) error {
	ch, err := transport.OpenChannel()
	if err != nil {
		return &ChannelError{
			Op:        "open publisher channel",
			Err:       err,
			Timestamp: time.Now(),
		}
	}
	defer ch.Close()

	if err := ch.CheckExchange(exchange); err != nil {
		return &ExchangeError{
			Exchange:  exchange,
			Err:       fmt.Errorf("%w: %v", ErrExchangeNotFound, err),
			Timestamp: time.Now(),
		}
	}

	s.logger.Info("publisher exchange verified", "exchange", exchange)
	return nil
}

// withAcknowledgment wraps handler with the ack policy: acknowledge on
// success, reject with requeue on error.
func (s *ChannelSupervisor) withAcknowledgment(handler MessageHandler) MessageHandler {
	return func(ctx context.Context, d Delivery) error {
		err := handler(ctx, d)
		if err != nil {
			if nackErr := d.Nack(true); nackErr != nil {
				s.logger.Error("failed to nack delivery",
					"error", nackErr,
					"handlerError", err)
			}
			return err
		}
		if ackErr := d.Ack(); ackErr != nil {
			s.logger.Error("failed to ack delivery", "error", ackErr)
		}
		return nil
	}
}

func (s *ChannelSupervisor) logHandshake(conn *Connection, queue string, err error) {
	hErr := &HandshakeError{
		Queue:        queue,
		ConnectionID: conn.ID(),
		Err:          err,
		Timestamp:    time.Now(),
	}
	s.logger.Error("handler setup failed",
		"guid", conn.ID(),
		"queue", queue,
		"error", hErr)
}
