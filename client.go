package tether

import (
	"context"
	"log/slog"

	"github.com/glimte/tether-go/supervisor"
	"github.com/glimte/tether-go/transports/rabbitmq"
)

// Client wires a configuration and handler descriptors into a supervised
// broker connection. One Client owns one pool; every connection it creates
// registers there.
type Client struct {
	cfg      supervisor.Config
	pool     *supervisor.Pool
	channels *supervisor.ChannelSupervisor
	dialer   supervisor.Dialer
	logger   *slog.Logger
	connOpts []supervisor.ConnectionOption
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithLogger sets the logger used by the client and every component it
// creates.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithDialer replaces the default RabbitMQ dialer.
func WithDialer(dialer supervisor.Dialer) ClientOption {
	return func(c *Client) {
		c.dialer = dialer
	}
}

// WithConnectionOptions forwards options to every connection the client
// creates.
func WithConnectionOptions(opts ...supervisor.ConnectionOption) ClientOption {
	return func(c *Client) {
		c.connOpts = append(c.connOpts, opts...)
	}
}

// NewClient creates a client for the given broker configuration.
func NewClient(cfg supervisor.Config, options ...ClientOption) *Client {
	c := &Client{
		cfg:    cfg,
		dialer: rabbitmq.Dialer{},
		logger: slog.Default(),
	}

	for _, opt := range options {
		opt(c)
	}

	c.pool = supervisor.NewPool(supervisor.WithPoolLogger(c.logger))
	c.channels = supervisor.NewChannelSupervisor(c.pool, supervisor.WithChannelLogger(c.logger))
	c.connOpts = append([]supervisor.ConnectionOption{
		supervisor.WithConnectionLogger(c.logger),
	}, c.connOpts...)

	return c
}

// Consume creates a connection, connects it (retrying dial failures against
// the connection budget), and registers the given handlers on it. Handler
// registration begins only after the connect has resolved; each handler's
// setup is independent and best-effort. The returned connection is already a
// pool member, alive on success and dead when the budget ran out.
func (c *Client) Consume(ctx context.Context, handlers ...supervisor.HandlerDescriptor) (*supervisor.Connection, error) {
	conn := supervisor.NewConnection(c.cfg, c.dialer, c.pool, c.channels, c.connOpts...)

	if err := conn.Connect(ctx); err != nil {
		return conn, err
	}

	c.channels.RegisterHandlers(ctx, conn, handlers)
	return conn, nil
}

// RegisterPublisher verifies publish-readiness on conn's transport by
// checking that the configured publisher exchange exists. A client without a
// configured exchange is trivially ready.
func (c *Client) RegisterPublisher(conn *supervisor.Connection) error {
	if c.cfg.PublisherExchange == "" {
		return nil
	}

	t, err := conn.Transport()
	if err != nil {
		return err
	}
	return c.channels.RegisterPublisher(c.cfg.PublisherExchange, t)
}

// Pool returns the client's connection pool.
func (c *Client) Pool() *supervisor.Pool {
	return c.pool
}

// Shutdown closes every alive connection and suppresses all further
// reconnection until the pool is flushed with retries re-enabled.
func (c *Client) Shutdown() {
	c.pool.Flush(false)
}
