package supervisor

import (
	"time"

	"github.com/glimte/tether-go/internal/amqpurl"
)

// Config describes one broker connection. The same value is reused verbatim
// for every reconnect and revival of the connection it was given to.
type Config struct {
	Server   string
	Port     int
	Username string
	Password string
	VHost    string

	// Heartbeat, when set, is forwarded to the connection-string builder.
	Heartbeat time.Duration

	// PublisherExchange, when set, names the exchange whose existence is
	// verified by publisher registration.
	PublisherExchange string
}

// URL renders the config as an AMQP connection string.
func (c Config) URL() string {
	port := c.Port
	if port == 0 {
		port = 5672
	}
	return amqpurl.Build(amqpurl.Parts{
		Server:    c.Server,
		Port:      port,
		Username:  c.Username,
		Password:  c.Password,
		VHost:     c.VHost,
		Heartbeat: c.Heartbeat,
	})
}
