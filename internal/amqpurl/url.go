// Package amqpurl assembles and sanitizes AMQP connection strings.
package amqpurl

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Parts holds the fields a connection string is built from.
type Parts struct {
	Server    string
	Port      int
	Username  string
	Password  string
	VHost     string
	Heartbeat time.Duration
}

// Build renders Parts as an amqp:// URL. The default vhost "/" is expressed
// by omitting the path segment; any other vhost is percent-escaped. A
// non-zero heartbeat is forwarded as the heartbeat query parameter, in
// seconds.
func Build(p Parts) string {
	u := url.URL{
		Scheme: "amqp",
		Host:   fmt.Sprintf("%s:%d", p.Server, p.Port),
	}
	if p.Username != "" {
		u.User = url.UserPassword(p.Username, p.Password)
	}

	vhost := strings.TrimPrefix(p.VHost, "/")
	if vhost != "" {
		u.Path = "/" + vhost
		u.RawPath = "/" + url.PathEscape(vhost)
	}

	if p.Heartbeat > 0 {
		q := url.Values{}
		q.Set("heartbeat", strconv.Itoa(int(p.Heartbeat/time.Second)))
		u.RawQuery = q.Encode()
	}

	return u.String()
}

// Sanitize masks the password in a connection string so it can be logged.
// Unparseable input is masked entirely.
func Sanitize(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		if _, hasPassword := u.User.Password(); hasPassword {
			u.User = url.UserPassword(u.User.Username(), "***")
		}
	}
	return u.String()
}
