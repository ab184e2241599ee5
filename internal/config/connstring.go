package config

import (
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"

	"firestige.xyz/dgawatch/internal/core"
)

const amqpScheme = "amqp://"

// ParseConnString validates an AMQP connection string of the form
// amqp://<user>:<password>@<host>[:<port>]/<vhost>. The port defaults to 5672 and a
// %2F vhost denotes "/". Every error matches core.ErrInvalidConnString.
func ParseConnString(s string) (amqp.URI, error) {
	invalid := func(reason string) (amqp.URI, error) {
		return amqp.URI{}, fmt.Errorf("%w: %s", core.ErrInvalidConnString, reason)
	}

	if !strings.HasPrefix(s, amqpScheme) {
		return invalid("missing amqp:// prefix")
	}
	rest := s[len(amqpScheme):]

	at := strings.LastIndex(rest, "@")
	if at < 0 {
		return invalid("missing user info")
	}
	user, password, ok := strings.Cut(rest[:at], ":")
	if user == "" {
		return invalid("missing user")
	}
	if !ok || password == "" {
		return invalid("missing password")
	}

	host, vhost, ok := strings.Cut(rest[at+1:], "/")
	if host == "" {
		return invalid("missing host")
	}
	if !ok || vhost == "" {
		return invalid("missing vhost")
	}

	uri, err := amqp.ParseURI(s)
	if err != nil {
		return amqp.URI{}, fmt.Errorf("%w: %w", core.ErrInvalidConnString, err)
	}
	return uri, nil
}
