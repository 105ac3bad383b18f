package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// natsConn is the subset of *nats.Conn used by NATS.
type natsConn interface {
	Publish(subj string, data []byte) error
	Close()
}

// NATS publishes CommentEvent as JSON on a subject.
type NATS struct {
	conn    natsConn
	subject string
}

// NATSOpts holds parameters for connecting a NATS publisher.
type NATSOpts struct {
	URL     string
	Token   string
	Subject string // defaults to DefaultSubject
	Logger  *zerolog.Logger
}

// NewNATS connects to the server. Connection is retried in the background,
// so an unavailable server does not block startup.
func NewNATS(opts NATSOpts) (*NATS, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("events: nats url is required")
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = opts.Logger.With().Str("component", "events").Logger()
	}
	natsOpts := []nats.Option{
		nats.Name("callsheet"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("nats reconnected")
		}),
	}
	if opts.Token != "" {
		natsOpts = append(natsOpts, nats.Token(opts.Token))
	}
	nc, err := nats.Connect(opts.URL, natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("events: nats connect: %w", err)
	}
	return newNATS(nc, opts.Subject), nil
}

func newNATS(conn natsConn, subject string) *NATS {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATS{conn: conn, subject: subject}
}

// Publish implements Publisher.
func (n *NATS) Publish(_ context.Context, ev CommentEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: marshal: %w", err)
	}
	if err := n.conn.Publish(n.subject, payload); err != nil {
		return fmt.Errorf("events: publish %s: %w", n.subject, err)
	}
	return nil
}

// Close closes the connection.
func (n *NATS) Close() {
	n.conn.Close()
}
