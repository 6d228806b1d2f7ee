// Package nats carries game broadcasts over core NATS subjects.
package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Config holds the NATS connection settings.
type Config struct {
	URL           string
	Name          string
	SubjectPrefix string // e.g., "trivia"; subjects become "trivia.game.<id>"
	MaxReconnects int
	ReconnectWait time.Duration
	// OnReconnect runs after the connection is re-established. Messages published while
	// disconnected are lost, so callers typically reconcile here.
	OnReconnect func()
}

// DefaultConfig returns default NATS configuration.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Name:          "trivia-board-service",
		SubjectPrefix: "trivia",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// Transport is a broadcast.Transport over core NATS publish/subscribe. A connection receives
// its own publications, which provides self-delivery.
type Transport struct {
	nc     *nats.Conn
	prefix string
}

// Connect dials NATS with reconnect logging.
func Connect(cfg Config) (*Transport, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
			if cfg.OnReconnect != nil {
				go cfg.OnReconnect()
			}
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			ev := log.Error().Err(err)
			if sub != nil {
				ev = ev.Str("subject", sub.Subject)
			}
			ev.Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	log.Info().Str("url", nc.ConnectedUrl()).Msg("connected to NATS")
	return &Transport{nc: nc, prefix: cfg.SubjectPrefix}, nil
}

func (t *Transport) subject(topic string) string {
	if t.prefix == "" {
		return topic
	}
	return t.prefix + "." + topic
}

func (t *Transport) Publish(_ context.Context, topic string, data []byte) error {
	if err := t.nc.Publish(t.subject(topic), data); err != nil {
		return fmt.Errorf("nats publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe delivers each message on its own subscription goroutine, preserving per-sender
// order.
func (t *Transport) Subscribe(topic string, deliver func(data []byte)) (func() error, error) {
	subject := t.subject(topic)
	sub, err := t.nc.Subscribe(subject, func(msg *nats.Msg) {
		deliver(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", subject, err)
	}
	// Make sure the server knows about the interest before anything is published.
	if err := t.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("nats flush %s: %w", subject, err)
	}
	return sub.Unsubscribe, nil
}

// Healthy reports whether the connection is up.
func (t *Transport) Healthy() bool {
	return t.nc.IsConnected()
}

// Close drains subscriptions and closes the connection.
func (t *Transport) Close() error {
	return t.nc.Drain()
}
