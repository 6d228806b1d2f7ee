package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// PubSub is a broadcast.Transport over Redis PUBLISH/SUBSCRIBE. Every subscriber on the
// channel, including the publishing instance, receives each message.
type PubSub struct {
	client      *redis.Client
	prefix      string
	onReconnect func(topic string)
}

// NewPubSub builds the transport. go-redis restores dropped subscriptions by itself, but
// anything published while disconnected is lost; onReconnect, when set, runs for the topic
// each time its subscription is confirmed again.
func NewPubSub(client *redis.Client, prefix string, onReconnect func(topic string)) *PubSub {
	return &PubSub{client: client, prefix: prefix, onReconnect: onReconnect}
}

func (p *PubSub) channel(topic string) string {
	if p.prefix == "" {
		return topic
	}
	return p.prefix + "." + topic
}

func (p *PubSub) Publish(ctx context.Context, topic string, data []byte) error {
	if err := p.client.Publish(ctx, p.channel(topic), data).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe waits for the subscription to be confirmed, then delivers messages from a
// dedicated goroutine until unsubscribed.
func (p *PubSub) Subscribe(topic string, deliver func(data []byte)) (func() error, error) {
	ctx := context.Background()
	name := p.channel(topic)
	sub := p.client.Subscribe(ctx, name)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", name, err)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.receive(ctx, sub, topic, deliver, stop)
		log.Debug().Str("channel", name).Msg("redis subscription drained")
	}()

	return func() error {
		close(stop)
		err := sub.Close()
		<-done
		return err
	}, nil
}

func (p *PubSub) receive(ctx context.Context, sub *redis.PubSub, topic string, deliver func([]byte), stop <-chan struct{}) {
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = 50 * time.Millisecond
	retry.MaxInterval = 2 * time.Second
	retry.MaxElapsedTime = 0

	for {
		msg, err := sub.Receive(ctx)
		if err != nil {
			if errors.Is(err, redis.ErrClosed) {
				return
			}
			wait := retry.NextBackOff()
			log.Warn().Err(err).Str("topic", topic).Dur("retry_in", wait).Msg("redis subscription interrupted")
			select {
			case <-stop:
				return
			case <-time.After(wait):
			}
			continue
		}
		retry.Reset()

		switch m := msg.(type) {
		case *redis.Message:
			deliver([]byte(m.Payload))
		case *redis.Subscription:
			// The first confirmation was consumed by Subscribe; any later one follows a reconnect.
			if m.Kind != "subscribe" {
				continue
			}
			log.Info().Str("topic", topic).Msg("redis subscription restored")
			if p.onReconnect != nil {
				go p.onReconnect(topic)
			}
		}
	}
}
