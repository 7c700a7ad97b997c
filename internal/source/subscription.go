package source

import (
	"context"
	"fmt"
	"log/slog"

	"cloud.google.com/go/pubsub"

	"github.com/fraser-isbester/kingfisher/internal/processor"
)

// Subscription pulls evaluation envelopes from a Pub/Sub subscription.
// A message is acknowledged once the pipeline has handled it.
type Subscription struct {
	sub    *pubsub.Subscription
	cancel context.CancelFunc
	done   chan struct{}
}

var _ processor.Source = (*Subscription)(nil)

func NewSubscription(client *pubsub.Client, name string, maxOutstanding int) *Subscription {
	sub := client.Subscription(name)
	sub.ReceiveSettings.MaxOutstandingMessages = maxOutstanding
	return &Subscription{sub: sub}
}

func (s *Subscription) Start(ctx context.Context, out chan<- *processor.Delivery) error {
	exists, err := s.sub.Exists(ctx)
	if err != nil {
		return fmt.Errorf("failed to check subscription %s: %w", s.sub.ID(), err)
	}
	if !exists {
		return fmt.Errorf("subscription %s does not exist", s.sub.ID())
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		slog.Info("receiving from subscription", "subscription", s.sub.ID())
		err := s.sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
			handled := make(chan struct{})
			d := &processor.Delivery{
				ID:   msg.ID,
				Data: msg.Data,
				Ack: func() {
					msg.Ack()
					close(handled)
				},
			}
			select {
			case out <- d:
			case <-ctx.Done():
				msg.Nack()
				return
			}
			// Hold the callback so flow control counts the message as outstanding.
			select {
			case <-handled:
			case <-ctx.Done():
			}
		})
		if err != nil {
			slog.Error("subscription receive stopped", "subscription", s.sub.ID(), "err", err)
		}
	}()
	return nil
}

func (s *Subscription) Stop() error {
	if s.cancel == nil {
		return nil
	}
	slog.Info("stopping subscription", "subscription", s.sub.ID())
	s.cancel()
	<-s.done
	return nil
}

func (s *Subscription) Name() string {
	return "subscription/" + s.sub.ID()
}
