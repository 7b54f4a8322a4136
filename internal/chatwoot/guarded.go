package chatwoot

import (
	"context"
	"errors"
	"log/slog"

	"brokerdesk.sg/relay/common/breaker"
	"brokerdesk.sg/relay/common/metrics"
)

// NewBreaker builds the breaker for the chat backend. Client errors do not
// count as failures. Each process holds its own breaker.
func NewBreaker(s breaker.Settings) *breaker.Breaker {
	if s.Name == "" {
		s.Name = "chatwoot"
	}
	s.IsFailure = func(err error) bool {
		return err != nil && !IsClientError(err) && !errors.Is(err, context.Canceled)
	}
	s.OnStateChange = func(name string, from, to breaker.State) {
		metrics.BreakerState.WithLabelValues(name).Set(float64(to))
		slog.Warn("circuit breaker state changed",
			"breaker", name,
			"from", from.String(),
			"to", to.String())
	}
	b := breaker.New(s)
	metrics.BreakerState.WithLabelValues(s.Name).Set(float64(breaker.StateClosed))
	return b
}

// Guarded routes every call through the circuit breaker. While the circuit
// is open calls fail with breaker.ErrOpen without touching the network.
type Guarded struct {
	api     API
	breaker *breaker.Breaker
}

func NewGuarded(api API, b *breaker.Breaker) *Guarded {
	return &Guarded{api: api, breaker: b}
}

func (g *Guarded) Breaker() *breaker.Breaker {
	return g.breaker
}

func (g *Guarded) CreateContact(ctx context.Context, in ContactInput) (*Contact, error) {
	return guard(g, func() (*Contact, error) { return g.api.CreateContact(ctx, in) })
}

func (g *Guarded) CreateConversation(ctx context.Context, in ConversationInput) (*Conversation, error) {
	return guard(g, func() (*Conversation, error) { return g.api.CreateConversation(ctx, in) })
}

func (g *Guarded) SendMessage(ctx context.Context, conversationID int64, content string) (*Message, error) {
	return guard(g, func() (*Message, error) { return g.api.SendMessage(ctx, conversationID, content) })
}

func (g *Guarded) UpdateCustomAttributes(ctx context.Context, conversationID int64, attrs map[string]any) error {
	_, err := guard(g, func() (struct{}, error) {
		return struct{}{}, g.api.UpdateCustomAttributes(ctx, conversationID, attrs)
	})
	return err
}

func (g *Guarded) ListMessages(ctx context.Context, conversationID int64) ([]Message, error) {
	return guard(g, func() ([]Message, error) { return g.api.ListMessages(ctx, conversationID) })
}

func guard[T any](g *Guarded, fn func() (T, error)) (T, error) {
	out, err := breaker.Execute(g.breaker, fn)
	if errors.Is(err, breaker.ErrOpen) {
		metrics.BreakerRejections.WithLabelValues(g.breaker.Name()).Inc()
	}
	return out, err
}
