// Package events publishes post-commit domain events to live subscribers.
// Publishing is best-effort: it never blocks or fails the operation that
// produced the event.
package events

import (
	"context"
	"time"
)

// Event types.
const (
	TransactionExecuted = "transaction.executed"
	RewardClaimed       = "reward.claimed"
	XPCredited          = "xp.credited"
)

// Event is a single domain event, serialized as JSON on every sink.
type Event struct {
	Type        string    `json:"type"`
	UserID      string    `json:"user_id,omitempty"`
	PortfolioID string    `json:"portfolio_id,omitempty"`
	Data        any       `json:"data,omitempty"`
	At          time.Time `json:"at"`
}

// Key is the partitioning key: the portfolio when set, else the user.
func (e Event) Key() string {
	if e.PortfolioID != "" {
		return e.PortfolioID
	}
	return e.UserID
}

// Publisher hands events to a sink. Implementations must not block.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}

// Multi fans an event out to several publishers.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) {
	for _, p := range m {
		p.Publish(ctx, ev)
	}
}

// OrNop returns p, or Nop when p is nil.
func OrNop(p Publisher) Publisher {
	if p == nil {
		return Nop{}
	}
	return p
}
