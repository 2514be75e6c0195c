package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
)

// Subscriber is a lazy, ordered stream of string payloads delivered on a
// named Postgres channel (spec.md §4.1's subscribe(channel) -> stream).
// Messages published after the subscribing LISTEN takes effect are observed
// exactly in publish order; there is no replay of messages published before.
// It's an interface, not the concrete Subscription struct, so supervisor
// and worker driver loops can be tested against a fake stream.
type Subscriber interface {
	Next(ctx context.Context) (string, error)
	Close(ctx context.Context) error
}

// Subscription is a Subscriber backed by a dedicated, hijacked pgx connection.
type Subscription struct {
	channel string
	conn    *pgx.Conn
}

// Subscribe opens a dedicated connection, issues LISTEN, and returns a
// Subscription. The connection is hijacked out of the pool for its whole
// lifetime — it is never returned, since a LISTEN connection can't be
// safely reused for anything else.
func (g *Gateway) Subscribe(ctx context.Context, channel string) (Subscriber, error) {
	acquired, err := g.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire conn for listen: %w", err)
	}
	conn := acquired.Hijack()

	if _, err := conn.Exec(ctx, fmt.Sprintf("LISTEN %s", pgx.Identifier{channel}.Sanitize())); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("listen %s: %w", channel, err)
	}

	log.Debug().Str("channel", channel).Msg("subscribed to notification channel")
	return &Subscription{channel: channel, conn: conn}, nil
}

// Next blocks until a notification arrives on the channel, ctx is canceled,
// or the underlying connection is lost. A lost connection is fatal to the
// subscription: per spec.md §7 the caller must restart the affected driver
// and re-bootstrap its state from the database rather than try to resume
// this stream.
func (s *Subscription) Next(ctx context.Context) (string, error) {
	n, err := s.conn.WaitForNotification(ctx)
	if err != nil {
		return "", fmt.Errorf("notification stream %s lost: %w", s.channel, err)
	}
	return n.Payload, nil
}

// Close releases the dedicated connection.
func (s *Subscription) Close(ctx context.Context) error {
	return s.conn.Close(ctx)
}
