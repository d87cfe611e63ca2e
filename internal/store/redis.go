package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisBus carries row-change notifications between processes over redis
// pub/sub, one channel per session. Delivery is fire-and-forget; the
// reconciliation pull is the convergence backstop.
type RedisBus struct {
	redis  redis.UniversalClient
	prefix string
}

func NewRedisBus(r redis.UniversalClient, prefix string) *RedisBus {
	return &RedisBus{
		redis:  r,
		prefix: prefix,
	}
}

func (b *RedisBus) channel(sessionID string) string {
	return fmt.Sprintf("%s:session:%s", b.prefix, sessionID)
}

// Publish sends a change to every subscriber of its session. Errors are
// returned so writers can log them; a lost notification is self-corrected by
// the next reconciliation pull.
func (b *RedisBus) Publish(ctx context.Context, c Change) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("bus: marshal %s %s: %w", c.Table, c.Kind, err)
	}

	return b.redis.Publish(ctx, b.channel(c.SessionID), payload).Err()
}

// Subscribe opens a change feed for one session. The feed stays open until
// Close; a dropped connection silently stops delivery, which is acceptable
// because push is best-effort by contract.
func (b *RedisBus) Subscribe(ctx context.Context, sessionID string) (Subscription, error) {
	ps := b.redis.Subscribe(ctx, b.channel(sessionID))

	// Confirm the subscription before handing it out, so a caller that writes
	// immediately after subscribing does not race its own notifications.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("bus: subscribe session %s: %w", sessionID, err)
	}

	sub := &redisSubscription{
		ps:      ps,
		changes: make(chan Change, 16),
	}
	go sub.run()

	return sub, nil
}

type redisSubscription struct {
	ps      *redis.PubSub
	changes chan Change
	once    sync.Once
}

func (s *redisSubscription) run() {
	defer close(s.changes)

	for msg := range s.ps.Channel() {
		var c Change
		if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
			slog.Error("bus: decode change failed", "error", err)
			continue
		}

		select {
		case s.changes <- c:
		default:
			// Slow consumer. Dropping is fine, the pull path re-fetches
			// everything the push path would have delivered.
		}
	}
}

func (s *redisSubscription) Changes() <-chan Change {
	return s.changes
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		err = s.ps.Close()
	})
	return err
}
