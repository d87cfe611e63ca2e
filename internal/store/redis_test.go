package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/liveclass/internal/domain"
	"github.com/victornm/liveclass/internal/store"
)

func TestRedisBus(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	r := miniredis.RunT(t)
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{r.Addr()}})
	t.Cleanup(func() { _ = client.Close() })

	bus := store.NewRedisBus(client, "liveclass")

	sub, err := bus.Subscribe(ctx, "session-1")
	require.NoError(t, err)
	defer sub.Close()

	otherSub, err := bus.Subscribe(ctx, "session-2")
	require.NoError(t, err)
	defer otherSub.Close()

	err = bus.Publish(ctx, store.Change{
		Table:     store.TableSessions,
		Kind:      store.ChangeUpdate,
		SessionID: "session-1",
		Session:   &domain.Session{ID: "session-1", Status: domain.StatusActive},
	})
	require.NoError(t, err)

	select {
	case c := <-sub.Changes():
		assert.Equal(t, store.TableSessions, c.Table)
		assert.Equal(t, store.ChangeUpdate, c.Kind)
		require.NotNil(t, c.Session)
		assert.Equal(t, domain.StatusActive, c.Session.Status)
	case <-time.After(time.Second):
		t.Fatal("no change delivered")
	}

	// session-2's feed must not see session-1's traffic
	select {
	case c := <-otherSub.Changes():
		t.Fatalf("unexpected change for session %s", c.SessionID)
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, sub.Close())
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-sub.Changes():
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond, "channel must be closed after Close")
}
