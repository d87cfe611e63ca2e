package event_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/victornm/liveclass/internal/event"
)

type named string

func (e named) Name() string { return string(e) }

func TestBus_PublishSubscribe(t *testing.T) {
	t.Parallel()

	b := event.NewBus()

	var (
		mu       sync.Mutex
		received []event.Event
	)

	b.Subscribe("session.updated", func(ctx context.Context, e event.Event) error {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
		return nil
	})

	b.Publish(context.Background(), named("session.updated"))
	b.Publish(context.Background(), named("session.updated"))
	b.Publish(context.Background(), named("prompt.received")) // no subscriber
	b.Stop()

	assert.ElementsMatch(t, []event.Event{named("session.updated"), named("session.updated")}, received)
}

func TestBus_FanOut(t *testing.T) {
	t.Parallel()

	b := event.NewBus(event.WithPoolSize(2))

	var (
		mu     sync.Mutex
		counts = map[string]int{}
	)

	for _, name := range []string{"a", "b", "c"} {
		name := name
		b.Subscribe("participants.changed", func(ctx context.Context, e event.Event) error {
			mu.Lock()
			counts[name]++
			mu.Unlock()
			return nil
		})
	}

	for i := 0; i < 5; i++ {
		b.Publish(context.Background(), named("participants.changed"))
	}
	b.Stop()

	for _, name := range []string{"a", "b", "c"} {
		assert.Equal(t, 5, counts[name], "subscriber %s", name)
	}
}

func TestBus_HandlerFailureIsIsolated(t *testing.T) {
	t.Parallel()

	b := event.NewBus()

	var (
		mu  sync.Mutex
		got int
	)

	b.Subscribe("x", func(ctx context.Context, e event.Event) error {
		return errors.New("boom")
	})
	b.Subscribe("x", func(ctx context.Context, e event.Event) error {
		panic("boom")
	})
	b.Subscribe("x", func(ctx context.Context, e event.Event) error {
		mu.Lock()
		got++
		mu.Unlock()
		return nil
	})

	b.Publish(context.Background(), named("x"))
	b.Stop()

	assert.Equal(t, 1, got, "a failing or panicking handler must not stop the others")
}
