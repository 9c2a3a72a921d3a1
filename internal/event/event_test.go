package event_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/codeduel/internal/event"
)

func TestBus_PublishSubscribe(t *testing.T) {
	type (
		inputs struct {
			published   []event.Event
			subscribers []subscriber
		}

		outputs struct {
			received map[string][]event.Event
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"a single subscriber should receive correct event": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{
						eventWithName("battle.resolved"),
						eventWithName("room.evicted"),
					},
					subscribers: []subscriber{
						{
							name:        "s1",
							subscribeTo: []string{"battle.resolved"},
						},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.ElementsMatch(t, []event.Event{eventWithName("battle.resolved")}, out.received["s1"])
			},
		},

		"a single subscriber should receive all dispatched event": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{
						eventWithName("battle.resolved"),
						eventWithName("battle.resolved"),
					},
					subscribers: []subscriber{
						{
							name:        "s1",
							subscribeTo: []string{"battle.resolved"},
						},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.ElementsMatch(t, []event.Event{eventWithName("battle.resolved"), eventWithName("battle.resolved")}, out.received["s1"])
			},
		},

		"an event should be dispatched to all subscribers": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{
						eventWithName("battle.resolved"),
					},
					subscribers: []subscriber{
						{
							name:        "s1",
							subscribeTo: []string{"battle.resolved"},
						},
						{
							name:        "s2",
							subscribeTo: []string{"battle.resolved"},
						},
						{
							name:        "s3",
							subscribeTo: []string{"battle.resolved"},
						},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.ElementsMatch(t, []event.Event{eventWithName("battle.resolved")}, out.received["s1"])
				assert.ElementsMatch(t, []event.Event{eventWithName("battle.resolved")}, out.received["s2"])
				assert.ElementsMatch(t, []event.Event{eventWithName("battle.resolved")}, out.received["s3"])
			},
		},

		"multiple events should be dispatched correctly multiple subscribers": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{
						eventWithName("battle.resolved"),
						eventWithName("room.evicted"),
						eventWithName("battle.resolved"),
						eventWithName("leaderboard.updated"),
					},
					subscribers: []subscriber{
						{
							name:        "s1",
							subscribeTo: []string{"battle.resolved"},
						},
						{
							name:        "s2",
							subscribeTo: []string{"battle.resolved", "room.evicted"},
						},
						{
							name:        "s3",
							subscribeTo: []string{"leaderboard.updated", "room.evicted"},
						},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.ElementsMatch(t, []event.Event{eventWithName("battle.resolved"), eventWithName("battle.resolved")}, out.received["s1"])
				assert.ElementsMatch(t, []event.Event{eventWithName("battle.resolved"), eventWithName("battle.resolved"), eventWithName("room.evicted")}, out.received["s2"])
				assert.ElementsMatch(t, []event.Event{eventWithName("room.evicted"), eventWithName("leaderboard.updated")}, out.received["s3"])
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in := tt.arrange()
			mu := sync.Mutex{}
			out := outputs{received: make(map[string][]event.Event)}

			b := event.NewBus()
			for _, s := range in.subscribers {
				for _, e := range s.subscribeTo {
					b.Subscribe(e, func(ctx context.Context, e event.Event) error {
						mu.Lock()
						out.received[s.name] = append(out.received[s.name], e)
						mu.Unlock()
						return nil
					})
				}
			}

			for _, e := range in.published {
				b.Publish(context.Background(), e)
			}
			b.Stop()

			tt.assert(t, out)
		})
	}
}

func TestBus_SlowSubscriberDoesNotBlockOthers(t *testing.T) {
	b := event.NewBus(event.WithPoolSize(1))

	release := make(chan struct{})
	b.Subscribe("battle.resolved", func(ctx context.Context, e event.Event) error {
		<-release
		return nil
	})

	fast := make(chan event.Event, 2)
	b.Subscribe("battle.resolved", func(ctx context.Context, e event.Event) error {
		fast <- e
		return nil
	})

	b.Publish(context.Background(), eventWithName("battle.resolved"))

	select {
	case <-fast:
	case <-time.After(time.Second):
		t.Fatal("fast subscriber should receive the event while the slow one is busy")
	}

	close(release)
	b.Stop()
}

func TestBus_HandlerPanicIsRecovered(t *testing.T) {
	b := event.NewBus()

	var mu sync.Mutex
	var received int
	b.Subscribe("room.evicted", func(ctx context.Context, e event.Event) error {
		panic("boom")
	})
	b.Subscribe("room.evicted", func(ctx context.Context, e event.Event) error {
		mu.Lock()
		received++
		mu.Unlock()
		return nil
	})

	require.NotPanics(t, func() {
		b.Publish(context.Background(), eventWithName("room.evicted"))
		b.Publish(context.Background(), eventWithName("room.evicted"))
		b.Stop()
	})

	assert.Equal(t, 2, received)
}

type eventWithName string

func (e eventWithName) Name() string {
	return string(e)
}

type subscriber struct {
	name        string
	subscribeTo []string
}
