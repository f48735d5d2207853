package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bwl/forest/internal/store"
)

func drain(t *testing.T, sub *Subscription, n int) []store.Event {
	t.Helper()
	var events []store.Event
	for len(events) < n {
		select {
		case ev := <-sub.C:
			events = append(events, ev)
		case <-time.After(time.Second):
			t.Fatalf("timed out after %d of %d events", len(events), n)
		}
	}
	return events
}

func TestBus_DeliversToAllSubscribers(t *testing.T) {
	bus := NewBus()
	a := bus.Subscribe(Filter{}, 4)
	b := bus.Subscribe(Filter{}, 4)
	defer a.Close()
	defer b.Close()

	bus.Publish([]store.Event{{Seq: 1, Kind: store.EventNodeCreated}})

	assert.Equal(t, int64(1), drain(t, a, 1)[0].Seq)
	assert.Equal(t, int64(1), drain(t, b, 1)[0].Seq)
}

func TestBus_KindFilter(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(Filter{Kinds: []store.EventKind{store.EventEdgeCreated}}, 4)
	defer sub.Close()

	bus.Publish([]store.Event{
		{Seq: 1, Kind: store.EventNodeCreated},
		{Seq: 2, Kind: store.EventEdgeCreated},
		{Seq: 3, Kind: store.EventNodeDeleted},
	})

	events := drain(t, sub, 1)
	assert.Equal(t, int64(2), events[0].Seq)
	assert.Empty(t, sub.C)
}

func TestBus_TagFilter(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(Filter{Tags: []string{"ecology"}}, 4)
	defer sub.Close()

	bus.Publish([]store.Event{
		{Seq: 1, Kind: store.EventNodeCreated, Tags: []string{"rivers"}},
		{Seq: 2, Kind: store.EventNodeCreated, Tags: []string{"ecology", "rivers"}},
	})

	events := drain(t, sub, 1)
	assert.Equal(t, int64(2), events[0].Seq)
}

func TestBus_ClosedSubscriptionStopsReceiving(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(Filter{}, 4)
	sub.Close()

	// Publishing after close must not panic or deliver.
	bus.Publish([]store.Event{{Seq: 1, Kind: store.EventNodeCreated}})

	_, open := <-sub.C
	assert.False(t, open)
}

func TestBus_LaggingSubscriberDropsInsteadOfBlocking(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(Filter{}, 1)
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		bus.Publish([]store.Event{
			{Seq: 1, Kind: store.EventNodeCreated},
			{Seq: 2, Kind: store.EventNodeCreated},
			{Seq: 3, Kind: store.EventNodeCreated},
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	events := drain(t, sub, 1)
	require.Equal(t, int64(1), events[0].Seq)
}
