package events_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/solstice-pim/resourcesync/pkg/events"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	bus := events.NewBus()
	bus.Start()
	defer bus.Stop()

	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	bus.Publish(&events.Event{Type: events.TypeRevisionUpdated, Resource: "personal"})

	select {
	case evt := <-sub:
		require.Equal(t, events.TypeRevisionUpdated, evt.Type)
		require.Equal(t, "personal", evt.Resource)
		require.False(t, evt.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishCarriesTypedPayload(t *testing.T) {
	bus := events.NewBus()
	bus.Start()
	defer bus.Stop()

	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	bus.Publish(&events.Event{
		Type:     events.TypeRevisionUpdated,
		Resource: "personal",
		Payload:  events.RevisionUpdated{EntityType: "mail", UID: "m1", Revision: 7},
	})

	select {
	case evt := <-sub:
		payload, ok := evt.Payload.(events.RevisionUpdated)
		require.True(t, ok)
		require.Equal(t, "mail", payload.EntityType)
		require.Equal(t, "m1", payload.UID)
		require.Equal(t, uint64(7), payload.Revision)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := events.NewBus()
	bus.Start()
	defer bus.Stop()

	sub := bus.Subscribe()
	require.Equal(t, 1, bus.SubscriberCount())
	bus.Unsubscribe(sub)
	require.Equal(t, 0, bus.SubscriberCount())
}
