package eventbus_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evergreenhq/journeys/pkg/channels/gochannel"
	"github.com/evergreenhq/journeys/pkg/eventbus"
	"github.com/evergreenhq/journeys/pkg/events"
)

func newBus(t *testing.T) eventbus.EventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NewSlogLogger(slog.Default()))
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)
	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func TestPublishSubscribeRoundtrip(t *testing.T) {
	bus := newBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan *events.EnrollmentStarted, 1)

	require.NoError(t, bus.Handle(events.EnrollmentStartedEvent, func(_ context.Context, event any) error {
		started, ok := event.(*events.EnrollmentStarted)
		require.True(t, ok)
		received <- started

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	sent := events.EnrollmentStarted{
		BaseEvent:      events.NewBaseEvent(events.EnrollmentStartedEvent, "journey-1"),
		EnrollmentID:   "enr-1",
		SubjectID:      "subject-1",
		JourneyVersion: 2,
	}
	require.NoError(t, bus.Publish(ctx, "journey-1", sent))

	select {
	case got := <-received:
		assert.Equal(t, sent.ID, got.ID)
		assert.Equal(t, "journey-1", got.JourneyID)
		assert.Equal(t, "enr-1", got.EnrollmentID)
		assert.Equal(t, 2, got.JourneyVersion)
	case <-time.After(2 * time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestUnhandledEventTypesAreDropped(t *testing.T) {
	bus := newBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan *events.JourneyPaused, 1)

	require.NoError(t, bus.Handle(events.JourneyPausedEvent, func(_ context.Context, event any) error {
		received <- event.(*events.JourneyPaused)

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	// Published before paused; only the paused handler is registered.
	require.NoError(t, bus.Publish(ctx, "journey-1", events.JourneyPublished{
		BaseEvent: events.NewBaseEvent(events.JourneyPublishedEvent, "journey-1"),
		Version:   1,
	}))
	require.NoError(t, bus.Publish(ctx, "journey-1", events.JourneyPaused{
		BaseEvent: events.NewBaseEvent(events.JourneyPausedEvent, "journey-1"),
	}))

	select {
	case got := <-received:
		assert.Equal(t, events.JourneyPausedEvent, got.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestGenerateIDIsUnique(t *testing.T) {
	bus := newBus(t)

	assert.NotEqual(t, bus.GenerateID(), bus.GenerateID())
}
