package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDispatcherDeliversToAllHandlers(t *testing.T) {
	d := NewInMemoryDispatcher()

	var first, second int
	d.Subscribe(EventUserLoggedIn, func(context.Context, Event) error {
		first++
		return errors.New("handler failed")
	})
	d.Subscribe(EventUserLoggedIn, func(context.Context, Event) error {
		second++
		return nil
	})

	// The first handler failing must not starve the second.
	err := d.Publish(context.Background(), Event{Type: EventUserLoggedIn, UserID: "user-1"})
	require.Error(t, err)
	require.Equal(t, 1, first)
	require.Equal(t, 1, second)
}

func TestDispatcherReportsHandlerFailure(t *testing.T) {
	d := NewInMemoryDispatcher()

	failure := errors.New("boom")
	d.Subscribe(EventUserRegistered, func(context.Context, Event) error {
		return failure
	})

	err := d.Publish(context.Background(), Event{Type: EventUserRegistered})
	require.ErrorIs(t, err, failure)
}

func TestDispatcherIgnoresUnsubscribedEvents(t *testing.T) {
	d := NewInMemoryDispatcher()

	called := false
	d.Subscribe(EventUserRegistered, func(context.Context, Event) error {
		called = true
		return nil
	})

	require.NoError(t, d.Publish(context.Background(), Event{Type: EventTokenRefreshed}))
	require.False(t, called)
}
