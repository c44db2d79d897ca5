package events

import (
	"errors"
	"fmt"
)

var (
	// ErrUndeclaredEvent is returned when a plugin subscribes to an event its
	// descriptor does not list in events_handled.
	ErrUndeclaredEvent = errors.New("event not declared in events_handled")

	// ErrInvalidEvent is returned for an empty event name.
	ErrInvalidEvent = errors.New("invalid event name")

	// ErrNilHandler is returned when a nil handler is provided.
	ErrNilHandler = errors.New("handler cannot be nil")

	// ErrSubscriptionNotFound is returned when unsubscribing an unknown subscription.
	ErrSubscriptionNotFound = errors.New("subscription not found")
)

// HandlerError wraps an error from a handler with the subscription it came from.
type HandlerError struct {
	SubscriptionID uint64
	PluginID       string
	Event          string
	Err            error
}

func (e *HandlerError) Error() string {
	who := e.PluginID
	if who == "" {
		who = fmt.Sprintf("subscription %d", e.SubscriptionID)
	}
	return fmt.Sprintf("handler %s for event %s: %v", who, e.Event, e.Err)
}

// Unwrap returns the underlying error.
func (e *HandlerError) Unwrap() error {
	return e.Err
}
