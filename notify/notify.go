/*
Package notify dispatches push messages after successful ledger events.

PURPOSE:
  Booking created/cancelled, coins granted, expansion completed - the
  member gets a message. Delivery is an external collaborator: this
  package only defines the Dispatcher interface, a log-backed default,
  and the fire-and-forget helper.

FIRE-AND-FORGET:
  Notification failure must NEVER roll back a ledger transaction. The
  helper runs dispatch on its own goroutine with its own timeout and a
  panic guard; errors are logged and dropped.
*/
package notify

import (
	"context"
	"log"
	"time"
)

type EventType string

const (
	EventBookingCreated   EventType = "booking_created"
	EventBookingCancelled EventType = "booking_cancelled"
	EventCoinsGranted     EventType = "coins_granted"
	EventExchangeCreated  EventType = "exchange_created"
	EventExpansionDone    EventType = "expansion_done"
)

// Event is one message to deliver to one user (or, for batch events,
// to the admin channel when UserID is empty).
type Event struct {
	Type   EventType
	UserID string
	Title  string
	Body   string
}

// Dispatcher delivers events. Implementations wrap the platform's
// push-message API.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev Event) error
}

// LogDispatcher writes events to the server log. The default when no
// push backend is configured.
type LogDispatcher struct{}

func (LogDispatcher) Dispatch(_ context.Context, ev Event) error {
	log.Printf("[Notify] %s user=%s %s: %s", ev.Type, ev.UserID, ev.Title, ev.Body)
	return nil
}

// dispatchTimeout bounds a single fire-and-forget delivery.
const dispatchTimeout = 5 * time.Second

// FireAndForget delivers ev asynchronously. Errors and panics are
// logged and never reach the caller.
func FireAndForget(d Dispatcher, ev Event) {
	if d == nil {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[Notify] dispatcher panicked on %s: %v", ev.Type, r)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		defer cancel()
		if err := d.Dispatch(ctx, ev); err != nil {
			log.Printf("[Notify] dispatch %s failed: %v", ev.Type, err)
		}
	}()
}
