/*
saga.go - Compensation stack for multi-step booking operations

PURPOSE:
  Booking creation spans independent storage writes (session row,
  reservation row, ledger lock, audit row) with no multi-table
  transaction underneath. This file models that as an explicit saga:
  each completed step pushes its compensating action onto a stack, and
  any failure unwinds the stack in reverse order before the original
  error surfaces.

STATES:
  Validating -> SessionCreated -> ReservationCreated -> CoinsLocked
  -> LogWritten -> Done, with RollingBack reachable from any state
  after SessionCreated.

ABANDONMENT SAFETY:
  Compensations run on a context detached from the request's
  cancellation. A client disconnect mid-saga must not leave a half
  booking behind: the operation still runs to completion or rollback.

SEE ALSO:
  - orchestrator.go: Pushes/unwinds the stack per step
*/
package booking

import (
	"context"
	"log"
)

// State names one position in the booking saga. Tracked for logging;
// the compensation stack, not the state value, drives rollback.
type State string

const (
	StateValidating         State = "validating"
	StateSessionCreated     State = "session_created"
	StateReservationCreated State = "reservation_created"
	StateCoinsLocked        State = "coins_locked"
	StateLogWritten         State = "log_written"
	StateDone               State = "done"
	StateRollingBack        State = "rolling_back"
)

// compensation is one undo action with a name for rollback logging.
type compensation struct {
	name string
	undo func(ctx context.Context) error
}

// saga accumulates compensations as steps complete.
type saga struct {
	state State
	stack []compensation
}

func newSaga() *saga {
	return &saga{state: StateValidating}
}

// advance marks a step complete and registers its compensation.
func (s *saga) advance(to State, name string, undo func(ctx context.Context) error) {
	s.state = to
	if undo != nil {
		s.stack = append(s.stack, compensation{name: name, undo: undo})
	}
}

// unwind runs the compensations in reverse order. Failures are logged
// and do not stop the remaining compensations: undoing as much as
// possible beats stopping at the first snag.
func (s *saga) unwind(ctx context.Context) {
	s.state = StateRollingBack
	for i := len(s.stack) - 1; i >= 0; i-- {
		c := s.stack[i]
		if err := c.undo(ctx); err != nil {
			log.Printf("[Booking] rollback step %q failed: %v", c.name, err)
		}
	}
	s.stack = nil
}

// done marks the saga complete; the stack is discarded, nothing will
// be compensated.
func (s *saga) done() {
	s.state = StateDone
	s.stack = nil
}
