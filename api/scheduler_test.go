package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/forgefit/coin-engine/recurring"
)

func TestScheduler_NextMonthDue_LeadWindow(t *testing.T) {
	// GIVEN: A fresh scheduler in September 2026 (October starts Thu the 1st)
	// WHEN: Asking what month is due at various times
	// THEN: Nothing before Sep 28, October from Sep 28 onward

	s := &Scheduler{}

	early := time.Date(2026, time.September, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, recurring.Month{}, s.nextMonthDue(early))

	justBefore := time.Date(2026, time.September, 27, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, recurring.Month{}, s.nextMonthDue(justBefore))

	windowOpen := time.Date(2026, time.September, 28, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, recurring.Month{Year: 2026, Month: time.October}, s.nextMonthDue(windowOpen))

	lastDay := time.Date(2026, time.September, 30, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, recurring.Month{Year: 2026, Month: time.October}, s.nextMonthDue(lastDay))
}

func TestScheduler_NextMonthDue_FiresOncePerMonth(t *testing.T) {
	// GIVEN: A scheduler that already expanded October
	// WHEN: Asking again inside the same lead window
	// THEN: Zero month; November becomes due in its own window

	s := &Scheduler{}
	inWindow := time.Date(2026, time.September, 29, 8, 0, 0, 0, time.UTC)

	s.lastExpanded = s.nextMonthDue(inWindow)
	assert.Equal(t, recurring.Month{Year: 2026, Month: time.October}, s.lastExpanded)
	assert.Equal(t, recurring.Month{}, s.nextMonthDue(inWindow))

	novemberWindow := time.Date(2026, time.October, 30, 8, 0, 0, 0, time.UTC)
	assert.Equal(t, recurring.Month{Year: 2026, Month: time.November}, s.nextMonthDue(novemberWindow))
}
