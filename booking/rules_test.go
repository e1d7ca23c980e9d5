package booking_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgefit/coin-engine/booking"
)

func TestParseMinuteOfDay(t *testing.T) {
	m, err := booking.ParseMinuteOfDay("18:30")
	require.NoError(t, err)
	assert.Equal(t, booking.MinuteOfDay(18*60+30), m)
	assert.Equal(t, "18:30", m.String())

	for _, bad := range []string{"25:00", "12:60", "noon", ""} {
		_, err := booking.ParseMinuteOfDay(bad)
		assert.Error(t, err, "input %q", bad)
	}
}

func TestMinuteOfDay_At(t *testing.T) {
	date := time.Date(2026, time.October, 6, 0, 0, 0, 0, time.UTC)
	m := booking.MinuteOfDay(18 * 60)
	assert.Equal(t, time.Date(2026, time.October, 6, 18, 0, 0, 0, time.UTC), m.At(date))
}

func TestBusinessHours_Covers(t *testing.T) {
	h := booking.BusinessHours{Weekday: time.Monday, OpenMinute: 8 * 60, CloseMinute: 20 * 60}

	assert.True(t, h.Covers(8*60, 9*60))
	assert.True(t, h.Covers(19*60, 20*60))
	assert.False(t, h.Covers(7*60, 9*60), "starts before opening")
	assert.False(t, h.Covers(19*60, 21*60), "ends after closing")

	h.Closed = true
	assert.False(t, h.Covers(10*60, 11*60), "weekly closing day covers nothing")
}

func TestBlockedSlot_Blocks(t *testing.T) {
	// Gym-wide block hits every mentor; a mentor block only its own.
	gymWide := booking.BlockedSlot{AllDay: true}
	assert.True(t, gymWide.Blocks("mentor-1", 10*60, 11*60))
	assert.True(t, gymWide.Blocks("mentor-2", 10*60, 11*60))

	scoped := booking.BlockedSlot{ProviderID: "mentor-1", StartMinute: 10 * 60, EndMinute: 12 * 60}
	assert.True(t, scoped.Blocks("mentor-1", 11*60, 13*60), "overlap blocks")
	assert.False(t, scoped.Blocks("mentor-1", 12*60, 13*60), "adjacent does not")
	assert.False(t, scoped.Blocks("mentor-2", 11*60, 13*60), "other mentor unaffected")
}

func TestAnyShiftCovers(t *testing.T) {
	shifts := []booking.ShiftWindow{
		{StartMinute: 6 * 60, EndMinute: 10 * 60},
		{StartMinute: 16 * 60, EndMinute: 22 * 60},
	}
	assert.True(t, booking.AnyShiftCovers(shifts, 17*60, 18*60))
	assert.False(t, booking.AnyShiftCovers(shifts, 11*60, 12*60), "gap between shifts")
	assert.False(t, booking.AnyShiftCovers(shifts, 9*60, 11*60), "straddles a shift end")
	assert.False(t, booking.AnyShiftCovers(nil, 9*60, 10*60))
}
