/*
settings.go - Runtime business settings

PURPOSE:
  Admin-changeable knobs read at use time, not at startup. Backed by a
  key/value settings table; unknown keys fall back to compiled-in
  defaults so a fresh database works without seeding.

KEYS:
  coin_expiry_days             default expiry for new grants
  cancellation_deadline_hours  refund/forfeit boundary before a booking
  checkin_reward_coins         coins awarded per gym check-in
*/
package config

import (
	"context"
	"fmt"
	"strconv"
)

// Setting keys.
const (
	KeyCoinExpiryDays            = "coin_expiry_days"
	KeyCancellationDeadlineHours = "cancellation_deadline_hours"
	KeyCheckInRewardCoins        = "checkin_reward_coins"
)

// Defaults applied when a key is absent from the store.
const (
	DefaultCoinExpiryDays            = 90
	DefaultCancellationDeadlineHours = 24
	DefaultCheckInRewardCoins        = 5
)

// SettingsStore is the persistence behind runtime settings.
type SettingsStore interface {
	// GetSetting returns (value, found, error).
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Settings reads typed business settings with defaults.
type Settings struct {
	Store SettingsStore
}

func NewSettings(store SettingsStore) *Settings {
	return &Settings{Store: store}
}

// CoinExpiryDays returns how many days new grants live.
func (s *Settings) CoinExpiryDays(ctx context.Context) (int, error) {
	return s.intSetting(ctx, KeyCoinExpiryDays, DefaultCoinExpiryDays)
}

// CancellationDeadlineHours returns the refund/forfeit boundary:
// cancellations at least this many hours before the booking refund,
// later ones forfeit. A single binary rule, never prorated.
func (s *Settings) CancellationDeadlineHours(ctx context.Context) (int, error) {
	return s.intSetting(ctx, KeyCancellationDeadlineHours, DefaultCancellationDeadlineHours)
}

// CheckInRewardCoins returns the coins awarded per gym check-in.
func (s *Settings) CheckInRewardCoins(ctx context.Context) (int64, error) {
	v, err := s.intSetting(ctx, KeyCheckInRewardCoins, DefaultCheckInRewardCoins)
	return int64(v), err
}

func (s *Settings) intSetting(ctx context.Context, key string, def int) (int, error) {
	raw, found, err := s.Store.GetSetting(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("reading setting %s: %w", key, err)
	}
	if !found {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("setting %s holds non-numeric value %q", key, raw)
	}
	return v, nil
}
