/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types
  decouple the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers and domain services, not in DTOs.
  DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/forgefit/coin-engine/booking"
	"github.com/forgefit/coin-engine/exchange"
	"github.com/forgefit/coin-engine/ledger"
	"github.com/forgefit/coin-engine/recurring"
)

// =============================================================================
// BALANCE / LEDGER
// =============================================================================

// BalanceDTO is a user's balance summary.
type BalanceDTO struct {
	UserID         string `json:"user_id"`
	Available      int64  `json:"available"`
	Locked         int64  `json:"locked"`
	Total          int64  `json:"total"`
	NextExpiry     string `json:"next_expiry,omitempty"`
	ExpiringAmount int64  `json:"expiring_amount,omitempty"`
	AsOf           string `json:"as_of"`
}

// TransactionDTO is one audit row.
type TransactionDTO struct {
	ID           string `json:"id"`
	Amount       int64  `json:"amount"`
	BalanceAfter int64  `json:"balance_after"`
	Type         string `json:"type"`
	BookingID    string `json:"booking_id,omitempty"`
	Reason       string `json:"reason,omitempty"`
	ExecutedBy   string `json:"executed_by"`
	CreatedAt    string `json:"created_at"`
}

func toTransactionDTO(t ledger.TransactionLogEntry) TransactionDTO {
	return TransactionDTO{
		ID:           t.ID,
		Amount:       t.Amount,
		BalanceAfter: t.BalanceAfter,
		Type:         string(t.Type),
		BookingID:    string(t.BookingID),
		Reason:       t.Reason,
		ExecutedBy:   t.ExecutedBy,
		CreatedAt:    t.CreatedAt.Format(time.RFC3339),
	}
}

// GrantCoinsRequest issues coins to a user. Admin only.
type GrantCoinsRequest struct {
	Amount     int64  `json:"amount"`
	SourceType string `json:"source_type"`
	ExpiresAt  string `json:"expires_at,omitempty"` // RFC3339; empty = default expiry
	CashPaid   string `json:"cash_paid,omitempty"`  // decimal, purchase grants only
	Reason     string `json:"reason,omitempty"`
}

// =============================================================================
// BOOKINGS
// =============================================================================

// BookingDTO is one booking in API responses.
type BookingDTO struct {
	ID            string `json:"id"`
	UserID        string `json:"user_id"`
	ProviderID    string `json:"provider_id"`
	SessionTypeID string `json:"session_type_id"`
	StartsAt      string `json:"starts_at"`
	EndsAt        string `json:"ends_at"`
	Status        string `json:"status"`
	CoinsUsed     int64  `json:"coins_used"`
	CancelReason  string `json:"cancel_reason,omitempty"`
	CreatedAt     string `json:"created_at"`
}

func toBookingDTO(b booking.Booking) BookingDTO {
	return BookingDTO{
		ID:            string(b.ID),
		UserID:        string(b.UserID),
		ProviderID:    string(b.ProviderID),
		SessionTypeID: string(b.SessionTypeID),
		StartsAt:      b.StartsAt.Format(time.RFC3339),
		EndsAt:        b.EndsAt.Format(time.RFC3339),
		Status:        string(b.Status),
		CoinsUsed:     b.CoinsUsed,
		CancelReason:  b.CancelReason,
		CreatedAt:     b.CreatedAt.Format(time.RFC3339),
	}
}

// CreateBookingRequest books one slot.
type CreateBookingRequest struct {
	UserID        string `json:"user_id"`
	ProviderID    string `json:"provider_id"`
	SessionTypeID string `json:"session_type_id"`
	StartsAt      string `json:"starts_at"` // RFC3339
}

// CancelBookingRequest carries the optional cancellation reason.
type CancelBookingRequest struct {
	Reason string `json:"reason,omitempty"`
}

// CancelResultDTO reports the refund/forfeit outcome.
type CancelResultDTO struct {
	BookingID string `json:"booking_id"`
	Refunded  int64  `json:"refunded"`
	Forfeited int64  `json:"forfeited"`
}

// =============================================================================
// EXCHANGE
// =============================================================================

// ExchangeItemDTO is one exchangeable good.
type ExchangeItemDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CoinCost  int64  `json:"coin_cost"`
	CashValue string `json:"cash_value"`
	Stock     int    `json:"stock"`
	Active    bool   `json:"active"`
}

// ExchangeRequestDTO is one exchange request.
type ExchangeRequestDTO struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	ItemID    string `json:"item_id"`
	CoinCost  int64  `json:"coin_cost"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

func toExchangeRequestDTO(r exchange.Request) ExchangeRequestDTO {
	return ExchangeRequestDTO{
		ID:        string(r.ID),
		UserID:    string(r.UserID),
		ItemID:    string(r.ItemID),
		CoinCost:  r.CoinCost,
		Status:    string(r.Status),
		CreatedAt: r.CreatedAt.Format(time.RFC3339),
	}
}

// CreateExchangeRequest reserves coins against an item.
type CreateExchangeRequest struct {
	UserID string `json:"user_id"`
	ItemID string `json:"item_id"`
}

// =============================================================================
// RECURRING TEMPLATES / EXPANSION
// =============================================================================

// TemplateDTO is one standing weekly template.
type TemplateDTO struct {
	ID            string `json:"id"`
	UserID        string `json:"user_id"`
	ProviderID    string `json:"provider_id"`
	SessionTypeID string `json:"session_type_id"`
	Weekday       int    `json:"weekday"` // 0=Sunday
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	IsActive      bool   `json:"is_active"`
	CreatedAt     string `json:"created_at"`
}

func toTemplateDTO(t recurring.Template) TemplateDTO {
	return TemplateDTO{
		ID:            string(t.ID),
		UserID:        string(t.UserID),
		ProviderID:    string(t.ProviderID),
		SessionTypeID: string(t.SessionTypeID),
		Weekday:       int(t.Weekday),
		StartTime:     t.StartMinute.String(),
		EndTime:       t.EndMinute.String(),
		IsActive:      t.IsActive,
		CreatedAt:     t.CreatedAt.Format(time.RFC3339),
	}
}

// CreateTemplateRequest creates a standing weekly template.
type CreateTemplateRequest struct {
	UserID        string `json:"user_id"`
	ProviderID    string `json:"provider_id"`
	SessionTypeID string `json:"session_type_id"`
	Weekday       int    `json:"weekday"`
	StartTime     string `json:"start_time"` // "HH:MM"
	EndTime       string `json:"end_time"`
}

// RunExpansionRequest targets one explicit month.
type RunExpansionRequest struct {
	Month string `json:"month"` // "YYYY-MM"
}

// ExpansionReportDTO summarizes one batch run.
type ExpansionReportDTO struct {
	Month   string             `json:"month"`
	Created int                `json:"created"`
	Skipped int                `json:"skipped"`
	Failed  []FailedAttemptDTO `json:"failed,omitempty"`
}

type FailedAttemptDTO struct {
	TemplateID string `json:"template_id"`
	Date       string `json:"date"`
	Reason     string `json:"reason"`
}

// ExpansionLogDTO is one per-attempt log row.
type ExpansionLogDTO struct {
	ID         string `json:"id"`
	TemplateID string `json:"template_id"`
	TargetDate string `json:"target_date"`
	Outcome    string `json:"outcome"`
	Reason     string `json:"reason,omitempty"`
	CreatedAt  string `json:"created_at"`
}

// =============================================================================
// SETTINGS / ERRORS
// =============================================================================

// SettingDTO is one runtime setting.
type SettingDTO struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
