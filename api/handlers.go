/*
handlers.go - HTTP API handlers for the coin engine

PURPOSE:
  Exposes the coin ledger, booking orchestrator, exchange service and
  recurring expansion engine via REST. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Users:
    GET    /api/users/{id}/balance        Balance summary
    GET    /api/users/{id}/transactions   Audit history
    GET    /api/users/{id}/bookings       Booking history
    GET    /api/users/{id}/exchanges      Exchange history
    POST   /api/users/{id}/grants         Issue coins (admin)
    POST   /api/users/{id}/checkin        Award check-in bonus

  Bookings:
    POST   /api/bookings                  Book a slot
    GET    /api/bookings/{id}
    POST   /api/bookings/{id}/cancel      Cancel (refund or forfeit)
    POST   /api/bookings/{id}/complete    Finalize spend (admin)
    POST   /api/bookings/{id}/no-show     Forfeit (admin)

  Exchange:
    GET    /api/exchange/items
    POST   /api/exchange/requests
    POST   /api/exchange/requests/{id}/fulfill   (admin)
    POST   /api/exchange/requests/{id}/cancel

  Admin:
    POST   /api/admin/templates           Create recurring template
    GET    /api/admin/templates/{id}
    DELETE /api/admin/templates/{id}      Deactivate (soft)
    POST   /api/admin/expansions/run      Expand one month
    GET    /api/admin/expansions          Expansion log for a month
    POST   /api/admin/expiry/sweep        Run the expiry sweep now
    GET    /api/admin/settings/{key}
    PUT    /api/admin/settings/{key}

ERROR HANDLING:
  Domain errors map to HTTP status via errorStatus():
  - 400: validation failures
  - 403: permission failures (mapped from validation code "forbidden")
  - 404: missing records
  - 409: slot conflicts and concurrent modification
  - 422: insufficient balance
  - 500: storage and audit failures

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/forgefit/coin-engine/booking"
	"github.com/forgefit/coin-engine/config"
	"github.com/forgefit/coin-engine/exchange"
	"github.com/forgefit/coin-engine/ledger"
	"github.com/forgefit/coin-engine/recurring"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger       *ledger.Service
	Grants       *ledger.GrantService
	Balance      *ledger.BalanceCalculator
	Orchestrator *booking.Orchestrator
	Exchange     *exchange.Service
	Engine       *recurring.Engine
	Bookings     booking.Store
	Templates    recurring.TemplateStore
	ExpLog       recurring.ExpansionLog
	Settings     *config.Settings
	Now          ledger.Clock
}

// =============================================================================
// USER HANDLERS
// =============================================================================

// GetBalance returns the user's balance summary. Expiry is evaluated
// at read time, never against stored totals.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := ledger.UserID(chi.URLParam(r, "id"))
	asOf := h.Now()

	sum, err := h.Balance.Summary(r.Context(), userID, asOf)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dto := BalanceDTO{
		UserID:         string(userID),
		Available:      sum.Available,
		Locked:         sum.Locked,
		Total:          sum.Total,
		ExpiringAmount: sum.ExpiringAmount,
		AsOf:           asOf.Format(time.RFC3339),
	}
	if !sum.NextExpiry.IsZero() {
		dto.NextExpiry = sum.NextExpiry.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, dto)
}

// GetTransactions returns the user's audit history, newest first.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	userID := ledger.UserID(chi.URLParam(r, "id"))
	limit := queryInt(r, "limit", 100)

	txs, err := h.Ledger.History(r.Context(), userID, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]TransactionDTO, len(txs))
	for i, t := range txs {
		dtos[i] = toTransactionDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListUserBookings returns the user's bookings, newest first.
func (h *Handler) ListUserBookings(w http.ResponseWriter, r *http.Request) {
	userID := ledger.UserID(chi.URLParam(r, "id"))
	limit := queryInt(r, "limit", 50)

	bookings, err := h.Bookings.ListBookingsByUser(r.Context(), userID, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]BookingDTO, len(bookings))
	for i, b := range bookings {
		dtos[i] = toBookingDTO(b)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListUserExchanges returns the user's exchange requests.
func (h *Handler) ListUserExchanges(w http.ResponseWriter, r *http.Request) {
	userID := ledger.UserID(chi.URLParam(r, "id"))

	reqs, err := h.Exchange.Store.ListRequestsByUser(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]ExchangeRequestDTO, len(reqs))
	for i, req := range reqs {
		dtos[i] = toExchangeRequestDTO(req)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GrantCoins issues coins to a user. Admin only.
func (h *Handler) GrantCoins(w http.ResponseWriter, r *http.Request) {
	actor := currentActor(r)
	if !actor.IsAdmin() {
		writeError(w, http.StatusForbidden, "admin role required", nil)
		return
	}

	userID := ledger.UserID(chi.URLParam(r, "id"))
	var req GrantCoinsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	grant := ledger.GrantRequest{
		UserID:     userID,
		Amount:     req.Amount,
		SourceType: ledger.SourceType(req.SourceType),
		Reason:     req.Reason,
		ExecutedBy: actor.ID,
	}
	if req.SourceType == "" {
		grant.SourceType = ledger.SourceAdminAdjust
	}
	if req.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid expires_at (use RFC3339)", err)
			return
		}
		grant.ExpiresAt = t
	}
	if req.CashPaid != "" {
		d, err := decimal.NewFromString(req.CashPaid)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid cash_paid", err)
			return
		}
		grant.CashPaid = d
	}

	entry, err := h.Grants.Grant(r.Context(), grant)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"entry_id":   entry.ID,
		"amount":     entry.AmountInitial,
		"expires_at": entry.ExpiresAt.Format(time.RFC3339),
	})
}

// CheckIn awards the configured check-in bonus to the user.
func (h *Handler) CheckIn(w http.ResponseWriter, r *http.Request) {
	userID := ledger.UserID(chi.URLParam(r, "id"))

	reward, err := h.Settings.CheckInRewardCoins(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if reward <= 0 {
		writeJSON(w, http.StatusOK, map[string]any{"awarded": 0})
		return
	}

	entry, err := h.Grants.Grant(r.Context(), ledger.GrantRequest{
		UserID:     userID,
		Amount:     reward,
		SourceType: ledger.SourceCheckIn,
		Reason:     "gym check-in",
		ExecutedBy: "system",
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"awarded":    entry.AmountInitial,
		"expires_at": entry.ExpiresAt.Format(time.RFC3339),
	})
}

// =============================================================================
// BOOKING HANDLERS
// =============================================================================

// CreateBooking books one slot through the saga.
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req CreateBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	startsAt, err := time.Parse(time.RFC3339, req.StartsAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid starts_at (use RFC3339)", err)
		return
	}

	b, err := h.Orchestrator.CreateBooking(r.Context(), booking.CreateBookingInput{
		UserID:        ledger.UserID(req.UserID),
		ProviderID:    booking.ProviderID(req.ProviderID),
		SessionTypeID: booking.SessionTypeID(req.SessionTypeID),
		StartsAt:      startsAt,
		Actor:         currentActor(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toBookingDTO(b))
}

// GetBooking returns one booking.
func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	id := ledger.BookingID(chi.URLParam(r, "id"))

	b, err := h.Bookings.GetBooking(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(b))
}

// CancelBooking cancels a booking; refund or forfeit depends on the
// cancellation deadline.
func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	id := ledger.BookingID(chi.URLParam(r, "id"))

	var req CancelBookingRequest
	if r.Body != nil && r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body", err)
			return
		}
	}

	result, err := h.Orchestrator.CancelBooking(r.Context(), id, currentActor(r), req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, CancelResultDTO{
		BookingID: string(result.BookingID),
		Refunded:  result.Refunded,
		Forfeited: result.Forfeited,
	})
}

// CompleteBooking finalizes the spend. Admin only.
func (h *Handler) CompleteBooking(w http.ResponseWriter, r *http.Request) {
	id := ledger.BookingID(chi.URLParam(r, "id"))

	if err := h.Orchestrator.Complete(r.Context(), id, currentActor(r)); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": booking.StatusCompleted})
}

// MarkNoShow forfeits the locked coins. Admin only.
func (h *Handler) MarkNoShow(w http.ResponseWriter, r *http.Request) {
	id := ledger.BookingID(chi.URLParam(r, "id"))

	if err := h.Orchestrator.MarkNoShow(r.Context(), id, currentActor(r)); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": booking.StatusNoShow})
}

// =============================================================================
// EXCHANGE HANDLERS
// =============================================================================

// ListExchangeItems returns active exchange items.
func (h *Handler) ListExchangeItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.Exchange.Store.ListItems(r.Context(), true)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]ExchangeItemDTO, len(items))
	for i, it := range items {
		dtos[i] = ExchangeItemDTO{
			ID:        string(it.ID),
			Name:      it.Name,
			CoinCost:  it.CoinCost,
			CashValue: it.CashValue.String(),
			Stock:     it.Stock,
			Active:    it.Active,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateExchange reserves coins against an item.
func (h *Handler) CreateExchange(w http.ResponseWriter, r *http.Request) {
	var req CreateExchangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	result, err := h.Exchange.CreateRequest(r.Context(),
		ledger.UserID(req.UserID), exchange.ItemID(req.ItemID), currentActor(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toExchangeRequestDTO(result))
}

// FulfillExchange finalizes an exchange. Admin only.
func (h *Handler) FulfillExchange(w http.ResponseWriter, r *http.Request) {
	id := exchange.RequestID(chi.URLParam(r, "id"))

	if err := h.Exchange.Fulfill(r.Context(), id, currentActor(r)); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": exchange.RequestFulfilled})
}

// CancelExchange releases the reserved coins.
func (h *Handler) CancelExchange(w http.ResponseWriter, r *http.Request) {
	id := exchange.RequestID(chi.URLParam(r, "id"))

	if err := h.Exchange.Cancel(r.Context(), id, currentActor(r)); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": exchange.RequestCancelled})
}

// =============================================================================
// ADMIN: RECURRING TEMPLATES + EXPANSION
// =============================================================================

// CreateTemplate records a standing weekly slot. Admin only.
func (h *Handler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	actor := currentActor(r)
	if !actor.IsAdmin() {
		writeError(w, http.StatusForbidden, "admin role required", nil)
		return
	}

	var req CreateTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	start, err := booking.ParseMinuteOfDay(req.StartTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start_time", err)
		return
	}
	end, err := booking.ParseMinuteOfDay(req.EndTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid end_time", err)
		return
	}
	if end <= start {
		writeError(w, http.StatusBadRequest, "end_time must be after start_time", nil)
		return
	}
	if req.Weekday < 0 || req.Weekday > 6 {
		writeError(w, http.StatusBadRequest, "weekday must be 0..6", nil)
		return
	}

	t := recurring.Template{
		ID:            recurring.TemplateID(uuid.NewString()),
		UserID:        ledger.UserID(req.UserID),
		ProviderID:    booking.ProviderID(req.ProviderID),
		SessionTypeID: booking.SessionTypeID(req.SessionTypeID),
		Weekday:       time.Weekday(req.Weekday),
		StartMinute:   start,
		EndMinute:     end,
		IsActive:      true,
		CreatedAt:     h.Now(),
	}
	if err := h.Templates.CreateTemplate(r.Context(), t); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toTemplateDTO(t))
}

// GetTemplate returns one template.
func (h *Handler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	id := recurring.TemplateID(chi.URLParam(r, "id"))

	t, err := h.Templates.GetTemplate(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTemplateDTO(t))
}

// DeactivateTemplate soft-deletes a template. Admin only.
func (h *Handler) DeactivateTemplate(w http.ResponseWriter, r *http.Request) {
	actor := currentActor(r)
	if !actor.IsAdmin() {
		writeError(w, http.StatusForbidden, "admin role required", nil)
		return
	}

	id := recurring.TemplateID(chi.URLParam(r, "id"))
	if err := h.Templates.DeactivateTemplate(r.Context(), id, h.Now()); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deactivated": id})
}

// RunExpansion expands all active templates into one explicit month.
// Admin only; safe to re-run for the same month.
func (h *Handler) RunExpansion(w http.ResponseWriter, r *http.Request) {
	actor := currentActor(r)
	if !actor.IsAdmin() {
		writeError(w, http.StatusForbidden, "admin role required", nil)
		return
	}

	var req RunExpansionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	month, err := recurring.ParseMonth(req.Month)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid month (use YYYY-MM)", err)
		return
	}

	report, err := h.Engine.Run(r.Context(), month)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dto := ExpansionReportDTO{
		Month:   report.Month.String(),
		Created: report.Created,
		Skipped: report.Skipped,
	}
	for _, f := range report.Failed {
		dto.Failed = append(dto.Failed, FailedAttemptDTO{
			TemplateID: string(f.TemplateID),
			Date:       f.Date.Format("2006-01-02"),
			Reason:     f.Reason,
		})
	}
	writeJSON(w, http.StatusOK, dto)
}

// ListExpansions returns expansion log rows for one month.
func (h *Handler) ListExpansions(w http.ResponseWriter, r *http.Request) {
	month, err := recurring.ParseMonth(r.URL.Query().Get("month"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid month (use ?month=YYYY-MM)", err)
		return
	}

	rows, err := h.ExpLog.ExpansionsInRange(r.Context(), month.Start(), month.End())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]ExpansionLogDTO, len(rows))
	for i, e := range rows {
		dtos[i] = ExpansionLogDTO{
			ID:         e.ID,
			TemplateID: string(e.TemplateID),
			TargetDate: e.TargetDate.Format("2006-01-02"),
			Outcome:    string(e.Outcome),
			Reason:     e.Reason,
			CreatedAt:  e.CreatedAt.Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// TriggerExpirySweep runs the expiry sweep immediately. Admin only.
func (h *Handler) TriggerExpirySweep(w http.ResponseWriter, r *http.Request) {
	actor := currentActor(r)
	if !actor.IsAdmin() {
		writeError(w, http.StatusForbidden, "admin role required", nil)
		return
	}

	n, err := h.Grants.ExpireSweep(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"expired_entries": n})
}

// =============================================================================
// ADMIN: SETTINGS
// =============================================================================

// GetSetting reads one runtime setting (including defaults).
func (h *Handler) GetSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	value, found, err := h.Settings.Store.GetSetting(r.Context(), key)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !found {
		switch key {
		case config.KeyCoinExpiryDays:
			value = strconv.Itoa(config.DefaultCoinExpiryDays)
		case config.KeyCancellationDeadlineHours:
			value = strconv.Itoa(config.DefaultCancellationDeadlineHours)
		case config.KeyCheckInRewardCoins:
			value = strconv.Itoa(config.DefaultCheckInRewardCoins)
		default:
			writeError(w, http.StatusNotFound, "unknown setting", nil)
			return
		}
	}
	writeJSON(w, http.StatusOK, SettingDTO{Key: key, Value: value})
}

// PutSetting updates one runtime setting. Admin only. The new value
// applies to subsequent operations; in-flight ones keep the value they
// read.
func (h *Handler) PutSetting(w http.ResponseWriter, r *http.Request) {
	actor := currentActor(r)
	if !actor.IsAdmin() {
		writeError(w, http.StatusForbidden, "admin role required", nil)
		return
	}

	key := chi.URLParam(r, "key")
	var dto SettingDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if _, err := strconv.Atoi(dto.Value); err != nil {
		writeError(w, http.StatusBadRequest, "setting value must be an integer", err)
		return
	}

	if err := h.Settings.Store.SetSetting(r.Context(), key, dto.Value); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SettingDTO{Key: key, Value: dto.Value})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain errors to HTTP status.
func writeDomainError(w http.ResponseWriter, err error) {
	writeError(w, errorStatus(err), err.Error(), nil)
}

func errorStatus(err error) int {
	var vErr *ledger.ValidationError
	if errors.As(err, &vErr) && vErr.Code == "forbidden" {
		return http.StatusForbidden
	}

	switch {
	case errors.Is(err, ledger.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrEntryNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrUniquenessConflict),
		errors.Is(err, ledger.ErrConcurrentModification):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}
