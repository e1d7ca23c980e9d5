package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgefit/coin-engine/api"
	"github.com/forgefit/coin-engine/booking"
	"github.com/forgefit/coin-engine/config"
	"github.com/forgefit/coin-engine/exchange"
	"github.com/forgefit/coin-engine/ledger"
	"github.com/forgefit/coin-engine/notify"
	"github.com/forgefit/coin-engine/recurring"
	"github.com/forgefit/coin-engine/store/memory"
)

// =============================================================================
// TEST FIXTURE - Full router over the memory store
// =============================================================================

var testNow = time.Date(2026, time.September, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func newAPI(t *testing.T) (http.Handler, *memory.Memory) {
	t.Helper()
	store := memory.New()

	notifier := notify.LogDispatcher{}
	settings := config.NewSettings(store)

	svc := ledger.NewService(store, store)
	svc.Now = fixedClock
	svc.Allocator.Now = fixedClock

	grants := ledger.NewGrantService(store, store, config.DefaultCoinExpiryDays)
	grants.Now = fixedClock

	orchestrator := booking.NewOrchestrator(store, store, store, svc, settings, notifier)
	orchestrator.Now = fixedClock

	exchangeSvc := exchange.NewService(store, svc, notifier)
	exchangeSvc.Now = fixedClock

	engine := &recurring.Engine{
		Templates: store, ExpLog: store, Bookings: store, Refs: store,
		Directory: store, Entries: store, TxLog: store,
		Notifier: notifier, Now: fixedClock,
	}

	h := &api.Handler{
		Ledger:       svc,
		Grants:       grants,
		Balance:      ledger.NewBalanceCalculator(store),
		Orchestrator: orchestrator,
		Exchange:     exchangeSvc,
		Engine:       engine,
		Bookings:     store,
		Templates:    store,
		ExpLog:       store,
		Settings:     settings,
		Now:          fixedClock,
	}

	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		store.PutHours(booking.BusinessHours{Weekday: wd, OpenMinute: 6 * 60, CloseMinute: 22 * 60})
		store.PutShift(booking.ShiftWindow{
			ID: "shift-" + wd.String(), ProviderID: "mentor-1",
			Weekday: wd, StartMinute: 6 * 60, EndMinute: 22 * 60,
		})
	}
	store.PutMember(booking.Member{ID: "member-1", Name: "Ada", Active: true})
	store.PutProvider(booking.Provider{ID: "mentor-1", Name: "Coach", Active: true})
	store.PutSessionType(booking.SessionType{ID: "pt60", Name: "Personal training", CoinCost: 50, DurationMinutes: 60})

	return api.NewRouter(h, nil), store
}

func grantCoins(t *testing.T, store *memory.Memory, user string, amount int64) {
	t.Helper()
	err := store.CreateEntry(context.Background(), ledger.LedgerEntry{
		ID:            ledger.EntryID("grant-" + user),
		UserID:        ledger.UserID(user),
		AmountInitial: amount,
		AmountCurrent: amount,
		ExpiresAt:     testNow.AddDate(0, 0, 90),
		Status:        ledger.EntryActive,
		GrantedAt:     testNow.AddDate(0, 0, -1),
	})
	require.NoError(t, err)
}

// do issues a request as the given actor ("" for anonymous) and decodes
// the JSON response into out when non-nil.
func do(t *testing.T, router http.Handler, method, path string, body any, userID, role string, out any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
		req.Header.Set("X-User-Role", role)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if out != nil && rec.Code < 300 {
		require.NoError(t, json.NewDecoder(rec.Body).Decode(out))
	}
	return rec
}

// =============================================================================
// BALANCE / GRANTS
// =============================================================================

func TestAPI_GetBalance(t *testing.T) {
	// GIVEN: A member with 100 coins, 30 of them locked
	// WHEN: GET /api/users/{id}/balance
	// THEN: The summary splits available and locked

	router, store := newAPI(t)
	ctx := context.Background()
	grantCoins(t, store, "member-1", 100)
	require.NoError(t, store.UpdateAmounts(ctx, "grant-member-1", 100, 0, 70, 30))

	var body map[string]any
	rec := do(t, router, http.MethodGet, "/api/users/member-1/balance", nil, "member-1", "member", &body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 70, body["available"])
	assert.EqualValues(t, 30, body["locked"])
	assert.EqualValues(t, 100, body["total"])
}

func TestAPI_GrantCoins_AdminOnly(t *testing.T) {
	// GIVEN: A grant request
	// WHEN: Posted by a member, then by an admin
	// THEN: 403 for the member, 201 and a visible balance for the admin

	router, _ := newAPI(t)

	grant := map[string]any{"amount": 100, "source_type": "purchase", "cash_paid": "49.90", "reason": "10-pack"}

	rec := do(t, router, http.MethodPost, "/api/users/member-1/grants", grant, "member-1", "member", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/users/member-1/grants", grant, "admin-1", "admin", nil)
	assert.Equal(t, http.StatusCreated, rec.Code)

	var balance map[string]any
	rec = do(t, router, http.MethodGet, "/api/users/member-1/balance", nil, "member-1", "member", &balance)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 100, balance["available"])
}

func TestAPI_GrantCoins_BadExpiry(t *testing.T) {
	router, _ := newAPI(t)

	rec := do(t, router, http.MethodPost, "/api/users/member-1/grants",
		map[string]any{"amount": 100, "expires_at": "tomorrow"}, "admin-1", "admin", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_CheckIn_AwardsConfiguredBonus(t *testing.T) {
	// GIVEN: The default 5-coin check-in reward
	// WHEN: POST /api/users/{id}/checkin
	// THEN: 201 with awarded=5; with the reward set to 0, 200 and no coins

	router, store := newAPI(t)
	ctx := context.Background()

	var body map[string]any
	rec := do(t, router, http.MethodPost, "/api/users/member-1/checkin", nil, "member-1", "member", &body)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.EqualValues(t, 5, body["awarded"])

	require.NoError(t, store.SetSetting(ctx, config.KeyCheckInRewardCoins, "0"))
	rec = do(t, router, http.MethodPost, "/api/users/member-1/checkin", nil, "member-1", "member", &body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, body["awarded"])
}

func TestAPI_GetTransactions(t *testing.T) {
	router, _ := newAPI(t)

	rec := do(t, router, http.MethodPost, "/api/users/member-1/grants",
		map[string]any{"amount": 100}, "admin-1", "admin", nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var txs []map[string]any
	rec = do(t, router, http.MethodGet, "/api/users/member-1/transactions", nil, "member-1", "member", &txs)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, txs, 1)
	assert.Equal(t, "grant", txs[0]["type"])
	assert.EqualValues(t, 100, txs[0]["balance_after"])
}

// =============================================================================
// BOOKINGS
// =============================================================================

func TestAPI_BookingLifecycle(t *testing.T) {
	// GIVEN: A funded member and a free slot
	// WHEN: Booking, reading and cancelling it
	// THEN: 201 -> 200 -> refund reported

	router, store := newAPI(t)
	grantCoins(t, store, "member-1", 100)

	create := map[string]any{
		"user_id": "member-1", "provider_id": "mentor-1",
		"session_type_id": "pt60", "starts_at": "2026-09-03T10:00:00Z",
	}

	var created map[string]any
	rec := do(t, router, http.MethodPost, "/api/bookings", create, "member-1", "member", &created)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "confirmed", created["status"])
	assert.EqualValues(t, 50, created["coins_used"])

	id := created["id"].(string)

	var got map[string]any
	rec = do(t, router, http.MethodGet, "/api/bookings/"+id, nil, "member-1", "member", &got)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, got["id"])

	var cancel map[string]any
	rec = do(t, router, http.MethodPost, "/api/bookings/"+id+"/cancel",
		map[string]any{"reason": "sick"}, "member-1", "member", &cancel)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 50, cancel["refunded"])
	assert.EqualValues(t, 0, cancel["forfeited"])
}

func TestAPI_CreateBooking_ErrorMapping(t *testing.T) {
	// GIVEN: Conflicting and underfunded booking attempts
	// WHEN: Posting them
	// THEN: 409 for the taken slot, 422 for the short balance, 404 for
	//       an unknown booking

	router, store := newAPI(t)
	grantCoins(t, store, "member-1", 100)

	create := map[string]any{
		"user_id": "member-1", "provider_id": "mentor-1",
		"session_type_id": "pt60", "starts_at": "2026-09-03T10:00:00Z",
	}
	rec := do(t, router, http.MethodPost, "/api/bookings", create, "member-1", "member", nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	store.PutMember(booking.Member{ID: "member-2", Name: "Grace", Active: true})
	grantCoins(t, store, "member-2", 100)
	taken := map[string]any{
		"user_id": "member-2", "provider_id": "mentor-1",
		"session_type_id": "pt60", "starts_at": "2026-09-03T10:00:00Z",
	}
	rec = do(t, router, http.MethodPost, "/api/bookings", taken, "member-2", "member", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	store.PutMember(booking.Member{ID: "member-3", Name: "Edsger", Active: true})
	grantCoins(t, store, "member-3", 30)
	broke := map[string]any{
		"user_id": "member-3", "provider_id": "mentor-1",
		"session_type_id": "pt60", "starts_at": "2026-09-04T10:00:00Z",
	}
	rec = do(t, router, http.MethodPost, "/api/bookings", broke, "member-3", "member", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/bookings/nope", nil, "member-1", "member", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_CompleteBooking_AdminOnly(t *testing.T) {
	router, store := newAPI(t)
	grantCoins(t, store, "member-1", 100)

	var created map[string]any
	rec := do(t, router, http.MethodPost, "/api/bookings", map[string]any{
		"user_id": "member-1", "provider_id": "mentor-1",
		"session_type_id": "pt60", "starts_at": "2026-09-03T10:00:00Z",
	}, "member-1", "member", &created)
	require.Equal(t, http.StatusCreated, rec.Code)
	id := created["id"].(string)

	rec = do(t, router, http.MethodPost, "/api/bookings/"+id+"/complete", nil, "member-1", "member", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/bookings/"+id+"/complete", nil, "admin-1", "admin", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

// =============================================================================
// EXCHANGE
// =============================================================================

func TestAPI_ExchangeLifecycle(t *testing.T) {
	// GIVEN: A listed item and a funded member
	// WHEN: Listing, requesting and fulfilling
	// THEN: Only active items list; fulfill is admin only

	router, store := newAPI(t)
	grantCoins(t, store, "member-1", 100)
	store.PutItem(exchange.Item{ID: "towel", Name: "Gym towel", CoinCost: 30, Stock: 5, Active: true})
	store.PutItem(exchange.Item{ID: "retired", Name: "Old shaker", CoinCost: 10, Stock: 3, Active: false})

	var items []map[string]any
	rec := do(t, router, http.MethodGet, "/api/exchange/items", nil, "member-1", "member", &items)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, items, 1)
	assert.Equal(t, "towel", items[0]["id"])

	var created map[string]any
	rec = do(t, router, http.MethodPost, "/api/exchange/requests",
		map[string]any{"user_id": "member-1", "item_id": "towel"}, "member-1", "member", &created)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "pending", created["status"])
	id := created["id"].(string)

	rec = do(t, router, http.MethodPost, "/api/exchange/requests/"+id+"/fulfill", nil, "member-1", "member", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/exchange/requests/"+id+"/fulfill", nil, "admin-1", "admin", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var history []map[string]any
	rec = do(t, router, http.MethodGet, "/api/users/member-1/exchanges", nil, "member-1", "member", &history)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, history, 1)
	assert.Equal(t, "fulfilled", history[0]["status"])
}

// =============================================================================
// ADMIN: TEMPLATES, EXPANSION, SETTINGS
// =============================================================================

func TestAPI_CreateTemplate_Validation(t *testing.T) {
	router, _ := newAPI(t)

	valid := map[string]any{
		"user_id": "member-1", "provider_id": "mentor-1", "session_type_id": "pt60",
		"weekday": 2, "start_time": "18:00", "end_time": "19:00",
	}

	rec := do(t, router, http.MethodPost, "/api/admin/templates", valid, "member-1", "member", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	var created map[string]any
	rec = do(t, router, http.MethodPost, "/api/admin/templates", valid, "admin-1", "admin", &created)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, true, created["is_active"])
	assert.Equal(t, "18:00", created["start_time"])

	bad := map[string]any{
		"user_id": "member-1", "provider_id": "mentor-1", "session_type_id": "pt60",
		"weekday": 9, "start_time": "18:00", "end_time": "19:00",
	}
	rec = do(t, router, http.MethodPost, "/api/admin/templates", bad, "admin-1", "admin", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	backward := map[string]any{
		"user_id": "member-1", "provider_id": "mentor-1", "session_type_id": "pt60",
		"weekday": 2, "start_time": "19:00", "end_time": "18:00",
	}
	rec = do(t, router, http.MethodPost, "/api/admin/templates", backward, "admin-1", "admin", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_RunExpansion(t *testing.T) {
	// GIVEN: One Tuesday template and enough coins for all of October
	// WHEN: POST /api/admin/expansions/run for 2026-10
	// THEN: Four bookings created; the log endpoint shows the rows

	router, store := newAPI(t)
	grantCoins(t, store, "member-1", 200)

	var tmpl map[string]any
	rec := do(t, router, http.MethodPost, "/api/admin/templates", map[string]any{
		"user_id": "member-1", "provider_id": "mentor-1", "session_type_id": "pt60",
		"weekday": 2, "start_time": "18:00", "end_time": "19:00",
	}, "admin-1", "admin", &tmpl)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/admin/expansions/run",
		map[string]any{"month": "2026-10"}, "member-1", "member", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	var report map[string]any
	rec = do(t, router, http.MethodPost, "/api/admin/expansions/run",
		map[string]any{"month": "2026-10"}, "admin-1", "admin", &report)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 4, report["created"])

	var rows []map[string]any
	rec = do(t, router, http.MethodGet, "/api/admin/expansions?month=2026-10", nil, "admin-1", "admin", &rows)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, rows, 4)
}

func TestAPI_Settings(t *testing.T) {
	// GIVEN: No stored settings
	// WHEN: Reading, writing and re-reading a setting
	// THEN: Defaults surface for known keys, 404 for unknown ones, and
	//       writes are admin-gated and integer-checked

	router, _ := newAPI(t)

	var setting map[string]any
	rec := do(t, router, http.MethodGet, "/api/admin/settings/coin_expiry_days", nil, "admin-1", "admin", &setting)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "90", setting["value"])

	rec = do(t, router, http.MethodGet, "/api/admin/settings/favorite_color", nil, "admin-1", "admin", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, http.MethodPut, "/api/admin/settings/coin_expiry_days",
		map[string]any{"value": "30"}, "member-1", "member", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, router, http.MethodPut, "/api/admin/settings/coin_expiry_days",
		map[string]any{"value": "a month"}, "admin-1", "admin", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPut, "/api/admin/settings/coin_expiry_days",
		map[string]any{"value": "30"}, "admin-1", "admin", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/admin/settings/coin_expiry_days", nil, "admin-1", "admin", &setting)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "30", setting["value"])
}

func TestAPI_ExpirySweep(t *testing.T) {
	// GIVEN: One entry past its expiry
	// WHEN: POST /api/admin/expiry/sweep
	// THEN: One entry flips

	router, store := newAPI(t)
	ctx := context.Background()
	require.NoError(t, store.CreateEntry(ctx, ledger.LedgerEntry{
		ID: "stale", UserID: "member-1", AmountInitial: 30, AmountCurrent: 30,
		ExpiresAt: testNow.AddDate(0, 0, -1), Status: ledger.EntryActive, GrantedAt: testNow.AddDate(0, 0, -60),
	}))

	var body map[string]any
	rec := do(t, router, http.MethodPost, "/api/admin/expiry/sweep", nil, "admin-1", "admin", &body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["expired_entries"])
}
