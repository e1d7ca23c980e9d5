/*
Package memory provides an in-memory implementation of every storage
interface, for tests and dev mode.

The Memory store mirrors the SQLite semantics exactly: CAS-guarded
entry updates, the reservation uniqueness constraint, append-only
transaction and expansion logs. Tests inject failures through the
FailNext hooks to exercise compensation paths.
*/
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/forgefit/coin-engine/booking"
	"github.com/forgefit/coin-engine/config"
	"github.com/forgefit/coin-engine/exchange"
	"github.com/forgefit/coin-engine/ledger"
	"github.com/forgefit/coin-engine/recurring"
)

// Interface conformance.
var (
	_ ledger.EntryStore       = (*Memory)(nil)
	_ ledger.TransactionLog   = (*Memory)(nil)
	_ booking.Store           = (*Memory)(nil)
	_ booking.ReferenceStore  = (*Memory)(nil)
	_ booking.Directory       = (*Memory)(nil)
	_ recurring.TemplateStore = (*Memory)(nil)
	_ recurring.ExpansionLog  = (*Memory)(nil)
	_ exchange.Store          = (*Memory)(nil)
	_ config.SettingsStore    = (*Memory)(nil)
)

type slotKey struct {
	ProviderID booking.ProviderID
	StartsAt   time.Time
}

// Memory implements every storage interface in maps.
type Memory struct {
	mu sync.RWMutex

	entries      map[ledger.EntryID]ledger.LedgerEntry
	transactions []ledger.TransactionLogEntry

	bookings     map[ledger.BookingID]booking.Booking
	reservations map[slotKey]booking.Reservation

	sessionTypes map[booking.SessionTypeID]booking.SessionType
	hours        map[time.Weekday]booking.BusinessHours
	closures     map[string]bool
	shifts       []booking.ShiftWindow
	blocked      []booking.BlockedSlot
	members      map[ledger.UserID]booking.Member
	providers    map[booking.ProviderID]booking.Provider

	templates  map[recurring.TemplateID]recurring.Template
	expansions []recurring.ExpansionLogEntry

	items    map[exchange.ItemID]exchange.Item
	requests map[exchange.RequestID]exchange.Request

	settings map[string]string

	// FailNext makes the named operation fail once with the given
	// error. Test hook for exercising compensation paths.
	failNext map[string]error
}

func New() *Memory {
	return &Memory{
		entries:      make(map[ledger.EntryID]ledger.LedgerEntry),
		bookings:     make(map[ledger.BookingID]booking.Booking),
		reservations: make(map[slotKey]booking.Reservation),
		sessionTypes: make(map[booking.SessionTypeID]booking.SessionType),
		hours:        make(map[time.Weekday]booking.BusinessHours),
		closures:     make(map[string]bool),
		members:      make(map[ledger.UserID]booking.Member),
		providers:    make(map[booking.ProviderID]booking.Provider),
		templates:    make(map[recurring.TemplateID]recurring.Template),
		items:        make(map[exchange.ItemID]exchange.Item),
		requests:     make(map[exchange.RequestID]exchange.Request),
		settings:     make(map[string]string),
		failNext:     make(map[string]error),
	}
}

// FailNext arms a one-shot failure for the named operation.
func (m *Memory) FailNext(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext[op] = err
}

func (m *Memory) takeFailure(op string) error {
	if err, ok := m.failNext[op]; ok {
		delete(m.failNext, op)
		return err
	}
	return nil
}

func dateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// =============================================================================
// ENTRY STORE (ledger.EntryStore)
// =============================================================================

func (m *Memory) CreateEntry(_ context.Context, e ledger.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure("CreateEntry"); err != nil {
		return err
	}
	m.entries[e.ID] = e
	return nil
}

func (m *Memory) GetEntry(_ context.Context, id ledger.EntryID) (ledger.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[id]
	if !ok {
		return ledger.LedgerEntry{}, fmt.Errorf("%w: entry %s", ledger.ErrEntryNotFound, id)
	}
	return e, nil
}

func (m *Memory) EntriesByUser(_ context.Context, userID ledger.UserID) ([]ledger.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.takeFailure("EntriesByUser"); err != nil {
		return nil, err
	}

	var out []ledger.LedgerEntry
	for _, e := range m.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

// UpdateAmounts is the CAS write: it succeeds only when the stored
// amounts still match what the caller read.
func (m *Memory) UpdateAmounts(_ context.Context, id ledger.EntryID, expectCurrent, expectLocked, newCurrent, newLocked int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure("UpdateAmounts"); err != nil {
		return err
	}

	e, ok := m.entries[id]
	if !ok {
		return fmt.Errorf("%w: entry %s", ledger.ErrEntryNotFound, id)
	}
	if e.AmountCurrent != expectCurrent || e.AmountLocked != expectLocked {
		return &ledger.ConflictError{EntryID: id, Op: "update_amounts"}
	}
	e.AmountCurrent = newCurrent
	e.AmountLocked = newLocked
	m.entries[id] = e
	return nil
}

func (m *Memory) SetStatus(_ context.Context, id ledger.EntryID, status ledger.EntryStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return fmt.Errorf("%w: entry %s", ledger.ErrEntryNotFound, id)
	}
	e.Status = status
	m.entries[id] = e
	return nil
}

func (m *Memory) ExpirableEntries(_ context.Context, asOf time.Time) ([]ledger.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ledger.LedgerEntry
	for _, e := range m.entries {
		if e.Status == ledger.EntryActive && !e.ExpiresAt.After(asOf) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out, nil
}

// =============================================================================
// TRANSACTION LOG (ledger.TransactionLog)
// =============================================================================

func (m *Memory) Append(_ context.Context, t ledger.TransactionLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure("Append"); err != nil {
		return err
	}
	m.transactions = append(m.transactions, t)
	return nil
}

func (m *Memory) ListByUser(_ context.Context, userID ledger.UserID, limit int) ([]ledger.TransactionLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ledger.TransactionLogEntry
	for i := len(m.transactions) - 1; i >= 0; i-- {
		if m.transactions[i].UserID == userID {
			out = append(out, m.transactions[i])
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) ListByBooking(_ context.Context, bookingID ledger.BookingID) ([]ledger.TransactionLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ledger.TransactionLogEntry
	for _, t := range m.transactions {
		if t.BookingID == bookingID {
			out = append(out, t)
		}
	}
	return out, nil
}

// =============================================================================
// BOOKING STORE (booking.Store)
// =============================================================================

func (m *Memory) CreateBooking(_ context.Context, b booking.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure("CreateBooking"); err != nil {
		return err
	}
	m.bookings[b.ID] = b
	return nil
}

func (m *Memory) DeleteBooking(_ context.Context, id ledger.BookingID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.bookings, id)
	return nil
}

func (m *Memory) GetBooking(_ context.Context, id ledger.BookingID) (booking.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.bookings[id]
	if !ok {
		return booking.Booking{}, fmt.Errorf("%w: booking %s", ledger.ErrEntryNotFound, id)
	}
	return b, nil
}

func (m *Memory) SetBookingStatus(_ context.Context, id ledger.BookingID, status booking.Status, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure("SetBookingStatus"); err != nil {
		return err
	}

	b, ok := m.bookings[id]
	if !ok {
		return fmt.Errorf("%w: booking %s", ledger.ErrEntryNotFound, id)
	}
	b.Status = status
	if reason != "" {
		b.CancelReason = reason
	}
	m.bookings[id] = b
	return nil
}

func (m *Memory) CreateReservation(_ context.Context, r booking.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure("CreateReservation"); err != nil {
		return err
	}

	k := slotKey{ProviderID: r.ProviderID, StartsAt: r.StartsAt.UTC()}
	if _, taken := m.reservations[k]; taken {
		return fmt.Errorf("%w: slot %s @ %s", ledger.ErrUniquenessConflict,
			r.ProviderID, r.StartsAt.Format(time.RFC3339))
	}
	m.reservations[k] = r
	return nil
}

func (m *Memory) DeleteReservationForBooking(_ context.Context, bookingID ledger.BookingID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k, r := range m.reservations {
		if r.BookingID == bookingID {
			delete(m.reservations, k)
		}
	}
	return nil
}

func (m *Memory) BookingsForUsersInRange(_ context.Context, userIDs []ledger.UserID, from, to time.Time) ([]booking.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	want := make(map[ledger.UserID]bool, len(userIDs))
	for _, id := range userIDs {
		want[id] = true
	}

	var out []booking.Booking
	for _, b := range m.bookings {
		if want[b.UserID] && b.Status != booking.StatusCancelled &&
			!b.StartsAt.Before(from) && b.StartsAt.Before(to) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

func (m *Memory) ListBookingsByUser(_ context.Context, userID ledger.UserID, limit int) ([]booking.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []booking.Booking
	for _, b := range m.bookings {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.After(out[j].StartsAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// =============================================================================
// REFERENCE STORE (booking.ReferenceStore)
// =============================================================================

func (m *Memory) GetSessionType(_ context.Context, id booking.SessionTypeID) (booking.SessionType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.sessionTypes[id]
	if !ok {
		return booking.SessionType{}, fmt.Errorf("%w: session type %s", ledger.ErrEntryNotFound, id)
	}
	return st, nil
}

func (m *Memory) HoursFor(_ context.Context, weekday time.Weekday) (booking.BusinessHours, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h, ok := m.hours[weekday]
	if !ok {
		return booking.BusinessHours{Weekday: weekday, Closed: true}, nil
	}
	return h, nil
}

func (m *Memory) AllHours(_ context.Context) ([]booking.BusinessHours, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]booking.BusinessHours, 0, len(m.hours))
	for _, h := range m.hours {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Weekday < out[j].Weekday })
	return out, nil
}

func (m *Memory) IsClosure(_ context.Context, date time.Time) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closures[dateKey(date)], nil
}

func (m *Memory) ClosuresInRange(_ context.Context, from, to time.Time) ([]time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []time.Time
	for d := from; d.Before(to); d = d.AddDate(0, 0, 1) {
		if m.closures[dateKey(d)] {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *Memory) ShiftsFor(_ context.Context, providerID booking.ProviderID, weekday time.Weekday) ([]booking.ShiftWindow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []booking.ShiftWindow
	for _, w := range m.shifts {
		if w.ProviderID == providerID && w.Weekday == weekday {
			out = append(out, w)
		}
	}
	return out, nil
}

func (m *Memory) AllShifts(_ context.Context) ([]booking.ShiftWindow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]booking.ShiftWindow(nil), m.shifts...), nil
}

func (m *Memory) BlockedFor(_ context.Context, providerID booking.ProviderID, date time.Time) ([]booking.BlockedSlot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []booking.BlockedSlot
	for _, b := range m.blocked {
		if dateKey(b.Date) == dateKey(date) && (b.ProviderID == "" || b.ProviderID == providerID) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *Memory) BlockedInRange(_ context.Context, from, to time.Time) ([]booking.BlockedSlot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []booking.BlockedSlot
	for _, b := range m.blocked {
		if !b.Date.Before(from) && b.Date.Before(to) {
			out = append(out, b)
		}
	}
	return out, nil
}

// Seeding helpers for tests and dev mode.

func (m *Memory) PutSessionType(st booking.SessionType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionTypes[st.ID] = st
}

func (m *Memory) PutHours(h booking.BusinessHours) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hours[h.Weekday] = h
}

func (m *Memory) PutClosure(date time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closures[dateKey(date)] = true
}

func (m *Memory) PutShift(w booking.ShiftWindow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shifts = append(m.shifts, w)
}

func (m *Memory) PutBlockedSlot(b booking.BlockedSlot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocked = append(m.blocked, b)
}

func (m *Memory) PutMember(mem booking.Member) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[mem.ID] = mem
}

func (m *Memory) PutProvider(p booking.Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[p.ID] = p
}

func (m *Memory) PutItem(it exchange.Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[it.ID] = it
}

// =============================================================================
// DIRECTORY (booking.Directory)
// =============================================================================

func (m *Memory) GetMember(_ context.Context, id ledger.UserID) (booking.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mem, ok := m.members[id]
	if !ok {
		return booking.Member{}, fmt.Errorf("%w: member %s", ledger.ErrEntryNotFound, id)
	}
	return mem, nil
}

func (m *Memory) GetProvider(_ context.Context, id booking.ProviderID) (booking.Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.providers[id]
	if !ok {
		return booking.Provider{}, fmt.Errorf("%w: provider %s", ledger.ErrEntryNotFound, id)
	}
	return p, nil
}

func (m *Memory) MembersByID(_ context.Context, ids []ledger.UserID) (map[ledger.UserID]booking.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[ledger.UserID]booking.Member, len(ids))
	for _, id := range ids {
		if mem, ok := m.members[id]; ok {
			out[id] = mem
		}
	}
	return out, nil
}

func (m *Memory) ProvidersByID(_ context.Context, ids []booking.ProviderID) (map[booking.ProviderID]booking.Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[booking.ProviderID]booking.Provider, len(ids))
	for _, id := range ids {
		if p, ok := m.providers[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

// =============================================================================
// TEMPLATE STORE / EXPANSION LOG (recurring)
// =============================================================================

func (m *Memory) CreateTemplate(_ context.Context, t recurring.Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates[t.ID] = t
	return nil
}

func (m *Memory) GetTemplate(_ context.Context, id recurring.TemplateID) (recurring.Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.templates[id]
	if !ok {
		return recurring.Template{}, fmt.Errorf("%w: template %s", ledger.ErrEntryNotFound, id)
	}
	return t, nil
}

func (m *Memory) ActiveTemplates(_ context.Context) ([]recurring.Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []recurring.Template
	for _, t := range m.templates {
		if t.IsActive {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) DeactivateTemplate(_ context.Context, id recurring.TemplateID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.templates[id]
	if !ok {
		return fmt.Errorf("%w: template %s", ledger.ErrEntryNotFound, id)
	}
	t.IsActive = false
	t.DeactivatedAt = &at
	m.templates[id] = t
	return nil
}

func (m *Memory) AppendExpansion(_ context.Context, e recurring.ExpansionLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure("AppendExpansion"); err != nil {
		return err
	}
	m.expansions = append(m.expansions, e)
	return nil
}

func (m *Memory) ExpansionsInRange(_ context.Context, from, to time.Time) ([]recurring.ExpansionLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []recurring.ExpansionLogEntry
	for _, e := range m.expansions {
		if !e.TargetDate.Before(from) && e.TargetDate.Before(to) {
			out = append(out, e)
		}
	}
	return out, nil
}

// =============================================================================
// EXCHANGE STORE (exchange.Store)
// =============================================================================

func (m *Memory) GetItem(_ context.Context, id exchange.ItemID) (exchange.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	it, ok := m.items[id]
	if !ok {
		return exchange.Item{}, fmt.Errorf("%w: item %s", ledger.ErrEntryNotFound, id)
	}
	return it, nil
}

func (m *Memory) ListItems(_ context.Context, activeOnly bool) ([]exchange.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []exchange.Item
	for _, it := range m.items {
		if !activeOnly || it.Active {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) AdjustStock(_ context.Context, id exchange.ItemID, delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[id]
	if !ok {
		return fmt.Errorf("%w: item %s", ledger.ErrEntryNotFound, id)
	}
	it.Stock += delta
	m.items[id] = it
	return nil
}

func (m *Memory) CreateRequest(_ context.Context, r exchange.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure("CreateRequest"); err != nil {
		return err
	}
	m.requests[r.ID] = r
	return nil
}

func (m *Memory) GetRequest(_ context.Context, id exchange.RequestID) (exchange.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.requests[id]
	if !ok {
		return exchange.Request{}, fmt.Errorf("%w: exchange request %s", ledger.ErrEntryNotFound, id)
	}
	return r, nil
}

func (m *Memory) SetRequestStatus(_ context.Context, id exchange.RequestID, status exchange.RequestStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure("SetRequestStatus"); err != nil {
		return err
	}

	r, ok := m.requests[id]
	if !ok {
		return fmt.Errorf("%w: exchange request %s", ledger.ErrEntryNotFound, id)
	}
	r.Status = status
	m.requests[id] = r
	return nil
}

func (m *Memory) DeleteRequest(_ context.Context, id exchange.RequestID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.requests, id)
	return nil
}

func (m *Memory) ListRequestsByUser(_ context.Context, userID ledger.UserID) ([]exchange.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []exchange.Request
	for _, r := range m.requests {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// =============================================================================
// SETTINGS STORE (config.SettingsStore)
// =============================================================================

func (m *Memory) GetSetting(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.settings[key]
	return v, ok, nil
}

func (m *Memory) SetSetting(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[key] = value
	return nil
}
