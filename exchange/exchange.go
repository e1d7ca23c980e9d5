/*
Package exchange lets members spend coins on goods and discounts.

PURPOSE:
  The exchange path mirrors the booking saga on a smaller frame: a
  request reserves (locks) the item's coin price when created, and the
  spend is finalized (consumed) on fulfillment or released (unlocked)
  on cancellation. The same audit rule applies: no coin movement
  without its transaction log row.

CASH VALUE:
  Items carry a cash value (what the goods cost the gym) as a decimal,
  kept for margin reporting - coin prices themselves are integers.

AUDIT REFERENCE:
  The transaction log's booking reference column carries the exchange
  request ID for exchange movements; both are opaque identifiers for
  the audit trail.
*/
package exchange

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/forgefit/coin-engine/booking"
	"github.com/forgefit/coin-engine/ledger"
	"github.com/forgefit/coin-engine/notify"
)

// =============================================================================
// TYPES
// =============================================================================

type ItemID string
type RequestID string

// Item is one exchangeable good or discount.
type Item struct {
	ID        ItemID
	Name      string
	CoinCost  int64
	CashValue decimal.Decimal // procurement cost, for margin reporting
	Stock     int
	Active    bool
}

type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestFulfilled RequestStatus = "fulfilled"
	RequestCancelled RequestStatus = "cancelled"
)

// Request is one member's pending or settled exchange.
type Request struct {
	ID        RequestID
	UserID    ledger.UserID
	ItemID    ItemID
	CoinCost  int64 // price at request time; item price changes don't reprice
	Status    RequestStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store persists items and requests.
type Store interface {
	GetItem(ctx context.Context, id ItemID) (Item, error)
	ListItems(ctx context.Context, activeOnly bool) ([]Item, error)
	AdjustStock(ctx context.Context, id ItemID, delta int) error

	CreateRequest(ctx context.Context, r Request) error
	GetRequest(ctx context.Context, id RequestID) (Request, error)
	SetRequestStatus(ctx context.Context, id RequestID, status RequestStatus) error
	// DeleteRequest removes a request record. Compensation only.
	DeleteRequest(ctx context.Context, id RequestID) error
	ListRequestsByUser(ctx context.Context, userID ledger.UserID) ([]Request, error)
}

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	Store    Store
	Ledger   *ledger.Service
	Notifier notify.Dispatcher
	Now      ledger.Clock
}

func NewService(store Store, svc *ledger.Service, notifier notify.Dispatcher) *Service {
	return &Service{Store: store, Ledger: svc, Notifier: notifier, Now: ledger.SystemClock}
}

// CreateRequest reserves the item's coin price against a new request.
func (s *Service) CreateRequest(ctx context.Context, userID ledger.UserID, itemID ItemID, actor booking.Actor) (Request, error) {
	item, err := s.Store.GetItem(ctx, itemID)
	if err != nil {
		return Request{}, err
	}
	if !item.Active {
		return Request{}, &ledger.ValidationError{Code: "item_inactive",
			Message: fmt.Sprintf("item %s is not available", itemID)}
	}
	if item.Stock <= 0 {
		return Request{}, &ledger.ValidationError{Code: "out_of_stock",
			Message: fmt.Sprintf("item %s is out of stock", itemID)}
	}

	ctx = context.WithoutCancel(ctx)
	now := s.Now()
	req := Request{
		ID:        RequestID(uuid.NewString()),
		UserID:    userID,
		ItemID:    itemID,
		CoinCost:  item.CoinCost,
		Status:    RequestPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Store.CreateRequest(ctx, req); err != nil {
		return Request{}, fmt.Errorf("%w: creating exchange request: %v", ledger.ErrDependencyUnavailable, err)
	}

	if _, err := s.Ledger.LockCoins(ctx, userID, item.CoinCost, ledger.BookingID(req.ID), actor.ID); err != nil {
		if delErr := s.Store.DeleteRequest(ctx, req.ID); delErr != nil {
			log.Printf("[Exchange] compensation delete of %s failed: %v", req.ID, delErr)
		}
		return Request{}, err
	}

	notify.FireAndForget(s.Notifier, notify.Event{
		Type:   notify.EventExchangeCreated,
		UserID: string(userID),
		Title:  "Exchange requested",
		Body:   fmt.Sprintf("%s reserved for %d coins.", item.Name, item.CoinCost),
	})
	return req, nil
}

// Fulfill finalizes the spend and hands over the goods. Admin only.
func (s *Service) Fulfill(ctx context.Context, id RequestID, actor booking.Actor) error {
	if !actor.IsAdmin() {
		return &ledger.ValidationError{Code: "forbidden", Message: "only admins fulfill exchanges"}
	}
	req, err := s.Store.GetRequest(ctx, id)
	if err != nil {
		return err
	}
	if req.Status != RequestPending {
		return &ledger.ValidationError{Code: "not_pending",
			Message: fmt.Sprintf("request %s is %s", id, req.Status)}
	}

	ctx = context.WithoutCancel(ctx)
	if err := s.Ledger.ConsumeCoins(ctx, req.UserID, req.CoinCost, ledger.BookingID(req.ID), actor.ID, false); err != nil {
		return err
	}
	if err := s.Store.SetRequestStatus(ctx, id, RequestFulfilled); err != nil {
		return fmt.Errorf("coins consumed but status update failed (retry safe): %w", err)
	}
	if err := s.Store.AdjustStock(ctx, req.ItemID, -1); err != nil {
		log.Printf("[Exchange] stock adjust for %s failed: %v", req.ItemID, err)
	}
	return nil
}

// Cancel releases the reserved coins. Owner or admin.
func (s *Service) Cancel(ctx context.Context, id RequestID, actor booking.Actor) error {
	req, err := s.Store.GetRequest(ctx, id)
	if err != nil {
		return err
	}
	if !actor.IsAdmin() && actor.ID != string(req.UserID) {
		return &ledger.ValidationError{Code: "forbidden", Message: "only the owner or an admin may cancel"}
	}
	if req.Status != RequestPending {
		return &ledger.ValidationError{Code: "not_pending",
			Message: fmt.Sprintf("request %s is %s", id, req.Status)}
	}

	ctx = context.WithoutCancel(ctx)
	if err := s.Store.SetRequestStatus(ctx, id, RequestCancelled); err != nil {
		return fmt.Errorf("%w: marking cancelled: %v", ledger.ErrDependencyUnavailable, err)
	}
	if err := s.Ledger.UnlockCoins(ctx, req.UserID, req.CoinCost, ledger.BookingID(req.ID), actor.ID); err != nil {
		if restoreErr := s.Store.SetRequestStatus(ctx, id, RequestPending); restoreErr != nil {
			log.Printf("[Exchange] compensation restore of %s failed: %v", id, restoreErr)
		}
		return err
	}
	return nil
}
