/*
service.go - Settlement batching and lifecycle service

PURPOSE:
  Owns the payable side of the commission core:
  - Create: claim every eligible pending transaction for a vendor and
    window into one OPEN settlement, atomically
  - Preview: the read-only projection of the same eligibility predicate
  - MarkPaid: the guarded OPEN->PAID flip with the PENDING->SETTLED
    cascade
  - role-scoped reads over settlements and their line items

ELIGIBILITY:
  One predicate, shared by Preview and Create:
    vendor matches, status PENDING, created inside the inclusive day
    window, optional mechanic filter, and not already claimed by ANY
    settlement item.
  Preview evaluates it as a plain read; Create re-evaluates it inside
  the store's atomic unit, so a preview can go stale without ever
  corrupting a batch.

DISJOINTNESS:
  Settlements never share a transaction. The store's unique constraint
  on settlement_items.transaction_id enforces this even against racing
  batchers; this service just surfaces the resulting ConflictError.

EMPTY WINDOWS:
  A window with nothing eligible yields Created=false with zero counts.
  That is a normal answer to a reasonable question, not an error.

SEE ALSO:
  - store/sqlite: CreateSettlementBatch and MarkPaid atomic units
  - metrics: operation counters fed from this service
*/
package settle

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gearlink/commission-engine/commission"
	"github.com/gearlink/commission-engine/metrics"
)

// =============================================================================
// SERVICE
// =============================================================================

// Service drives settlement batching and lifecycle.
type Service struct {
	store    commission.Store
	notifier commission.Notifier
	log      *zap.Logger
}

// New creates a settlement service over the given store. A nil notifier
// falls back to log-only notifications.
func New(store commission.Store, notifier commission.Notifier, log *zap.Logger) *Service {
	if notifier == nil {
		notifier = &commission.LogNotifier{Log: log}
	}
	return &Service{store: store, notifier: notifier, log: log}
}

// BatchRequest identifies the population of one settlement batch.
type BatchRequest struct {
	VendorID   commission.VendorID
	MechanicID *commission.MechanicID // optional narrowing
	Period     commission.DateRange
}

func (r BatchRequest) validate() error {
	if r.VendorID == 0 {
		return &commission.ValidationError{Field: "vendorId", Message: "is required"}
	}
	return nil
}

// =============================================================================
// CREATE
// =============================================================================

// Create claims every currently-eligible transaction for the request
// into one new OPEN settlement. Admin only.
func (s *Service) Create(ctx context.Context, actor commission.Actor, req BatchRequest) (*commission.SettlementResult, error) {
	if err := actor.Require("create-settlement", commission.RoleAdmin); err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	vendor, err := s.store.GetVendor(ctx, req.VendorID)
	if err != nil {
		return nil, err
	}
	if vendor == nil {
		return nil, &commission.NotFoundError{Kind: "vendor", Ref: fmt.Sprintf("%d", req.VendorID)}
	}

	settlement, count, err := s.store.CreateSettlementBatch(ctx, req.VendorID, req.MechanicID, req.Period)
	if err != nil {
		metrics.ObserveSettlementCreate(metrics.ResultError)
		return nil, err
	}
	if settlement == nil {
		// Nothing eligible in the window. Normal empty result.
		metrics.ObserveSettlementCreate(metrics.ResultEmpty)
		return &commission.SettlementResult{Created: false}, nil
	}

	metrics.ObserveSettlementCreate(metrics.ResultOK)
	s.log.Info("settlement created",
		zap.Int64("settlement_id", int64(settlement.ID)),
		zap.Int64("vendor_id", int64(settlement.VendorID)),
		zap.Int("transaction_count", count),
		zap.String("total_eligible", settlement.TotalAmountEligible.String()))

	return &commission.SettlementResult{
		Created:      true,
		SettlementID: settlement.ID,
		Totals: commission.SettlementTotals{
			Eligible: settlement.TotalAmountEligible,
			Mechanic: settlement.TotalMechanicAmount,
			Platform: settlement.TotalPlatformAmount,
		},
		Count: count,
	}, nil
}

// =============================================================================
// PREVIEW
// =============================================================================

// Preview projects what Create would claim right now, without writing
// anything. The projection can go stale the moment it is returned.
func (s *Service) Preview(ctx context.Context, actor commission.Actor, req BatchRequest) (*commission.PreviewResult, error) {
	if err := actor.Require("preview-settlement", commission.RoleAdmin); err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	txs, err := s.store.EligibleTransactions(ctx, req.VendorID, req.MechanicID, req.Period)
	if err != nil {
		return nil, err
	}

	var totals commission.SettlementTotals
	for _, t := range txs {
		totals = totals.Add(t.AmountEligible, t.Commission.MechanicAmount, t.Commission.PlatformAmount)
	}

	return &commission.PreviewResult{Items: txs, Totals: totals, Count: len(txs)}, nil
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// MarkPaid flips an OPEN settlement to PAID and cascades SETTLED onto
// every transaction it claimed. Exactly one of two concurrent calls
// succeeds; the other gets a ConflictError. Admin only.
func (s *Service) MarkPaid(ctx context.Context, actor commission.Actor, id commission.SettlementID) (*commission.Settlement, error) {
	if err := actor.Require("mark-paid", commission.RoleAdmin); err != nil {
		return nil, err
	}

	settlement, err := s.store.MarkPaid(ctx, id, time.Now().UTC())
	if err != nil {
		metrics.ObserveSettlementPaid(metrics.ResultError)
		return nil, err
	}

	metrics.ObserveSettlementPaid(metrics.ResultOK)
	s.log.Info("settlement paid",
		zap.Int64("settlement_id", int64(settlement.ID)),
		zap.Int64("vendor_id", int64(settlement.VendorID)),
		zap.Time("paid_at", *settlement.PaidAt))

	s.notifier.SettlementPaid(ctx, settlement)
	return settlement, nil
}

// =============================================================================
// READS
// =============================================================================

// Get returns one settlement, access-checked: a vendor sees only its
// own settlements; a mechanic sees only settlements containing at
// least one of its transactions. Foreign rows surface as NotFound.
func (s *Service) Get(ctx context.Context, actor commission.Actor, id commission.SettlementID) (*commission.Settlement, error) {
	if err := actor.Require("get-settlement", commission.RoleAdmin, commission.RoleVendor, commission.RoleMechanic); err != nil {
		return nil, err
	}

	settlement, err := s.store.GetSettlement(ctx, id)
	if err != nil {
		return nil, err
	}
	if settlement == nil {
		return nil, &commission.NotFoundError{Kind: "settlement", Ref: fmt.Sprintf("%d", id)}
	}
	if actor.Is(commission.RoleVendor) && int64(settlement.VendorID) != actor.ID {
		return nil, &commission.NotFoundError{Kind: "settlement", Ref: fmt.Sprintf("%d", id)}
	}
	if actor.Is(commission.RoleMechanic) {
		ok, err := s.containsMechanic(ctx, settlement, commission.MechanicID(actor.ID))
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &commission.NotFoundError{Kind: "settlement", Ref: fmt.Sprintf("%d", id)}
		}
	}
	return settlement, nil
}

// containsMechanic reports whether any of the settlement's claimed
// transactions belong to the mechanic.
func (s *Service) containsMechanic(ctx context.Context, settlement *commission.Settlement, id commission.MechanicID) (bool, error) {
	mine, err := s.store.ListSettlements(ctx, commission.SettlementFilter{
		VendorID:   &settlement.VendorID,
		MechanicID: &id,
	})
	if err != nil {
		return false, err
	}
	for _, st := range mine {
		if st.ID == settlement.ID {
			return true, nil
		}
	}
	return false, nil
}

// Items returns the line items of a settlement the actor may see.
func (s *Service) Items(ctx context.Context, actor commission.Actor, id commission.SettlementID) ([]commission.SettlementItem, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	return s.store.ListSettlementItems(ctx, id)
}

// List returns settlements visible to the actor. Vendor and mechanic
// scopes are forced onto the filter regardless of what was requested.
func (s *Service) List(ctx context.Context, actor commission.Actor, f commission.SettlementFilter) ([]commission.Settlement, error) {
	if err := actor.Require("list-settlements", commission.RoleAdmin, commission.RoleVendor, commission.RoleMechanic); err != nil {
		return nil, err
	}
	if actor.Is(commission.RoleVendor) {
		vid := commission.VendorID(actor.ID)
		f.VendorID = &vid
	}
	if actor.Is(commission.RoleMechanic) {
		mid := commission.MechanicID(actor.ID)
		f.MechanicID = &mid
	}
	return s.store.ListSettlements(ctx, f)
}
