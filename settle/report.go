/*
report.go - Aggregated earnings views for vendors and mechanics

Computes window totals from the ledger, never from settlement rows, so
the figures stay correct for transactions that were never batched.
*/
package settle

import (
	"context"
	"fmt"

	"github.com/gearlink/commission-engine/commission"
)

// VendorStats aggregates a vendor's activity over a window. Admin sees
// any vendor; a vendor sees only itself.
func (s *Service) VendorStats(ctx context.Context, actor commission.Actor, id commission.VendorID, period commission.DateRange) (*commission.PartyTotals, error) {
	if err := actor.Require("vendor-stats", commission.RoleAdmin, commission.RoleVendor); err != nil {
		return nil, err
	}
	if actor.Is(commission.RoleVendor) && int64(id) != actor.ID {
		return nil, &commission.NotFoundError{Kind: "vendor", Ref: fmt.Sprintf("%d", id)}
	}

	vendor, err := s.store.GetVendor(ctx, id)
	if err != nil {
		return nil, err
	}
	if vendor == nil {
		return nil, &commission.NotFoundError{Kind: "vendor", Ref: fmt.Sprintf("%d", id)}
	}

	return s.store.VendorTotals(ctx, id, period)
}

// MechanicStats aggregates a mechanic's referral earnings over a
// window. Admin sees any mechanic; a mechanic sees only itself.
func (s *Service) MechanicStats(ctx context.Context, actor commission.Actor, id commission.MechanicID, period commission.DateRange) (*commission.PartyTotals, error) {
	if err := actor.Require("mechanic-stats", commission.RoleAdmin, commission.RoleMechanic); err != nil {
		return nil, err
	}
	if actor.Is(commission.RoleMechanic) && int64(id) != actor.ID {
		return nil, &commission.NotFoundError{Kind: "mechanic", Ref: fmt.Sprintf("%d", id)}
	}

	mechanic, err := s.store.GetMechanic(ctx, id)
	if err != nil {
		return nil, err
	}
	if mechanic == nil {
		return nil, &commission.NotFoundError{Kind: "mechanic", Ref: fmt.Sprintf("%d", id)}
	}

	return s.store.MechanicTotals(ctx, id, period)
}
