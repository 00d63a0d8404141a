/*
store.go - Persistence interfaces for the commission/settlement core

PURPOSE:
  Defines the contract between domain logic and the database. The core
  needs a persistence layer that supports atomic multi-row
  read-modify-write; everything race-sensitive is pushed into single
  store operations so the implementation can wrap them in one SQL
  transaction backed by uniqueness constraints.

WHERE THE INVARIANTS LIVE:
  - (vendor_id, idempotency_key) UNIQUE: two racing identical retries
    produce one winner and one replay, deterministically.
  - settlement_items.transaction_id UNIQUE: a transaction can ever be
    claimed by one settlement. The eligibility query alone is NOT safe
    under concurrent batchers; this constraint is the real mechanism.

ATOMIC UNITS:
  CreateTransaction, CreateSettlementBatch and MarkPaid each execute as
  one store-level transaction: they either fully commit or fully abort
  with an error from the commission taxonomy. Nothing in these units
  blocks on external I/O; notification happens after commit.

IMPLEMENTATIONS:
  - store/sqlite: production implementation, also used in-memory by
    tests (sqlite.New(":memory:")).

SEE ALSO:
  - ledger/ledger.go, settle/: Services built on these interfaces
  - store/sqlite/sqlite.go: Schema and constraint translation
*/
package commission

import (
	"context"
	"time"
)

// =============================================================================
// DIRECTORY - Read-mostly vendor/mechanic lookups
// =============================================================================

// DirectoryStore resolves vendors and mechanics. The directory is owned
// by an external admin surface; the core treats it as lookups plus the
// minimal writes the admin handlers need.
type DirectoryStore interface {
	GetVendor(ctx context.Context, id VendorID) (*Vendor, error)
	GetMechanic(ctx context.Context, id MechanicID) (*Mechanic, error)
	// GetMechanicByCode resolves a referral code. Returns (nil, nil)
	// when the code is unknown.
	GetMechanicByCode(ctx context.Context, code string) (*Mechanic, error)

	SaveVendor(ctx context.Context, v *Vendor) error
	SaveMechanic(ctx context.Context, m *Mechanic) error
	ListVendors(ctx context.Context) ([]Vendor, error)
	ListMechanics(ctx context.Context) ([]Mechanic, error)
}

// =============================================================================
// ORDERS
// =============================================================================

// OrderStore persists mechanic-created orders. Consumption does not
// appear here: it happens inside TransactionDraft handling so that
// "consume if PENDING and owned by this mechanic" shares the atomic
// unit of the transaction write.
type OrderStore interface {
	CreateOrder(ctx context.Context, o *Order) error
	GetOrderByCode(ctx context.Context, code string) (*Order, error)
	ListOrdersByMechanic(ctx context.Context, id MechanicID) ([]Order, error)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// TransactionDraft is everything CreateTransaction persists in one
// atomic unit: the transaction row, its commission row, and (when
// ConsumeOrderCode is set) the PENDING->CONSUMED order transition.
type TransactionDraft struct {
	VendorID       VendorID
	MechanicID     MechanicID
	CustomerPhone  string
	AmountTotal    Money
	AmountEligible Money
	Note           string
	IdempotencyKey string
	Commission     Commission

	// ConsumeOrderCode, when non-empty, transitions the named order
	// PENDING->CONSUMED in the same unit. The order must belong to
	// MechanicID; a second attempt fails with ConflictError.
	ConsumeOrderCode string
}

// TransactionFilter narrows transaction listings.
type TransactionFilter struct {
	VendorID   *VendorID
	MechanicID *MechanicID
	Status     *TransactionStatus
	Period     *DateRange
	Limit      int
	Offset     int
}

// TransactionStore persists the append-only transaction ledger.
type TransactionStore interface {
	// CreateTransaction persists draft atomically. If the draft's
	// idempotency key already exists for the vendor, it returns the
	// existing record with replayed=true and writes nothing - that is
	// the success path for retried requests, not an error.
	CreateTransaction(ctx context.Context, draft TransactionDraft) (tx *Transaction, replayed bool, err error)

	GetTransaction(ctx context.Context, id TransactionID) (*Transaction, error)
	ListTransactions(ctx context.Context, f TransactionFilter) ([]Transaction, error)
}

// =============================================================================
// SETTLEMENTS
// =============================================================================

// SettlementFilter narrows settlement listings. MechanicID matches
// settlements containing at least one of the mechanic's transactions.
type SettlementFilter struct {
	VendorID   *VendorID
	MechanicID *MechanicID
	Status     *SettlementStatus
	Limit      int
	Offset     int
}

// SettlementStore persists settlements and enforces the one-settlement-
// per-transaction invariant.
type SettlementStore interface {
	// EligibleTransactions evaluates the shared eligibility predicate:
	// vendor match, PENDING, createdAt within the window, optional
	// mechanic filter, not referenced by any settlement item. Used by
	// Preview; the batcher re-evaluates it inside its own unit.
	EligibleTransactions(ctx context.Context, vendorID VendorID, mechanicID *MechanicID, period DateRange) ([]Transaction, error)

	// CreateSettlementBatch runs the whole batch unit: re-evaluate the
	// predicate, sum commission rows, insert the OPEN settlement plus
	// one item per transaction, commit. Returns (nil, 0, nil) when the
	// eligible set is empty. A racing batch that loses a contested
	// transaction aborts entirely with ConflictError.
	CreateSettlementBatch(ctx context.Context, vendorID VendorID, mechanicID *MechanicID, period DateRange) (*Settlement, int, error)

	// MarkPaid atomically sets status=PAID + paidAt and cascades every
	// referenced transaction PENDING->SETTLED. NotFoundError when the
	// settlement is absent, ConflictError when already PAID.
	MarkPaid(ctx context.Context, id SettlementID, paidAt time.Time) (*Settlement, error)

	GetSettlement(ctx context.Context, id SettlementID) (*Settlement, error)
	ListSettlementItems(ctx context.Context, id SettlementID) ([]SettlementItem, error)
	ListSettlements(ctx context.Context, f SettlementFilter) ([]Settlement, error)
}

// =============================================================================
// REPORTING
// =============================================================================

// ReportStore serves the read-only projections behind stats endpoints.
type ReportStore interface {
	VendorTotals(ctx context.Context, id VendorID, period DateRange) (*PartyTotals, error)
	MechanicTotals(ctx context.Context, id MechanicID, period DateRange) (*PartyTotals, error)
}

// Store is the full persistence surface the engine needs.
type Store interface {
	DirectoryStore
	OrderStore
	TransactionStore
	SettlementStore
	ReportStore
}
