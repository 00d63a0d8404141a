/*
types.go - Domain entities for the commission/settlement core

KEY CONCEPTS IN THIS FILE:
  - Transaction: one commission-bearing sale event (append-only audit)
  - Commission: the frozen 1:1 commission computation for a transaction
  - Settlement: one payable batch for one vendor over one date window
  - SettlementItem: join row tying a transaction into exactly one
    settlement, ever - the central global invariant of the core
  - Vendor / Mechanic / Order: directory and order entities the core
    reads or transitions but does not otherwise own

LIFECYCLES:
  Transaction: PENDING --(mark-paid cascade)--> SETTLED (terminal)
               alternate terminal CANCELLED, set outside this core.
  Settlement:  OPEN --MarkPaid--> PAID (terminal, append-only).
  Order:       PENDING --consume--> CONSUMED (at most once);
               CANCELLED/EXPIRED are administrative terminals.

IMMUTABILITY:
  Once a transaction is SETTLED its amounts and mechanic reference are
  immutable. Commission rows are computed once at creation and never
  altered. Settlement totals are frozen snapshots taken at creation.

SEE ALSO:
  - period.go: DateRange (inclusive day-granularity windows)
  - store.go: Persistence interfaces over these entities
*/
package commission

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type (
	TransactionID int64
	SettlementID  int64
	VendorID      int64
	MechanicID    int64
	OrderID       int64
)

// =============================================================================
// STATUSES
// =============================================================================

type TransactionStatus string

const (
	TxPending   TransactionStatus = "PENDING"
	TxSettled   TransactionStatus = "SETTLED"
	TxCancelled TransactionStatus = "CANCELLED"
)

type SettlementStatus string

const (
	SettlementOpen SettlementStatus = "OPEN"
	SettlementPaid SettlementStatus = "PAID"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderConsumed  OrderStatus = "CONSUMED"
	OrderCancelled OrderStatus = "CANCELLED"
	OrderExpired   OrderStatus = "EXPIRED"
)

type VendorStatus string

const (
	VendorActive    VendorStatus = "ACTIVE"
	VendorSuspended VendorStatus = "SUSPENDED"
)

// =============================================================================
// DIRECTORY ENTITIES
// =============================================================================

// Vendor is a store that records commission-bearing sales.
type Vendor struct {
	ID        VendorID
	StoreName string
	City      string
	Status    VendorStatus
	CreatedAt time.Time
}

func (v Vendor) Active() bool { return v.Status == VendorActive }

// Mechanic refers customers to vendors via a short referral code
// (printed as a QR). QRActive gates whether the code can still be used.
type Mechanic struct {
	ID        MechanicID
	FullName  string
	Code      string
	QRActive  bool
	CreatedAt time.Time
}

// =============================================================================
// ORDERS
// =============================================================================

// Order is a mechanic-created shopping list a customer carries to a
// vendor. A vendor may consume it when recording the sale; consumption
// is at-most-once and happens in the same atomic unit as the
// transaction write.
type Order struct {
	ID            OrderID
	Code          string
	MechanicID    MechanicID
	CustomerPhone string
	Note          string
	Status        OrderStatus
	ConsumedByTx  *TransactionID
	Items         []OrderItem
	CreatedAt     time.Time
	ConsumedAt    *time.Time
}

type OrderItem struct {
	Title    string
	Quantity int
	Note     string
}

// =============================================================================
// TRANSACTION + COMMISSION
// =============================================================================

// Transaction is one commission-eligible sale event. Append-only:
// created by a vendor action, status-transitioned only by the
// settlement lifecycle, never deleted.
type Transaction struct {
	ID             TransactionID
	VendorID       VendorID
	MechanicID     MechanicID
	CustomerPhone  string
	AmountTotal    Money
	AmountEligible Money
	Note           string
	Status         TransactionStatus
	IdempotencyKey string // empty = none; unique per vendor when set
	CreatedAt      time.Time

	// Commission is loaded alongside the transaction (1:1, never nil
	// on records read back from the store).
	Commission *Commission
}

// Commission is the frozen commission computation for one transaction.
// Created atomically with it; never updated. Rate changes apply only to
// future transactions.
type Commission struct {
	TransactionID  TransactionID
	RateMechanic   decimal.Decimal
	RatePlatform   decimal.Decimal
	MechanicAmount Money
	PlatformAmount Money
}

// =============================================================================
// SETTLEMENT + ITEMS
// =============================================================================

// Settlement is one payable batch for one vendor over one date window.
// Totals are snapshots taken at creation and never recomputed.
type Settlement struct {
	ID                  SettlementID
	VendorID            VendorID
	Period              DateRange
	TotalAmountEligible Money
	TotalMechanicAmount Money
	TotalPlatformAmount Money
	Status              SettlementStatus
	CreatedAt           time.Time
	PaidAt              *time.Time
}

// SettlementItem ties one transaction into one settlement. A
// transaction id appears in at most one item across ALL settlements;
// the store enforces this with a unique constraint, which is the
// concurrency-correctness mechanism for the whole core.
type SettlementItem struct {
	SettlementID   SettlementID
	TransactionID  TransactionID
	MechanicAmount Money
	PlatformAmount Money
}

// =============================================================================
// OPERATION RESULTS
// =============================================================================

// SettlementTotals are the aggregate figures of a batch.
type SettlementTotals struct {
	Eligible Money
	Mechanic Money
	Platform Money
}

// Add folds one transaction's figures into the totals.
func (t SettlementTotals) Add(eligible, mechanic, platform Money) SettlementTotals {
	return SettlementTotals{
		Eligible: t.Eligible.Add(eligible),
		Mechanic: t.Mechanic.Add(mechanic),
		Platform: t.Platform.Add(platform),
	}
}

// SettlementResult is the outcome of a batch attempt. An empty eligible
// set is a normal success with Created=false, not an error.
type SettlementResult struct {
	Created      bool
	SettlementID SettlementID
	Totals       SettlementTotals
	Count        int
}

// PreviewResult is the read-only projection of what a batch would
// contain, computed with the same eligibility predicate the batcher
// uses.
type PreviewResult struct {
	Items  []Transaction
	Totals SettlementTotals
	Count  int
}

// PartyTotals aggregates a vendor's or mechanic's activity over a
// window, split by transaction status.
type PartyTotals struct {
	TransactionCount int
	PendingCount     int
	SettledCount     int
	TotalEligible    Money
	MechanicEarned   Money
	PlatformEarned   Money
}
