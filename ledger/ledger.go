/*
ledger.go - Transaction recording service

PURPOSE:
  Wraps the commission core with the business rules for recording a
  sale: validate the draft, resolve and gate the parties, compute the
  frozen commission split, and hand one atomic unit to the store.

WHY A SERVICE LAYER?
  The store knows how to persist a draft atomically; it does not know
  which drafts are acceptable. This layer owns the acceptance rules:
  - vendor must exist and be ACTIVE
  - mechanic must exist (by id or referral code) with an active QR
  - amounts must be positive, eligible <= total
  - the commission split is computed HERE, before persistence, so the
    stored breakdown is frozen at creation

IDEMPOTENCY:
  A caller-supplied idempotency key is scoped per vendor. Replaying the
  same key returns the original record as a success; the caller cannot
  tell a replay from the first write except by the Replayed flag.

ERROR HANDLING:
  Returns the shared taxonomy (ValidationError, NotFoundError,
  InactiveResourceError, ConflictError). Callers branch with
  commission.IsClientError / IsNotFound / IsConflict.

SEE ALSO:
  - commission/calc.go: The pure commission computation
  - store/sqlite: The atomic persistence unit behind Record
*/
package ledger

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/gearlink/commission-engine/commission"
	"github.com/gearlink/commission-engine/metrics"
)

// =============================================================================
// LEDGER SERVICE
// =============================================================================

// Ledger records commission-bearing transactions and serves reads over
// them.
type Ledger struct {
	store    commission.Store
	calc     commission.Calculator
	notifier commission.Notifier
	log      *zap.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithCalculator overrides the default commission rates.
func WithCalculator(c commission.Calculator) Option {
	return func(l *Ledger) { l.calc = c }
}

// WithNotifier sets the post-commit notifier.
func WithNotifier(n commission.Notifier) Option {
	return func(l *Ledger) { l.notifier = n }
}

// New creates a transaction ledger over the given store.
func New(store commission.Store, log *zap.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		store: store,
		calc:  commission.NewCalculator(),
		log:   log,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.notifier == nil {
		l.notifier = &commission.LogNotifier{Log: log}
	}
	return l
}

// =============================================================================
// RECORDING
// =============================================================================

// RecordRequest is a vendor's request to record one sale.
type RecordRequest struct {
	VendorID       commission.VendorID
	MechanicID     commission.MechanicID // zero when MechanicCode is set
	MechanicCode   string                // referral code, alternative to MechanicID
	CustomerPhone  string
	AmountTotal    commission.Money
	AmountEligible commission.Money
	Note           string
	IdempotencyKey string // optional; scoped per vendor
	OrderCode      string // optional; consume this order in the same unit
}

// RecordResult carries the recorded transaction and whether the call
// was an idempotent replay of an earlier one.
type RecordResult struct {
	Transaction *commission.Transaction
	Replayed    bool
}

// Record validates the request, computes the commission split, and
// persists everything as one atomic unit. A replayed idempotency key is
// a success that returns the original record.
func (l *Ledger) Record(ctx context.Context, req RecordRequest) (*RecordResult, error) {
	if err := l.validate(req); err != nil {
		return nil, err
	}

	vendor, err := l.store.GetVendor(ctx, req.VendorID)
	if err != nil {
		return nil, err
	}
	if vendor == nil {
		return nil, &commission.NotFoundError{Kind: "vendor", Ref: fmt.Sprintf("%d", req.VendorID)}
	}
	if !vendor.Active() {
		return nil, &commission.InactiveResourceError{Kind: "vendor", Ref: fmt.Sprintf("%d", vendor.ID)}
	}

	mechanic, err := l.resolveMechanic(ctx, req)
	if err != nil {
		return nil, err
	}
	if !mechanic.QRActive {
		return nil, &commission.InactiveResourceError{Kind: "mechanic", Ref: mechanic.Code}
	}

	mechAmount, platAmount := l.calc.Compute(req.AmountEligible)

	draft := commission.TransactionDraft{
		VendorID:       vendor.ID,
		MechanicID:     mechanic.ID,
		CustomerPhone:  req.CustomerPhone,
		AmountTotal:    req.AmountTotal,
		AmountEligible: req.AmountEligible,
		Note:           req.Note,
		IdempotencyKey: req.IdempotencyKey,
		Commission: commission.Commission{
			RateMechanic:   l.calc.RateMechanic,
			RatePlatform:   l.calc.RatePlatform,
			MechanicAmount: mechAmount,
			PlatformAmount: platAmount,
		},
		ConsumeOrderCode: req.OrderCode,
	}

	tx, replayed, err := l.store.CreateTransaction(ctx, draft)
	if err != nil {
		metrics.ObserveTransactionRecord(metrics.ResultError)
		return nil, err
	}

	if replayed {
		metrics.ObserveTransactionRecord(metrics.ResultReplay)
		l.log.Info("transaction replayed",
			zap.Int64("transaction_id", int64(tx.ID)),
			zap.Int64("vendor_id", int64(tx.VendorID)),
			zap.String("idempotency_key", req.IdempotencyKey))
		return &RecordResult{Transaction: tx, Replayed: true}, nil
	}

	metrics.ObserveTransactionRecord(metrics.ResultOK)
	l.log.Info("transaction recorded",
		zap.Int64("transaction_id", int64(tx.ID)),
		zap.Int64("vendor_id", int64(tx.VendorID)),
		zap.Int64("mechanic_id", int64(tx.MechanicID)),
		zap.String("amount_eligible", tx.AmountEligible.String()))

	// Post-commit only. A notifier failure is logged inside the
	// notifier and never rolls back the transaction.
	l.notifier.TransactionCreated(ctx, tx)

	return &RecordResult{Transaction: tx}, nil
}

func (l *Ledger) validate(req RecordRequest) error {
	if req.VendorID == 0 {
		return &commission.ValidationError{Field: "vendorId", Message: "is required"}
	}
	if req.MechanicID == 0 && req.MechanicCode == "" {
		return &commission.ValidationError{Field: "mechanic", Message: "mechanicId or mechanicCode is required"}
	}
	if req.CustomerPhone == "" {
		return &commission.ValidationError{Field: "customerPhone", Message: "is required"}
	}
	if !req.AmountTotal.IsPositive() {
		return &commission.ValidationError{Field: "amountTotal", Message: "must be positive"}
	}
	if !req.AmountEligible.IsPositive() {
		return &commission.ValidationError{Field: "amountEligible", Message: "must be positive"}
	}
	if req.AmountEligible.GreaterThan(req.AmountTotal) {
		return &commission.ValidationError{Field: "amountEligible", Message: "must not exceed amountTotal"}
	}
	if req.OrderCode != "" && !commission.IsValidOrderCode(req.OrderCode) {
		return &commission.ValidationError{Field: "orderCode", Message: "malformed order code"}
	}
	return nil
}

func (l *Ledger) resolveMechanic(ctx context.Context, req RecordRequest) (*commission.Mechanic, error) {
	if req.MechanicCode != "" {
		m, err := l.store.GetMechanicByCode(ctx, req.MechanicCode)
		if err != nil {
			return nil, err
		}
		if m == nil {
			return nil, &commission.NotFoundError{Kind: "mechanic", Ref: req.MechanicCode}
		}
		return m, nil
	}
	m, err := l.store.GetMechanic(ctx, req.MechanicID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, &commission.NotFoundError{Kind: "mechanic", Ref: fmt.Sprintf("%d", req.MechanicID)}
	}
	return m, nil
}

// =============================================================================
// READS
// =============================================================================

// Get returns one transaction, access-checked against the actor: a
// vendor sees only its own rows, a mechanic only its referrals.
func (l *Ledger) Get(ctx context.Context, actor commission.Actor, id commission.TransactionID) (*commission.Transaction, error) {
	tx, err := l.store.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, &commission.NotFoundError{Kind: "transaction", Ref: fmt.Sprintf("%d", id)}
	}
	switch actor.Role {
	case commission.RoleVendor:
		if int64(tx.VendorID) != actor.ID {
			return nil, &commission.NotFoundError{Kind: "transaction", Ref: fmt.Sprintf("%d", id)}
		}
	case commission.RoleMechanic:
		if int64(tx.MechanicID) != actor.ID {
			return nil, &commission.NotFoundError{Kind: "transaction", Ref: fmt.Sprintf("%d", id)}
		}
	}
	return tx, nil
}

// List returns transactions visible to the actor. Vendor and mechanic
// scopes are forced onto the filter regardless of what the caller
// requested.
func (l *Ledger) List(ctx context.Context, actor commission.Actor, f commission.TransactionFilter) ([]commission.Transaction, error) {
	switch actor.Role {
	case commission.RoleVendor:
		vid := commission.VendorID(actor.ID)
		f.VendorID = &vid
	case commission.RoleMechanic:
		mid := commission.MechanicID(actor.ID)
		f.MechanicID = &mid
	}
	return l.store.ListTransactions(ctx, f)
}
