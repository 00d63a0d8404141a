package commission

import (
	"context"

	"go.uber.org/zap"
)

// =============================================================================
// NOTIFIER - Post-commit hooks to external delivery (SMS etc.)
// =============================================================================

// Notifier is invoked strictly after the financial write has committed.
// Delivery is at-least-once and best-effort: a notification failure is
// logged by the caller and never rolls back the commit.
type Notifier interface {
	TransactionCreated(ctx context.Context, tx *Transaction) error
	SettlementPaid(ctx context.Context, s *Settlement) error
}

// LogNotifier is the default Notifier; it only records the event.
// Production wires an SMS gateway behind the same interface.
type LogNotifier struct {
	Log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogNotifier{Log: log}
}

func (n *LogNotifier) TransactionCreated(ctx context.Context, tx *Transaction) error {
	n.Log.Info("transaction created",
		zap.Int64("transaction_id", int64(tx.ID)),
		zap.Int64("vendor_id", int64(tx.VendorID)),
		zap.Int64("mechanic_id", int64(tx.MechanicID)),
		zap.String("amount_eligible", tx.AmountEligible.String()),
	)
	return nil
}

func (n *LogNotifier) SettlementPaid(ctx context.Context, s *Settlement) error {
	n.Log.Info("settlement paid",
		zap.Int64("settlement_id", int64(s.ID)),
		zap.Int64("vendor_id", int64(s.VendorID)),
		zap.String("total_mechanic", s.TotalMechanicAmount.String()),
	)
	return nil
}
