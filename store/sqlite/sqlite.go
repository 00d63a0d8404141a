/*
Package sqlite provides the SQLite-backed implementation of the
commission.Store interfaces.

PURPOSE:
  Implements all persistence interfaces (DirectoryStore, OrderStore,
  TransactionStore, SettlementStore, ReportStore) using SQLite. In
  production, the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

CONSTRAINTS AS CORRECTNESS MECHANISMS:
  Two unique indexes carry the engine's concurrency guarantees:
  - idx_tx_vendor_idempotency: UNIQUE(vendor_id, idempotency_key).
    Racing identical retries produce exactly one transaction; the
    loser's insert fails and is served the winner's row as a replay.
  - idx_settlement_items_tx: UNIQUE(transaction_id) across ALL
    settlements. Racing batchers over overlapping windows cannot both
    claim a transaction; the loser's batch aborts whole.

ATOMIC UNITS:
  CreateTransaction, CreateSettlementBatch and MarkPaid each run inside
  one BEGIN...COMMIT. A failure anywhere rolls the whole unit back;
  partial writes cannot happen.

MONEY STORAGE:
  Monetary columns are TEXT holding canonical decimal strings. Sums are
  computed in Go with decimal arithmetic, never with SQL SUM over
  floats, so stored totals are exactly reproducible.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging): readers don't block,
  one writer at a time, better crash recovery.

USAGE:
  store, err := sqlite.New("./data/commission.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - commission/store.go: Interface definitions
  - ledger/, settle/: Services built on this store
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/gearlink/commission-engine/commission"
)

// Store implements commission.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ commission.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Vendor directory
	CREATE TABLE IF NOT EXISTS vendors (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		store_name TEXT NOT NULL,
		city TEXT,
		status TEXT NOT NULL DEFAULT 'ACTIVE',
		created_at TEXT NOT NULL
	);

	-- Mechanic directory (referral codes)
	CREATE TABLE IF NOT EXISTS mechanics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		full_name TEXT NOT NULL,
		code TEXT NOT NULL UNIQUE,
		qr_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);

	-- Mechanic-created orders, consumed at most once by a transaction
	CREATE TABLE IF NOT EXISTS orders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		code TEXT NOT NULL UNIQUE,
		mechanic_id INTEGER NOT NULL REFERENCES mechanics(id),
		customer_phone TEXT NOT NULL,
		note TEXT,
		status TEXT NOT NULL DEFAULT 'PENDING',
		consumed_by_tx INTEGER,
		created_at TEXT NOT NULL,
		consumed_at TEXT
	);

	CREATE TABLE IF NOT EXISTS order_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id INTEGER NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		title TEXT NOT NULL,
		quantity INTEGER NOT NULL DEFAULT 1,
		note TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_orders_mechanic
		ON orders(mechanic_id);

	-- Append-only commission ledger
	CREATE TABLE IF NOT EXISTS transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		vendor_id INTEGER NOT NULL REFERENCES vendors(id),
		mechanic_id INTEGER NOT NULL REFERENCES mechanics(id),
		customer_phone TEXT NOT NULL,
		amount_total TEXT NOT NULL,
		amount_eligible TEXT NOT NULL,
		note TEXT,
		status TEXT NOT NULL DEFAULT 'PENDING',
		idempotency_key TEXT,
		created_at TEXT NOT NULL
	);

	-- CRITICAL: deterministic winner for racing identical retries
	CREATE UNIQUE INDEX IF NOT EXISTS idx_tx_vendor_idempotency
		ON transactions(vendor_id, idempotency_key)
		WHERE idempotency_key IS NOT NULL;

	-- Eligibility query hot path
	CREATE INDEX IF NOT EXISTS idx_tx_vendor_status_created
		ON transactions(vendor_id, status, created_at);
	CREATE INDEX IF NOT EXISTS idx_tx_mechanic_created
		ON transactions(mechanic_id, created_at);

	-- Commission breakdown, 1:1 with transactions, frozen at creation
	CREATE TABLE IF NOT EXISTS commissions (
		transaction_id INTEGER PRIMARY KEY REFERENCES transactions(id),
		rate_mechanic TEXT NOT NULL,
		rate_platform TEXT NOT NULL,
		mechanic_amount TEXT NOT NULL,
		platform_amount TEXT NOT NULL
	);

	-- Append-only settlement batches
	CREATE TABLE IF NOT EXISTS settlements (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		vendor_id INTEGER NOT NULL REFERENCES vendors(id),
		period_from TEXT NOT NULL,
		period_to TEXT NOT NULL,
		total_amount_eligible TEXT NOT NULL,
		total_mechanic_amount TEXT NOT NULL,
		total_platform_amount TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'OPEN',
		created_at TEXT NOT NULL,
		paid_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_settlements_vendor
		ON settlements(vendor_id);
	CREATE INDEX IF NOT EXISTS idx_settlements_status
		ON settlements(status);

	CREATE TABLE IF NOT EXISTS settlement_items (
		settlement_id INTEGER NOT NULL REFERENCES settlements(id),
		transaction_id INTEGER NOT NULL REFERENCES transactions(id),
		mechanic_amount TEXT NOT NULL,
		platform_amount TEXT NOT NULL,
		PRIMARY KEY (settlement_id, transaction_id)
	);

	-- CRITICAL: the global exclusion constraint. A transaction id may
	-- appear in at most one settlement item EVER, across all
	-- settlements. Concurrent batchers race on this index, not on an
	-- application-level check.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_settlement_items_tx
		ON settlement_items(transaction_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// DIRECTORY STORE
// =============================================================================

// SaveVendor inserts or updates a vendor. A zero ID assigns a new one.
func (s *Store) SaveVendor(ctx context.Context, v *commission.Vendor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	if v.Status == "" {
		v.Status = commission.VendorActive
	}

	if v.ID == 0 {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO vendors (store_name, city, status, created_at) VALUES (?, ?, ?, ?)`,
			v.StoreName, nullString(v.City), v.Status, v.CreatedAt.Format(time.RFC3339))
		if err != nil {
			return &commission.PersistenceError{Op: "save vendor", Err: err}
		}
		id, _ := res.LastInsertId()
		v.ID = commission.VendorID(id)
		return nil
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE vendors SET store_name = ?, city = ?, status = ? WHERE id = ?`,
		v.StoreName, nullString(v.City), v.Status, v.ID)
	if err != nil {
		return &commission.PersistenceError{Op: "save vendor", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &commission.NotFoundError{Kind: "vendor", Ref: fmt.Sprintf("%d", v.ID)}
	}
	return nil
}

// GetVendor retrieves a vendor by ID. Returns (nil, nil) when absent.
func (s *Store) GetVendor(ctx context.Context, id commission.VendorID) (*commission.Vendor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var v commission.Vendor
	var city sql.NullString
	var createdAt string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, store_name, city, status, created_at FROM vendors WHERE id = ?`, id,
	).Scan(&v.ID, &v.StoreName, &city, &v.Status, &createdAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &commission.PersistenceError{Op: "get vendor", Err: err}
	}

	v.City = city.String
	v.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &v, nil
}

// ListVendors returns all vendors ordered by store name.
func (s *Store) ListVendors(ctx context.Context) ([]commission.Vendor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, store_name, city, status, created_at FROM vendors ORDER BY store_name`)
	if err != nil {
		return nil, &commission.PersistenceError{Op: "list vendors", Err: err}
	}
	defer rows.Close()

	var vendors []commission.Vendor
	for rows.Next() {
		var v commission.Vendor
		var city sql.NullString
		var createdAt string
		if err := rows.Scan(&v.ID, &v.StoreName, &city, &v.Status, &createdAt); err != nil {
			return nil, &commission.PersistenceError{Op: "list vendors", Err: err}
		}
		v.City = city.String
		v.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		vendors = append(vendors, v)
	}
	return vendors, rows.Err()
}

// SaveMechanic inserts or updates a mechanic. A zero ID assigns a new
// one; an empty code gets a generated referral code.
func (s *Store) SaveMechanic(ctx context.Context, m *commission.Mechanic) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.Code == "" {
		m.Code = commission.GenerateMechanicCode()
	}

	if m.ID == 0 {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO mechanics (full_name, code, qr_active, created_at) VALUES (?, ?, ?, ?)`,
			m.FullName, m.Code, m.QRActive, m.CreatedAt.Format(time.RFC3339))
		if err != nil {
			if isUniqueConstraintError(err) {
				return &commission.ConflictError{Op: "save-mechanic", Reason: "code already in use"}
			}
			return &commission.PersistenceError{Op: "save mechanic", Err: err}
		}
		id, _ := res.LastInsertId()
		m.ID = commission.MechanicID(id)
		return nil
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE mechanics SET full_name = ?, code = ?, qr_active = ? WHERE id = ?`,
		m.FullName, m.Code, m.QRActive, m.ID)
	if err != nil {
		return &commission.PersistenceError{Op: "save mechanic", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &commission.NotFoundError{Kind: "mechanic", Ref: fmt.Sprintf("%d", m.ID)}
	}
	return nil
}

// GetMechanic retrieves a mechanic by ID. Returns (nil, nil) when absent.
func (s *Store) GetMechanic(ctx context.Context, id commission.MechanicID) (*commission.Mechanic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getMechanic(ctx,
		`SELECT id, full_name, code, qr_active, created_at FROM mechanics WHERE id = ?`, id)
}

// GetMechanicByCode resolves a referral code. Returns (nil, nil) when
// the code is unknown.
func (s *Store) GetMechanicByCode(ctx context.Context, code string) (*commission.Mechanic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getMechanic(ctx,
		`SELECT id, full_name, code, qr_active, created_at FROM mechanics WHERE code = ?`, code)
}

func (s *Store) getMechanic(ctx context.Context, query string, arg any) (*commission.Mechanic, error) {
	var m commission.Mechanic
	var createdAt string

	err := s.db.QueryRowContext(ctx, query, arg).
		Scan(&m.ID, &m.FullName, &m.Code, &m.QRActive, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &commission.PersistenceError{Op: "get mechanic", Err: err}
	}

	m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &m, nil
}

// ListMechanics returns all mechanics ordered by name.
func (s *Store) ListMechanics(ctx context.Context) ([]commission.Mechanic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, full_name, code, qr_active, created_at FROM mechanics ORDER BY full_name`)
	if err != nil {
		return nil, &commission.PersistenceError{Op: "list mechanics", Err: err}
	}
	defer rows.Close()

	var mechanics []commission.Mechanic
	for rows.Next() {
		var m commission.Mechanic
		var createdAt string
		if err := rows.Scan(&m.ID, &m.FullName, &m.Code, &m.QRActive, &createdAt); err != nil {
			return nil, &commission.PersistenceError{Op: "list mechanics", Err: err}
		}
		m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		mechanics = append(mechanics, m)
	}
	return mechanics, rows.Err()
}

// =============================================================================
// ORDER STORE
// =============================================================================

// CreateOrder persists an order with its items atomically. A zero ID
// assigns a new one; an empty code gets a generated public code.
func (s *Store) CreateOrder(ctx context.Context, o *commission.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	if o.Status == "" {
		o.Status = commission.OrderPending
	}
	if o.Code == "" {
		o.Code = commission.GenerateOrderCode()
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &commission.PersistenceError{Op: "create order", Err: err}
	}
	defer sqlTx.Rollback()

	res, err := sqlTx.ExecContext(ctx,
		`INSERT INTO orders (code, mechanic_id, customer_phone, note, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		o.Code, o.MechanicID, o.CustomerPhone, nullString(o.Note), o.Status,
		o.CreatedAt.Format(time.RFC3339))
	if err != nil {
		if isUniqueConstraintError(err) {
			return &commission.ConflictError{Op: "create-order", Reason: "order code already in use"}
		}
		return &commission.PersistenceError{Op: "create order", Err: err}
	}
	id, _ := res.LastInsertId()
	o.ID = commission.OrderID(id)

	for _, item := range o.Items {
		qty := item.Quantity
		if qty < 1 {
			qty = 1
		}
		if _, err := sqlTx.ExecContext(ctx,
			`INSERT INTO order_items (order_id, title, quantity, note) VALUES (?, ?, ?, ?)`,
			o.ID, item.Title, qty, nullString(item.Note)); err != nil {
			return &commission.PersistenceError{Op: "create order item", Err: err}
		}
	}

	if err := sqlTx.Commit(); err != nil {
		return &commission.PersistenceError{Op: "create order", Err: err}
	}
	return nil
}

// GetOrderByCode retrieves an order with its items. Returns (nil, nil)
// when the code is unknown.
func (s *Store) GetOrderByCode(ctx context.Context, code string) (*commission.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var o commission.Order
	var note, consumedAt sql.NullString
	var consumedBy sql.NullInt64
	var createdAt string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, code, mechanic_id, customer_phone, note, status, consumed_by_tx, created_at, consumed_at
		 FROM orders WHERE code = ?`, code,
	).Scan(&o.ID, &o.Code, &o.MechanicID, &o.CustomerPhone, &note, &o.Status,
		&consumedBy, &createdAt, &consumedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &commission.PersistenceError{Op: "get order", Err: err}
	}

	o.Note = note.String
	o.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if consumedBy.Valid {
		txID := commission.TransactionID(consumedBy.Int64)
		o.ConsumedByTx = &txID
	}
	if consumedAt.Valid {
		t, _ := time.Parse(time.RFC3339, consumedAt.String)
		o.ConsumedAt = &t
	}

	items, err := s.loadOrderItems(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	o.Items = items
	return &o, nil
}

// ListOrdersByMechanic returns a mechanic's orders, newest first.
func (s *Store) ListOrdersByMechanic(ctx context.Context, id commission.MechanicID) ([]commission.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, code, mechanic_id, customer_phone, note, status, consumed_by_tx, created_at, consumed_at
		 FROM orders WHERE mechanic_id = ? ORDER BY created_at DESC, id DESC`, id)
	if err != nil {
		return nil, &commission.PersistenceError{Op: "list orders", Err: err}
	}
	defer rows.Close()

	var orders []commission.Order
	for rows.Next() {
		var o commission.Order
		var note, consumedAt sql.NullString
		var consumedBy sql.NullInt64
		var createdAt string
		if err := rows.Scan(&o.ID, &o.Code, &o.MechanicID, &o.CustomerPhone, &note, &o.Status,
			&consumedBy, &createdAt, &consumedAt); err != nil {
			return nil, &commission.PersistenceError{Op: "list orders", Err: err}
		}
		o.Note = note.String
		o.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		if consumedBy.Valid {
			txID := commission.TransactionID(consumedBy.Int64)
			o.ConsumedByTx = &txID
		}
		if consumedAt.Valid {
			t, _ := time.Parse(time.RFC3339, consumedAt.String)
			o.ConsumedAt = &t
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (s *Store) loadOrderItems(ctx context.Context, id commission.OrderID) ([]commission.OrderItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT title, quantity, note FROM order_items WHERE order_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, &commission.PersistenceError{Op: "load order items", Err: err}
	}
	defer rows.Close()

	var items []commission.OrderItem
	for rows.Next() {
		var it commission.OrderItem
		var note sql.NullString
		if err := rows.Scan(&it.Title, &it.Quantity, &note); err != nil {
			return nil, &commission.PersistenceError{Op: "load order items", Err: err}
		}
		it.Note = note.String
		items = append(items, it)
	}
	return items, rows.Err()
}

// =============================================================================
// TRANSACTION STORE
// =============================================================================

// CreateTransaction persists the draft as one atomic unit: the
// transaction row, its commission row, and (when requested) the order
// consumption. An idempotent replay returns the existing record with
// replayed=true and writes nothing.
func (s *Store) CreateTransaction(ctx context.Context, draft commission.TransactionDraft) (*commission.Transaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, &commission.PersistenceError{Op: "create transaction", Err: err}
	}
	defer sqlTx.Rollback()

	// Replay check inside the unit. The unique index is the backstop
	// for racing writers that both pass this check.
	if draft.IdempotencyKey != "" {
		existing, err := s.findByIdempotencyKey(ctx, sqlTx, draft.VendorID, draft.IdempotencyKey)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			return existing, true, nil
		}
	}

	now := time.Now().UTC()
	res, err := sqlTx.ExecContext(ctx,
		`INSERT INTO transactions
		 (vendor_id, mechanic_id, customer_phone, amount_total, amount_eligible, note, status, idempotency_key, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		draft.VendorID, draft.MechanicID, draft.CustomerPhone,
		draft.AmountTotal.String(), draft.AmountEligible.String(),
		nullString(draft.Note), commission.TxPending,
		nullString(draft.IdempotencyKey), now.Format(time.RFC3339))
	if err != nil {
		if isUniqueConstraintError(err) {
			// Lost the race to an identical retry from another writer.
			// Serve the winner's row.
			sqlTx.Rollback()
			winner, ferr := s.findByIdempotencyKey(ctx, s.db, draft.VendorID, draft.IdempotencyKey)
			if ferr != nil {
				return nil, false, ferr
			}
			if winner != nil {
				return winner, true, nil
			}
			return nil, false, commission.ErrDuplicateIdempotencyKey
		}
		return nil, false, &commission.PersistenceError{Op: "create transaction", Err: err}
	}
	id, _ := res.LastInsertId()
	txID := commission.TransactionID(id)

	c := draft.Commission
	c.TransactionID = txID
	if _, err := sqlTx.ExecContext(ctx,
		`INSERT INTO commissions (transaction_id, rate_mechanic, rate_platform, mechanic_amount, platform_amount)
		 VALUES (?, ?, ?, ?, ?)`,
		txID, c.RateMechanic.String(), c.RatePlatform.String(),
		c.MechanicAmount.String(), c.PlatformAmount.String()); err != nil {
		return nil, false, &commission.PersistenceError{Op: "create commission", Err: err}
	}

	if draft.ConsumeOrderCode != "" {
		if err := s.consumeOrder(ctx, sqlTx, draft.ConsumeOrderCode, draft.MechanicID, txID, now); err != nil {
			return nil, false, err
		}
	}

	if err := sqlTx.Commit(); err != nil {
		return nil, false, &commission.PersistenceError{Op: "create transaction", Err: err}
	}

	return &commission.Transaction{
		ID:             txID,
		VendorID:       draft.VendorID,
		MechanicID:     draft.MechanicID,
		CustomerPhone:  draft.CustomerPhone,
		AmountTotal:    draft.AmountTotal,
		AmountEligible: draft.AmountEligible,
		Note:           draft.Note,
		Status:         commission.TxPending,
		IdempotencyKey: draft.IdempotencyKey,
		CreatedAt:      now,
		Commission:     &c,
	}, false, nil
}

// consumeOrder transitions PENDING->CONSUMED with a guarded UPDATE: the
// order must exist, belong to the referring mechanic, and still be
// PENDING. Zero rows affected means the transition was refused.
func (s *Store) consumeOrder(ctx context.Context, sqlTx *sql.Tx, code string, mechanicID commission.MechanicID, txID commission.TransactionID, now time.Time) error {
	var status commission.OrderStatus
	var owner commission.MechanicID
	err := sqlTx.QueryRowContext(ctx,
		`SELECT status, mechanic_id FROM orders WHERE code = ?`, code,
	).Scan(&status, &owner)
	if err == sql.ErrNoRows {
		return &commission.NotFoundError{Kind: "order", Ref: code}
	}
	if err != nil {
		return &commission.PersistenceError{Op: "consume order", Err: err}
	}
	if owner != mechanicID {
		return &commission.ConflictError{Op: "consume-order", Reason: "order belongs to a different mechanic"}
	}
	if status != commission.OrderPending {
		return &commission.ConflictError{Op: "consume-order", Reason: "order already " + strings.ToLower(string(status))}
	}

	res, err := sqlTx.ExecContext(ctx,
		`UPDATE orders SET status = ?, consumed_by_tx = ?, consumed_at = ?
		 WHERE code = ? AND status = ? AND mechanic_id = ?`,
		commission.OrderConsumed, txID, now.Format(time.RFC3339),
		code, commission.OrderPending, mechanicID)
	if err != nil {
		return &commission.PersistenceError{Op: "consume order", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &commission.ConflictError{Op: "consume-order", Reason: "order no longer consumable"}
	}
	return nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) findByIdempotencyKey(ctx context.Context, q queryer, vendorID commission.VendorID, key string) (*commission.Transaction, error) {
	txs, err := s.queryTransactions(ctx, q,
		txSelect+` WHERE t.vendor_id = ? AND t.idempotency_key = ?`, vendorID, key)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, nil
	}
	return &txs[0], nil
}

// GetTransaction retrieves a transaction with its commission breakdown.
// Returns (nil, nil) when absent.
func (s *Store) GetTransaction(ctx context.Context, id commission.TransactionID) (*commission.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	txs, err := s.queryTransactions(ctx, s.db, txSelect+` WHERE t.id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, nil
	}
	return &txs[0], nil
}

// ListTransactions returns transactions matching the filter, newest
// first.
func (s *Store) ListTransactions(ctx context.Context, f commission.TransactionFilter) ([]commission.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := txSelect + ` WHERE 1=1`
	var args []any

	if f.VendorID != nil {
		query += ` AND t.vendor_id = ?`
		args = append(args, *f.VendorID)
	}
	if f.MechanicID != nil {
		query += ` AND t.mechanic_id = ?`
		args = append(args, *f.MechanicID)
	}
	if f.Status != nil {
		query += ` AND t.status = ?`
		args = append(args, *f.Status)
	}
	if f.Period != nil {
		query += ` AND t.created_at >= ? AND t.created_at <= ?`
		args = append(args, f.Period.From.Format(time.RFC3339), f.Period.To.Format(time.RFC3339))
	}
	query += ` ORDER BY t.created_at DESC, t.id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}

	return s.queryTransactions(ctx, s.db, query, args...)
}

const txSelect = `
	SELECT t.id, t.vendor_id, t.mechanic_id, t.customer_phone,
	       t.amount_total, t.amount_eligible, t.note, t.status,
	       t.idempotency_key, t.created_at,
	       c.rate_mechanic, c.rate_platform, c.mechanic_amount, c.platform_amount
	FROM transactions t
	JOIN commissions c ON c.transaction_id = t.id`

func (s *Store) queryTransactions(ctx context.Context, q queryer, query string, args ...any) ([]commission.Transaction, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &commission.PersistenceError{Op: "query transactions", Err: err}
	}
	defer rows.Close()

	var txs []commission.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func scanTransaction(rows *sql.Rows) (commission.Transaction, error) {
	var (
		tx             commission.Transaction
		c              commission.Commission
		amountTotal    string
		amountEligible string
		note           sql.NullString
		idemKey        sql.NullString
		createdAt      string
		rateMechanic   string
		ratePlatform   string
		mechanicAmount string
		platformAmount string
	)

	err := rows.Scan(
		&tx.ID, &tx.VendorID, &tx.MechanicID, &tx.CustomerPhone,
		&amountTotal, &amountEligible, &note, &tx.Status,
		&idemKey, &createdAt,
		&rateMechanic, &ratePlatform, &mechanicAmount, &platformAmount,
	)
	if err != nil {
		return tx, &commission.PersistenceError{Op: "scan transaction", Err: err}
	}

	tx.AmountTotal = commission.MustParseMoney(amountTotal)
	tx.AmountEligible = commission.MustParseMoney(amountEligible)
	tx.Note = note.String
	tx.IdempotencyKey = idemKey.String
	tx.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

	c.TransactionID = tx.ID
	c.RateMechanic = mustParseDecimal(rateMechanic)
	c.RatePlatform = mustParseDecimal(ratePlatform)
	c.MechanicAmount = commission.MustParseMoney(mechanicAmount)
	c.PlatformAmount = commission.MustParseMoney(platformAmount)
	tx.Commission = &c

	return tx, nil
}

// =============================================================================
// SETTLEMENT STORE
// =============================================================================

const eligibleWhere = `
	t.vendor_id = ?
	AND t.status = 'PENDING'
	AND t.created_at >= ? AND t.created_at <= ?
	AND t.id NOT IN (SELECT transaction_id FROM settlement_items)`

// EligibleTransactions evaluates the shared eligibility predicate as a
// plain read, oldest first. The batcher re-evaluates the same predicate
// inside its own atomic unit; a preview is never authoritative.
func (s *Store) EligibleTransactions(ctx context.Context, vendorID commission.VendorID, mechanicID *commission.MechanicID, period commission.DateRange) ([]commission.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.eligibleTransactions(ctx, s.db, vendorID, mechanicID, period)
}

func (s *Store) eligibleTransactions(ctx context.Context, q queryer, vendorID commission.VendorID, mechanicID *commission.MechanicID, period commission.DateRange) ([]commission.Transaction, error) {
	query := txSelect + ` WHERE ` + eligibleWhere
	args := []any{vendorID, period.From.Format(time.RFC3339), period.To.Format(time.RFC3339)}
	if mechanicID != nil {
		query += ` AND t.mechanic_id = ?`
		args = append(args, *mechanicID)
	}
	query += ` ORDER BY t.id ASC`
	return s.queryTransactions(ctx, q, query, args...)
}

// CreateSettlementBatch runs the full batch unit: select eligible
// transactions, write the settlement with pre-computed totals, and
// claim every transaction through a settlement item. Returns
// (nil, 0, nil) when no transaction is eligible; an empty window is a
// normal result, not an error.
func (s *Store) CreateSettlementBatch(ctx context.Context, vendorID commission.VendorID, mechanicID *commission.MechanicID, period commission.DateRange) (*commission.Settlement, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, &commission.PersistenceError{Op: "create settlement", Err: err}
	}
	defer sqlTx.Rollback()

	// The predicate is evaluated HERE, inside the unit that inserts the
	// items, never from an earlier read. The unique index on
	// settlement_items.transaction_id backs it against racing batchers.
	txs, err := s.eligibleTransactions(ctx, sqlTx, vendorID, mechanicID, period)
	if err != nil {
		return nil, 0, err
	}
	if len(txs) == 0 {
		return nil, 0, nil
	}

	var totals commission.SettlementTotals
	for _, t := range txs {
		totals = totals.Add(t.AmountEligible, t.Commission.MechanicAmount, t.Commission.PlatformAmount)
	}

	now := time.Now().UTC()
	res, err := sqlTx.ExecContext(ctx,
		`INSERT INTO settlements
		 (vendor_id, period_from, period_to, total_amount_eligible, total_mechanic_amount, total_platform_amount, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		vendorID, period.From.Format(time.RFC3339), period.To.Format(time.RFC3339),
		totals.Eligible.String(), totals.Mechanic.String(), totals.Platform.String(),
		commission.SettlementOpen, now.Format(time.RFC3339))
	if err != nil {
		return nil, 0, &commission.PersistenceError{Op: "create settlement", Err: err}
	}
	id, _ := res.LastInsertId()
	settlementID := commission.SettlementID(id)

	for _, t := range txs {
		if _, err := sqlTx.ExecContext(ctx,
			`INSERT INTO settlement_items (settlement_id, transaction_id, mechanic_amount, platform_amount)
			 VALUES (?, ?, ?, ?)`,
			settlementID, t.ID,
			t.Commission.MechanicAmount.String(), t.Commission.PlatformAmount.String()); err != nil {
			if isUniqueConstraintError(err) {
				// A concurrent batch claimed this transaction between
				// our read and this insert. Abort the whole batch.
				return nil, 0, &commission.ConflictError{
					Op:     "create-settlement",
					Reason: fmt.Sprintf("transaction %d already claimed by another settlement", t.ID),
				}
			}
			return nil, 0, &commission.PersistenceError{Op: "create settlement item", Err: err}
		}
	}

	if err := sqlTx.Commit(); err != nil {
		return nil, 0, &commission.PersistenceError{Op: "create settlement", Err: err}
	}

	return &commission.Settlement{
		ID:                  settlementID,
		VendorID:            vendorID,
		Period:              period,
		TotalAmountEligible: totals.Eligible,
		TotalMechanicAmount: totals.Mechanic,
		TotalPlatformAmount: totals.Platform,
		Status:              commission.SettlementOpen,
		CreatedAt:           now,
	}, len(txs), nil
}

// MarkPaid runs the lifecycle unit: a guarded OPEN->PAID flip plus the
// PENDING->SETTLED cascade over every referenced transaction. This is
// the only writer that moves a transaction's status away from PENDING.
func (s *Store) MarkPaid(ctx context.Context, id commission.SettlementID, paidAt time.Time) (*commission.Settlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &commission.PersistenceError{Op: "mark paid", Err: err}
	}
	defer sqlTx.Rollback()

	existing, err := s.getSettlement(ctx, sqlTx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, &commission.NotFoundError{Kind: "settlement", Ref: fmt.Sprintf("%d", id)}
	}
	if existing.Status == commission.SettlementPaid {
		return nil, &commission.ConflictError{Op: "mark-paid", Reason: "settlement already paid"}
	}

	paidAt = paidAt.UTC()
	res, err := sqlTx.ExecContext(ctx,
		`UPDATE settlements SET status = ?, paid_at = ? WHERE id = ? AND status = ?`,
		commission.SettlementPaid, paidAt.Format(time.RFC3339), id, commission.SettlementOpen)
	if err != nil {
		return nil, &commission.PersistenceError{Op: "mark paid", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, &commission.ConflictError{Op: "mark-paid", Reason: "settlement already paid"}
	}

	if _, err := sqlTx.ExecContext(ctx,
		`UPDATE transactions SET status = ?
		 WHERE id IN (SELECT transaction_id FROM settlement_items WHERE settlement_id = ?)`,
		commission.TxSettled, id); err != nil {
		return nil, &commission.PersistenceError{Op: "settle transactions", Err: err}
	}

	if err := sqlTx.Commit(); err != nil {
		return nil, &commission.PersistenceError{Op: "mark paid", Err: err}
	}

	existing.Status = commission.SettlementPaid
	existing.PaidAt = &paidAt
	return existing, nil
}

type rowQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// GetSettlement retrieves a settlement. Returns (nil, nil) when absent.
func (s *Store) GetSettlement(ctx context.Context, id commission.SettlementID) (*commission.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getSettlement(ctx, s.db, id)
}

func (s *Store) getSettlement(ctx context.Context, q rowQueryer, id commission.SettlementID) (*commission.Settlement, error) {
	row := q.QueryRowContext(ctx, settlementSelect+` WHERE id = ?`, id)
	st, err := scanSettlementRow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &commission.PersistenceError{Op: "get settlement", Err: err}
	}
	return st, nil
}

// ListSettlementItems returns the line items of a settlement.
func (s *Store) ListSettlementItems(ctx context.Context, id commission.SettlementID) ([]commission.SettlementItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT settlement_id, transaction_id, mechanic_amount, platform_amount
		 FROM settlement_items WHERE settlement_id = ? ORDER BY transaction_id`, id)
	if err != nil {
		return nil, &commission.PersistenceError{Op: "list settlement items", Err: err}
	}
	defer rows.Close()

	var items []commission.SettlementItem
	for rows.Next() {
		var it commission.SettlementItem
		var mech, plat string
		if err := rows.Scan(&it.SettlementID, &it.TransactionID, &mech, &plat); err != nil {
			return nil, &commission.PersistenceError{Op: "list settlement items", Err: err}
		}
		it.MechanicAmount = commission.MustParseMoney(mech)
		it.PlatformAmount = commission.MustParseMoney(plat)
		items = append(items, it)
	}
	return items, rows.Err()
}

// ListSettlements returns settlements matching the filter, newest
// first.
func (s *Store) ListSettlements(ctx context.Context, f commission.SettlementFilter) ([]commission.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := settlementSelect + ` WHERE 1=1`
	var args []any

	if f.VendorID != nil {
		query += ` AND vendor_id = ?`
		args = append(args, *f.VendorID)
	}
	if f.MechanicID != nil {
		// Settlements containing at least one of the mechanic's
		// transactions.
		query += ` AND id IN (
			SELECT si.settlement_id FROM settlement_items si
			JOIN transactions t ON t.id = si.transaction_id
			WHERE t.mechanic_id = ?)`
		args = append(args, *f.MechanicID)
	}
	if f.Status != nil {
		query += ` AND status = ?`
		args = append(args, *f.Status)
	}
	query += ` ORDER BY id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &commission.PersistenceError{Op: "list settlements", Err: err}
	}
	defer rows.Close()

	var settlements []commission.Settlement
	for rows.Next() {
		st, err := scanSettlementRow(rows.Scan)
		if err != nil {
			return nil, &commission.PersistenceError{Op: "list settlements", Err: err}
		}
		settlements = append(settlements, *st)
	}
	return settlements, rows.Err()
}

const settlementSelect = `
	SELECT id, vendor_id, period_from, period_to,
	       total_amount_eligible, total_mechanic_amount, total_platform_amount,
	       status, created_at, paid_at
	FROM settlements`

func scanSettlementRow(scan func(dest ...any) error) (*commission.Settlement, error) {
	var (
		st         commission.Settlement
		periodFrom string
		periodTo   string
		eligible   string
		mechanic   string
		platform   string
		createdAt  string
		paidAt     sql.NullString
	)

	err := scan(&st.ID, &st.VendorID, &periodFrom, &periodTo,
		&eligible, &mechanic, &platform, &st.Status, &createdAt, &paidAt)
	if err != nil {
		return nil, err
	}

	st.Period.From, _ = time.Parse(time.RFC3339, periodFrom)
	st.Period.To, _ = time.Parse(time.RFC3339, periodTo)
	st.TotalAmountEligible = commission.MustParseMoney(eligible)
	st.TotalMechanicAmount = commission.MustParseMoney(mechanic)
	st.TotalPlatformAmount = commission.MustParseMoney(platform)
	st.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if paidAt.Valid {
		t, _ := time.Parse(time.RFC3339, paidAt.String)
		st.PaidAt = &t
	}
	return &st, nil
}

// =============================================================================
// REPORT STORE
// =============================================================================

// VendorTotals aggregates a vendor's activity over a window.
func (s *Store) VendorTotals(ctx context.Context, id commission.VendorID, period commission.DateRange) (*commission.PartyTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.partyTotals(ctx, `t.vendor_id = ?`, int64(id), period)
}

// MechanicTotals aggregates a mechanic's referral earnings over a
// window.
func (s *Store) MechanicTotals(ctx context.Context, id commission.MechanicID, period commission.DateRange) (*commission.PartyTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.partyTotals(ctx, `t.mechanic_id = ?`, int64(id), period)
}

// partyTotals folds the rows in Go with decimal arithmetic. SQL SUM
// would coerce the TEXT money columns to float and break exactness.
func (s *Store) partyTotals(ctx context.Context, partyWhere string, partyID int64, period commission.DateRange) (*commission.PartyTotals, error) {
	query := `
		SELECT t.status, t.amount_eligible, c.mechanic_amount, c.platform_amount
		FROM transactions t
		JOIN commissions c ON c.transaction_id = t.id
		WHERE ` + partyWhere + ` AND t.created_at >= ? AND t.created_at <= ?`

	rows, err := s.db.QueryContext(ctx, query, partyID,
		period.From.Format(time.RFC3339), period.To.Format(time.RFC3339))
	if err != nil {
		return nil, &commission.PersistenceError{Op: "party totals", Err: err}
	}
	defer rows.Close()

	var totals commission.PartyTotals
	for rows.Next() {
		var status commission.TransactionStatus
		var eligible, mech, plat string
		if err := rows.Scan(&status, &eligible, &mech, &plat); err != nil {
			return nil, &commission.PersistenceError{Op: "party totals", Err: err}
		}
		totals.TransactionCount++
		switch status {
		case commission.TxPending:
			totals.PendingCount++
		case commission.TxSettled:
			totals.SettledCount++
		}
		totals.TotalEligible = totals.TotalEligible.Add(commission.MustParseMoney(eligible))
		totals.MechanicEarned = totals.MechanicEarned.Add(commission.MustParseMoney(mech))
		totals.PlatformEarned = totals.PlatformEarned.Add(commission.MustParseMoney(plat))
	}
	return &totals, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"settlement_items", "settlements", "commissions", "transactions", "order_items", "orders", "mechanics", "vendors"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func mustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
