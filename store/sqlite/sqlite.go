/*
Package sqlite provides a SQLite-backed implementation of ledger.Store.

PURPOSE:
  Persists the entry log, the materialized balances and the product/reseller
  registry in one SQLite database, so that an entry append and its balance
  update commit in the same SQL transaction.

APPEND-ONLY ENFORCEMENT:
  - entries rows are only ever INSERTed
  - the single UPDATE on entries flips status from 'active' to
    'superseded' or 'reversed'
  - no DELETE on entries outside Reset (demo scenarios)

KEY TABLES:
  entries:    Ledger rows. seq is the commit order.
  balances:   Materialized counters. reseller_id '' is the central pool.
              CHECK (quantity >= 0) backs the non-negativity invariant.
  products:   Catalog records (soft delete via status)
  resellers:  Reseller records (soft delete via status)

LAZY QUERIES:
  Query pages through entries by seq (keyset pagination). No cursor is held
  open between pages, so a caller may issue other store calls while ranging.

CONCURRENCY:
  Uses sync.RWMutex around every call. ":memory:" databases are pinned to a
  single connection so every call sees the same database.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
  - store/postgres/postgres.go: PostgreSQL implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/stock-ledger/ledger"
)

// timeLayout is fixed-width so that stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements ledger.Store using SQLite.
type Store struct {
	db  *sql.DB
	mu  sync.RWMutex
	now func() time.Time
}

var (
	_ ledger.Store    = (*Store)(nil)
	_ ledger.Resetter = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, now: time.Now}
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
	-- Entries (append-only ledger)
	CREATE TABLE IF NOT EXISTS entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		kind TEXT NOT NULL,
		product_id TEXT NOT NULL DEFAULT '',
		reseller_id TEXT NOT NULL DEFAULT '',
		quantity INTEGER NOT NULL DEFAULT 0,
		unit_price TEXT NOT NULL DEFAULT '0',
		total_price TEXT NOT NULL DEFAULT '0',
		refers_to TEXT NOT NULL DEFAULT '',
		origin_id TEXT NOT NULL DEFAULT '',
		corrects TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		effective_at TEXT NOT NULL,
		created_at TEXT NOT NULL,
		actor_id TEXT NOT NULL DEFAULT '',
		actor_role TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_entries_product_reseller
		ON entries(product_id, reseller_id);
	CREATE INDEX IF NOT EXISTS idx_entries_reseller_effective
		ON entries(reseller_id, effective_at);
	CREATE INDEX IF NOT EXISTS idx_entries_refers_to
		ON entries(refers_to) WHERE refers_to <> '';
	CREATE INDEX IF NOT EXISTS idx_entries_origin
		ON entries(origin_id) WHERE origin_id <> '';
	CREATE INDEX IF NOT EXISTS idx_entries_kind
		ON entries(kind);

	-- Materialized balances
	CREATE TABLE IF NOT EXISTS balances (
		product_id TEXT NOT NULL,
		reseller_id TEXT NOT NULL DEFAULT '',
		quantity INTEGER NOT NULL CHECK (quantity >= 0),
		PRIMARY KEY (product_id, reseller_id)
	);

	-- Products
	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		unit_price TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Resellers
	CREATE TABLE IF NOT EXISTS resellers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		contact TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// ENTRIES (ledger.Reader / ledger.Writer)
// =============================================================================

// Append adds an entry to the ledger.
func (s *Store) Append(ctx context.Context, e ledger.Entry) (ledger.EntryID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendEntry(ctx, s.db, e)
}

func (s *Store) appendEntry(ctx context.Context, q querier, e ledger.Entry) (ledger.EntryID, error) {
	if err := e.Validate(); err != nil {
		return "", err
	}
	e = ledger.Prepare(e, s.now())

	query := `
		INSERT INTO entries
		(id, kind, product_id, reseller_id, quantity, unit_price, total_price,
		 refers_to, origin_id, corrects, status, effective_at, created_at,
		 actor_id, actor_role, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		e.ID, e.Kind, e.ProductID, e.ResellerID, e.Quantity,
		e.UnitPrice.String(), e.TotalPrice.String(),
		e.RefersTo, e.OriginID, e.Corrects, e.Status,
		e.EffectiveAt.Format(timeLayout), e.CreatedAt.Format(timeLayout),
		e.ActorID, e.ActorRole, e.Reason,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return "", &ledger.ValidationError{Field: "id", Reason: "duplicate entry id " + string(e.ID)}
		}
		return "", ledger.Storage("append entry", err)
	}
	return e.ID, nil
}

const entryColumns = `seq, id, kind, product_id, reseller_id, quantity, unit_price, total_price,
	refers_to, origin_id, corrects, status, effective_at, created_at, actor_id, actor_role, reason`

// Get returns an entry by id.
func (s *Store) Get(ctx context.Context, id ledger.EntryID) (ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getEntry(ctx, s.db, id)
}

func getEntry(ctx context.Context, q querier, id ledger.EntryID) (ledger.Entry, error) {
	row := q.QueryRowContext(ctx, "SELECT "+entryColumns+" FROM entries WHERE id = ?", id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Entry{}, &ledger.NotFoundError{Resource: "entry", ID: string(id)}
	}
	if err != nil {
		return ledger.Entry{}, ledger.Storage("get entry", err)
	}
	return e, nil
}

// Query returns matching entries ordered by seq, one page at a time.
func (s *Store) Query(ctx context.Context, f ledger.Filter) iter.Seq2[ledger.Entry, error] {
	return queryPages(ctx, f, func(query string, args []any) ([]ledger.Entry, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return queryEntries(ctx, s.db, query, args)
	})
}

func queryPages(ctx context.Context, f ledger.Filter, page func(string, []any) ([]ledger.Entry, error)) iter.Seq2[ledger.Entry, error] {
	return func(yield func(ledger.Entry, error) bool) {
		var after int64
		for {
			where, args := buildFilter(f)
			where = append(where, "seq > ?")
			args = append(args, after, ledger.QueryBatchSize)
			query := "SELECT " + entryColumns + " FROM entries WHERE " +
				strings.Join(where, " AND ") + " ORDER BY seq LIMIT ?"

			batch, err := page(query, args)
			if err != nil {
				yield(ledger.Entry{}, err)
				return
			}
			for _, e := range batch {
				if !yield(e, nil) {
					return
				}
			}
			if len(batch) < ledger.QueryBatchSize {
				return
			}
			after = batch[len(batch)-1].Seq
		}
	}
}

func buildFilter(f ledger.Filter) ([]string, []any) {
	var where []string
	var args []any

	statuses := []string{"'active'"}
	if f.IncludeSuperseded {
		statuses = append(statuses, "'superseded'")
	}
	if f.IncludeReversed {
		statuses = append(statuses, "'reversed'")
	}
	where = append(where, "status IN ("+strings.Join(statuses, ", ")+")")

	if f.ProductID != "" {
		where = append(where, "product_id = ?")
		args = append(args, f.ProductID)
	}
	if f.ResellerID != "" {
		where = append(where, "reseller_id = ?")
		args = append(args, f.ResellerID)
	}
	if f.RefersTo != "" {
		where = append(where, "refers_to = ?")
		args = append(args, f.RefersTo)
	}
	if f.OriginID != "" {
		where = append(where, "(id = ? OR origin_id = ?)")
		args = append(args, f.OriginID, f.OriginID)
	}
	if len(f.Kinds) > 0 {
		marks := strings.TrimSuffix(strings.Repeat("?, ", len(f.Kinds)), ", ")
		where = append(where, "(kind IN ("+marks+") OR (kind = 'correction' AND corrects IN ("+marks+")))")
		for range 2 {
			for _, k := range f.Kinds {
				args = append(args, k)
			}
		}
	}
	if !f.From.IsZero() {
		where = append(where, "effective_at >= ?")
		args = append(args, f.From.UTC().Format(timeLayout))
	}
	if !f.To.IsZero() {
		where = append(where, "effective_at < ?")
		args = append(args, f.To.UTC().Format(timeLayout))
	}
	return where, args
}

func queryEntries(ctx context.Context, q querier, query string, args []any) ([]ledger.Entry, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ledger.Storage("query entries", err)
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, ledger.Storage("scan entry", err)
		}
		entries = append(entries, e)
	}
	return entries, ledger.Storage("query entries", rows.Err())
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (ledger.Entry, error) {
	var (
		e           ledger.Entry
		unitPrice   string
		totalPrice  string
		effectiveAt string
		createdAt   string
	)
	err := row.Scan(
		&e.Seq, &e.ID, &e.Kind, &e.ProductID, &e.ResellerID, &e.Quantity,
		&unitPrice, &totalPrice, &e.RefersTo, &e.OriginID, &e.Corrects, &e.Status,
		&effectiveAt, &createdAt, &e.ActorID, &e.ActorRole, &e.Reason,
	)
	if err != nil {
		return e, err
	}
	e.UnitPrice = parseDecimal(unitPrice)
	e.TotalPrice = parseDecimal(totalPrice)
	e.EffectiveAt = parseTime(effectiveAt)
	e.CreatedAt = parseTime(createdAt)
	return e, nil
}

// MarkSuperseded flags an active entry as superseded. No-op otherwise.
func (s *Store) MarkSuperseded(ctx context.Context, id ledger.EntryID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return markEntry(ctx, s.db, id, ledger.StatusSuperseded)
}

// MarkReversed flags an active entry as reversed. No-op otherwise.
func (s *Store) MarkReversed(ctx context.Context, id ledger.EntryID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return markEntry(ctx, s.db, id, ledger.StatusReversed)
}

func markEntry(ctx context.Context, q querier, id ledger.EntryID, status ledger.Status) error {
	res, err := q.ExecContext(ctx,
		"UPDATE entries SET status = ? WHERE id = ? AND status = 'active'", status, id)
	if err != nil {
		return ledger.Storage("mark entry", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	var exists int
	err = q.QueryRowContext(ctx, "SELECT COUNT(*) FROM entries WHERE id = ?", id).Scan(&exists)
	if err != nil {
		return ledger.Storage("mark entry", err)
	}
	if exists == 0 {
		return &ledger.NotFoundError{Resource: "entry", ID: string(id)}
	}
	return nil
}

// =============================================================================
// BALANCES
// =============================================================================

// AdjustBalances adds deltas to the persisted counters atomically.
func (s *Store) AdjustBalances(ctx context.Context, deltas []ledger.Delta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Storage("begin transaction", err)
	}
	defer sqlTx.Rollback()

	if err := adjustBalances(ctx, sqlTx, deltas); err != nil {
		return err
	}
	return ledger.Storage("commit", sqlTx.Commit())
}

// adjustBalances updates first and inserts only when the row is missing:
// SQLite checks CHECK constraints on the candidate row of an upsert, which
// would reject a negative delta against an existing positive balance.
func adjustBalances(ctx context.Context, q querier, deltas []ledger.Delta) error {
	for _, d := range deltas {
		res, err := q.ExecContext(ctx,
			"UPDATE balances SET quantity = quantity + ? WHERE product_id = ? AND reseller_id = ?",
			d.Amount, d.Key.ProductID, d.Key.ResellerID)
		if err != nil {
			return ledger.Storage("adjust balance "+d.Key.String(), err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			continue
		}
		_, err = q.ExecContext(ctx,
			"INSERT INTO balances (product_id, reseller_id, quantity) VALUES (?, ?, ?)",
			d.Key.ProductID, d.Key.ResellerID, d.Amount)
		if err != nil {
			return ledger.Storage("adjust balance "+d.Key.String(), err)
		}
	}
	return nil
}

// LoadBalances returns all non-zero counters.
func (s *Store) LoadBalances(ctx context.Context) ([]ledger.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scanBalances(ctx,
		"SELECT product_id, reseller_id, quantity FROM balances WHERE quantity <> 0 ORDER BY product_id, reseller_id")
}

func (s *Store) scanBalances(ctx context.Context, query string, args ...any) ([]ledger.Balance, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ledger.Storage("load balances", err)
	}
	defer rows.Close()

	var out []ledger.Balance
	for rows.Next() {
		var b ledger.Balance
		if err := rows.Scan(&b.Key.ProductID, &b.Key.ResellerID, &b.Quantity); err != nil {
			return nil, ledger.Storage("scan balance", err)
		}
		out = append(out, b)
	}
	return out, ledger.Storage("load balances", rows.Err())
}

// ProductBalances returns the non-zero counters of the given products.
func (s *Store) ProductBalances(ctx context.Context, products []ledger.ProductID) ([]ledger.Balance, error) {
	if len(products) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	args := make([]any, len(products))
	for i, p := range products {
		args[i] = string(p)
	}
	query := "SELECT product_id, reseller_id, quantity FROM balances WHERE quantity <> 0 AND product_id IN (" +
		strings.TrimSuffix(strings.Repeat("?,", len(products)), ",") + ") ORDER BY product_id, reseller_id"
	return s.scanBalances(ctx, query, args...)
}

// ReplaceBalances overwrites the balances table in one transaction.
func (s *Store) ReplaceBalances(ctx context.Context, balances []ledger.Balance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Storage("begin transaction", err)
	}
	defer sqlTx.Rollback()

	if _, err := sqlTx.ExecContext(ctx, "DELETE FROM balances"); err != nil {
		return ledger.Storage("replace balances", err)
	}
	for _, b := range balances {
		if b.Quantity == 0 {
			continue
		}
		_, err := sqlTx.ExecContext(ctx,
			"INSERT INTO balances (product_id, reseller_id, quantity) VALUES (?, ?, ?)",
			b.Key.ProductID, b.Key.ResellerID, b.Quantity)
		if err != nil {
			return ledger.Storage("replace balances", err)
		}
	}
	return ledger.Storage("commit", sqlTx.Commit())
}

// =============================================================================
// PRODUCT / RESELLER REGISTRY
// =============================================================================

// SaveProduct inserts or updates a product.
func (s *Store) SaveProduct(ctx context.Context, p ledger.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveProduct(ctx, s.db, p)
}

func (s *Store) saveProduct(ctx context.Context, q querier, p ledger.Product) error {
	query := `
		INSERT INTO products (id, name, unit_price, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			unit_price = excluded.unit_price,
			status = excluded.status,
			updated_at = excluded.updated_at
	`
	now := s.now().UTC().Format(timeLayout)
	_, err := q.ExecContext(ctx, query, p.ID, p.Name, p.UnitPrice.String(), p.Status, now, now)
	return ledger.Storage("save product", err)
}

// GetProduct retrieves a product by id.
func (s *Store) GetProduct(ctx context.Context, id ledger.ProductID) (ledger.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getProduct(ctx, s.db, id)
}

const productColumns = "id, name, unit_price, status, created_at, updated_at"

func getProduct(ctx context.Context, q querier, id ledger.ProductID) (ledger.Product, error) {
	row := q.QueryRowContext(ctx, "SELECT "+productColumns+" FROM products WHERE id = ?", id)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Product{}, &ledger.NotFoundError{Resource: "product", ID: string(id)}
	}
	if err != nil {
		return ledger.Product{}, ledger.Storage("get product", err)
	}
	return p, nil
}

// ListProducts returns all products ordered by name.
func (s *Store) ListProducts(ctx context.Context) ([]ledger.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listProducts(ctx, s.db)
}

func listProducts(ctx context.Context, q querier) ([]ledger.Product, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+productColumns+" FROM products ORDER BY name")
	if err != nil {
		return nil, ledger.Storage("list products", err)
	}
	defer rows.Close()

	var products []ledger.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, ledger.Storage("scan product", err)
		}
		products = append(products, p)
	}
	return products, ledger.Storage("list products", rows.Err())
}

func scanProduct(row scanner) (ledger.Product, error) {
	var p ledger.Product
	var unitPrice, createdAt, updatedAt string
	if err := row.Scan(&p.ID, &p.Name, &unitPrice, &p.Status, &createdAt, &updatedAt); err != nil {
		return p, err
	}
	p.UnitPrice = parseDecimal(unitPrice)
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return p, nil
}

// SaveReseller inserts or updates a reseller.
func (s *Store) SaveReseller(ctx context.Context, r ledger.Reseller) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveReseller(ctx, s.db, r)
}

func (s *Store) saveReseller(ctx context.Context, q querier, r ledger.Reseller) error {
	query := `
		INSERT INTO resellers (id, name, contact, address, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			contact = excluded.contact,
			address = excluded.address,
			status = excluded.status,
			updated_at = excluded.updated_at
	`
	now := s.now().UTC().Format(timeLayout)
	_, err := q.ExecContext(ctx, query, r.ID, r.Name, r.Contact, r.Address, r.Status, now, now)
	return ledger.Storage("save reseller", err)
}

// GetReseller retrieves a reseller by id.
func (s *Store) GetReseller(ctx context.Context, id ledger.ResellerID) (ledger.Reseller, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getReseller(ctx, s.db, id)
}

const resellerColumns = "id, name, contact, address, status, created_at, updated_at"

func getReseller(ctx context.Context, q querier, id ledger.ResellerID) (ledger.Reseller, error) {
	row := q.QueryRowContext(ctx, "SELECT "+resellerColumns+" FROM resellers WHERE id = ?", id)
	r, err := scanReseller(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Reseller{}, &ledger.NotFoundError{Resource: "reseller", ID: string(id)}
	}
	if err != nil {
		return ledger.Reseller{}, ledger.Storage("get reseller", err)
	}
	return r, nil
}

// ListResellers returns all resellers ordered by name.
func (s *Store) ListResellers(ctx context.Context) ([]ledger.Reseller, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listResellers(ctx, s.db)
}

func listResellers(ctx context.Context, q querier) ([]ledger.Reseller, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+resellerColumns+" FROM resellers ORDER BY name")
	if err != nil {
		return nil, ledger.Storage("list resellers", err)
	}
	defer rows.Close()

	var resellers []ledger.Reseller
	for rows.Next() {
		r, err := scanReseller(rows)
		if err != nil {
			return nil, ledger.Storage("scan reseller", err)
		}
		resellers = append(resellers, r)
	}
	return resellers, ledger.Storage("list resellers", rows.Err())
}

func scanReseller(row scanner) (ledger.Reseller, error) {
	var r ledger.Reseller
	var createdAt, updatedAt string
	if err := row.Scan(&r.ID, &r.Name, &r.Contact, &r.Address, &r.Status, &createdAt, &updatedAt); err != nil {
		return r, err
	}
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	return r, nil
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Storage("begin transaction", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx, parent: s}); err != nil {
		return err
	}

	return ledger.Storage("commit", sqlTx.Commit())
}

// txStore runs every call on the open transaction; the parent lock is held
// by WithTx.
type txStore struct {
	tx     *sql.Tx
	parent *Store
}

func (ts *txStore) Append(ctx context.Context, e ledger.Entry) (ledger.EntryID, error) {
	return ts.parent.appendEntry(ctx, ts.tx, e)
}

func (ts *txStore) Get(ctx context.Context, id ledger.EntryID) (ledger.Entry, error) {
	return getEntry(ctx, ts.tx, id)
}

func (ts *txStore) Query(ctx context.Context, f ledger.Filter) iter.Seq2[ledger.Entry, error] {
	return queryPages(ctx, f, func(query string, args []any) ([]ledger.Entry, error) {
		return queryEntries(ctx, ts.tx, query, args)
	})
}

func (ts *txStore) MarkSuperseded(ctx context.Context, id ledger.EntryID) error {
	return markEntry(ctx, ts.tx, id, ledger.StatusSuperseded)
}

func (ts *txStore) MarkReversed(ctx context.Context, id ledger.EntryID) error {
	return markEntry(ctx, ts.tx, id, ledger.StatusReversed)
}

func (ts *txStore) AdjustBalances(ctx context.Context, deltas []ledger.Delta) error {
	return adjustBalances(ctx, ts.tx, deltas)
}

func (ts *txStore) SaveProduct(ctx context.Context, p ledger.Product) error {
	return ts.parent.saveProduct(ctx, ts.tx, p)
}

func (ts *txStore) GetProduct(ctx context.Context, id ledger.ProductID) (ledger.Product, error) {
	return getProduct(ctx, ts.tx, id)
}

func (ts *txStore) ListProducts(ctx context.Context) ([]ledger.Product, error) {
	return listProducts(ctx, ts.tx)
}

func (ts *txStore) SaveReseller(ctx context.Context, r ledger.Reseller) error {
	return ts.parent.saveReseller(ctx, ts.tx, r)
}

func (ts *txStore) GetReseller(ctx context.Context, id ledger.ResellerID) (ledger.Reseller, error) {
	return getReseller(ctx, ts.tx, id)
}

func (ts *txStore) ListResellers(ctx context.Context) ([]ledger.Reseller, error) {
	return listResellers(ctx, ts.tx)
}

// =============================================================================
// ADMIN
// =============================================================================

// Reset clears all data (for demo scenarios).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"entries", "balances", "products", "resellers"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return ledger.Storage("reset "+table, err)
		}
	}
	_, err := s.db.ExecContext(ctx, "DELETE FROM sqlite_sequence WHERE name = 'entries'")
	return ledger.Storage("reset sequence", err)
}

// =============================================================================
// HELPERS
// =============================================================================

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
