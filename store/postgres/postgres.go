/*
Package postgres provides a PostgreSQL implementation of ledger.Store.

PURPOSE:
  Same contract and schema shape as store/sqlite, for deployments where
  several server processes share one database (paired with the Redis
  locker). Money columns are NUMERIC and map to decimal.Decimal through
  pgx-shopspring-decimal, registered on every pooled connection.

KEY TABLES:
  ledger_entries:    Ledger rows. seq (BIGSERIAL) is the commit order.
  ledger_balances:   Materialized counters, CHECK (quantity >= 0).
  ledger_products:   Catalog records
  ledger_resellers:  Reseller records

USAGE:
  store, err := postgres.New(ctx, os.Getenv("DATABASE_URL"))
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - ledger/store.go: Interface definitions
  - store/sqlite/sqlite.go: Embedded implementation
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/warp/stock-ledger/ledger"
)

// Store implements ledger.Store using a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

var (
	_ ledger.Store    = (*Store)(nil)
	_ ledger.Resetter = (*Store)(nil)
)

// New connects to dsn, registers the decimal codec and migrates the schema.
func New(ctx context.Context, dsn string) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}
	poolConfig.MaxConns = 25
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS ledger_entries (
		seq BIGSERIAL PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		kind TEXT NOT NULL,
		product_id TEXT NOT NULL DEFAULT '',
		reseller_id TEXT NOT NULL DEFAULT '',
		quantity BIGINT NOT NULL DEFAULT 0,
		unit_price NUMERIC(18,4) NOT NULL DEFAULT 0,
		total_price NUMERIC(18,4) NOT NULL DEFAULT 0,
		refers_to TEXT NOT NULL DEFAULT '',
		origin_id TEXT NOT NULL DEFAULT '',
		corrects TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		effective_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		actor_id TEXT NOT NULL DEFAULT '',
		actor_role TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_entries_product_reseller
		ON ledger_entries(product_id, reseller_id);
	CREATE INDEX IF NOT EXISTS idx_ledger_entries_reseller_effective
		ON ledger_entries(reseller_id, effective_at);
	CREATE INDEX IF NOT EXISTS idx_ledger_entries_refers_to
		ON ledger_entries(refers_to) WHERE refers_to <> '';
	CREATE INDEX IF NOT EXISTS idx_ledger_entries_origin
		ON ledger_entries(origin_id) WHERE origin_id <> '';

	CREATE TABLE IF NOT EXISTS ledger_balances (
		product_id TEXT NOT NULL,
		reseller_id TEXT NOT NULL DEFAULT '',
		quantity BIGINT NOT NULL CHECK (quantity >= 0),
		PRIMARY KEY (product_id, reseller_id)
	);

	CREATE TABLE IF NOT EXISTS ledger_products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		unit_price NUMERIC(18,4) NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS ledger_resellers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		contact TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// =============================================================================
// ENTRIES
// =============================================================================

const entryColumns = `seq, id, kind, product_id, reseller_id, quantity, unit_price, total_price,
	refers_to, origin_id, corrects, status, effective_at, created_at, actor_id, actor_role, reason`

func (s *Store) Append(ctx context.Context, e ledger.Entry) (ledger.EntryID, error) {
	return appendEntry(ctx, s.pool, e)
}

func appendEntry(ctx context.Context, q querier, e ledger.Entry) (ledger.EntryID, error) {
	if err := e.Validate(); err != nil {
		return "", err
	}
	e = ledger.Prepare(e, time.Now())

	_, err := q.Exec(ctx, `
		INSERT INTO ledger_entries
		(id, kind, product_id, reseller_id, quantity, unit_price, total_price,
		 refers_to, origin_id, corrects, status, effective_at, created_at,
		 actor_id, actor_role, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		string(e.ID), string(e.Kind), string(e.ProductID), string(e.ResellerID), e.Quantity,
		e.UnitPrice, e.TotalPrice,
		string(e.RefersTo), string(e.OriginID), string(e.Corrects), string(e.Status),
		e.EffectiveAt, e.CreatedAt,
		e.ActorID, string(e.ActorRole), e.Reason,
	)
	if err != nil {
		if hasCode(err, "23505") {
			return "", &ledger.ValidationError{Field: "id", Reason: "duplicate entry id " + string(e.ID)}
		}
		return "", ledger.Storage("append entry", err)
	}
	return e.ID, nil
}

func (s *Store) Get(ctx context.Context, id ledger.EntryID) (ledger.Entry, error) {
	return getEntry(ctx, s.pool, id)
}

func getEntry(ctx context.Context, q querier, id ledger.EntryID) (ledger.Entry, error) {
	row := q.QueryRow(ctx, "SELECT "+entryColumns+" FROM ledger_entries WHERE id = $1", string(id))
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Entry{}, &ledger.NotFoundError{Resource: "entry", ID: string(id)}
	}
	if err != nil {
		return ledger.Entry{}, ledger.Storage("get entry", err)
	}
	return e, nil
}

// snapshotTx pins every page of a pool-level Query to one snapshot.
var snapshotTx = pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}

// Query pages inside a read-only REPEATABLE READ transaction. seq comes
// from a BIGSERIAL, so product-disjoint writers can commit out of seq
// order; without the snapshot a later page could skip a row whose seq is
// below the last one already read.
func (s *Store) Query(ctx context.Context, f ledger.Filter) iter.Seq2[ledger.Entry, error] {
	return func(yield func(ledger.Entry, error) bool) {
		tx, err := s.pool.BeginTx(ctx, snapshotTx)
		if err != nil {
			yield(ledger.Entry{}, ledger.Storage("begin snapshot", err))
			return
		}
		defer func() { _ = tx.Rollback(ctx) }()

		for e, err := range queryPages(ctx, tx, f) {
			if !yield(e, err) {
				return
			}
		}
	}
}

// queryPages reads pages of QueryBatchSize rows keyed on seq. Each page is
// fully read and its rows closed before the caller sees the first entry.
// Inside a WithTx the transaction's own snapshot applies.
func queryPages(ctx context.Context, q querier, f ledger.Filter) iter.Seq2[ledger.Entry, error] {
	return func(yield func(ledger.Entry, error) bool) {
		var after int64
		for {
			query, args := pageQuery(f, after)
			batch, err := queryEntries(ctx, q, query, args)
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

// pageQuery builds the SELECT for one page after seq.
func pageQuery(f ledger.Filter, after int64) (string, []any) {
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	statuses := []string{"'active'"}
	if f.IncludeSuperseded {
		statuses = append(statuses, "'superseded'")
	}
	if f.IncludeReversed {
		statuses = append(statuses, "'reversed'")
	}
	where = append(where, "status IN ("+strings.Join(statuses, ", ")+")")

	if f.ProductID != "" {
		where = append(where, "product_id = "+arg(string(f.ProductID)))
	}
	if f.ResellerID != "" {
		where = append(where, "reseller_id = "+arg(string(f.ResellerID)))
	}
	if f.RefersTo != "" {
		where = append(where, "refers_to = "+arg(string(f.RefersTo)))
	}
	if f.OriginID != "" {
		p := arg(string(f.OriginID))
		where = append(where, "(id = "+p+" OR origin_id = "+p+")")
	}
	if len(f.Kinds) > 0 {
		kinds := make([]string, len(f.Kinds))
		for i, k := range f.Kinds {
			kinds[i] = string(k)
		}
		p := arg(kinds)
		where = append(where, "(kind = ANY("+p+") OR (kind = 'correction' AND corrects = ANY("+p+")))")
	}
	if !f.From.IsZero() {
		where = append(where, "effective_at >= "+arg(f.From.UTC()))
	}
	if !f.To.IsZero() {
		where = append(where, "effective_at < "+arg(f.To.UTC()))
	}
	where = append(where, "seq > "+arg(after))

	query := "SELECT " + entryColumns + " FROM ledger_entries WHERE " +
		strings.Join(where, " AND ") + " ORDER BY seq LIMIT " + arg(ledger.QueryBatchSize)
	return query, args
}

func queryEntries(ctx context.Context, q querier, query string, args []any) ([]ledger.Entry, error) {
	rows, err := q.Query(ctx, query, args...)
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

func scanEntry(row pgx.Row) (ledger.Entry, error) {
	var (
		e                                  ledger.Entry
		id, kind, product, reseller        string
		refersTo, origin, corrects, status string
		role                               string
		unitPrice, totalPrice              decimal.Decimal
	)
	err := row.Scan(
		&e.Seq, &id, &kind, &product, &reseller, &e.Quantity,
		&unitPrice, &totalPrice, &refersTo, &origin, &corrects, &status,
		&e.EffectiveAt, &e.CreatedAt, &e.ActorID, &role, &e.Reason,
	)
	if err != nil {
		return e, err
	}
	e.ID = ledger.EntryID(id)
	e.Kind = ledger.Kind(kind)
	e.ProductID = ledger.ProductID(product)
	e.ResellerID = ledger.ResellerID(reseller)
	e.UnitPrice = unitPrice
	e.TotalPrice = totalPrice
	e.RefersTo = ledger.EntryID(refersTo)
	e.OriginID = ledger.EntryID(origin)
	e.Corrects = ledger.Kind(corrects)
	e.Status = ledger.Status(status)
	e.ActorRole = ledger.Role(role)
	e.EffectiveAt = e.EffectiveAt.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}

func (s *Store) MarkSuperseded(ctx context.Context, id ledger.EntryID) error {
	return markEntry(ctx, s.pool, id, ledger.StatusSuperseded)
}

func (s *Store) MarkReversed(ctx context.Context, id ledger.EntryID) error {
	return markEntry(ctx, s.pool, id, ledger.StatusReversed)
}

func markEntry(ctx context.Context, q querier, id ledger.EntryID, status ledger.Status) error {
	tag, err := q.Exec(ctx,
		"UPDATE ledger_entries SET status = $1 WHERE id = $2 AND status = 'active'", string(status), string(id))
	if err != nil {
		return ledger.Storage("mark entry", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	err = q.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM ledger_entries WHERE id = $1)", string(id)).Scan(&exists)
	if err != nil {
		return ledger.Storage("mark entry", err)
	}
	if !exists {
		return &ledger.NotFoundError{Resource: "entry", ID: string(id)}
	}
	return nil
}

// =============================================================================
// BALANCES
// =============================================================================

func (s *Store) AdjustBalances(ctx context.Context, deltas []ledger.Delta) error {
	return s.WithTx(ctx, func(tx ledger.Tx) error { return tx.AdjustBalances(ctx, deltas) })
}

func adjustBalances(ctx context.Context, q querier, deltas []ledger.Delta) error {
	for _, d := range deltas {
		tag, err := q.Exec(ctx,
			"UPDATE ledger_balances SET quantity = quantity + $1 WHERE product_id = $2 AND reseller_id = $3",
			d.Amount, string(d.Key.ProductID), string(d.Key.ResellerID))
		if err != nil {
			return ledger.Storage("adjust balance "+d.Key.String(), err)
		}
		if tag.RowsAffected() > 0 {
			continue
		}
		_, err = q.Exec(ctx,
			"INSERT INTO ledger_balances (product_id, reseller_id, quantity) VALUES ($1, $2, $3)",
			string(d.Key.ProductID), string(d.Key.ResellerID), d.Amount)
		if err != nil {
			return ledger.Storage("adjust balance "+d.Key.String(), err)
		}
	}
	return nil
}

func (s *Store) LoadBalances(ctx context.Context) ([]ledger.Balance, error) {
	return s.scanBalances(ctx,
		"SELECT product_id, reseller_id, quantity FROM ledger_balances WHERE quantity <> 0 ORDER BY product_id, reseller_id")
}

// ProductBalances returns the non-zero counters of the given products.
func (s *Store) ProductBalances(ctx context.Context, products []ledger.ProductID) ([]ledger.Balance, error) {
	if len(products) == 0 {
		return nil, nil
	}
	ids := make([]string, len(products))
	for i, p := range products {
		ids[i] = string(p)
	}
	return s.scanBalances(ctx,
		"SELECT product_id, reseller_id, quantity FROM ledger_balances WHERE quantity <> 0 AND product_id = ANY($1) ORDER BY product_id, reseller_id",
		ids)
}

func (s *Store) scanBalances(ctx context.Context, query string, args ...any) ([]ledger.Balance, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, ledger.Storage("load balances", err)
	}
	defer rows.Close()

	var out []ledger.Balance
	for rows.Next() {
		var product, reseller string
		var qty int64
		if err := rows.Scan(&product, &reseller, &qty); err != nil {
			return nil, ledger.Storage("scan balance", err)
		}
		out = append(out, ledger.Balance{
			Key:      ledger.BalanceKey{ProductID: ledger.ProductID(product), ResellerID: ledger.ResellerID(reseller)},
			Quantity: qty,
		})
	}
	return out, ledger.Storage("load balances", rows.Err())
}

func (s *Store) ReplaceBalances(ctx context.Context, balances []ledger.Balance) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "DELETE FROM ledger_balances"); err != nil {
			return ledger.Storage("replace balances", err)
		}
		for _, b := range balances {
			if b.Quantity == 0 {
				continue
			}
			_, err := tx.Exec(ctx,
				"INSERT INTO ledger_balances (product_id, reseller_id, quantity) VALUES ($1, $2, $3)",
				string(b.Key.ProductID), string(b.Key.ResellerID), b.Quantity)
			if err != nil {
				return ledger.Storage("replace balances", err)
			}
		}
		return nil
	})
}

// =============================================================================
// REGISTRY
// =============================================================================

func (s *Store) SaveProduct(ctx context.Context, p ledger.Product) error {
	return saveProduct(ctx, s.pool, p)
}

func saveProduct(ctx context.Context, q querier, p ledger.Product) error {
	now := time.Now().UTC()
	_, err := q.Exec(ctx, `
		INSERT INTO ledger_products (id, name, unit_price, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			unit_price = EXCLUDED.unit_price,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at`,
		string(p.ID), p.Name, p.UnitPrice, string(p.Status), now)
	return ledger.Storage("save product", err)
}

const productColumns = "id, name, unit_price, status, created_at, updated_at"

func (s *Store) GetProduct(ctx context.Context, id ledger.ProductID) (ledger.Product, error) {
	return getProduct(ctx, s.pool, id)
}

func getProduct(ctx context.Context, q querier, id ledger.ProductID) (ledger.Product, error) {
	p, err := scanProduct(q.QueryRow(ctx, "SELECT "+productColumns+" FROM ledger_products WHERE id = $1", string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Product{}, &ledger.NotFoundError{Resource: "product", ID: string(id)}
	}
	if err != nil {
		return ledger.Product{}, ledger.Storage("get product", err)
	}
	return p, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]ledger.Product, error) {
	return listProducts(ctx, s.pool)
}

func listProducts(ctx context.Context, q querier) ([]ledger.Product, error) {
	rows, err := q.Query(ctx, "SELECT "+productColumns+" FROM ledger_products ORDER BY name")
	if err != nil {
		return nil, ledger.Storage("list products", err)
	}
	defer rows.Close()

	var out []ledger.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, ledger.Storage("scan product", err)
		}
		out = append(out, p)
	}
	return out, ledger.Storage("list products", rows.Err())
}

func scanProduct(row pgx.Row) (ledger.Product, error) {
	var p ledger.Product
	var id, status string
	if err := row.Scan(&id, &p.Name, &p.UnitPrice, &status, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return p, err
	}
	p.ID = ledger.ProductID(id)
	p.Status = ledger.Status(status)
	return p, nil
}

func (s *Store) SaveReseller(ctx context.Context, r ledger.Reseller) error {
	return saveReseller(ctx, s.pool, r)
}

func saveReseller(ctx context.Context, q querier, r ledger.Reseller) error {
	now := time.Now().UTC()
	_, err := q.Exec(ctx, `
		INSERT INTO ledger_resellers (id, name, contact, address, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			contact = EXCLUDED.contact,
			address = EXCLUDED.address,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at`,
		string(r.ID), r.Name, r.Contact, r.Address, string(r.Status), now)
	return ledger.Storage("save reseller", err)
}

const resellerColumns = "id, name, contact, address, status, created_at, updated_at"

func (s *Store) GetReseller(ctx context.Context, id ledger.ResellerID) (ledger.Reseller, error) {
	return getReseller(ctx, s.pool, id)
}

func getReseller(ctx context.Context, q querier, id ledger.ResellerID) (ledger.Reseller, error) {
	r, err := scanReseller(q.QueryRow(ctx, "SELECT "+resellerColumns+" FROM ledger_resellers WHERE id = $1", string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Reseller{}, &ledger.NotFoundError{Resource: "reseller", ID: string(id)}
	}
	if err != nil {
		return ledger.Reseller{}, ledger.Storage("get reseller", err)
	}
	return r, nil
}

func (s *Store) ListResellers(ctx context.Context) ([]ledger.Reseller, error) {
	return listResellers(ctx, s.pool)
}

func listResellers(ctx context.Context, q querier) ([]ledger.Reseller, error) {
	rows, err := q.Query(ctx, "SELECT "+resellerColumns+" FROM ledger_resellers ORDER BY name")
	if err != nil {
		return nil, ledger.Storage("list resellers", err)
	}
	defer rows.Close()

	var out []ledger.Reseller
	for rows.Next() {
		r, err := scanReseller(rows)
		if err != nil {
			return nil, ledger.Storage("scan reseller", err)
		}
		out = append(out, r)
	}
	return out, ledger.Storage("list resellers", rows.Err())
}

func scanReseller(row pgx.Row) (ledger.Reseller, error) {
	var r ledger.Reseller
	var id, status string
	if err := row.Scan(&id, &r.Name, &r.Contact, &r.Address, &status, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return r, err
	}
	r.ID = ledger.ResellerID(id)
	r.Status = ledger.Status(status)
	return r, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func (s *Store) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return ledger.Storage("begin transaction", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	return ledger.Storage("commit transaction", tx.Commit(ctx))
}

// WithTx runs fn with every store call bound to one transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Tx) error) error {
	return s.inTx(ctx, func(tx pgx.Tx) error { return fn(&txStore{tx: tx}) })
}

type txStore struct {
	tx pgx.Tx
}

func (t *txStore) Append(ctx context.Context, e ledger.Entry) (ledger.EntryID, error) {
	return appendEntry(ctx, t.tx, e)
}

func (t *txStore) Get(ctx context.Context, id ledger.EntryID) (ledger.Entry, error) {
	return getEntry(ctx, t.tx, id)
}

func (t *txStore) Query(ctx context.Context, f ledger.Filter) iter.Seq2[ledger.Entry, error] {
	return queryPages(ctx, t.tx, f)
}

func (t *txStore) MarkSuperseded(ctx context.Context, id ledger.EntryID) error {
	return markEntry(ctx, t.tx, id, ledger.StatusSuperseded)
}

func (t *txStore) MarkReversed(ctx context.Context, id ledger.EntryID) error {
	return markEntry(ctx, t.tx, id, ledger.StatusReversed)
}

func (t *txStore) AdjustBalances(ctx context.Context, deltas []ledger.Delta) error {
	return adjustBalances(ctx, t.tx, deltas)
}

func (t *txStore) SaveProduct(ctx context.Context, p ledger.Product) error {
	return saveProduct(ctx, t.tx, p)
}

func (t *txStore) GetProduct(ctx context.Context, id ledger.ProductID) (ledger.Product, error) {
	return getProduct(ctx, t.tx, id)
}

func (t *txStore) ListProducts(ctx context.Context) ([]ledger.Product, error) {
	return listProducts(ctx, t.tx)
}

func (t *txStore) SaveReseller(ctx context.Context, r ledger.Reseller) error {
	return saveReseller(ctx, t.tx, r)
}

func (t *txStore) GetReseller(ctx context.Context, id ledger.ResellerID) (ledger.Reseller, error) {
	return getReseller(ctx, t.tx, id)
}

func (t *txStore) ListResellers(ctx context.Context) ([]ledger.Reseller, error) {
	return listResellers(ctx, t.tx)
}

// Reset clears all data (for demo scenarios).
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx,
		"TRUNCATE ledger_entries, ledger_balances, ledger_products, ledger_resellers RESTART IDENTITY")
	return ledger.Storage("reset", err)
}

// =============================================================================
// HELPERS
// =============================================================================

func hasCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
