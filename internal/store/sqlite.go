package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite store and runs migrations.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	// For in-memory databases, use shared cache so all connections in the pool
	// see the same data. Without this, each pooled connection gets a separate
	// empty database.
	if dsn == ":memory:" {
		dsn = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite permits one writer at a time; serialize at the pool so
	// concurrent balance updates queue instead of failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent read/write.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			external_id TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL DEFAULT '',
			email TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL DEFAULT '',
			credit_balance INTEGER NOT NULL DEFAULT 0 CHECK (credit_balance >= 0),
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_accounts_external_id ON accounts(external_id)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL REFERENCES accounts(id),
			plan TEXT NOT NULL,
			amount INTEGER NOT NULL,
			credits INTEGER NOT NULL,
			settled INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			settled_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_account_id ON transactions(account_id)`,
		`CREATE TABLE IF NOT EXISTS usage_events (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_events_account_id ON usage_events(account_id)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_events_created_at ON usage_events(created_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n  SQL: %s", err, m)
		}
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Accounts ---

func (s *SQLiteStore) CreateAccount(ctx context.Context, a *Account) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO accounts (id, external_id, name, email, password_hash, credit_balance, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		a.ID, a.ExternalID, a.Name, a.Email, a.PasswordHash, a.CreditBalance, a.CreatedAt,
	)
	return err
}

func (s *SQLiteStore) GetAccountByID(ctx context.Context, id string) (*Account, error) {
	return s.scanAccount(s.db.QueryRowContext(ctx,
		"SELECT id, external_id, name, email, password_hash, credit_balance, created_at FROM accounts WHERE id = ?", id))
}

func (s *SQLiteStore) GetAccountByEmail(ctx context.Context, email string) (*Account, error) {
	return s.scanAccount(s.db.QueryRowContext(ctx,
		"SELECT id, external_id, name, email, password_hash, credit_balance, created_at FROM accounts WHERE email = ?", email))
}

func (s *SQLiteStore) GetAccountByExternalID(ctx context.Context, externalID string) (*Account, error) {
	return s.scanAccount(s.db.QueryRowContext(ctx,
		"SELECT id, external_id, name, email, password_hash, credit_balance, created_at FROM accounts WHERE external_id = ?", externalID))
}

func (s *SQLiteStore) scanAccount(row *sql.Row) (*Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.ExternalID, &a.Name, &a.Email, &a.PasswordHash, &a.CreditBalance, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &a, err
}

func (s *SQLiteStore) ListAccounts(ctx context.Context) ([]Account, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, external_id, name, email, credit_balance, created_at FROM accounts ORDER BY created_at")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.ExternalID, &a.Name, &a.Email, &a.CreditBalance, &a.CreatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// --- Balance primitives ---

// DebitBalance is the race-closing conditional decrement: the balance guard
// and the write are one statement, so two concurrent debits against a balance
// of 1 can never both succeed.
func (s *SQLiteStore) DebitBalance(ctx context.Context, accountID string, amount int) (int, bool, error) {
	var balance int
	err := s.db.QueryRowContext(ctx,
		"UPDATE accounts SET credit_balance = credit_balance - ? WHERE id = ? AND credit_balance >= ? RETURNING credit_balance",
		amount, accountID, amount,
	).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return balance, true, nil
}

func (s *SQLiteStore) CreditBalance(ctx context.Context, accountID string, amount int) (int, bool, error) {
	var balance int
	err := s.db.QueryRowContext(ctx,
		"UPDATE accounts SET credit_balance = credit_balance + ? WHERE id = ? RETURNING credit_balance",
		amount, accountID,
	).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return balance, true, nil
}

// --- Transactions ---

func (s *SQLiteStore) CreateTransaction(ctx context.Context, t *Transaction) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO transactions (id, account_id, plan, amount, credits, settled, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		t.ID, t.AccountID, t.Plan, t.Amount, t.Credits, t.Settled, t.CreatedAt,
	)
	return err
}

func (s *SQLiteStore) GetTransaction(ctx context.Context, id string) (*Transaction, error) {
	var t Transaction
	var settledAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		"SELECT id, account_id, plan, amount, credits, settled, created_at, settled_at FROM transactions WHERE id = ?", id,
	).Scan(&t.ID, &t.AccountID, &t.Plan, &t.Amount, &t.Credits, &t.Settled, &t.CreatedAt, &settledAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if settledAt.Valid {
		t.SettledAt = settledAt.Time
	}
	return &t, nil
}

func (s *SQLiteStore) ListTransactionsByAccount(ctx context.Context, accountID string) ([]Transaction, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, account_id, plan, amount, credits, settled, created_at, settled_at FROM transactions WHERE account_id = ? ORDER BY created_at DESC",
		accountID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []Transaction
	for rows.Next() {
		var t Transaction
		var settledAt sql.NullTime
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Plan, &t.Amount, &t.Credits, &t.Settled, &t.CreatedAt, &settledAt); err != nil {
			return nil, err
		}
		if settledAt.Valid {
			t.SettledAt = settledAt.Time
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// SettleTransaction performs the settled-flag compare-and-set and the balance
// credit inside one database transaction. The flag can only flip once, so
// concurrent deliveries of the same payment confirmation credit exactly once.
func (s *SQLiteStore) SettleTransaction(ctx context.Context, id string) (*Transaction, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback() }()

	var t Transaction
	var settledAt sql.NullTime
	err = tx.QueryRowContext(ctx,
		"SELECT id, account_id, plan, amount, credits, settled, created_at, settled_at FROM transactions WHERE id = ?", id,
	).Scan(&t.ID, &t.AccountID, &t.Plan, &t.Amount, &t.Credits, &t.Settled, &t.CreatedAt, &settledAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if settledAt.Valid {
		t.SettledAt = settledAt.Time
	}

	now := time.Now()
	res, err := tx.ExecContext(ctx,
		"UPDATE transactions SET settled = 1, settled_at = ? WHERE id = ? AND settled = 0", now, id)
	if err != nil {
		return nil, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if n == 0 {
		// Lost the race (or a webhook retry): already settled.
		t.Settled = true
		return &t, false, nil
	}

	res, err = tx.ExecContext(ctx,
		"UPDATE accounts SET credit_balance = credit_balance + ? WHERE id = ?", t.Credits, t.AccountID)
	if err != nil {
		return nil, false, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, false, err
	} else if n == 0 {
		return nil, false, fmt.Errorf("settle %s: account %s not found", id, t.AccountID)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}

	t.Settled = true
	t.SettledAt = now
	return &t, true, nil
}

// --- Usage events ---

func (s *SQLiteStore) LogUsageEvent(ctx context.Context, ev *UsageEvent) error {
	detail := ""
	if ev.Detail != nil {
		detail = string(ev.Detail)
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO usage_events (id, account_id, kind, detail, created_at) VALUES (?, ?, ?, ?, ?)",
		ev.ID, ev.AccountID, ev.Kind, detail, ev.CreatedAt,
	)
	return err
}

func (s *SQLiteStore) ListUsageEvents(ctx context.Context, accountID string, limit, offset int) ([]UsageEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, account_id, kind, detail, created_at FROM usage_events
		 WHERE account_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		accountID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []UsageEvent
	for rows.Next() {
		var ev UsageEvent
		var detail string
		if err := rows.Scan(&ev.ID, &ev.AccountID, &ev.Kind, &detail, &ev.CreatedAt); err != nil {
			return nil, err
		}
		if detail != "" {
			ev.Detail = []byte(detail)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *SQLiteStore) PurgeOldUsageEvents(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM usage_events WHERE created_at < ?", before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
