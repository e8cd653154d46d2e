package pgstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/roach88/ethbank/internal/ledger"
)

//go:embed schema.sql
var schemaSQL string

// Store is a PostgreSQL-backed ledger.
type Store struct {
	db *sql.DB
}

// Open connects to the database at dsn and applies the schema.
// Safe to call against a database that already holds a ledger.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Read(ctx context.Context, fn func(ledger.View) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return fmt.Errorf("read: begin tx: %w", err)
	}
	defer tx.Rollback()

	return fn(&pgView{tx: tx})
}

func (s *Store) Write(ctx context.Context, fn func(ledger.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("write: begin tx: %w", err)
	}
	defer tx.Rollback()

	// Must precede any query so the snapshot is taken after the lock.
	if _, err := tx.ExecContext(ctx, `LOCK TABLE transfers IN EXCLUSIVE MODE`); err != nil {
		return fmt.Errorf("write: lock transfers: %w", err)
	}

	if err := fn(&pgTx{pgView: pgView{tx: tx}}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write: commit: %w", err)
	}
	return nil
}

type pgView struct {
	tx *sql.Tx
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (v *pgView) Records(ctx context.Context) ([]ledger.TransferRecord, error) {
	rows, err := v.tx.QueryContext(ctx, `
		SELECT idx, sender, receiver, amount, message, timestamp
		FROM transfers
		ORDER BY idx ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query transfers: %w", err)
	}
	defer rows.Close()

	records := []ledger.TransferRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transfers: %w", err)
	}
	return records, nil
}

func (v *pgView) Count(ctx context.Context) (uint64, error) {
	var n int64
	if err := v.tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(idx) + 1, 0) FROM transfers`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count transfers: %w", err)
	}
	return uint64(n), nil
}

func (v *pgView) Last(ctx context.Context) (ledger.TransferRecord, bool, error) {
	rec, err := scanRecord(v.tx.QueryRowContext(ctx, `
		SELECT idx, sender, receiver, amount, message, timestamp
		FROM transfers
		ORDER BY idx DESC
		LIMIT 1
	`))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.TransferRecord{}, false, nil
	}
	if err != nil {
		return ledger.TransferRecord{}, false, err
	}
	return rec, true, nil
}

func (v *pgView) Account(ctx context.Context, addr ledger.Address) (ledger.Account, error) {
	acct, err := scanAccount(v.tx.QueryRowContext(ctx, `
		SELECT address, balance, initial_balance, refuses_funds
		FROM accounts
		WHERE address = $1
	`, addr))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Account{Address: addr}, nil
	}
	return acct, err
}

func (v *pgView) Accounts(ctx context.Context) ([]ledger.Account, error) {
	rows, err := v.tx.QueryContext(ctx, `
		SELECT address, balance, initial_balance, refuses_funds
		FROM accounts
		ORDER BY address COLLATE "C" ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	accounts := []ledger.Account{}
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acct)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return accounts, nil
}

type pgTx struct {
	pgView
}

func (t *pgTx) MoveValue(ctx context.Context, from, to ledger.Address, amount ledger.Amount) error {
	src, err := t.Account(ctx, from)
	if err != nil {
		return fmt.Errorf("move value: %w", err)
	}
	dst, err := t.Account(ctx, to)
	if err != nil {
		return fmt.Errorf("move value: %w", err)
	}

	src, dst, err = ledger.PlanMove(src, dst, amount)
	if err != nil {
		return err
	}

	for _, acct := range []ledger.Account{src, dst} {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO accounts (address, balance)
			VALUES ($1, $2)
			ON CONFLICT (address) DO UPDATE SET balance = EXCLUDED.balance
		`, acct.Address, acct.Balance)
		if err != nil {
			return fmt.Errorf("move value: update %s: %w", acct.Address, err)
		}
	}
	return nil
}

func (t *pgTx) Append(ctx context.Context, rec ledger.TransferRecord) (uint64, error) {
	idx, err := t.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("append: %w", err)
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO transfers (idx, sender, receiver, amount, message, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, int64(idx), rec.Sender, rec.Receiver, rec.Amount, []byte(rec.Message), rec.Timestamp.Unix())
	if err != nil {
		return 0, fmt.Errorf("append: %w", err)
	}
	return idx, nil
}

func (t *pgTx) InitAccount(ctx context.Context, acct ledger.Account) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO accounts (address, balance, initial_balance, refuses_funds)
		VALUES ($1, $2, $3, $4)
	`, acct.Address, acct.Balance, acct.Initial, acct.RefusesFunds)
	if err != nil {
		return fmt.Errorf("init account %s: %w", acct.Address, err)
	}
	return nil
}

func scanRecord(row rowScanner) (ledger.TransferRecord, error) {
	var (
		rec ledger.TransferRecord
		idx int64
		msg []byte
		ts  int64
	)
	if err := row.Scan(&idx, &rec.Sender, &rec.Receiver, &rec.Amount, &msg, &ts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, err
		}
		return rec, fmt.Errorf("scan transfer: %w", err)
	}
	rec.Index = uint64(idx)
	rec.Message = string(msg)
	rec.Timestamp = time.Unix(ts, 0).UTC()
	return rec, nil
}

func scanAccount(row rowScanner) (ledger.Account, error) {
	var acct ledger.Account
	if err := row.Scan(&acct.Address, &acct.Balance, &acct.Initial, &acct.RefusesFunds); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return acct, err
		}
		return acct, fmt.Errorf("scan account: %w", err)
	}
	return acct, nil
}

var _ ledger.Store = (*Store)(nil)
