package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/ethbank/internal/ledger"
)

// querier is the subset of *sql.Tx used by views.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// sqlView implements ledger.View over one transaction.
type sqlView struct {
	q querier
}

// rowScanner is implemented by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// Records returns all transfers ordered by idx.
// Returns an empty slice (not nil) on an empty ledger.
func (v *sqlView) Records(ctx context.Context) ([]ledger.TransferRecord, error) {
	rows, err := v.q.QueryContext(ctx, `
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

// Count derives the record count from the highest index.
func (v *sqlView) Count(ctx context.Context) (uint64, error) {
	var n int64
	err := v.q.QueryRowContext(ctx, `SELECT COALESCE(MAX(idx) + 1, 0) FROM transfers`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count transfers: %w", err)
	}
	return uint64(n), nil
}

func (v *sqlView) Last(ctx context.Context) (ledger.TransferRecord, bool, error) {
	row := v.q.QueryRowContext(ctx, `
		SELECT idx, sender, receiver, amount, message, timestamp
		FROM transfers
		ORDER BY idx DESC
		LIMIT 1
	`)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.TransferRecord{}, false, nil
	}
	if err != nil {
		return ledger.TransferRecord{}, false, err
	}
	return rec, true, nil
}

func (v *sqlView) Account(ctx context.Context, addr ledger.Address) (ledger.Account, error) {
	row := v.q.QueryRowContext(ctx, `
		SELECT address, balance, initial_balance, refuses_funds
		FROM accounts
		WHERE address = ?
	`, addr)
	acct, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Account{Address: addr}, nil
	}
	return acct, err
}

func (v *sqlView) Accounts(ctx context.Context) ([]ledger.Account, error) {
	rows, err := v.q.QueryContext(ctx, `
		SELECT address, balance, initial_balance, refuses_funds
		FROM accounts
		ORDER BY address COLLATE BINARY ASC
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

func scanRecord(row rowScanner) (ledger.TransferRecord, error) {
	var (
		rec ledger.TransferRecord
		idx int64
		ts  int64
	)
	if err := row.Scan(&idx, &rec.Sender, &rec.Receiver, &rec.Amount, &rec.Message, &ts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, err
		}
		return rec, fmt.Errorf("scan transfer: %w", err)
	}
	rec.Index = uint64(idx)
	rec.Timestamp = time.Unix(ts, 0).UTC()
	return rec, nil
}

func scanAccount(row rowScanner) (ledger.Account, error) {
	var (
		acct    ledger.Account
		refuses int64
	)
	if err := row.Scan(&acct.Address, &acct.Balance, &acct.Initial, &refuses); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return acct, err
		}
		return acct, fmt.Errorf("scan account: %w", err)
	}
	acct.RefusesFunds = refuses != 0
	return acct, nil
}
