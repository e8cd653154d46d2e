package store

import (
	"context"
	"fmt"

	"github.com/roach88/ethbank/internal/ledger"
)

// sqlTx implements ledger.Tx. All statements run in the transaction opened
// by Store.Write.
type sqlTx struct {
	sqlView
}

// MoveValue debits from and credits to after ledger.PlanMove approves.
// Accounts that do not exist yet are created by the upsert.
func (t *sqlTx) MoveValue(ctx context.Context, from, to ledger.Address, amount ledger.Amount) error {
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

	if err := t.putBalance(ctx, src); err != nil {
		return fmt.Errorf("move value: debit: %w", err)
	}
	if err := t.putBalance(ctx, dst); err != nil {
		return fmt.Errorf("move value: credit: %w", err)
	}
	return nil
}

func (t *sqlTx) putBalance(ctx context.Context, acct ledger.Account) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO accounts (address, balance, initial_balance, refuses_funds)
		VALUES (?, ?, '0', 0)
		ON CONFLICT(address) DO UPDATE SET balance = excluded.balance
	`, acct.Address, acct.Balance)
	return err
}

// Append inserts rec at idx = current count. Timestamps are stored as Unix
// seconds.
func (t *sqlTx) Append(ctx context.Context, rec ledger.TransferRecord) (uint64, error) {
	idx, err := t.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("append: %w", err)
	}

	_, err = t.q.ExecContext(ctx, `
		INSERT INTO transfers
		(idx, sender, receiver, amount, message, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		int64(idx),
		rec.Sender,
		rec.Receiver,
		rec.Amount,
		rec.Message,
		rec.Timestamp.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("append: %w", err)
	}

	return idx, nil
}

// InitAccount inserts a genesis account. A duplicate address violates the
// primary key and returns an error.
func (t *sqlTx) InitAccount(ctx context.Context, acct ledger.Account) error {
	refuses := 0
	if acct.RefusesFunds {
		refuses = 1
	}
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO accounts (address, balance, initial_balance, refuses_funds)
		VALUES (?, ?, ?, ?)
	`, acct.Address, acct.Balance, acct.Initial, refuses)
	if err != nil {
		return fmt.Errorf("init account %s: %w", acct.Address, err)
	}
	return nil
}
