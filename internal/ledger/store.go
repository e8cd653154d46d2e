package ledger

import (
	"context"
	"fmt"
)

// View is a read-only, consistent view of the ledger.
type View interface {
	// Records returns every record in insertion order. Never nil.
	Records(ctx context.Context) ([]TransferRecord, error)

	// Count returns the number of records.
	Count(ctx context.Context) (uint64, error)

	// Last returns the most recent record, or false on an empty ledger.
	Last(ctx context.Context) (TransferRecord, bool, error)

	// Account returns the state of addr. Unknown accounts have a zero
	// balance and accept funds.
	Account(ctx context.Context, addr Address) (Account, error)

	// Accounts returns all known accounts ordered by address.
	Accounts(ctx context.Context) ([]Account, error)
}

// Tx is the write side of one all-or-nothing unit.
type Tx interface {
	View

	// MoveValue moves amount from one account to another. It returns a
	// TRANSFER_REJECTED *Error when the receiver refuses funds or the sender
	// cannot cover the amount.
	MoveValue(ctx context.Context, from, to Address, amount Amount) error

	// Append adds rec at the end of the sequence and returns its index.
	// rec.Index is ignored.
	Append(ctx context.Context, rec TransferRecord) (uint64, error)

	// InitAccount creates an account with an opening balance. It fails if
	// the account already exists.
	InitAccount(ctx context.Context, acct Account) error
}

// Store owns the ledger state.
//
// Write calls are serialized. If fn returns an error, or the commit fails,
// none of fn's changes become visible. Read calls may run concurrently and
// each observes a single committed state.
type Store interface {
	Read(ctx context.Context, fn func(View) error) error
	Write(ctx context.Context, fn func(Tx) error) error
	Close() error
}

// Snapshot is the records and count observed by one Read.
type Snapshot struct {
	Count   uint64           `json:"count"`
	Records []TransferRecord `json:"transfers"`
}

// GetAll returns every record in insertion order.
func GetAll(ctx context.Context, s Store) ([]TransferRecord, error) {
	var recs []TransferRecord
	err := s.Read(ctx, func(v View) error {
		var err error
		recs, err = v.Records(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get all: %w", err)
	}
	return recs, nil
}

// GetCount returns the number of records.
func GetCount(ctx context.Context, s Store) (uint64, error) {
	var n uint64
	err := s.Read(ctx, func(v View) error {
		var err error
		n, err = v.Count(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("get count: %w", err)
	}
	return n, nil
}

// GetSnapshot returns records and count from the same committed state.
func GetSnapshot(ctx context.Context, s Store) (Snapshot, error) {
	var snap Snapshot
	err := s.Read(ctx, func(v View) error {
		recs, err := v.Records(ctx)
		if err != nil {
			return err
		}
		n, err := v.Count(ctx)
		if err != nil {
			return err
		}
		snap = Snapshot{Count: n, Records: recs}
		return nil
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("get snapshot: %w", err)
	}
	return snap, nil
}

// GetAccount returns the state of addr.
func GetAccount(ctx context.Context, s Store, addr Address) (Account, error) {
	var acct Account
	err := s.Read(ctx, func(v View) error {
		var err error
		acct, err = v.Account(ctx, addr)
		return err
	})
	if err != nil {
		return Account{}, fmt.Errorf("get account: %w", err)
	}
	return acct, nil
}

// ApplyGenesis seeds accounts into a ledger that has no records and no
// accounts yet. It reports whether the allocation was applied; a ledger that
// already holds state is left untouched.
func ApplyGenesis(ctx context.Context, s Store, alloc []Account) (bool, error) {
	if len(alloc) == 0 {
		return false, nil
	}
	applied := false
	err := s.Write(ctx, func(tx Tx) error {
		n, err := tx.Count(ctx)
		if err != nil {
			return err
		}
		existing, err := tx.Accounts(ctx)
		if err != nil {
			return err
		}
		if n > 0 || len(existing) > 0 {
			return nil
		}
		for _, acct := range alloc {
			if err := tx.InitAccount(ctx, acct); err != nil {
				return err
			}
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("apply genesis: %w", err)
	}
	return applied, nil
}

// PlanMove computes the balances of from and to after moving amount, or the
// TRANSFER_REJECTED error that forbids it. When from and to are the same
// account both results carry the unchanged balance.
func PlanMove(from, to Account, amount Amount) (Account, Account, error) {
	if to.RefusesFunds {
		return from, to, NewRefusedError(to.Address)
	}
	if from.Balance.Cmp(amount) < 0 {
		return from, to, NewInsufficientFundsError(from.Address, from.Balance, amount)
	}
	if from.Address == to.Address {
		return from, from, nil
	}

	debited, err := from.Balance.Sub(amount)
	if err != nil {
		return from, to, NewInsufficientFundsError(from.Address, from.Balance, amount)
	}
	credited, err := to.Balance.Add(amount)
	if err != nil {
		return from, to, &Error{
			Code:    ErrCodeTransferRejected,
			Message: fmt.Sprintf("receiver %s balance would overflow", to.Address),
			Details: map[string]string{"reason": "overflow", "receiver": to.Address.String()},
		}
	}
	from.Balance = debited
	to.Balance = credited
	return from, to, nil
}
