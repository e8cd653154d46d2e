// Package memstore is an in-memory ledger.Store.
//
// Committed state is an immutable snapshot published through an atomic
// pointer. Reads load the current snapshot and never lock, so a long Read
// does not hold up Count or Write. Writes are staged in an overlay and
// become a new snapshot only when the write function returns nil.
package memstore

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/ethbank/internal/ledger"
)

// snapshot is one committed state. It is never mutated once published.
//
// Later snapshots may share the records backing array and append past
// len(records), which readers of this snapshot never index.
type snapshot struct {
	records  []ledger.TransferRecord
	accounts map[ledger.Address]ledger.Account
}

// Store is an in-memory ledger.Store. The zero value is not usable; call New.
type Store struct {
	writeMu sync.Mutex // serializes Write units
	cur     atomic.Pointer[snapshot]
}

// New creates an empty store.
func New() *Store {
	s := &Store{}
	s.cur.Store(&snapshot{
		records:  make([]ledger.TransferRecord, 0),
		accounts: make(map[ledger.Address]ledger.Account),
	})
	return s
}

// Read runs fn against the snapshot current at the time of the call.
func (s *Store) Read(ctx context.Context, fn func(ledger.View) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(&view{snap: s.cur.Load()})
}

// Write runs fn against a staged overlay and publishes it if fn returns nil.
func (s *Store) Write(ctx context.Context, fn func(ledger.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	base := s.cur.Load()
	tx := &tx{
		view:     view{snap: base},
		accounts: make(map[ledger.Address]ledger.Account),
	}
	if err := fn(tx); err != nil {
		return err
	}

	next := &snapshot{
		records:  append(base.records, tx.pending...),
		accounts: base.accounts,
	}
	if len(tx.accounts) > 0 {
		next.accounts = maps.Clone(base.accounts)
		maps.Copy(next.accounts, tx.accounts)
	}
	s.cur.Store(next)

	return nil
}

// Count returns the committed record count without locking.
func (s *Store) Count() uint64 {
	return uint64(len(s.cur.Load().records))
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

// view reads one committed snapshot.
type view struct {
	snap *snapshot
}

func (v *view) Records(ctx context.Context) ([]ledger.TransferRecord, error) {
	out := make([]ledger.TransferRecord, len(v.snap.records))
	copy(out, v.snap.records)
	return out, nil
}

func (v *view) Count(ctx context.Context) (uint64, error) {
	return uint64(len(v.snap.records)), nil
}

func (v *view) Last(ctx context.Context) (ledger.TransferRecord, bool, error) {
	if len(v.snap.records) == 0 {
		return ledger.TransferRecord{}, false, nil
	}
	return v.snap.records[len(v.snap.records)-1], true, nil
}

func (v *view) Account(ctx context.Context, addr ledger.Address) (ledger.Account, error) {
	if acct, ok := v.snap.accounts[addr]; ok {
		return acct, nil
	}
	return ledger.Account{Address: addr}, nil
}

func (v *view) Accounts(ctx context.Context) ([]ledger.Account, error) {
	return sortedAccounts(v.snap.accounts), nil
}

// tx overlays staged records and account states on the committed view.
type tx struct {
	view
	pending  []ledger.TransferRecord
	accounts map[ledger.Address]ledger.Account
}

func (t *tx) Records(ctx context.Context) ([]ledger.TransferRecord, error) {
	out := make([]ledger.TransferRecord, 0, len(t.snap.records)+len(t.pending))
	out = append(out, t.snap.records...)
	out = append(out, t.pending...)
	return out, nil
}

func (t *tx) Count(ctx context.Context) (uint64, error) {
	return uint64(len(t.snap.records) + len(t.pending)), nil
}

func (t *tx) Last(ctx context.Context) (ledger.TransferRecord, bool, error) {
	if len(t.pending) > 0 {
		return t.pending[len(t.pending)-1], true, nil
	}
	return t.view.Last(ctx)
}

func (t *tx) Account(ctx context.Context, addr ledger.Address) (ledger.Account, error) {
	if acct, ok := t.accounts[addr]; ok {
		return acct, nil
	}
	return t.view.Account(ctx, addr)
}

func (t *tx) Accounts(ctx context.Context) ([]ledger.Account, error) {
	merged := make(map[ledger.Address]ledger.Account, len(t.snap.accounts)+len(t.accounts))
	for addr, acct := range t.snap.accounts {
		merged[addr] = acct
	}
	for addr, acct := range t.accounts {
		merged[addr] = acct
	}
	return sortedAccounts(merged), nil
}

func (t *tx) MoveValue(ctx context.Context, from, to ledger.Address, amount ledger.Amount) error {
	src, err := t.Account(ctx, from)
	if err != nil {
		return err
	}
	dst, err := t.Account(ctx, to)
	if err != nil {
		return err
	}
	src, dst, err = ledger.PlanMove(src, dst, amount)
	if err != nil {
		return err
	}
	t.accounts[from] = src
	t.accounts[to] = dst
	return nil
}

func (t *tx) Append(ctx context.Context, rec ledger.TransferRecord) (uint64, error) {
	n, _ := t.Count(ctx)
	rec.Index = n
	rec.Timestamp = rec.Timestamp.UTC().Truncate(time.Second)
	t.pending = append(t.pending, rec)
	return n, nil
}

func (t *tx) InitAccount(ctx context.Context, acct ledger.Account) error {
	_, staged := t.accounts[acct.Address]
	_, committed := t.snap.accounts[acct.Address]
	if staged || committed {
		return fmt.Errorf("init account %s: already exists", acct.Address)
	}
	t.accounts[acct.Address] = acct
	return nil
}

func sortedAccounts(m map[ledger.Address]ledger.Account) []ledger.Account {
	out := make([]ledger.Account, 0, len(m))
	for _, acct := range m {
		out = append(out, acct)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address.String() < out[j].Address.String()
	})
	return out
}

var _ ledger.Store = (*Store)(nil)
