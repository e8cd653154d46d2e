// Package ledgertest provides the conformance suite every ledger.Store
// backend runs from its own tests.
package ledgertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ethbank/internal/ledger"
)

// Fixture identities shared by the suite.
var (
	Alice   = ledger.MustParseAddress("0x00000000000000000000000000000000000a11ce")
	Bob     = ledger.MustParseAddress("0x0000000000000000000000000000000000000b0b")
	Carol   = ledger.MustParseAddress("0x00000000000000000000000000000000000ca201")
	Refuser = ledger.MustParseAddress("0x00000000000000000000000000000000000dead0")
)

// BaseTime is the timestamp of the first record written by the suite.
var BaseTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

var errAbort = errors.New("abort")

// Factory returns a fresh, empty store. The factory registers its own cleanup.
type Factory func(t *testing.T) ledger.Store

// Genesis returns the allocation used by the suite: Alice and Bob hold 1000
// wei, Refuser holds nothing and rejects incoming value.
func Genesis() []ledger.Account {
	return []ledger.Account{
		{Address: Alice, Balance: ledger.NewAmount(1000), Initial: ledger.NewAmount(1000)},
		{Address: Bob, Balance: ledger.NewAmount(1000), Initial: ledger.NewAmount(1000)},
		{Address: Refuser, RefusesFunds: true},
	}
}

// RunStoreSuite runs the conformance suite against stores built by newStore.
func RunStoreSuite(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s ledger.Store)
	}{
		{"EmptyLedger", testEmptyLedger},
		{"AppendReturnsIndex", testAppendReturnsIndex},
		{"TransferCommits", testTransferCommits},
		{"WriteErrorDiscardsEverything", testWriteErrorDiscardsEverything},
		{"RefusingReceiver", testRefusingReceiver},
		{"InsufficientFunds", testInsufficientFunds},
		{"SelfTransfer", testSelfTransfer},
		{"CreditCreatesAccount", testCreditCreatesAccount},
		{"InitAccountDuplicate", testInitAccountDuplicate},
		{"GenesisAppliedOnce", testGenesisAppliedOnce},
		{"MessagePreserved", testMessagePreserved},
		{"LastRecord", testLastRecord},
		{"AccountsOrdered", testAccountsOrdered},
		{"SnapshotConsistency", testSnapshotConsistency},
		{"OpenReadDoesNotBlockWriters", testOpenReadDoesNotBlockWriters},
		{"AuditClean", testAuditClean},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func seed(t *testing.T, s ledger.Store) {
	t.Helper()
	applied, err := ledger.ApplyGenesis(context.Background(), s, Genesis())
	require.NoError(t, err)
	require.True(t, applied)
}

// transfer runs one MoveValue+Append unit, the same shape the engine uses.
func transfer(ctx context.Context, s ledger.Store, from, to ledger.Address, amount uint64, msg string, ts time.Time) (uint64, error) {
	var idx uint64
	err := s.Write(ctx, func(tx ledger.Tx) error {
		amt := ledger.NewAmount(amount)
		if err := tx.MoveValue(ctx, from, to, amt); err != nil {
			return err
		}
		var err error
		idx, err = tx.Append(ctx, ledger.TransferRecord{
			Sender:    from,
			Receiver:  to,
			Amount:    amt,
			Message:   msg,
			Timestamp: ts,
		})
		return err
	})
	return idx, err
}

func balance(t *testing.T, s ledger.Store, addr ledger.Address) string {
	t.Helper()
	acct, err := ledger.GetAccount(context.Background(), s, addr)
	require.NoError(t, err)
	return acct.Balance.String()
}

func testEmptyLedger(t *testing.T, s ledger.Store) {
	ctx := context.Background()

	n, err := ledger.GetCount(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), n)

	recs, err := ledger.GetAll(ctx, s)
	require.NoError(t, err)
	assert.NotNil(t, recs)
	assert.Empty(t, recs)

	_, ok, err := lastRecord(ctx, s)
	require.NoError(t, err)
	assert.False(t, ok)
}

func testAppendReturnsIndex(t *testing.T, s ledger.Store) {
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		var idx uint64
		err := s.Write(ctx, func(tx ledger.Tx) error {
			var err error
			idx, err = tx.Append(ctx, ledger.TransferRecord{
				Sender:    Alice,
				Receiver:  Bob,
				Amount:    ledger.NewAmount(uint64(i)),
				Message:   fmt.Sprintf("append %d", i),
				Timestamp: BaseTime.Add(time.Duration(i) * time.Second),
			})
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, uint64(i), idx)

		n, err := ledger.GetCount(ctx, s)
		require.NoError(t, err)
		assert.Equal(t, uint64(i+1), n)
	}

	recs, err := ledger.GetAll(ctx, s)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	for i, rec := range recs {
		assert.Equal(t, uint64(i), rec.Index)
		assert.Equal(t, fmt.Sprintf("append %d", i), rec.Message)
	}
}

func testTransferCommits(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	seed(t, s)

	idx, err := transfer(ctx, s, Alice, Bob, 100, "first transaction!", BaseTime)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), idx)

	idx, err = transfer(ctx, s, Alice, Bob, 250, "hello blockchain!", BaseTime.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), idx)

	assert.Equal(t, "650", balance(t, s, Alice))
	assert.Equal(t, "1350", balance(t, s, Bob))

	snap, err := ledger.GetSnapshot(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), snap.Count)
	require.Len(t, snap.Records, 2)

	first := snap.Records[0]
	assert.Equal(t, Alice, first.Sender)
	assert.Equal(t, Bob, first.Receiver)
	assert.Equal(t, "100", first.Amount.String())
	assert.Equal(t, "first transaction!", first.Message)
	assert.True(t, BaseTime.Equal(first.Timestamp), "timestamp = %s", first.Timestamp)

	assert.Equal(t, "250", snap.Records[1].Amount.String())
	assert.Equal(t, "hello blockchain!", snap.Records[1].Message)
}

func testWriteErrorDiscardsEverything(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	seed(t, s)

	_, err := transfer(ctx, s, Alice, Bob, 100, "kept", BaseTime)
	require.NoError(t, err)

	err = s.Write(ctx, func(tx ledger.Tx) error {
		amt := ledger.NewAmount(300)
		if err := tx.MoveValue(ctx, Alice, Carol, amt); err != nil {
			return err
		}
		if _, err := tx.Append(ctx, ledger.TransferRecord{
			Sender: Alice, Receiver: Carol, Amount: amt, Message: "discarded", Timestamp: BaseTime,
		}); err != nil {
			return err
		}

		// Staged state is visible inside the unit.
		n, err := tx.Count(ctx)
		if err != nil {
			return err
		}
		if n != 2 {
			return fmt.Errorf("staged count = %d, want 2", n)
		}
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)

	n, err := ledger.GetCount(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
	assert.Equal(t, "900", balance(t, s, Alice))
	assert.Equal(t, "0", balance(t, s, Carol))

	accts, err := readAccounts(ctx, s)
	require.NoError(t, err)
	for _, a := range accts {
		assert.NotEqual(t, Carol, a.Address, "aborted credit must not create an account")
	}
}

func testRefusingReceiver(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	seed(t, s)

	_, err := transfer(ctx, s, Alice, Refuser, 10, "nope", BaseTime)
	require.Error(t, err)
	assert.True(t, ledger.IsTransferRejected(err), "got %v", err)

	assert.Equal(t, "1000", balance(t, s, Alice))
	assert.Equal(t, "0", balance(t, s, Refuser))
	n, err := ledger.GetCount(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), n)
}

func testInsufficientFunds(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	seed(t, s)

	_, err := transfer(ctx, s, Alice, Bob, 1001, "too much", BaseTime)
	require.Error(t, err)
	assert.True(t, ledger.IsTransferRejected(err), "got %v", err)

	_, err = transfer(ctx, s, Carol, Bob, 1, "unknown sender", BaseTime)
	require.Error(t, err)
	assert.True(t, ledger.IsTransferRejected(err), "got %v", err)

	assert.Equal(t, "1000", balance(t, s, Alice))
	assert.Equal(t, "1000", balance(t, s, Bob))
	n, err := ledger.GetCount(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), n)
}

func testSelfTransfer(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	seed(t, s)

	_, err := transfer(ctx, s, Alice, Alice, 400, "to myself", BaseTime)
	require.NoError(t, err)
	assert.Equal(t, "1000", balance(t, s, Alice))

	_, err = transfer(ctx, s, Alice, Alice, 1001, "too much for myself", BaseTime)
	assert.True(t, ledger.IsTransferRejected(err), "got %v", err)
}

func testCreditCreatesAccount(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	seed(t, s)

	_, err := transfer(ctx, s, Alice, Carol, 0, "zero value note", BaseTime)
	require.NoError(t, err)
	_, err = transfer(ctx, s, Bob, Carol, 5, "five", BaseTime)
	require.NoError(t, err)

	acct, err := ledger.GetAccount(ctx, s, Carol)
	require.NoError(t, err)
	assert.Equal(t, "5", acct.Balance.String())
	assert.True(t, acct.Initial.IsZero())
	assert.False(t, acct.RefusesFunds)
}

func testInitAccountDuplicate(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	seed(t, s)

	err := s.Write(ctx, func(tx ledger.Tx) error {
		return tx.InitAccount(ctx, ledger.Account{Address: Alice, Balance: ledger.NewAmount(5), Initial: ledger.NewAmount(5)})
	})
	require.Error(t, err)
	assert.Equal(t, "1000", balance(t, s, Alice))
}

func testGenesisAppliedOnce(t *testing.T, s ledger.Store) {
	ctx := context.Background()

	applied, err := ledger.ApplyGenesis(ctx, s, Genesis())
	require.NoError(t, err)
	assert.True(t, applied)

	_, err = transfer(ctx, s, Alice, Bob, 100, "spend", BaseTime)
	require.NoError(t, err)

	applied, err = ledger.ApplyGenesis(ctx, s, Genesis())
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, "900", balance(t, s, Alice))

	applied, err = ledger.ApplyGenesis(ctx, s, nil)
	require.NoError(t, err)
	assert.False(t, applied)
}

func testMessagePreserved(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	seed(t, s)

	messages := []string{
		"",
		"hello blockchain!",
		"café vs café",
		"rent 🏠 & coffee <3",
		"line one\nline two\ttabbed",
		"nul\x00inside",
		"\xff\xfe not utf-8",
	}
	for i, msg := range messages {
		_, err := transfer(ctx, s, Alice, Bob, 1, msg, BaseTime.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
	}

	recs, err := ledger.GetAll(ctx, s)
	require.NoError(t, err)
	require.Len(t, recs, len(messages))
	for i, msg := range messages {
		assert.Equal(t, []byte(msg), []byte(recs[i].Message), "record %d", i)
	}
}

func testLastRecord(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	seed(t, s)

	for i := 0; i < 3; i++ {
		_, err := transfer(ctx, s, Alice, Bob, 1, fmt.Sprintf("m%d", i), BaseTime.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}

	last, ok, err := lastRecord(ctx, s)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(2), last.Index)
	assert.Equal(t, "m2", last.Message)
	assert.True(t, BaseTime.Add(2*time.Minute).Equal(last.Timestamp))
}

func testAccountsOrdered(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	seed(t, s)

	_, err := transfer(ctx, s, Alice, Carol, 1, "hi", BaseTime)
	require.NoError(t, err)

	accts, err := readAccounts(ctx, s)
	require.NoError(t, err)
	require.Len(t, accts, 4)
	for i := 1; i < len(accts); i++ {
		assert.Less(t, accts[i-1].Address.String(), accts[i].Address.String())
	}

	for _, a := range accts {
		if a.Address == Refuser {
			assert.True(t, a.RefusesFunds)
		}
	}
}

func testSnapshotConsistency(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	seed(t, s)

	const writers = 4
	const perWriter = 10

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var readErr error
	var readMu sync.Mutex
	var readers sync.WaitGroup
	for r := 0; r < 3; r++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for ctx.Err() == nil {
				snap, err := ledger.GetSnapshot(context.Background(), s)
				if err == nil && snap.Count != uint64(len(snap.Records)) {
					err = fmt.Errorf("count %d with %d records", snap.Count, len(snap.Records))
				}
				if err != nil {
					readMu.Lock()
					readErr = err
					readMu.Unlock()
					return
				}
			}
		}()
	}

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			from := Alice
			if w%2 == 1 {
				from = Bob
			}
			for i := 0; i < perWriter; i++ {
				_, err := transfer(context.Background(), s, from, Carol, 1, fmt.Sprintf("w%d-%d", w, i), BaseTime)
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()
	cancel()
	readers.Wait()
	require.NoError(t, readErr)

	snap, err := ledger.GetSnapshot(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, uint64(writers*perWriter), snap.Count)
	for i, rec := range snap.Records {
		assert.Equal(t, uint64(i), rec.Index)
	}
	assert.Equal(t, fmt.Sprintf("%d", writers*perWriter), balance(t, s, Carol))
}

// testOpenReadDoesNotBlockWriters parks a Read mid-snapshot and checks that
// Count and Write still complete, and that the parked Read keeps its view.
func testOpenReadDoesNotBlockWriters(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	seed(t, s)
	_, err := transfer(ctx, s, Alice, Bob, 1, "before", BaseTime)
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})
	readDone := make(chan error, 1)
	go func() {
		readDone <- s.Read(ctx, func(v ledger.View) error {
			n, err := v.Count(ctx)
			if err != nil {
				return err
			}
			close(entered)
			<-release

			recs, err := v.Records(ctx)
			if err != nil {
				return err
			}
			if n != 1 || len(recs) != 1 {
				return fmt.Errorf("parked read saw count %d and %d records, want 1 and 1", n, len(recs))
			}
			return nil
		})
	}()

	select {
	case <-entered:
	case err := <-readDone:
		t.Fatalf("read returned before parking: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("read never started")
	}

	released := false
	defer func() {
		if !released {
			close(release)
		}
	}()

	tctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	n, err := ledger.GetCount(tctx, s)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)

	idx, err := transfer(tctx, s, Alice, Bob, 1, "during", BaseTime.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), idx)

	n, err = ledger.GetCount(tctx, s)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)

	released = true
	close(release)
	require.NoError(t, <-readDone)
}

func testAuditClean(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	seed(t, s)

	_, err := transfer(ctx, s, Alice, Bob, 100, "a", BaseTime)
	require.NoError(t, err)
	_, err = transfer(ctx, s, Bob, Carol, 600, "b", BaseTime.Add(time.Second))
	require.NoError(t, err)

	report, err := ledger.Audit(ctx, s)
	require.NoError(t, err)
	assert.True(t, report.OK(), "violations: %v", report.Violations)
	assert.Equal(t, uint64(2), report.Count)
	assert.Equal(t, 2, report.Records)
	assert.Equal(t, 4, report.Accounts)
}

func lastRecord(ctx context.Context, s ledger.Store) (ledger.TransferRecord, bool, error) {
	var (
		rec ledger.TransferRecord
		ok  bool
	)
	err := s.Read(ctx, func(v ledger.View) error {
		var err error
		rec, ok, err = v.Last(ctx)
		return err
	})
	return rec, ok, err
}

func readAccounts(ctx context.Context, s ledger.Store) ([]ledger.Account, error) {
	var accts []ledger.Account
	err := s.Read(ctx, func(v ledger.View) error {
		var err error
		accts, err = v.Accounts(ctx)
		return err
	})
	return accts, err
}
