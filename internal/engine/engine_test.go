package engine

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ethbank/internal/ledger"
	"github.com/roach88/ethbank/internal/ledger/ledgertest"
	"github.com/roach88/ethbank/internal/memstore"
	"github.com/roach88/ethbank/internal/store"
	"github.com/roach88/ethbank/internal/testutil"
)

const receiverX = "0x0000000000000000000000000000000000000b0b"

type harness struct {
	engine *Engine
	store  ledger.Store
	pub    *testutil.RecordingPublisher
	clock  *testutil.DeterministicClock
}

// startEngine runs an engine over s with genesis applied. The loop stops
// when the test ends.
func startEngine(t *testing.T, s ledger.Store, opts ...Option) *harness {
	t.Helper()
	ctx := context.Background()

	_, err := ledger.ApplyGenesis(ctx, s, ledgertest.Genesis())
	require.NoError(t, err)

	h := &harness{
		store: s,
		pub:   &testutil.RecordingPublisher{},
		clock: testutil.NewDeterministicClock(),
	}
	base := []Option{
		WithClock(h.clock),
		WithPublisher(h.pub),
		WithIDGenerator(testutil.NewSequentialIDGenerator("evt")),
	}
	h.engine = New(s, append(base, opts...)...)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.engine.Run(runCtx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func send(to string, amount, value uint64, msg string) SendRequest {
	return SendRequest{
		Sender:   ledgertest.Alice,
		Receiver: to,
		Amount:   ledger.NewAmount(amount),
		Message:  msg,
		Value:    ledger.NewAmount(value),
	}
}

func count(t *testing.T, s ledger.Store) uint64 {
	t.Helper()
	n, err := ledger.GetCount(context.Background(), s)
	require.NoError(t, err)
	return n
}

func balanceOf(t *testing.T, s ledger.Store, addr ledger.Address) string {
	t.Helper()
	acct, err := ledger.GetAccount(context.Background(), s, addr)
	require.NoError(t, err)
	return acct.Balance.String()
}

func TestFreshLedger(t *testing.T) {
	h := startEngine(t, memstore.New())

	snap, err := ledger.GetSnapshot(context.Background(), h.store)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), snap.Count)
	assert.Empty(t, snap.Records)
	assert.NotNil(t, snap.Records)
}

func TestFirstTransfer(t *testing.T) {
	h := startEngine(t, memstore.New())
	ctx := context.Background()

	rec, err := h.engine.SendAndRecord(ctx, send(receiverX, 100, 100, "first transaction!"))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), rec.Index)

	assert.Equal(t, uint64(1), count(t, h.store))
	all, err := ledger.GetAll(ctx, h.store)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, ledgertest.Alice, all[0].Sender)
	assert.Equal(t, ledgertest.Bob, all[0].Receiver)
	assert.Equal(t, "100", all[0].Amount.String())
	assert.Equal(t, "first transaction!", all[0].Message)
	assert.Equal(t, testutil.DefaultStart, all[0].Timestamp)
	assert.Equal(t, rec, all[0], "returned record matches the stored one")
}

func TestMessagePreservedExactly(t *testing.T) {
	h := startEngine(t, memstore.New())
	ctx := context.Background()

	_, err := h.engine.SendAndRecord(ctx, send(receiverX, 250, 250, "hello blockchain!"))
	require.NoError(t, err)

	all, err := ledger.GetAll(ctx, h.store)
	require.NoError(t, err)
	assert.Equal(t, "250", all[0].Amount.String())
	assert.Equal(t, []byte("hello blockchain!"), []byte(all[0].Message))
}

func TestValueMismatch(t *testing.T) {
	h := startEngine(t, memstore.New())

	_, err := h.engine.SendAndRecord(context.Background(), send(receiverX, 100, 50, "test"))
	require.Error(t, err)
	assert.True(t, ledger.IsValueMismatch(err))

	assert.Equal(t, uint64(0), count(t, h.store))
	assert.Equal(t, 0, h.pub.Len(), "no event on failure")
	assert.Equal(t, "1000", balanceOf(t, h.store, ledgertest.Alice))
}

func TestOrderPreserved(t *testing.T) {
	h := startEngine(t, memstore.New())
	ctx := context.Background()

	first, err := h.engine.SendAndRecord(ctx, send(receiverX, 100, 100, "one"))
	require.NoError(t, err)
	second, err := h.engine.SendAndRecord(ctx, send(receiverX, 250, 250, "two"))
	require.NoError(t, err)

	assert.Equal(t, uint64(0), first.Index)
	assert.Equal(t, uint64(1), second.Index)

	all, err := ledger.GetAll(ctx, h.store)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "100", all[0].Amount.String())
	assert.Equal(t, "250", all[1].Amount.String())
	assert.Equal(t, uint64(2), count(t, h.store))
}

func TestValidation_Order(t *testing.T) {
	e := New(memstore.New())

	tests := []struct {
		name string
		req  SendRequest
		code ledger.ErrorCode
	}{
		{"mismatch wins over bad receiver", send("not-an-address", 10, 5, "x"), ledger.ErrCodeValueMismatch},
		{"bad receiver", send("0x1234", 10, 10, "x"), ledger.ErrCodeInvalidReceiver},
		{"empty receiver", send("", 10, 10, "x"), ledger.ErrCodeInvalidReceiver},
		{"message too large", send(receiverX, 10, 10, strings.Repeat("a", DefaultMaxMessageBytes+1)), ledger.ErrCodeMessageTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Validate(tt.req)
			assert.Equal(t, tt.code, ledger.CodeOf(err))
		})
	}

	_, err := e.Validate(send(receiverX, 10, 10, strings.Repeat("a", DefaultMaxMessageBytes)))
	assert.NoError(t, err, "message at the bound is accepted")
}

func TestWithMaxMessageBytes_Disabled(t *testing.T) {
	e := New(memstore.New(), WithMaxMessageBytes(0))
	_, err := e.Validate(send(receiverX, 1, 1, strings.Repeat("a", 1<<20)))
	assert.NoError(t, err)
}

func TestZeroAmountPermitted(t *testing.T) {
	h := startEngine(t, memstore.New())

	rec, err := h.engine.SendAndRecord(context.Background(), send(receiverX, 0, 0, "ping"))
	require.NoError(t, err)
	assert.True(t, rec.Amount.IsZero())
	assert.Equal(t, uint64(1), count(t, h.store))
}

func TestRejectedTransfers_LeaveNoTrace(t *testing.T) {
	tests := []struct {
		name string
		req  SendRequest
	}{
		{"refusing receiver", send(ledgertest.Refuser.String(), 10, 10, "nope")},
		{"insufficient funds", send(receiverX, 1001, 1001, "too much")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := startEngine(t, memstore.New())

			_, err := h.engine.SendAndRecord(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, ledger.IsTransferRejected(err))

			assert.Equal(t, uint64(0), count(t, h.store))
			assert.Equal(t, "1000", balanceOf(t, h.store, ledgertest.Alice))
			assert.Equal(t, "1000", balanceOf(t, h.store, ledgertest.Bob))
			assert.Equal(t, "0", balanceOf(t, h.store, ledgertest.Refuser))
			assert.Equal(t, 0, h.pub.Len())
		})
	}
}

// failingStore fails every Append after the value has moved.
type failingStore struct {
	ledger.Store
}

type failingTx struct {
	ledger.Tx
}

func (f failingStore) Write(ctx context.Context, fn func(ledger.Tx) error) error {
	return f.Store.Write(ctx, func(tx ledger.Tx) error {
		return fn(failingTx{Tx: tx})
	})
}

func (failingTx) Append(context.Context, ledger.TransferRecord) (uint64, error) {
	return 0, errors.New("disk full")
}

func TestStorageFailure_DiscardsValueMovement(t *testing.T) {
	inner := memstore.New()
	h := startEngine(t, failingStore{Store: inner})

	_, err := h.engine.SendAndRecord(context.Background(), send(receiverX, 100, 100, "lost"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, ledger.ErrorCode(""), ledger.CodeOf(err))

	assert.Equal(t, uint64(0), count(t, inner))
	assert.Equal(t, "1000", balanceOf(t, inner, ledgertest.Alice), "debit rolled back with the failed append")
	assert.Equal(t, "1000", balanceOf(t, inner, ledgertest.Bob))
	assert.Equal(t, 0, h.pub.Len())
}

func TestEvents_OnePerSuccess(t *testing.T) {
	h := startEngine(t, memstore.New())
	ctx := context.Background()

	_, err := h.engine.SendAndRecord(ctx, send(receiverX, 100, 100, "one"))
	require.NoError(t, err)
	_, err = h.engine.SendAndRecord(ctx, send(receiverX, 100, 50, "bad"))
	require.Error(t, err)
	rec, err := h.engine.SendAndRecord(ctx, send(receiverX, 250, 250, "two"))
	require.NoError(t, err)

	evs := h.pub.Events()
	require.Len(t, evs, 2)
	assert.Equal(t, "evt-0001", evs[0].ID)
	assert.Equal(t, uint64(0), evs[0].Index)
	assert.Equal(t, "evt-0002", evs[1].ID)
	assert.Equal(t, rec, evs[1].Record())
}

func TestConcurrentSenders_TotalOrderAndConservation(t *testing.T) {
	h := startEngine(t, memstore.New())
	ctx := context.Background()

	const senders = 8
	const perSender = 25

	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from, to := ledgertest.Alice, ledgertest.Bob.String()
			if i%2 == 1 {
				from, to = ledgertest.Bob, ledgertest.Alice.String()
			}
			for j := 0; j < perSender; j++ {
				req := send(to, 1, 1, "tick")
				req.Sender = from
				_, err := h.engine.SendAndRecord(ctx, req)
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	all, err := ledger.GetAll(ctx, h.store)
	require.NoError(t, err)
	require.Len(t, all, senders*perSender)
	for i, rec := range all {
		assert.Equal(t, uint64(i), rec.Index)
		if i > 0 {
			assert.False(t, rec.Timestamp.Before(all[i-1].Timestamp))
		}
	}

	report, err := ledger.Audit(ctx, h.store)
	require.NoError(t, err)
	assert.True(t, report.OK(), "violations: %v", report.Violations)

	alice, err := ledger.GetAccount(ctx, h.store, ledgertest.Alice)
	require.NoError(t, err)
	bob, err := ledger.GetAccount(ctx, h.store, ledgertest.Bob)
	require.NoError(t, err)
	total, err := alice.Balance.Add(bob.Balance)
	require.NoError(t, err)
	assert.Equal(t, "2000", total.String(), "value is conserved")
	assert.Equal(t, senders*perSender, h.pub.Len())
}

func TestSendAndRecord_CancelledBeforeQueue(t *testing.T) {
	h := startEngine(t, memstore.New())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.engine.SendAndRecord(ctx, send(receiverX, 100, 100, "never"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, uint64(0), count(t, h.store))
}

// gatedStore blocks each Write until release is closed.
type gatedStore struct {
	ledger.Store
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) Write(ctx context.Context, fn func(ledger.Tx) error) error {
	g.entered <- struct{}{}
	<-g.release
	if err := ctx.Err(); err != nil {
		return err
	}
	return g.Store.Write(ctx, fn)
}

func TestSendAndRecord_QueuedRequestSurvivesCallerCancel(t *testing.T) {
	gs := &gatedStore{
		Store:   memstore.New(),
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	_, err := ledger.ApplyGenesis(context.Background(), gs.Store, ledgertest.Genesis())
	require.NoError(t, err)
	e := New(gs, WithClock(testutil.NewDeterministicClock()))

	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()
	go e.Run(runCtx)

	ctx, cancel := context.WithCancel(context.Background())
	type outcome struct {
		rec ledger.TransferRecord
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		rec, err := e.SendAndRecord(ctx, send(receiverX, 100, 100, "in flight"))
		done <- outcome{rec, err}
	}()

	<-gs.entered
	cancel()
	close(gs.release)

	select {
	case out := <-done:
		require.NoError(t, out.err, "queued work runs to completion")
		assert.Equal(t, uint64(0), out.rec.Index)
	case <-time.After(2 * time.Second):
		t.Fatal("SendAndRecord did not return")
	}
	assert.Equal(t, uint64(1), count(t, gs.Store))
}

func TestRun_CancelAnswersPendingWithEngineStopped(t *testing.T) {
	gs := &gatedStore{
		Store:   memstore.New(),
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	_, err := ledger.ApplyGenesis(context.Background(), gs.Store, ledgertest.Genesis())
	require.NoError(t, err)
	e := New(gs, WithClock(testutil.NewDeterministicClock()))

	runCtx, stopRun := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- e.Run(runCtx) }()

	first := make(chan error, 1)
	go func() {
		_, err := e.SendAndRecord(context.Background(), send(receiverX, 1, 1, "first"))
		first <- err
	}()
	<-gs.entered

	second := make(chan error, 1)
	go func() {
		_, err := e.SendAndRecord(context.Background(), send(receiverX, 1, 1, "second"))
		second <- err
	}()
	require.Eventually(t, func() bool { return e.QueueLen() == 1 }, time.Second, time.Millisecond)

	stopRun()
	close(gs.release)

	assert.NoError(t, <-first, "in-flight request completes")
	assert.ErrorIs(t, <-second, ledger.ErrEngineStopped)
	assert.ErrorIs(t, <-runDone, context.Canceled)

	_, err = e.SendAndRecord(context.Background(), send(receiverX, 1, 1, "late"))
	assert.ErrorIs(t, err, ledger.ErrEngineStopped)
}

func TestStop_DrainsQueue(t *testing.T) {
	s := memstore.New()
	_, err := ledger.ApplyGenesis(context.Background(), s, ledgertest.Genesis())
	require.NoError(t, err)
	e := New(s, WithClock(testutil.NewDeterministicClock()))

	runDone := make(chan error, 1)
	go func() { runDone <- e.Run(context.Background()) }()

	_, err = e.SendAndRecord(context.Background(), send(receiverX, 1, 1, "before stop"))
	require.NoError(t, err)

	e.Stop()
	select {
	case err := <-runDone:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}

	_, err = e.SendAndRecord(context.Background(), send(receiverX, 1, 1, "after stop"))
	assert.ErrorIs(t, err, ledger.ErrEngineStopped)
}

func TestRun_Twice(t *testing.T) {
	h := startEngine(t, memstore.New())
	require.Eventually(t, func() bool { return h.engine.running.Load() }, time.Second, time.Millisecond)

	err := h.engine.Run(context.Background())
	assert.Error(t, err)
}

func TestRun_SeedsClockFromLastRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	future := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Second)

	s, err := store.Open(path)
	require.NoError(t, err)
	_, err = ledger.ApplyGenesis(context.Background(), s, ledgertest.Genesis())
	require.NoError(t, err)
	require.NoError(t, s.Write(context.Background(), func(tx ledger.Tx) error {
		_, err := tx.Append(context.Background(), ledger.TransferRecord{
			Sender: ledgertest.Alice, Receiver: ledgertest.Bob,
			Amount: ledger.Zero, Message: "from the future", Timestamp: future,
		})
		return err
	}))
	require.NoError(t, s.Close())

	s, err = store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	e := New(s)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	rec, err := e.SendAndRecord(context.Background(), send(receiverX, 1, 1, "after restart"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec.Index)
	assert.False(t, rec.Timestamp.Before(future), "timestamps never decrease across restarts")
}

func TestEngine_SQLiteBackend(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	h := startEngine(t, s)
	ctx := context.Background()

	_, err = h.engine.SendAndRecord(ctx, send(receiverX, 100, 100, "first transaction!"))
	require.NoError(t, err)
	_, err = h.engine.SendAndRecord(ctx, send(ledgertest.Refuser.String(), 1, 1, "refused"))
	require.True(t, ledger.IsTransferRejected(err))

	assert.Equal(t, uint64(1), count(t, s))
	assert.Equal(t, "900", balanceOf(t, s, ledgertest.Alice))
	assert.Equal(t, "1100", balanceOf(t, s, ledgertest.Bob))
}

func TestSubSecondClock_RecordMatchesStore(t *testing.T) {
	backends := map[string]func(t *testing.T) ledger.Store{
		"memory": func(t *testing.T) ledger.Store { return memstore.New() },
		"sqlite": func(t *testing.T) ledger.Store {
			s, err := store.Open(filepath.Join(t.TempDir(), "ledger.db"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}

	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			start := testutil.DefaultStart.Add(250 * time.Millisecond)
			h := startEngine(t, s, WithClock(testutil.NewDeterministicClockAt(start, 500*time.Millisecond)))
			ctx := context.Background()

			var got []ledger.TransferRecord
			for _, msg := range []string{"a", "b", "c"} {
				rec, err := h.engine.SendAndRecord(ctx, send(receiverX, 1, 1, msg))
				require.NoError(t, err)
				assert.Zero(t, rec.Timestamp.Nanosecond(), "whole seconds")
				got = append(got, rec)
			}

			stored, err := ledger.GetAll(ctx, s)
			require.NoError(t, err)
			require.Len(t, stored, len(got))
			evs := h.pub.Events()
			require.Len(t, evs, len(got))

			for i := range got {
				assert.True(t, got[i].Timestamp.Equal(stored[i].Timestamp), "record %d: returned %v, stored %v", i, got[i].Timestamp, stored[i].Timestamp)
				assert.True(t, evs[i].Timestamp.Equal(stored[i].Timestamp), "event %d: published %v, stored %v", i, evs[i].Timestamp, stored[i].Timestamp)
				assert.Equal(t, stored[i].Index, got[i].Index)
				assert.Equal(t, stored[i].Message, evs[i].Message)
			}
		})
	}
}
