package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ethbank/internal/ledger"
	"github.com/roach88/ethbank/internal/ledger/ledgertest"
)

func TestStoreConformance(t *testing.T) {
	ledgertest.RunStoreSuite(t, func(t *testing.T) ledger.Store {
		return New()
	})
}

func TestCount_PublishedAfterCommit(t *testing.T) {
	ctx := context.Background()
	s := New()

	err := s.Write(ctx, func(tx ledger.Tx) error {
		_, err := tx.Append(ctx, ledger.TransferRecord{Sender: ledgertest.Alice, Receiver: ledgertest.Bob})
		require.NoError(t, err)
		// Not yet committed: the lock-free counter still reports zero.
		assert.Equal(t, uint64(0), s.Count())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), s.Count())
}

func TestRead_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := New()
	err := s.Read(ctx, func(ledger.View) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)

	err = s.Write(ctx, func(ledger.Tx) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRecords_ReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Write(ctx, func(tx ledger.Tx) error {
		_, err := tx.Append(ctx, ledger.TransferRecord{Message: "original"})
		return err
	}))

	recs, err := ledger.GetAll(ctx, s)
	require.NoError(t, err)
	recs[0].Message = "mutated"

	again, err := ledger.GetAll(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, "original", again[0].Message)
}
