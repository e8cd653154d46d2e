package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ethbank/internal/ledger"
	"github.com/roach88/ethbank/internal/ledger/ledgertest"
)

func TestStoreConformance(t *testing.T) {
	ledgertest.RunStoreSuite(t, func(t *testing.T) ledger.Store {
		return createTestStore(t)
	})
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	for _, table := range []string{"transfers", "accounts"} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}

	var version int
	require.NoError(t, s.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}

func TestPragmas(t *testing.T) {
	s := createTestStore(t)

	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("foreign_keys", "1"))
	assert.NoError(t, s.verifyPragma("busy_timeout", "5000"))
}

func TestReaderPool_QueryOnly(t *testing.T) {
	s := createTestStore(t)
	require.NotSame(t, s.db, s.rdb)

	_, err := s.rdb.Exec(`INSERT INTO accounts (address, balance) VALUES ('0x01', '1')`)
	assert.Error(t, err, "reader pool must not write")
}

func TestOpen_MemoryUsesOneHandle(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	assert.Same(t, s.db, s.rdb)
	n, err := ledger.GetCount(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), n)
}

func TestTransfers_AppendOnly(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, func(tx ledger.Tx) error {
		_, err := tx.Append(ctx, ledger.TransferRecord{
			Sender:    ledgertest.Alice,
			Receiver:  ledgertest.Bob,
			Amount:    ledger.NewAmount(1),
			Message:   "immutable",
			Timestamp: ledgertest.BaseTime,
		})
		return err
	}))

	_, err := s.db.Exec(`UPDATE transfers SET message = 'edited' WHERE idx = 0`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append-only")

	_, err = s.db.Exec(`DELETE FROM transfers WHERE idx = 0`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append-only")

	recs, err := ledger.GetAll(ctx, s)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "immutable", recs[0].Message)
}

func TestReopen_PreservesLedger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	s1, err := Open(path)
	require.NoError(t, err)
	_, err = ledger.ApplyGenesis(ctx, s1, ledgertest.Genesis())
	require.NoError(t, err)

	ts := time.Date(2025, 6, 1, 12, 30, 45, 0, time.UTC)
	require.NoError(t, s1.Write(ctx, func(tx ledger.Tx) error {
		amt := ledger.MustParseAmount("250")
		if err := tx.MoveValue(ctx, ledgertest.Alice, ledgertest.Bob, amt); err != nil {
			return err
		}
		_, err := tx.Append(ctx, ledger.TransferRecord{
			Sender: ledgertest.Alice, Receiver: ledgertest.Bob, Amount: amt,
			Message: "hello blockchain!", Timestamp: ts,
		})
		return err
	}))
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	snap, err := ledger.GetSnapshot(ctx, s2)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), snap.Count)
	require.Len(t, snap.Records, 1)
	assert.Equal(t, "250", snap.Records[0].Amount.String())
	assert.Equal(t, "hello blockchain!", snap.Records[0].Message)
	assert.True(t, ts.Equal(snap.Records[0].Timestamp))

	acct, err := ledger.GetAccount(ctx, s2, ledgertest.Alice)
	require.NoError(t, err)
	assert.Equal(t, "750", acct.Balance.String())
	assert.Equal(t, "1000", acct.Initial.String())
}

func TestAmounts_LargerThanUint64(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	huge := ledger.MustParseAmount("10000000000000000000000") // 10,000 ether
	require.NoError(t, s.Write(ctx, func(tx ledger.Tx) error {
		return tx.InitAccount(ctx, ledger.Account{Address: ledgertest.Alice, Balance: huge, Initial: huge})
	}))

	acct, err := ledger.GetAccount(ctx, s, ledgertest.Alice)
	require.NoError(t, err)
	assert.True(t, huge.Equal(acct.Balance))
	assert.Equal(t, "10000", acct.Balance.Ether())
}
