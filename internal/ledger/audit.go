package ledger

import (
	"context"
	"fmt"
	"math/big"
)

// AuditReport summarizes the integrity checks run against one snapshot.
type AuditReport struct {
	Count      uint64   `json:"count"`
	Records    int      `json:"records"`
	Accounts   int      `json:"accounts"`
	Digest     string   `json:"digest"`
	Violations []string `json:"violations"`
}

// OK reports whether no invariant was violated.
func (r AuditReport) OK() bool {
	return len(r.Violations) == 0
}

// Audit checks the ledger invariants against a single snapshot:
//   - count equals the number of records
//   - indices are contiguous from 0
//   - timestamps never decrease
//   - every account balance equals Initial + received - sent
func Audit(ctx context.Context, s Store) (AuditReport, error) {
	var report AuditReport
	err := s.Read(ctx, func(v View) error {
		recs, err := v.Records(ctx)
		if err != nil {
			return err
		}
		n, err := v.Count(ctx)
		if err != nil {
			return err
		}
		accts, err := v.Accounts(ctx)
		if err != nil {
			return err
		}
		report = auditSnapshot(recs, n, accts)
		return nil
	})
	if err != nil {
		return AuditReport{}, fmt.Errorf("audit: %w", err)
	}
	return report, nil
}

func auditSnapshot(recs []TransferRecord, count uint64, accts []Account) AuditReport {
	report := AuditReport{
		Count:      count,
		Records:    len(recs),
		Accounts:   len(accts),
		Digest:     ChainDigest(recs),
		Violations: []string{},
	}

	if count != uint64(len(recs)) {
		report.Violations = append(report.Violations,
			fmt.Sprintf("count %d does not match %d records", count, len(recs)))
	}

	// Flow totals can pass 2^256-1 over a long history even though no single
	// balance does, so they are summed without the Amount bound.
	received := make(map[Address]*big.Int)
	sent := make(map[Address]*big.Int)
	add := func(m map[Address]*big.Int, addr Address, amt Amount) {
		if m[addr] == nil {
			m[addr] = new(big.Int)
		}
		m[addr].Add(m[addr], amt.BigInt())
	}

	for i, rec := range recs {
		if rec.Index != uint64(i) {
			report.Violations = append(report.Violations,
				fmt.Sprintf("record at position %d has index %d", i, rec.Index))
		}
		if i > 0 && rec.Timestamp.Before(recs[i-1].Timestamp) {
			report.Violations = append(report.Violations,
				fmt.Sprintf("record %d timestamp %s precedes record %d", rec.Index, rec.Timestamp.Format("2006-01-02T15:04:05Z07:00"), recs[i-1].Index))
		}
		add(received, rec.Receiver, rec.Amount)
		add(sent, rec.Sender, rec.Amount)
	}

	known := make(map[Address]bool, len(accts))
	for _, acct := range accts {
		known[acct.Address] = true
		expected := acct.Initial.BigInt()
		if r := received[acct.Address]; r != nil {
			expected.Add(expected, r)
		}
		if s := sent[acct.Address]; s != nil {
			expected.Sub(expected, s)
		}
		if expected.Sign() < 0 {
			report.Violations = append(report.Violations,
				fmt.Sprintf("account %s sent more than it ever held", acct.Address))
			continue
		}
		if expected.Cmp(acct.Balance.BigInt()) != 0 {
			report.Violations = append(report.Violations,
				fmt.Sprintf("account %s balance %s, expected %s", acct.Address, acct.Balance, expected))
		}
	}

	reported := make(map[Address]bool)
	for _, rec := range recs {
		if !known[rec.Receiver] && !reported[rec.Receiver] {
			reported[rec.Receiver] = true
			report.Violations = append(report.Violations,
				fmt.Sprintf("receiver %s has records but no account", rec.Receiver))
		}
	}

	return report
}
