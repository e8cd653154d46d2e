// Package pgstore implements ledger.Store on PostgreSQL using lib/pq.
//
// Amounts are NUMERIC(78,0), wide enough for any 256-bit value. Writes run at
// SERIALIZABLE after taking an EXCLUSIVE lock on the transfers table, so
// concurrent processes sharing one database still append in a single total
// order. Reads run at REPEATABLE READ so every query in a Read call sees the
// same committed snapshot.
package pgstore
