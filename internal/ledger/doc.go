// Package ledger defines the domain model of the ethbank transfer ledger.
//
// The ledger is an append-only sequence of TransferRecord values plus a count
// derived from that sequence. Records are produced only by the transfer
// engine after the matching value movement committed:
//   - Append-only: no update or delete operation exists
//   - Count: always equals the sequence length, never stored separately
//   - Ordering: index is insertion order, timestamps never decrease
//
// # Storage Contract
//
// Store is implemented by the in-memory, SQLite, and PostgreSQL backends.
// Write runs a serialized all-or-nothing unit; Read observes one consistent
// snapshot. The shared conformance suite lives in ledger/ledgertest.
//
// # Amounts
//
// Amount is an integer quantity of wei backed by shopspring/decimal. Floats
// are never used for value.
package ledger
