// Package store provides SQLite-backed durable storage for the ethbank ledger.
//
// The store implements ledger.Store with two tables:
//   - transfers: the append-only record sequence, idx INTEGER PRIMARY KEY from 0
//   - accounts: native-value balances moved by the transfer engine
//
// # Critical Patterns
//
// Append-only: UPDATE and DELETE on transfers abort via triggers.
//
// Derived count: the count is COALESCE(MAX(idx)+1, 0). Append writes
// idx = count inside the same transaction, so indices stay contiguous and no
// separately mutable counter exists.
//
// Atomic units: every Write runs in one SQL transaction opened with
// BEGIN IMMEDIATE. A failed unit rolls back the value movement and the
// record together.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
