// Package harness runs YAML transfer scenarios against a real engine.
//
// Each scenario gets a fresh in-memory SQLite ledger seeded from its genesis
// block, a deterministic clock and sequential event IDs. Flow steps go
// through engine.SendAndRecord exactly as the HTTP API and CLI do, so the
// resulting trace reflects what the transfer guard actually decided.
//
// A scenario file looks like:
//
//	name: value_mismatch
//	description: attached value differs from the declared amount
//	genesis:
//	  - address: "0x00000000000000000000000000000000000a11ce"
//	    balance: "1000"
//	flow:
//	  - from: "0x00000000000000000000000000000000000a11ce"
//	    to: "0x0000000000000000000000000000000000000b0b"
//	    amount: "100"
//	    value: "50"
//	    message: test
//	    expect:
//	      error: VALUE_MISMATCH
//	assertions:
//	  - type: count
//	    count: 0
//	  - type: events
//	    count: 0
//
// Traces are compared against golden files under testdata/golden with
// RunWithGolden. Regenerate them with:
//
//	go test ./internal/harness -update
package harness
