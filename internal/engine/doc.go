// Package engine implements the transfer guard: the single writer that turns
// a send request into exactly one committed ledger record, or into nothing.
//
// ARCHITECTURE:
//
// Single-Writer Request Loop:
// SendAndRecord validates a request in the caller's goroutine and enqueues
// it. Engine.Run dequeues requests one at a time and, for each, runs one
// Store.Write that moves the value and appends the record. Either both steps
// commit or neither does.
//
// Request Flow:
//  1. Validate: attached value equals the declared amount, receiver parses,
//     message fits the size bound. Failures return before any state changes.
//  2. Enqueue. A caller whose context is already done gets ctx.Err() and
//     nothing is queued.
//  3. Run executes the write under context.WithoutCancel. Once queued, a
//     request always runs to completion.
//  4. After commit, one TransferEvent is published. Publishing is best effort
//     and never affects the ledger.
//  5. The caller receives the committed record, including its index.
//
// Timestamps come from a Clock at second resolution. MonotonicClock never
// goes backwards, and Run seeds it from the last stored record so timestamps
// stay ordered across restarts.
package engine
