package testutil

import (
	"sync"

	"github.com/roach88/ethbank/internal/ledger"
)

// RecordingPublisher keeps every published event in order.
// Implements engine.Publisher.
type RecordingPublisher struct {
	mu     sync.Mutex
	events []ledger.TransferEvent
}

func (p *RecordingPublisher) Publish(ev ledger.TransferEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

// Events returns a copy of the events published so far.
func (p *RecordingPublisher) Events() []ledger.TransferEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ledger.TransferEvent, len(p.events))
	copy(out, p.events)
	return out
}

// Len returns the number of events published so far.
func (p *RecordingPublisher) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}
