package ledger

import "time"

// TransferRecord is one committed transfer. Records are never mutated after
// they are appended.
type TransferRecord struct {
	Index     uint64    `json:"index"`
	Sender    Address   `json:"sender"`
	Receiver  Address   `json:"receiver"`
	Amount    Amount    `json:"amount"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Account is the value-holding state of one identity.
//
// Initial is the opening balance granted at genesis; accounts created by a
// first credit start at zero. RefusesFunds marks a receiver that rejects all
// incoming value.
type Account struct {
	Address      Address `json:"address"`
	Balance      Amount  `json:"balance"`
	Initial      Amount  `json:"initial"`
	RefusesFunds bool    `json:"refuses_funds"`
}

// TransferEvent is the notification emitted once per committed transfer.
type TransferEvent struct {
	ID        string    `json:"id"`
	Index     uint64    `json:"index"`
	Sender    Address   `json:"sender"`
	Receiver  Address   `json:"receiver"`
	Amount    Amount    `json:"amount"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTransferEvent builds the event describing rec.
func NewTransferEvent(id string, rec TransferRecord) TransferEvent {
	return TransferEvent{
		ID:        id,
		Index:     rec.Index,
		Sender:    rec.Sender,
		Receiver:  rec.Receiver,
		Amount:    rec.Amount,
		Message:   rec.Message,
		Timestamp: rec.Timestamp,
	}
}

// Record returns the record the event describes.
func (e TransferEvent) Record() TransferRecord {
	return TransferRecord{
		Index:     e.Index,
		Sender:    e.Sender,
		Receiver:  e.Receiver,
		Amount:    e.Amount,
		Message:   e.Message,
		Timestamp: e.Timestamp,
	}
}
