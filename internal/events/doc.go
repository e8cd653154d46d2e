// Package events delivers TransferEvents to observers after a transfer
// commits.
//
// Delivery is best effort. The Bus never blocks the publisher: a subscriber
// whose buffer is full misses the event and the Bus counts the drop. Nothing
// here can affect the ledger, so a lost event is only ever a lost
// notification.
package events
