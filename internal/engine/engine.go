package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/roach88/ethbank/internal/events"
	"github.com/roach88/ethbank/internal/ledger"
)

// DefaultMaxMessageBytes bounds the note attached to a transfer.
const DefaultMaxMessageBytes = 4096

// Publisher receives one event per committed transfer. Publish must not
// block; events.Bus satisfies this.
type Publisher interface {
	Publish(ev ledger.TransferEvent)
}

// IDGenerator issues event IDs.
// Implemented by events.UUIDv7Generator (production) and
// events.FixedGenerator (tests).
type IDGenerator interface {
	Generate() string
}

// SendRequest is a caller's request to move value and record a note.
type SendRequest struct {
	// Sender is the caller identity. Authentication happens upstream.
	Sender ledger.Address

	// Receiver is the raw receiver identity, parsed during validation.
	Receiver string

	// Amount is the declared transfer amount in wei.
	Amount ledger.Amount

	// Message is stored byte-for-byte.
	Message string

	// Value is the payment actually attached. It must equal Amount.
	Value ledger.Amount
}

// Engine is the single-writer transfer guard.
//
// Thread-safety model:
//   - SendAndRecord(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
//   - Stop(): safe from any goroutine
type Engine struct {
	store           ledger.Store
	clock           Clock
	publisher       Publisher
	ids             IDGenerator
	maxMessageBytes int
	logger          *slog.Logger

	queue   *requestQueue
	running atomic.Bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used to stamp records.
// Default: NewMonotonicClock().
func WithClock(c Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithPublisher sets where committed transfers are announced.
// Default: none.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) {
		e.publisher = p
	}
}

// WithIDGenerator sets the event ID source.
// Default: events.UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithMaxMessageBytes bounds message size. Zero or negative disables the bound.
// Default: DefaultMaxMessageBytes.
func WithMaxMessageBytes(n int) Option {
	return func(e *Engine) {
		e.maxMessageBytes = n
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// New creates an Engine writing to s. Call Run before sending.
func New(s ledger.Store, opts ...Option) *Engine {
	e := &Engine{
		store:           s,
		clock:           NewMonotonicClock(),
		ids:             events.UUIDv7Generator{},
		maxMessageBytes: DefaultMaxMessageBytes,
		logger:          slog.Default(),
		queue:           newRequestQueue(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Validate checks req without touching any state and returns the parsed
// receiver. Checks run in a fixed order: value, receiver, message size.
func (e *Engine) Validate(req SendRequest) (ledger.Address, error) {
	if !req.Value.Equal(req.Amount) {
		return ledger.Address{}, ledger.NewValueMismatchError(req.Amount, req.Value)
	}

	receiver, err := ledger.ParseAddress(req.Receiver)
	if err != nil {
		return ledger.Address{}, ledger.NewInvalidReceiverError(req.Receiver, err)
	}

	if e.maxMessageBytes > 0 && len(req.Message) > e.maxMessageBytes {
		return ledger.Address{}, ledger.NewMessageTooLargeError(len(req.Message), e.maxMessageBytes)
	}

	return receiver, nil
}

// SendAndRecord moves req.Amount from sender to receiver and appends the
// record in one atomic unit, then returns the committed record.
//
// Domain failures are *ledger.Error values and leave no trace in the
// ledger. If ctx is done before the request is queued, ctx.Err() is returned
// and nothing happens. Once queued, the request runs to completion and this
// call waits for its outcome.
func (e *Engine) SendAndRecord(ctx context.Context, req SendRequest) (ledger.TransferRecord, error) {
	receiver, err := e.Validate(req)
	if err != nil {
		return ledger.TransferRecord{}, err
	}

	if err := ctx.Err(); err != nil {
		return ledger.TransferRecord{}, err
	}

	r := newRequest(req.Sender, receiver, req.Amount, req.Message)
	if !e.queue.Enqueue(r) {
		return ledger.TransferRecord{}, ledger.ErrEngineStopped
	}

	res := <-r.reply
	return res.record, res.err
}

// QueueLen returns the number of requests waiting for the Run loop.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

// Run starts the single-writer loop.
// Blocks until ctx is cancelled or Stop is called.
//
// On cancellation, the request in flight completes and requests still queued
// are answered with ENGINE_STOPPED.
// After Stop, queued requests are processed before Run returns.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return errors.New("engine: already running")
	}

	if err := e.seedClock(ctx); err != nil {
		e.stopPending()
		return err
	}

	e.logger.Info("engine starting")

	for {
		// Cancellation wins over queued work.
		if ctx.Err() != nil {
			e.logger.Info("engine stopping: context cancelled")
			e.stopPending()
			return ctx.Err()
		}

		if r, ok := e.queue.TryDequeue(); ok {
			e.process(ctx, r)
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			e.stopPending()
			return ctx.Err()

		case <-e.queue.Wait():
			// The signal channel closes with the queue.
			if e.queue.Len() == 0 && e.queue.Closed() {
				e.logger.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the queue. Run finishes queued requests and returns.
func (e *Engine) Stop() {
	e.queue.Close()
}

func (e *Engine) stopPending() {
	for _, r := range e.queue.Drain() {
		r.reply <- result{err: ledger.ErrEngineStopped}
	}
}

// seedClock raises a MonotonicClock to the last stored timestamp.
func (e *Engine) seedClock(ctx context.Context) error {
	obs, ok := e.clock.(interface{ Observe(t time.Time) })
	if !ok {
		return nil
	}

	var (
		last  ledger.TransferRecord
		found bool
	)
	err := e.store.Read(ctx, func(v ledger.View) error {
		var err error
		last, found, err = v.Last(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("engine: seed clock: %w", err)
	}
	if found {
		obs.Observe(last.Timestamp)
	}
	return nil
}

// process executes one request.
// CRITICAL: Called only from the Run goroutine - single-writer guarantee.
func (e *Engine) process(ctx context.Context, r *request) {
	rec, err := e.commit(context.WithoutCancel(ctx), r)
	if err != nil {
		if ledger.CodeOf(err) != "" {
			e.logger.Info("transfer rejected",
				"sender", r.sender,
				"receiver", r.receiver,
				"amount", r.amount,
				"code", ledger.CodeOf(err),
			)
		} else {
			e.logger.Error("transfer failed",
				"sender", r.sender,
				"receiver", r.receiver,
				"amount", r.amount,
				"error", err,
			)
		}
		r.reply <- result{err: err}
		return
	}

	e.logger.Info("transfer recorded",
		"index", rec.Index,
		"sender", rec.Sender,
		"receiver", rec.Receiver,
		"amount", rec.Amount,
	)

	if e.publisher != nil {
		e.publisher.Publish(ledger.NewTransferEvent(e.ids.Generate(), rec))
	}

	r.reply <- result{record: rec}
}

// commit moves value and appends the record in one store transaction.
func (e *Engine) commit(ctx context.Context, r *request) (ledger.TransferRecord, error) {
	var rec ledger.TransferRecord

	err := e.store.Write(ctx, func(tx ledger.Tx) error {
		if err := tx.MoveValue(ctx, r.sender, r.receiver, r.amount); err != nil {
			return err
		}

		rec = ledger.TransferRecord{
			Sender:    r.sender,
			Receiver:  r.receiver,
			Amount:    r.amount,
			Message:   r.message,
			Timestamp: e.clock.Now().UTC().Truncate(time.Second),
		}

		idx, err := tx.Append(ctx, rec)
		if err != nil {
			return err
		}
		rec.Index = idx
		return nil
	})
	if err != nil {
		if ledger.CodeOf(err) != "" {
			return ledger.TransferRecord{}, err
		}
		return ledger.TransferRecord{}, fmt.Errorf("record transfer: %w", err)
	}

	return rec, nil
}
