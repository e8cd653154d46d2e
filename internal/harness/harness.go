package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/ethbank/internal/engine"
	"github.com/roach88/ethbank/internal/ledger"
	"github.com/roach88/ethbank/internal/store"
	"github.com/roach88/ethbank/internal/testutil"
)

// Harness is the test execution engine.
// It runs scenarios with a deterministic clock and event IDs.
type Harness struct {
	store     *store.Store
	engine    *engine.Engine
	clock     *testutil.DeterministicClock
	publisher *testutil.RecordingPublisher
	logger    *slog.Logger
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Deterministic helpers ensure reproducible results.
//
// Execution flow:
// 1. Create fresh in-memory database
// 2. Apply the genesis block
// 3. Start the engine
// 4. Send flow steps with expect validation
// 5. Stop the engine and evaluate assertions
//
// Expectation and assertion failures are reported in the Result. A returned
// error means the scenario could not run at all.
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()

	genesis, err := scenario.GenesisAccounts()
	if err != nil {
		return nil, fmt.Errorf("failed to read genesis: %w", err)
	}
	if _, err := ledger.ApplyGenesis(ctx, st, genesis); err != nil {
		return nil, fmt.Errorf("failed to apply genesis: %w", err)
	}

	h := &Harness{
		store:     st,
		clock:     testutil.NewDeterministicClock(),
		publisher: &testutil.RecordingPublisher{},
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	}

	opts := []engine.Option{
		engine.WithClock(h.clock),
		engine.WithPublisher(h.publisher),
		engine.WithIDGenerator(testutil.NewSequentialIDGenerator("evt")),
		engine.WithLogger(h.logger),
	}
	if scenario.MaxMessageBytes != nil {
		opts = append(opts, engine.WithMaxMessageBytes(*scenario.MaxMessageBytes))
	}
	h.engine = engine.New(st, opts...)

	done := make(chan error, 1)
	go func() { done <- h.engine.Run(ctx) }()

	result := NewResult()
	flowErr := h.executeFlow(ctx, scenario.Flow, result)

	// Stop drains the queue, so every event is published before assertions run.
	h.engine.Stop()
	if err := <-done; err != nil && flowErr == nil {
		flowErr = fmt.Errorf("engine: %w", err)
	}
	if flowErr != nil {
		return nil, fmt.Errorf("failed to execute flow: %w", flowErr)
	}

	actx := &AssertionContext{
		Store:  st,
		Events: h.publisher.Events(),
		Ctx:    ctx,
	}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}

	return result, nil
}

// executeFlow sends each step through the engine in order.
func (h *Harness) executeFlow(ctx context.Context, flow []FlowStep, result *Result) error {
	for i, step := range flow {
		req, err := buildRequest(step)
		if err != nil {
			return fmt.Errorf("flow step %d: %w", i, err)
		}

		ev := TraceEvent{
			Step:     i,
			Sender:   req.Sender.String(),
			Receiver: step.To,
			Amount:   req.Amount.String(),
			Message:  step.Message,
		}

		rec, err := h.engine.SendAndRecord(ctx, req)
		if err != nil {
			code := ledger.CodeOf(err)
			if code == "" {
				return fmt.Errorf("flow step %d: %w", i, err)
			}
			result.AddRejected(ev, string(code))
			checkExpectedError(i, step.Expect, string(code), result)
			continue
		}

		idx := rec.Index
		ev.Receiver = rec.Receiver.String()
		ev.Index = &idx
		ev.Timestamp = formatTime(rec.Timestamp)
		ev.EventID = h.lastEventID()
		result.AddRecorded(ev)
		checkExpectedRecord(i, step.Expect, idx, result)
	}
	return nil
}

// lastEventID returns the ID of the most recent event. SendAndRecord only
// returns after the engine has published, so this is the step's own event.
func (h *Harness) lastEventID() string {
	evs := h.publisher.Events()
	if len(evs) == 0 {
		return ""
	}
	return evs[len(evs)-1].ID
}

func buildRequest(step FlowStep) (engine.SendRequest, error) {
	from, err := ledger.ParseAddress(step.From)
	if err != nil {
		return engine.SendRequest{}, fmt.Errorf("from: %w", err)
	}
	amount, err := ledger.ParseAmount(step.Amount)
	if err != nil {
		return engine.SendRequest{}, fmt.Errorf("amount: %w", err)
	}
	value := amount
	if step.Value != "" {
		if value, err = ledger.ParseAmount(step.Value); err != nil {
			return engine.SendRequest{}, fmt.Errorf("value: %w", err)
		}
	}

	return engine.SendRequest{
		Sender:   from,
		Receiver: step.To,
		Amount:   amount,
		Message:  step.Message,
		Value:    value,
	}, nil
}

func checkExpectedError(step int, expect *ExpectClause, code string, result *Result) {
	switch {
	case expect == nil || expect.Error == "":
		result.AddError(fmt.Sprintf("flow[%d]: expected success, got %s", step, code))
	case expect.Error != code:
		result.AddError(fmt.Sprintf("flow[%d]: expected error %s, got %s", step, expect.Error, code))
	}
}

func checkExpectedRecord(step int, expect *ExpectClause, idx uint64, result *Result) {
	if expect == nil {
		return
	}
	if expect.Error != "" {
		result.AddError(fmt.Sprintf("flow[%d]: expected error %s, got record %d", step, expect.Error, idx))
		return
	}
	if expect.Index != nil && *expect.Index != idx {
		result.AddError(fmt.Sprintf("flow[%d]: expected index %d, got %d", step, *expect.Index, idx))
	}
}
