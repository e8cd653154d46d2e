package harness

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/ethbank/internal/ledger"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, ev := range e.Trace {
		if ev.Type == EventRecorded {
			fmt.Fprintf(&buf, "  [%d] recorded #%d %s -> %s %s %q\n",
				ev.Step, *ev.Index, ev.Sender, ev.Receiver, ev.Amount, ev.Message)
		} else {
			fmt.Fprintf(&buf, "  [%d] rejected %s %s -> %s %s\n",
				ev.Step, ev.Code, ev.Sender, ev.Receiver, ev.Amount)
		}
	}

	return buf.String()
}

// AssertionContext carries what assertions inspect besides the trace.
type AssertionContext struct {
	Store  ledger.Store
	Events []ledger.TransferEvent
	Ctx    context.Context
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluateAssertion(result.Trace, a, actx); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %s", i, err.Error()))
		}
	}
	return errs
}

func evaluateAssertion(trace []TraceEvent, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertCount:
		return assertCount(trace, a, actx)
	case AssertRecord:
		return assertRecord(trace, a, actx)
	case AssertHistory:
		return assertHistory(trace, a, actx)
	case AssertBalance:
		return assertBalance(trace, a, actx)
	case AssertEvents:
		return assertEvents(trace, a, actx)
	case AssertAudit:
		return assertAudit(trace, actx)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func assertCount(trace []TraceEvent, a Assertion, actx *AssertionContext) error {
	n, err := ledger.GetCount(actx.Ctx, actx.Store)
	if err != nil {
		return fmt.Errorf("count: %w", err)
	}
	if n != *a.Count {
		return &AssertionError{
			Type:     AssertCount,
			Expected: fmt.Sprintf("count %d", *a.Count),
			Actual:   fmt.Sprintf("count %d", n),
			Trace:    trace,
		}
	}
	return nil
}

// assertRecord checks the stored record at a.Index field by field.
// Only fields named in a.Expect are compared.
func assertRecord(trace []TraceEvent, a Assertion, actx *AssertionContext) error {
	recs, err := ledger.GetAll(actx.Ctx, actx.Store)
	if err != nil {
		return fmt.Errorf("record: %w", err)
	}
	if a.Index >= uint64(len(recs)) {
		return &AssertionError{
			Type:     AssertRecord,
			Expected: fmt.Sprintf("record at index %d", a.Index),
			Actual:   fmt.Sprintf("ledger holds %d records", len(recs)),
			Trace:    trace,
		}
	}

	actual := recordFields(recs[a.Index])
	for key, want := range a.Expect {
		want, err := normalizeField(key, want)
		if err != nil {
			return fmt.Errorf("record: %s: %w", key, err)
		}
		if actual[key] != want {
			return &AssertionError{
				Type:     AssertRecord,
				Expected: fmt.Sprintf("record %d %s = %q", a.Index, key, want),
				Actual:   fmt.Sprintf("%s = %q", key, actual[key]),
				Trace:    trace,
			}
		}
	}
	return nil
}

func assertHistory(trace []TraceEvent, a Assertion, actx *AssertionContext) error {
	recs, err := ledger.GetAll(actx.Ctx, actx.Store)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}

	got := make([]string, len(recs))
	for i, rec := range recs {
		got[i] = rec.Message
	}

	mismatch := len(got) != len(a.Messages)
	for i := 0; !mismatch && i < len(got); i++ {
		mismatch = got[i] != a.Messages[i]
	}
	if mismatch {
		return &AssertionError{
			Type:     AssertHistory,
			Expected: fmt.Sprintf("messages %q", a.Messages),
			Actual:   fmt.Sprintf("messages %q", got),
			Trace:    trace,
		}
	}
	return nil
}

func assertBalance(trace []TraceEvent, a Assertion, actx *AssertionContext) error {
	addr, err := ledger.ParseAddress(a.Address)
	if err != nil {
		return fmt.Errorf("balance: %w", err)
	}
	want, err := ledger.ParseAmount(a.Balance)
	if err != nil {
		return fmt.Errorf("balance: %w", err)
	}

	acct, err := ledger.GetAccount(actx.Ctx, actx.Store, addr)
	if err != nil {
		return fmt.Errorf("balance: %w", err)
	}
	if !acct.Balance.Equal(want) {
		return &AssertionError{
			Type:     AssertBalance,
			Expected: fmt.Sprintf("%s holds %s", addr, want),
			Actual:   fmt.Sprintf("%s holds %s", addr, acct.Balance),
			Trace:    trace,
		}
	}
	return nil
}

// assertEvents checks the published events: the expected number, and one per
// recorded step carrying that step's index, in the same order.
func assertEvents(trace []TraceEvent, a Assertion, actx *AssertionContext) error {
	if uint64(len(actx.Events)) != *a.Count {
		return &AssertionError{
			Type:     AssertEvents,
			Expected: fmt.Sprintf("%d events", *a.Count),
			Actual:   fmt.Sprintf("%d events", len(actx.Events)),
			Trace:    trace,
		}
	}

	recorded := 0
	for _, ev := range trace {
		if ev.Type != EventRecorded {
			continue
		}
		if recorded >= len(actx.Events) || actx.Events[recorded].Index != *ev.Index {
			return &AssertionError{
				Type:     AssertEvents,
				Expected: fmt.Sprintf("event %d for record %d", recorded, *ev.Index),
				Actual:   describeEvents(actx.Events),
				Trace:    trace,
			}
		}
		recorded++
	}
	if recorded != len(actx.Events) {
		return &AssertionError{
			Type:     AssertEvents,
			Expected: fmt.Sprintf("%d events, one per recorded step", recorded),
			Actual:   describeEvents(actx.Events),
			Trace:    trace,
		}
	}
	return nil
}

func assertAudit(trace []TraceEvent, actx *AssertionContext) error {
	report, err := ledger.Audit(actx.Ctx, actx.Store)
	if err != nil {
		return err
	}
	if !report.OK() {
		return &AssertionError{
			Type:     AssertAudit,
			Expected: "no violations",
			Actual:   strings.Join(report.Violations, "; "),
			Trace:    trace,
		}
	}
	return nil
}

func describeEvents(evs []ledger.TransferEvent) string {
	idx := make([]string, len(evs))
	for i, ev := range evs {
		idx[i] = strconv.FormatUint(ev.Index, 10)
	}
	return fmt.Sprintf("events for records [%s]", strings.Join(idx, " "))
}

func recordFields(rec ledger.TransferRecord) map[string]string {
	return map[string]string{
		"index":     strconv.FormatUint(rec.Index, 10),
		"sender":    rec.Sender.String(),
		"receiver":  rec.Receiver.String(),
		"amount":    rec.Amount.String(),
		"message":   rec.Message,
		"timestamp": formatTime(rec.Timestamp),
	}
}

// normalizeField puts an expected value in the form recordFields produces,
// so "0X00..AB" matches "0x00..ab" and "0100" matches "100".
func normalizeField(key, val string) (string, error) {
	switch key {
	case "index":
		n, err := strconv.ParseUint(val, 10, 64)
		if err != nil {
			return "", err
		}
		return strconv.FormatUint(n, 10), nil
	case "sender", "receiver":
		addr, err := ledger.ParseAddress(val)
		if err != nil {
			return "", err
		}
		return addr.String(), nil
	case "amount":
		amt, err := ledger.ParseAmount(val)
		if err != nil {
			return "", err
		}
		return amt.String(), nil
	case "timestamp":
		t, err := time.Parse(time.RFC3339, val)
		if err != nil {
			return "", err
		}
		return formatTime(t), nil
	default:
		return val, nil
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
