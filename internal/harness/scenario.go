package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/ethbank/internal/ledger"
)

// Scenario defines a conformance test scenario.
// Scenarios seed a ledger, send a flow of transfers, and assert on the
// resulting trace and final ledger state.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Genesis seeds account balances before the flow runs.
	Genesis []GenesisAccount `yaml:"genesis,omitempty"`

	// MaxMessageBytes overrides the engine's message bound. Zero disables it.
	MaxMessageBytes *int `yaml:"max_message_bytes,omitempty"`

	// Flow contains the transfers to send, in order. May be empty.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final trace and ledger state.
	Assertions []Assertion `yaml:"assertions"`
}

// GenesisAccount is one initial allocation.
type GenesisAccount struct {
	Address      string `yaml:"address"`
	Balance      string `yaml:"balance"`
	RefusesFunds bool   `yaml:"refuses_funds,omitempty"`
}

// FlowStep is one call to the transfer guard.
type FlowStep struct {
	// From is the calling identity.
	From string `yaml:"from"`

	// To is passed through unparsed so scenarios can exercise invalid receivers.
	To string `yaml:"to"`

	// Amount is the declared amount in wei.
	Amount string `yaml:"amount"`

	// Value is the attached payment. Defaults to Amount.
	Value string `yaml:"value,omitempty"`

	Message string `yaml:"message"`

	// Expect specifies the expected outcome.
	// If nil, the step must succeed.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies the expected outcome of a step.
// Set at most one of Error and Index.
type ExpectClause struct {
	// Error is the expected ledger error code, e.g. "VALUE_MISMATCH".
	Error string `yaml:"error,omitempty"`

	// Index is the expected position of the committed record.
	Index *uint64 `yaml:"index,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "count":   ledger count equals Count
	// - "record":  record at Index matches Expect (subset match)
	// - "history": record messages equal Messages, in order
	// - "balance": account at Address holds Balance
	// - "events":  Count events were published, one per recorded step
	// - "audit":   ledger.Audit reports no violations
	Type string `yaml:"type"`

	// Count is used by count and events.
	Count *uint64 `yaml:"count,omitempty"`

	// Index is used by record.
	Index uint64 `yaml:"index,omitempty"`

	// Expect holds expected record fields (used by record). Keys: index,
	// sender, receiver, amount, message, timestamp.
	Expect map[string]string `yaml:"expect,omitempty"`

	// Messages is the expected message order (used by history).
	Messages []string `yaml:"messages,omitempty"`

	// Address and Balance are used by balance.
	Address string `yaml:"address,omitempty"`
	Balance string `yaml:"balance,omitempty"`
}

// Assertion type constants.
const (
	AssertCount   = "count"
	AssertRecord  = "record"
	AssertHistory = "history"
	AssertBalance = "balance"
	AssertEvents  = "events"
	AssertAudit   = "audit"
)

var recordFieldNames = map[string]bool{
	"index":     true,
	"sender":    true,
	"receiver":  true,
	"amount":    true,
	"message":   true,
	"timestamp": true,
}

var knownErrorCodes = map[string]bool{
	string(ledger.ErrCodeValueMismatch):    true,
	string(ledger.ErrCodeInvalidReceiver):  true,
	string(ledger.ErrCodeTransferRejected): true,
	string(ledger.ErrCodeMessageTooLarge):  true,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// GenesisAccounts converts the genesis block to ledger accounts.
func (s *Scenario) GenesisAccounts() ([]ledger.Account, error) {
	accts := make([]ledger.Account, 0, len(s.Genesis))
	for i, g := range s.Genesis {
		addr, err := ledger.ParseAddress(g.Address)
		if err != nil {
			return nil, fmt.Errorf("genesis[%d]: %w", i, err)
		}
		bal := ledger.Zero
		if g.Balance != "" {
			if bal, err = ledger.ParseAmount(g.Balance); err != nil {
				return nil, fmt.Errorf("genesis[%d]: %w", i, err)
			}
		}
		accts = append(accts, ledger.Account{
			Address:      addr,
			Balance:      bal,
			Initial:      bal,
			RefusesFunds: g.RefusesFunds,
		})
	}
	return accts, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	if s.MaxMessageBytes != nil && *s.MaxMessageBytes < 0 {
		return fmt.Errorf("max_message_bytes must be non-negative")
	}

	if _, err := s.GenesisAccounts(); err != nil {
		return err
	}

	for i, step := range s.Flow {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

func validateStep(index int, step *FlowStep) error {
	if _, err := ledger.ParseAddress(step.From); err != nil {
		return fmt.Errorf("flow[%d]: from: %w", index, err)
	}
	if step.Amount == "" {
		return fmt.Errorf("flow[%d]: amount is required", index)
	}
	if _, err := ledger.ParseAmount(step.Amount); err != nil {
		return fmt.Errorf("flow[%d]: amount: %w", index, err)
	}
	if step.Value != "" {
		if _, err := ledger.ParseAmount(step.Value); err != nil {
			return fmt.Errorf("flow[%d]: value: %w", index, err)
		}
	}

	if step.Expect != nil {
		if step.Expect.Error != "" && step.Expect.Index != nil {
			return fmt.Errorf("flow[%d].expect: error and index are mutually exclusive", index)
		}
		if step.Expect.Error != "" && !knownErrorCodes[step.Expect.Error] {
			return fmt.Errorf("flow[%d].expect: unknown error code %q", index, step.Expect.Error)
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertCount, AssertEvents:
		if a.Count == nil {
			return fmt.Errorf("assertions[%d]: count is required for %s", index, a.Type)
		}
	case AssertRecord:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for record", index)
		}
		for key, val := range a.Expect {
			if !recordFieldNames[key] {
				return fmt.Errorf("assertions[%d]: unknown record field %q", index, key)
			}
			if _, err := normalizeField(key, val); err != nil {
				return fmt.Errorf("assertions[%d]: %s: %w", index, key, err)
			}
		}
	case AssertHistory:
		if a.Messages == nil {
			return fmt.Errorf("assertions[%d]: messages is required for history", index)
		}
	case AssertBalance:
		if _, err := ledger.ParseAddress(a.Address); err != nil {
			return fmt.Errorf("assertions[%d]: address: %w", index, err)
		}
		if _, err := ledger.ParseAmount(a.Balance); err != nil {
			return fmt.Errorf("assertions[%d]: balance: %w", index, err)
		}
	case AssertAudit:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
