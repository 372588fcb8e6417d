// Package records defines the structured output of statement extraction:
// transaction and holding records, the parsing mode that selects between
// them, and the expected-summary validation applied to extraction output.
package records

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// ParsingMode selects the output shape of an extraction run. It flows
// unchanged from the caller through the execution engine to validation.
type ParsingMode string

const (
	ModeTransaction ParsingMode = "transaction"
	ModeHolding     ParsingMode = "holding"
)

// ParseMode validates a mode string.
func ParseMode(s string) (ParsingMode, error) {
	switch ParsingMode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeTransaction:
		return ModeTransaction, nil
	case ModeHolding:
		return ModeHolding, nil
	default:
		return "", fmt.Errorf("unknown parsing mode %q (want transaction or holding)", s)
	}
}

// Transaction is a single statement transaction.
type Transaction struct {
	Date        string  `json:"date"`
	Description string  `json:"description"`
	Type        string  `json:"type"` // DEBIT or CREDIT
	Amount      float64 `json:"amount"`
	Balance     float64 `json:"balance,omitempty"`
}

// SignedAmount returns the amount with debits negative.
func (t Transaction) SignedAmount() float64 {
	if strings.EqualFold(t.Type, "DEBIT") {
		return -math.Abs(t.Amount)
	}
	return math.Abs(t.Amount)
}

// Holding is a single investment holding.
type Holding struct {
	Symbol       string  `json:"symbol,omitempty"`
	Name         string  `json:"name,omitempty"`
	Quantity     float64 `json:"quantity"`
	AveragePrice float64 `json:"averagePrice,omitempty"`
	CurrentPrice float64 `json:"currentPrice,omitempty"`
	CurrentValue float64 `json:"currentValue"`
}

// Set is a mode-tagged record list. Exactly one of Transactions/Holdings is
// populated, matching Mode.
type Set struct {
	Mode         ParsingMode   `json:"mode"`
	Transactions []Transaction `json:"transactions,omitempty"`
	Holdings     []Holding     `json:"holdings,omitempty"`
}

// Count returns the number of records in the set.
func (s Set) Count() int {
	if s.Mode == ModeHolding {
		return len(s.Holdings)
	}
	return len(s.Transactions)
}

// Empty reports whether the set holds no records.
func (s Set) Empty() bool { return s.Count() == 0 }

// Total returns the summable value of the set: signed transaction amounts or
// current holding values.
func (s Set) Total() float64 {
	var total float64
	if s.Mode == ModeHolding {
		for _, h := range s.Holdings {
			total += h.CurrentValue
		}
		return total
	}
	for _, t := range s.Transactions {
		total += t.SignedAmount()
	}
	return total
}

// DecodeSet parses raw extraction output (a JSON array) into a Set, applying
// the shape rules for the given mode. An empty array is a valid, empty set;
// anything that is not a JSON array is an error.
func DecodeSet(mode ParsingMode, raw string) (Set, error) {
	set := Set{Mode: mode}

	var items []json.RawMessage
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &items); err != nil {
		return set, fmt.Errorf("extraction output is not a JSON array: %w", err)
	}

	switch mode {
	case ModeHolding:
		for i, item := range items {
			var h Holding
			if err := json.Unmarshal(item, &h); err != nil {
				return set, fmt.Errorf("holding %d is malformed: %w", i, err)
			}
			if h.Symbol == "" && h.Name == "" {
				return set, fmt.Errorf("holding %d has neither symbol nor name", i)
			}
			set.Holdings = append(set.Holdings, h)
		}
	case ModeTransaction:
		for i, item := range items {
			var t Transaction
			if err := json.Unmarshal(item, &t); err != nil {
				return set, fmt.Errorf("transaction %d is malformed: %w", i, err)
			}
			if t.Date == "" {
				return set, fmt.Errorf("transaction %d is missing a date", i)
			}
			set.Transactions = append(set.Transactions, t)
		}
	default:
		return set, fmt.Errorf("unknown parsing mode %q", mode)
	}

	return set, nil
}

// ValidationTolerance is the allowed absolute discrepancy, in currency units,
// between an extraction total and a caller-supplied expected total.
const ValidationTolerance = 100.0

// ExpectedSummary is caller-supplied ground truth for the current document.
// Nil fields are unspecified and skipped during validation. It is never
// persisted.
type ExpectedSummary struct {
	TransactionCount *int     `json:"transactionCount,omitempty"`
	TotalAmount      *float64 `json:"totalAmount,omitempty"`
	HoldingsCount    *int     `json:"holdingsCount,omitempty"`
	TotalCurrent     *float64 `json:"totalCurrent,omitempty"`
}

// Validate checks a record set against the summary. A nil summary accepts
// everything. The returned error describes the first mismatch.
func (e *ExpectedSummary) Validate(set Set) error {
	if e == nil {
		return nil
	}

	expectCount, expectTotal := e.TransactionCount, e.TotalAmount
	if set.Mode == ModeHolding {
		expectCount, expectTotal = e.HoldingsCount, e.TotalCurrent
	}

	if expectCount != nil && set.Count() != *expectCount {
		return fmt.Errorf("%s count %d does not match expected %d", set.Mode, set.Count(), *expectCount)
	}
	if expectTotal != nil {
		if diff := math.Abs(set.Total() - *expectTotal); diff > ValidationTolerance {
			return fmt.Errorf("%s total %.2f differs from expected %.2f by %.2f (tolerance %.0f)",
				set.Mode, set.Total(), *expectTotal, diff, ValidationTolerance)
		}
	}
	return nil
}
