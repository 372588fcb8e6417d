package records

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intp(v int) *int           { return &v }
func floatp(v float64) *float64 { return &v }

func TestParseMode(t *testing.T) {
	m, err := ParseMode("  Transaction ")
	require.NoError(t, err)
	assert.Equal(t, ModeTransaction, m)

	m, err = ParseMode("HOLDING")
	require.NoError(t, err)
	assert.Equal(t, ModeHolding, m)

	_, err = ParseMode("portfolio")
	assert.Error(t, err)
}

func TestDecodeSetTransactions(t *testing.T) {
	raw := `[
		{"date":"2024-01-03","description":"SALARY","type":"CREDIT","amount":2500.00,"balance":3100.00},
		{"date":"2024-01-05","description":"GROCERIES","type":"DEBIT","amount":82.45,"balance":3017.55}
	]`
	set, err := DecodeSet(ModeTransaction, raw)
	require.NoError(t, err)

	want := Set{Mode: ModeTransaction, Transactions: []Transaction{
		{Date: "2024-01-03", Description: "SALARY", Type: "CREDIT", Amount: 2500, Balance: 3100},
		{Date: "2024-01-05", Description: "GROCERIES", Type: "DEBIT", Amount: 82.45, Balance: 3017.55},
	}}
	if diff := cmp.Diff(want, set); diff != "" {
		t.Errorf("decoded set mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 2, set.Count())
	assert.InDelta(t, 2500-82.45, set.Total(), 0.001)
}

func TestDecodeSetHoldings(t *testing.T) {
	raw := `[
		{"symbol":"VWRL","quantity":12,"currentValue":1320.50},
		{"name":"HDFC Liquid Fund","quantity":410.2,"currentValue":10500.00}
	]`
	set, err := DecodeSet(ModeHolding, raw)
	require.NoError(t, err)
	assert.Equal(t, 2, set.Count())
	assert.InDelta(t, 11820.50, set.Total(), 0.001)
}

func TestDecodeSetShapeErrors(t *testing.T) {
	tests := []struct {
		name string
		mode ParsingMode
		raw  string
	}{
		{"not an array", ModeTransaction, `{"date":"2024-01-01"}`},
		{"not json at all", ModeHolding, `parse failed`},
		{"transaction without date", ModeTransaction, `[{"description":"x","amount":1}]`},
		{"holding without identity", ModeHolding, `[{"quantity":1,"currentValue":10}]`},
		{"wrong field type", ModeTransaction, `[{"date":"2024-01-01","amount":"lots"}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeSet(tt.mode, tt.raw)
			assert.Error(t, err)
		})
	}
}

func TestDecodeSetEmptyArrayIsValid(t *testing.T) {
	set, err := DecodeSet(ModeHolding, `[]`)
	require.NoError(t, err)
	assert.True(t, set.Empty())
}

func TestExpectedSummaryValidate(t *testing.T) {
	holdings := Set{Mode: ModeHolding, Holdings: []Holding{
		{Symbol: "A", CurrentValue: 400},
		{Symbol: "B", CurrentValue: 600},
	}}

	tests := []struct {
		name    string
		summary *ExpectedSummary
		wantErr bool
	}{
		{"nil summary accepts", nil, false},
		{"count and total match", &ExpectedSummary{HoldingsCount: intp(2), TotalCurrent: floatp(1000)}, false},
		{"total within tolerance", &ExpectedSummary{TotalCurrent: floatp(1099.99)}, false},
		{"total beyond tolerance", &ExpectedSummary{TotalCurrent: floatp(1100.01)}, true},
		{"count mismatch", &ExpectedSummary{HoldingsCount: intp(5)}, true},
		{"transaction fields ignored in holding mode", &ExpectedSummary{TransactionCount: intp(99)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.summary.Validate(holdings)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSignedAmount(t *testing.T) {
	assert.Equal(t, -50.0, Transaction{Type: "DEBIT", Amount: 50}.SignedAmount())
	assert.Equal(t, -50.0, Transaction{Type: "debit", Amount: -50}.SignedAmount())
	assert.Equal(t, 50.0, Transaction{Type: "CREDIT", Amount: 50}.SignedAmount())
}
