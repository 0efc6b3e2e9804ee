// Package usage aggregates token and cost accounting across generations
// and persists the running totals.
package usage

import (
	"context"
	"time"

	"github.com/pithecene-io/vellum/types"
)

// HistoryLimit is the number of most recent runs kept with the totals.
const HistoryLimit = 100

// Pricing converts token counts to cost, in USD per million tokens.
type Pricing struct {
	PerMillion         float64
	TestModePerMillion float64
}

// DefaultPricing returns the endpoint's published rates.
func DefaultPricing() Pricing {
	return Pricing{PerMillion: 3.0, TestModePerMillion: 1.25}
}

// Cost returns the cost of u. A cost reported by the endpoint wins.
func (p Pricing) Cost(u types.Usage, testMode bool) float64 {
	if u.TotalCost != nil {
		return *u.TotalCost
	}
	rate := p.PerMillion
	if testMode {
		rate = p.TestModePerMillion
	}
	return float64(u.TotalTokens()) / 1_000_000 * rate
}

// RunRecord is the accounting for one completed generation.
type RunRecord struct {
	Timestamp    time.Time `msgpack:"timestamp" json:"timestamp" yaml:"timestamp"`
	GenerationID string    `msgpack:"generation_id" json:"generation_id" yaml:"generation_id"`
	Model        string    `msgpack:"model" json:"model" yaml:"model"`
	InputTokens  int64     `msgpack:"input_tokens" json:"input_tokens" yaml:"input_tokens"`
	OutputTokens int64     `msgpack:"output_tokens" json:"output_tokens" yaml:"output_tokens"`
	Cost         float64   `msgpack:"cost" json:"cost" yaml:"cost"`
	TestMode     bool      `msgpack:"test_mode" json:"test_mode" yaml:"test_mode"`
}

// Totals is the persisted aggregate across all generations.
type Totals struct {
	Runs         int64       `msgpack:"runs" json:"runs" yaml:"runs"`
	InputTokens  int64       `msgpack:"input_tokens" json:"input_tokens" yaml:"input_tokens"`
	OutputTokens int64       `msgpack:"output_tokens" json:"output_tokens" yaml:"output_tokens"`
	Cost         float64     `msgpack:"cost" json:"cost" yaml:"cost"`
	UpdatedAt    time.Time   `msgpack:"updated_at" json:"updated_at" yaml:"updated_at"`
	History      []RunRecord `msgpack:"history" json:"history" yaml:"history"`
}

// TotalTokens returns cumulative input plus output tokens.
func (t Totals) TotalTokens() int64 {
	return t.InputTokens + t.OutputTokens
}

// clone returns a deep copy.
func (t Totals) clone() Totals {
	out := t
	if t.History != nil {
		out.History = make([]RunRecord, len(t.History))
		copy(out.History, t.History)
	}
	return out
}

// Store persists totals.
type Store interface {
	// Load returns the stored totals, or zero totals if nothing is stored.
	Load(ctx context.Context) (Totals, error)
	// Save replaces the stored totals.
	Save(ctx context.Context, t Totals) error
	// Close releases store resources.
	Close() error
}
