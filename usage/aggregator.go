package usage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pithecene-io/vellum/types"
)

// RunInfo identifies the generation a usage record belongs to.
type RunInfo struct {
	GenerationID string
	Model        string
	TestMode     bool
}

// Aggregator owns the process-wide usage totals.
//
// Totals are loaded from the store at construction. Record and Reset
// persist the new totals before publishing them, so readers observe
// either the old or the new totals and never a partial update.
type Aggregator struct {
	mu      sync.RWMutex
	totals  Totals
	store   Store
	pricing Pricing
	now     func() time.Time
}

// NewAggregator loads the stored totals.
func NewAggregator(ctx context.Context, store Store, pricing Pricing) (*Aggregator, error) {
	if store == nil {
		store = NewMemoryStore()
	}
	totals, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load usage totals: %w", err)
	}
	return &Aggregator{
		totals:  totals,
		store:   store,
		pricing: pricing,
		now:     time.Now,
	}, nil
}

// Pricing returns the pricing used for runs without a reported cost.
func (a *Aggregator) Pricing() Pricing {
	return a.pricing
}

// Record adds one run. The returned record carries the computed cost.
// On a store failure nothing changes and the error is returned.
func (a *Aggregator) Record(ctx context.Context, u types.Usage, info RunInfo) (RunRecord, error) {
	rec := RunRecord{
		Timestamp:    a.now().UTC(),
		GenerationID: info.GenerationID,
		Model:        info.Model,
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
		Cost:         a.pricing.Cost(u, info.TestMode),
		TestMode:     info.TestMode,
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	next := a.totals.clone()
	next.Runs++
	next.InputTokens += rec.InputTokens
	next.OutputTokens += rec.OutputTokens
	next.Cost += rec.Cost
	next.UpdatedAt = rec.Timestamp
	next.History = append(next.History, rec)
	if over := len(next.History) - HistoryLimit; over > 0 {
		next.History = append([]RunRecord(nil), next.History[over:]...)
	}

	if err := a.store.Save(ctx, next); err != nil {
		return rec, fmt.Errorf("persist usage totals: %w", err)
	}
	a.totals = next
	return rec, nil
}

// Totals returns a copy of the current totals.
func (a *Aggregator) Totals() Totals {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.totals.clone()
}

// Reset sets every total to zero and clears the history.
func (a *Aggregator) Reset(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	next := Totals{UpdatedAt: a.now().UTC()}
	if err := a.store.Save(ctx, next); err != nil {
		return fmt.Errorf("persist usage reset: %w", err)
	}
	a.totals = next
	return nil
}

// Close closes the underlying store.
func (a *Aggregator) Close() error {
	return a.store.Close()
}
