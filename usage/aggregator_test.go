package usage

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/pithecene-io/vellum/types"
)

func costPtr(v float64) *float64 { return &v }

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestPricing_Cost(t *testing.T) {
	p := DefaultPricing()
	tests := []struct {
		name     string
		usage    types.Usage
		testMode bool
		want     float64
	}{
		{"standard rate", types.Usage{InputTokens: 1000, OutputTokens: 500}, false, 0.0045},
		{"test mode rate", types.Usage{InputTokens: 1_000_000}, true, 1.25},
		{"reported cost wins", types.Usage{InputTokens: 1000, OutputTokens: 500, TotalCost: costPtr(0.02)}, false, 0.02},
		{"reported zero cost wins", types.Usage{InputTokens: 1000, TotalCost: costPtr(0)}, false, 0},
		{"zero usage", types.Usage{}, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Cost(tt.usage, tt.testMode); !approxEqual(got, tt.want) {
				t.Errorf("Cost() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAggregator_Record(t *testing.T) {
	agg, err := NewAggregator(t.Context(), nil, DefaultPricing())
	if err != nil {
		t.Fatalf("NewAggregator failed: %v", err)
	}

	rec, err := agg.Record(t.Context(), types.Usage{InputTokens: 1000, OutputTokens: 500}, RunInfo{GenerationID: "gen-1", Model: "m"})
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if !approxEqual(rec.Cost, 0.0045) {
		t.Errorf("rec.Cost = %v, want 0.0045", rec.Cost)
	}

	totals := agg.Totals()
	if totals.Runs != 1 {
		t.Errorf("Runs = %d, want 1", totals.Runs)
	}
	if totals.TotalTokens() != 1500 {
		t.Errorf("TotalTokens = %d, want 1500", totals.TotalTokens())
	}
	if !approxEqual(totals.Cost, 0.0045) {
		t.Errorf("Cost = %v, want 0.0045", totals.Cost)
	}
	if len(totals.History) != 1 || totals.History[0].GenerationID != "gen-1" {
		t.Errorf("History = %+v, want one gen-1 record", totals.History)
	}
	if totals.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not set")
	}
}

func TestAggregator_HistoryTrimmed(t *testing.T) {
	agg, err := NewAggregator(t.Context(), nil, DefaultPricing())
	if err != nil {
		t.Fatalf("NewAggregator failed: %v", err)
	}

	for i := range HistoryLimit + 5 {
		if _, err := agg.Record(t.Context(), types.Usage{InputTokens: int64(i + 1)}, RunInfo{}); err != nil {
			t.Fatalf("Record %d failed: %v", i, err)
		}
	}

	totals := agg.Totals()
	if totals.Runs != HistoryLimit+5 {
		t.Errorf("Runs = %d, want %d", totals.Runs, HistoryLimit+5)
	}
	if len(totals.History) != HistoryLimit {
		t.Fatalf("len(History) = %d, want %d", len(totals.History), HistoryLimit)
	}
	if first := totals.History[0].InputTokens; first != 6 {
		t.Errorf("oldest kept record InputTokens = %d, want 6", first)
	}
	if last := totals.History[HistoryLimit-1].InputTokens; last != HistoryLimit+5 {
		t.Errorf("newest record InputTokens = %d, want %d", last, HistoryLimit+5)
	}
}

func TestAggregator_SaveFailureLeavesTotalsUnchanged(t *testing.T) {
	store := NewMemoryStore()
	agg, err := NewAggregator(t.Context(), store, DefaultPricing())
	if err != nil {
		t.Fatalf("NewAggregator failed: %v", err)
	}
	if _, err := agg.Record(t.Context(), types.Usage{InputTokens: 10}, RunInfo{}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	store.FailWith(errors.New("disk full"))
	if _, err := agg.Record(t.Context(), types.Usage{InputTokens: 99}, RunInfo{}); err == nil {
		t.Fatal("expected error from failing store")
	}

	totals := agg.Totals()
	if totals.Runs != 1 || totals.InputTokens != 10 {
		t.Errorf("totals = %+v, want runs=1 input=10", totals)
	}
}

func TestAggregator_ConcurrentReadsSeeWholeUpdates(t *testing.T) {
	agg, err := NewAggregator(t.Context(), nil, DefaultPricing())
	if err != nil {
		t.Fatalf("NewAggregator failed: %v", err)
	}

	const writes = 50
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range writes {
			_, _ = agg.Record(t.Context(), types.Usage{InputTokens: 2, OutputTokens: 3}, RunInfo{})
		}
	}()

	for range 200 {
		totals := agg.Totals()
		if totals.InputTokens != totals.Runs*2 || totals.OutputTokens != totals.Runs*3 {
			t.Fatalf("torn read: %+v", totals)
		}
		if int64(len(totals.History)) != totals.Runs {
			t.Fatalf("history length %d does not match runs %d", len(totals.History), totals.Runs)
		}
	}
	wg.Wait()

	if got := agg.Totals().Runs; got != writes {
		t.Errorf("Runs = %d, want %d", got, writes)
	}
}

func TestAggregator_TotalsReturnsCopy(t *testing.T) {
	agg, err := NewAggregator(t.Context(), nil, DefaultPricing())
	if err != nil {
		t.Fatalf("NewAggregator failed: %v", err)
	}
	if _, err := agg.Record(t.Context(), types.Usage{InputTokens: 1}, RunInfo{Model: "a"}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	snap := agg.Totals()
	snap.History[0].Model = "mutated"
	snap.Runs = 42

	if got := agg.Totals(); got.Runs != 1 || got.History[0].Model != "a" {
		t.Errorf("aggregator state mutated through snapshot: %+v", got)
	}
}

func TestAggregator_Reset(t *testing.T) {
	store := NewMemoryStore()
	agg, err := NewAggregator(t.Context(), store, DefaultPricing())
	if err != nil {
		t.Fatalf("NewAggregator failed: %v", err)
	}
	if _, err := agg.Record(t.Context(), types.Usage{InputTokens: 5}, RunInfo{}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	if err := agg.Reset(t.Context()); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	totals := agg.Totals()
	if totals.Runs != 0 || totals.TotalTokens() != 0 || totals.Cost != 0 || len(totals.History) != 0 {
		t.Errorf("totals after reset = %+v, want zero", totals)
	}
	stored, _ := store.Load(t.Context())
	if stored.Runs != 0 {
		t.Errorf("stored Runs = %d, want 0", stored.Runs)
	}
}

func TestAggregator_LoadsExistingTotals(t *testing.T) {
	store := NewMemoryStore()
	seed := Totals{Runs: 3, InputTokens: 30, Cost: 1.5, UpdatedAt: time.Now()}
	if err := store.Save(t.Context(), seed); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	agg, err := NewAggregator(t.Context(), store, DefaultPricing())
	if err != nil {
		t.Fatalf("NewAggregator failed: %v", err)
	}
	if _, err := agg.Record(t.Context(), types.Usage{InputTokens: 10}, RunInfo{}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if got := agg.Totals(); got.Runs != 4 || got.InputTokens != 40 {
		t.Errorf("totals = %+v, want runs=4 input=40", got)
	}
}
