package render

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/pithecene-io/vellum/estimate"
	"github.com/pithecene-io/vellum/runtime"
	"github.com/pithecene-io/vellum/types"
	"github.com/pithecene-io/vellum/usage"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input   string
		want    Format
		wantErr bool
	}{
		{"json", FormatJSON, false},
		{"JSON", FormatJSON, false},
		{"table", FormatTable, false},
		{"yaml", FormatYAML, false},
		{"", "", false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFormat(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
	if _, err := ParseFormat("csv"); err == nil || !strings.Contains(err.Error(), "json, table, or yaml") {
		t.Errorf("error should name valid formats, got %v", err)
	}
}

func sampleResult() *runtime.GenerationResult {
	return &runtime.GenerationResult{
		Meta:       &types.GenerationMeta{GenerationID: "gen-1", Model: "html-large"},
		Outcome:    &types.GenerationOutcome{Status: types.OutcomeFailed, ErrorKind: "exhausted_retries", Message: "gave up"},
		Document:   strings.Repeat("x", 2048),
		SessionID:  "sess-1",
		Reconnects: 5,
		Elapsed:    2500 * time.Millisecond,
		Record:     &usage.RunRecord{InputTokens: 10, OutputTokens: 20, Cost: 0.00009},
	}
}

func TestRender_ResultJSON(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatJSON, false, &buf)
	if err := r.Render(NewResultView(sampleResult(), "out.html")); err != nil {
		t.Fatalf("Render: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if got["generation_id"] != "gen-1" || got["error_kind"] != "exhausted_retries" {
		t.Errorf("output = %v", got)
	}
	if got["document_length"] != float64(2048) || got["duration_ms"] != float64(2500) {
		t.Errorf("output = %v", got)
	}
}

func TestRender_ResultTable(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, true, &buf)
	if err := r.Render(NewResultView(sampleResult(), "out.html")); err != nil {
		t.Fatalf("Render: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"generation:", "gen-1", "exhausted_retries: gave up", "2.0 KiB", "2.5s", "output:", "out.html"} {
		if !strings.Contains(out, want) {
			t.Errorf("table output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Error("no-color output contains escape codes")
	}
}

func TestRender_UsageYAML(t *testing.T) {
	totals := usage.Totals{
		Runs:        2,
		InputTokens: 100,
		Cost:        0.5,
		History: []usage.RunRecord{
			{GenerationID: "old", Model: "m"},
			{GenerationID: "new", Model: "m"},
		},
	}
	view := NewUsageView(totals, 1)
	if len(view.History) != 1 || view.History[0].GenerationID != "new" {
		t.Fatalf("history = %+v, want [new]", view.History)
	}

	var buf bytes.Buffer
	if err := NewRendererWithWriter(FormatYAML, false, &buf).Render(view); err != nil {
		t.Fatalf("Render: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "runs: 2") || !strings.Contains(out, "generation_id: new") {
		t.Errorf("yaml output:\n%s", out)
	}
}

func TestRender_HistoryTable(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, true, &buf)

	if err := r.Render(HistoryView{}); err != nil {
		t.Fatalf("Render empty: %v", err)
	}
	if !strings.Contains(buf.String(), "(no results)") {
		t.Errorf("empty output = %q", buf.String())
	}

	buf.Reset()
	view := HistoryView{
		{GenerationID: "gen-2", Model: "m", Outcome: "success", CompletedAt: "2026-03-04T10:00:00Z", DocumentLength: 10},
		{GenerationID: "gen-1", Model: "m", Outcome: "failed", CompletedAt: "2026-03-03T10:00:00Z"},
	}
	if err := r.Render(view); err != nil {
		t.Fatalf("Render: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want 3:\n%s", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[0], "completed") || !strings.Contains(lines[1], "gen-2") {
		t.Errorf("table:\n%s", buf.String())
	}
}

func TestRender_Estimate(t *testing.T) {
	var buf bytes.Buffer
	view := NewEstimateView(&estimate.Estimate{EstimatedTokens: 1200, EstimatedCost: 0.0036, MaxSafeOutputTokens: 128000, Method: "tiktoken"})
	if err := NewRendererWithWriter(FormatTable, true, &buf).Render(view); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(buf.String(), "128000") || !strings.Contains(buf.String(), "tiktoken") {
		t.Errorf("output:\n%s", buf.String())
	}
}

func TestFormatBytes(t *testing.T) {
	tests := map[int64]string{
		0:               "0 B",
		1023:            "1023 B",
		1024:            "1.0 KiB",
		2 * 1024 * 1024: "2.0 MiB",
	}
	for n, want := range tests {
		if got := FormatBytes(n); got != want {
			t.Errorf("FormatBytes(%d) = %q, want %q", n, got, want)
		}
	}
}

var _ Table = HistoryView(nil)
var _ Detail = ResultView{}
