package render

import (
	"fmt"
	"strconv"
	"time"

	"github.com/pithecene-io/vellum/estimate"
	"github.com/pithecene-io/vellum/lode"
	"github.com/pithecene-io/vellum/runtime"
	"github.com/pithecene-io/vellum/usage"
)

// ResultView summarizes a finished generation.
type ResultView struct {
	GenerationID   string  `json:"generation_id" yaml:"generation_id"`
	Model          string  `json:"model" yaml:"model"`
	Outcome        string  `json:"outcome" yaml:"outcome"`
	ErrorKind      string  `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
	Message        string  `json:"message,omitempty" yaml:"message,omitempty"`
	SessionID      string  `json:"session_id,omitempty" yaml:"session_id,omitempty"`
	Reconnects     int     `json:"reconnects" yaml:"reconnects"`
	DurationMs     int64   `json:"duration_ms" yaml:"duration_ms"`
	DocumentLength int     `json:"document_length" yaml:"document_length"`
	OutputPath     string  `json:"output_path,omitempty" yaml:"output_path,omitempty"`
	InputTokens    int64   `json:"input_tokens" yaml:"input_tokens"`
	OutputTokens   int64   `json:"output_tokens" yaml:"output_tokens"`
	Cost           float64 `json:"cost" yaml:"cost"`
	Strategy       string  `json:"preview_strategy" yaml:"preview_strategy"`
}

// NewResultView builds a ResultView. outputPath is where the document was
// written, if anywhere.
func NewResultView(res *runtime.GenerationResult, outputPath string) ResultView {
	v := ResultView{
		SessionID:      res.SessionID,
		Reconnects:     res.Reconnects,
		DurationMs:     res.Elapsed.Milliseconds(),
		DocumentLength: len(res.Document),
		OutputPath:     outputPath,
		Strategy:       res.PreviewStats.Strategy.String(),
	}
	if res.Meta != nil {
		v.GenerationID = res.Meta.GenerationID
		v.Model = res.Meta.Model
	}
	if res.Outcome != nil {
		v.Outcome = string(res.Outcome.Status)
		v.ErrorKind = res.Outcome.ErrorKind
		v.Message = res.Outcome.Message
	}
	if res.Record != nil {
		v.InputTokens = res.Record.InputTokens
		v.OutputTokens = res.Record.OutputTokens
		v.Cost = res.Record.Cost
	}
	return v
}

// Fields implements Detail.
func (v ResultView) Fields() []Field {
	fields := []Field{
		{"generation", v.GenerationID},
		{"model", v.Model},
		{"outcome", v.Outcome},
	}
	if v.ErrorKind != "" {
		fields = append(fields, Field{"error", v.ErrorKind + ": " + v.Message})
	}
	if v.SessionID != "" {
		fields = append(fields, Field{"session", v.SessionID})
	}
	fields = append(fields,
		Field{"reconnects", strconv.Itoa(v.Reconnects)},
		Field{"duration", (time.Duration(v.DurationMs) * time.Millisecond).String()},
		Field{"document", FormatBytes(int64(v.DocumentLength))},
		Field{"tokens", fmt.Sprintf("%d in / %d out", v.InputTokens, v.OutputTokens)},
		Field{"cost", FormatCost(v.Cost)},
		Field{"preview", v.Strategy},
	)
	if v.OutputPath != "" {
		fields = append(fields, Field{"output", v.OutputPath})
	}
	return fields
}

// UsageView presents persisted usage totals.
type UsageView struct {
	Runs         int64             `json:"runs" yaml:"runs"`
	InputTokens  int64             `json:"input_tokens" yaml:"input_tokens"`
	OutputTokens int64             `json:"output_tokens" yaml:"output_tokens"`
	TotalTokens  int64             `json:"total_tokens" yaml:"total_tokens"`
	Cost         float64           `json:"cost" yaml:"cost"`
	UpdatedAt    string            `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
	History      []usage.RunRecord `json:"history" yaml:"history"`
}

// NewUsageView builds a UsageView, keeping the last historyLimit runs
// (all when historyLimit <= 0), newest first.
func NewUsageView(t usage.Totals, historyLimit int) UsageView {
	v := UsageView{
		Runs:         t.Runs,
		InputTokens:  t.InputTokens,
		OutputTokens: t.OutputTokens,
		TotalTokens:  t.TotalTokens(),
		Cost:         t.Cost,
		History:      []usage.RunRecord{},
	}
	if !t.UpdatedAt.IsZero() {
		v.UpdatedAt = t.UpdatedAt.UTC().Format(time.RFC3339)
	}
	for i := len(t.History) - 1; i >= 0; i-- {
		if historyLimit > 0 && len(v.History) >= historyLimit {
			break
		}
		v.History = append(v.History, t.History[i])
	}
	return v
}

// Fields implements Detail.
func (v UsageView) Fields() []Field {
	fields := []Field{
		{"runs", strconv.FormatInt(v.Runs, 10)},
		{"input tokens", strconv.FormatInt(v.InputTokens, 10)},
		{"output tokens", strconv.FormatInt(v.OutputTokens, 10)},
		{"total tokens", strconv.FormatInt(v.TotalTokens, 10)},
		{"cost", FormatCost(v.Cost)},
	}
	if v.UpdatedAt != "" {
		fields = append(fields, Field{"updated", v.UpdatedAt})
	}
	for _, r := range v.History {
		fields = append(fields, Field{
			Label: r.Timestamp.UTC().Format("2006-01-02 15:04"),
			Value: fmt.Sprintf("%s  %d tokens  %s", r.Model, r.InputTokens+r.OutputTokens, FormatCost(r.Cost)),
		})
	}
	return fields
}

// EstimateView presents a token estimate.
type EstimateView struct {
	EstimatedTokens     int64   `json:"estimated_tokens" yaml:"estimated_tokens"`
	EstimatedCost       float64 `json:"estimated_cost" yaml:"estimated_cost"`
	MaxSafeOutputTokens int64   `json:"max_safe_output_tokens" yaml:"max_safe_output_tokens"`
	Method              string  `json:"method" yaml:"method"`
}

// NewEstimateView builds an EstimateView.
func NewEstimateView(e *estimate.Estimate) EstimateView {
	return EstimateView{
		EstimatedTokens:     e.EstimatedTokens,
		EstimatedCost:       e.EstimatedCost,
		MaxSafeOutputTokens: e.MaxSafeOutputTokens,
		Method:              e.Method,
	}
}

// Fields implements Detail.
func (v EstimateView) Fields() []Field {
	return []Field{
		{"estimated tokens", strconv.FormatInt(v.EstimatedTokens, 10)},
		{"estimated cost", FormatCost(v.EstimatedCost)},
		{"max safe output", strconv.FormatInt(v.MaxSafeOutputTokens, 10)},
		{"method", v.Method},
	}
}

// HistoryView lists archived generations.
type HistoryView []lode.GenerationRecord

// Columns implements Table.
func (HistoryView) Columns() []string {
	return []string{"completed", "generation", "model", "outcome", "reconnects", "size", "cost"}
}

// Rows implements Table.
func (v HistoryView) Rows() [][]string {
	rows := make([][]string, 0, len(v))
	for _, r := range v {
		rows = append(rows, []string{
			r.CompletedAt,
			r.GenerationID,
			r.Model,
			r.Outcome,
			strconv.Itoa(r.Reconnects),
			FormatBytes(int64(r.DocumentLength)),
			FormatCost(r.Cost),
		})
	}
	return rows
}

// FormatCost formats a USD amount.
func FormatCost(c float64) string {
	return fmt.Sprintf("$%.6f", c)
}

// FormatBytes formats a byte count with a binary unit.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
