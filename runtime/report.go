package runtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/pithecene-io/vellum/metrics"
	"github.com/pithecene-io/vellum/types"
)

// GenerationReport is the structured JSON report written by --report.
type GenerationReport struct {
	GenerationID string              `json:"generation_id"`
	SessionID    string              `json:"session_id,omitempty"`
	Model        string              `json:"model"`
	Outcome      types.OutcomeStatus `json:"outcome"`
	ErrorKind    string              `json:"error_kind,omitempty"`
	Message      string              `json:"message"`
	ExitCode     int                 `json:"exit_code"`
	DurationMs   int64               `json:"duration_ms"`
	EventCount   int64               `json:"event_count"`
	Reconnects   int                 `json:"reconnects"`
	Length       int                 `json:"document_length"`

	Usage   *ReportUsage      `json:"usage,omitempty"`
	Chunks  *ReportChunks     `json:"chunks"`
	Preview *ReportPreview    `json:"preview"`
	Metrics *metrics.Snapshot `json:"metrics"`
}

// ReportUsage holds the accounting of the generation.
type ReportUsage struct {
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	Cost         float64 `json:"cost"`
	Recorded     bool    `json:"recorded"`
}

// ReportChunks holds chunk reassembly stats in the report.
type ReportChunks struct {
	Transfers   int64 `json:"transfers"`
	Completed   int64 `json:"completed"`
	Fragments   int64 `json:"fragments"`
	Retransmits int64 `json:"retransmits"`
	Faults      int64 `json:"faults"`
	Bytes       int64 `json:"bytes"`
}

// ReportPreview holds renderer stats in the report.
type ReportPreview struct {
	Strategy      string `json:"strategy"`
	Updates       int64  `json:"updates"`
	Skipped       int64  `json:"skipped"`
	NodesAppended int64  `json:"nodes_appended"`
	ParseFaults   int64  `json:"parse_faults"`
}

// BuildGenerationReport composes a report from a result and metrics snapshot.
// The exitCode is the process exit code that will be returned to the caller.
func BuildGenerationReport(result *GenerationResult, snap metrics.Snapshot, exitCode int) *GenerationReport {
	report := &GenerationReport{
		SessionID:  result.SessionID,
		ExitCode:   exitCode,
		DurationMs: result.Elapsed.Milliseconds(),
		EventCount: result.EventCount,
		Reconnects: result.Reconnects,
		Length:     len(result.Document),
		Chunks: &ReportChunks{
			Transfers:   result.ChunkStats.Transfers,
			Completed:   result.ChunkStats.Completed,
			Fragments:   result.ChunkStats.Fragments,
			Retransmits: result.ChunkStats.Retransmits,
			Faults:      result.ChunkStats.Faults,
			Bytes:       result.ChunkStats.Bytes,
		},
		Preview: &ReportPreview{
			Strategy:      result.PreviewStats.Strategy.String(),
			Updates:       result.PreviewStats.Updates,
			Skipped:       result.PreviewStats.Skipped,
			NodesAppended: result.PreviewStats.NodesAppended,
			ParseFaults:   result.PreviewStats.ParseFaults,
		},
		Metrics: &snap,
	}

	if result.Meta != nil {
		report.GenerationID = result.Meta.GenerationID
		report.Model = result.Meta.Model
	}
	if result.Outcome != nil {
		report.Outcome = result.Outcome.Status
		report.ErrorKind = result.Outcome.ErrorKind
		report.Message = result.Outcome.Message
	}

	switch {
	case result.Record != nil:
		report.Usage = &ReportUsage{
			InputTokens:  result.Record.InputTokens,
			OutputTokens: result.Record.OutputTokens,
			Cost:         result.Record.Cost,
			Recorded:     true,
		}
	case result.Usage != nil:
		report.Usage = &ReportUsage{
			InputTokens:  result.Usage.InputTokens,
			OutputTokens: result.Usage.OutputTokens,
		}
		if result.Usage.TotalCost != nil {
			report.Usage.Cost = *result.Usage.TotalCost
		}
	}

	return report
}

// WriteGenerationReport writes the report as JSON to path.
// If path is "-", writes to stderr.
func WriteGenerationReport(report *GenerationReport, path string) error {
	if path == "" {
		return errors.New("report path must not be empty")
	}
	if path == "-" {
		if err := writeReportTo(report, os.Stderr); err != nil {
			return fmt.Errorf("failed to write report to stderr: %w", err)
		}
		return nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to write report to %s: %w", path, err)
	}
	if err := writeReportTo(report, f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write report to %s: %w", path, err)
	}
	return f.Close()
}

func writeReportTo(report *GenerationReport, w io.Writer) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
