package lode

import (
	"strings"
	"time"

	"github.com/pithecene-io/vellum/metrics"
	"github.com/pithecene-io/vellum/runtime"
	"github.com/pithecene-io/vellum/types"
)

// Record discriminator values. record_kind is also a partition key.
const (
	RecordKindGeneration = "generation"
	RecordKindMetrics    = "metrics"
)

// DeriveDay returns the UTC day partition (YYYY-MM-DD) for t.
func DeriveDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// partitionValue makes s safe for use as a Hive path segment.
func partitionValue(s string) string {
	if s == "" {
		return "unknown"
	}
	r := strings.NewReplacer("/", "_", "=", "_", " ", "_")
	return r.Replace(s)
}

// GenerationRecord is the storage format for one finished generation.
// The document itself is stored as a separate object at DocumentPath.
type GenerationRecord struct {
	RecordKind string `json:"record_kind"`

	GenerationID string `json:"generation_id"`
	SessionID    string `json:"session_id,omitempty"`
	StartedAt    string `json:"started_at"`
	CompletedAt  string `json:"completed_at"`

	Outcome    string `json:"outcome"`
	ErrorKind  string `json:"error_kind,omitempty"`
	Message    string `json:"message,omitempty"`
	Reconnects int    `json:"reconnects"`
	DurationMs int64  `json:"duration_ms"`

	DocumentLength int    `json:"document_length"`
	DocumentPath   string `json:"document_path,omitempty"`

	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	Cost         float64 `json:"cost"`
	TestMode     bool    `json:"test_mode"`

	ClientVersion string `json:"client_version"`

	// Partition keys
	Model string `json:"model"`
	Day   string `json:"day"`
}

// NewGenerationRecord builds the archive record for a finished generation.
func NewGenerationRecord(result *runtime.GenerationResult, completedAt time.Time) GenerationRecord {
	rec := GenerationRecord{
		RecordKind:     RecordKindGeneration,
		SessionID:      result.SessionID,
		CompletedAt:    completedAt.UTC().Format(time.RFC3339Nano),
		Reconnects:     result.Reconnects,
		DurationMs:     result.Elapsed.Milliseconds(),
		DocumentLength: len(result.Document),
		ClientVersion:  types.Version,
		Day:            DeriveDay(completedAt),
	}
	if m := result.Meta; m != nil {
		rec.GenerationID = m.GenerationID
		rec.Model = m.Model
		rec.StartedAt = m.StartedAt.UTC().Format(time.RFC3339Nano)
	}
	if o := result.Outcome; o != nil {
		rec.Outcome = string(o.Status)
		rec.ErrorKind = o.ErrorKind
		rec.Message = o.Message
	}
	if r := result.Record; r != nil {
		rec.InputTokens = r.InputTokens
		rec.OutputTokens = r.OutputTokens
		rec.Cost = r.Cost
		rec.TestMode = r.TestMode
	} else if u := result.Usage; u != nil {
		rec.InputTokens = u.InputTokens
		rec.OutputTokens = u.OutputTokens
	}
	return rec
}

func (r GenerationRecord) toMap() map[string]any {
	m := map[string]any{
		"record_kind":     RecordKindGeneration,
		"generation_id":   r.GenerationID,
		"started_at":      r.StartedAt,
		"completed_at":    r.CompletedAt,
		"outcome":         r.Outcome,
		"reconnects":      r.Reconnects,
		"duration_ms":     r.DurationMs,
		"document_length": r.DocumentLength,
		"input_tokens":    r.InputTokens,
		"output_tokens":   r.OutputTokens,
		"cost":            r.Cost,
		"test_mode":       r.TestMode,
		"client_version":  r.ClientVersion,
		"model":           partitionValue(r.Model),
		"day":             r.Day,
	}
	if r.SessionID != "" {
		m["session_id"] = r.SessionID
	}
	if r.ErrorKind != "" {
		m["error_kind"] = r.ErrorKind
	}
	if r.Message != "" {
		m["message"] = r.Message
	}
	if r.DocumentPath != "" {
		m["document_path"] = r.DocumentPath
	}
	return m
}

// MetricsRecord is the storage format for a generation's metrics snapshot.
type MetricsRecord struct {
	RecordKind   string `json:"record_kind"`
	GenerationID string `json:"generation_id"`
	CompletedAt  string `json:"completed_at"`

	SessionsStarted   int64 `json:"sessions_started"`
	SessionsCompleted int64 `json:"sessions_completed"`
	SessionsFailed    int64 `json:"sessions_failed"`

	ConnectAttempts   int64 `json:"connect_attempts"`
	Reconnects        int64 `json:"reconnects"`
	TransientTimeouts int64 `json:"transient_timeouts"`
	TransportFailures int64 `json:"transport_failures"`
	KeepaliveTimeouts int64 `json:"keepalive_timeouts"`

	EventsReceived   int64            `json:"events_received"`
	EventsByType     map[string]int64 `json:"events_by_type"`
	DecodeFaults     int64            `json:"decode_faults"`
	ReassemblyFaults int64            `json:"reassembly_faults"`
	DuplicateDeltas  int64            `json:"duplicate_deltas"`
	RenderFaults     int64            `json:"render_faults"`

	Transport      string `json:"transport"`
	StorageBackend string `json:"storage_backend"`

	Model string `json:"model"`
	Day   string `json:"day"`
}

func toMetricsRecordMap(snap metrics.Snapshot, completedAt time.Time) map[string]any {
	byType := make(map[string]any, len(snap.EventsByType))
	for k, v := range snap.EventsByType {
		byType[k] = v
	}
	return map[string]any{
		"record_kind":        RecordKindMetrics,
		"generation_id":      snap.GenerationID,
		"completed_at":       completedAt.UTC().Format(time.RFC3339Nano),
		"sessions_started":   snap.SessionsStarted,
		"sessions_completed": snap.SessionsCompleted,
		"sessions_failed":    snap.SessionsFailed,
		"connect_attempts":   snap.ConnectAttempts,
		"reconnects":         snap.Reconnects,
		"transient_timeouts": snap.TransientTimeouts,
		"transport_failures": snap.TransportFailures,
		"keepalive_timeouts": snap.KeepaliveTimeouts,
		"events_received":    snap.EventsReceived,
		"events_by_type":     byType,
		"decode_faults":      snap.DecodeFaults,
		"reassembly_faults":  snap.ReassemblyFaults,
		"duplicate_deltas":   snap.DuplicateDeltas,
		"render_faults":      snap.RenderFaults,
		"transport":          snap.Transport,
		"storage_backend":    snap.StorageBackend,
		"model":              partitionValue(snap.Model),
		"day":                DeriveDay(completedAt),
	}
}
