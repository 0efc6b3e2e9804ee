package lode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/justapithecus/lode/lode"
)

// ErrNoMetricsFound is returned when no metrics records exist in the dataset.
var ErrNoMetricsFound = errors.New("no metrics records found")

// QueryGenerations returns archived generation records, latest first.
// model filters by model when non-empty. limit <= 0 means no limit.
func QueryGenerations(ctx context.Context, ds lode.Dataset, model string, limit int) ([]GenerationRecord, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, wrap("read", string(ds.ID()), err)
	}

	var out []GenerationRecord
	for i := len(snapshots) - 1; i >= 0; i-- {
		snap := snapshots[i]
		if !snapshotMatchesFilter(snap, "record_kind", RecordKindGeneration) {
			continue
		}
		if model != "" && !snapshotMatchesFilter(snap, "model", partitionValue(model)) {
			continue
		}

		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, wrap("read", fmt.Sprintf("%s/snapshot/%s", ds.ID(), snap.ID), err)
		}
		for _, item := range data {
			record, ok := item.(map[string]any)
			if !ok || record["record_kind"] != RecordKindGeneration {
				continue
			}
			if model != "" && toString(record["model"]) != partitionValue(model) {
				continue
			}
			rec, err := decodeRecord[GenerationRecord](record)
			if err != nil {
				return nil, err
			}
			out = append(out, rec)
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
	}
	return out, nil
}

// QueryLatestMetrics finds the most recent metrics record, optionally
// filtered by generation id.
func QueryLatestMetrics(ctx context.Context, ds lode.Dataset, generationID string) (MetricsRecord, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return MetricsRecord{}, wrap("read", string(ds.ID()), err)
	}

	for i := len(snapshots) - 1; i >= 0; i-- {
		snap := snapshots[i]
		if !snapshotMatchesFilter(snap, "record_kind", RecordKindMetrics) {
			continue
		}
		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return MetricsRecord{}, wrap("read", fmt.Sprintf("%s/snapshot/%s", ds.ID(), snap.ID), err)
		}
		for _, item := range data {
			record, ok := item.(map[string]any)
			if !ok || record["record_kind"] != RecordKindMetrics {
				continue
			}
			if generationID != "" && toString(record["generation_id"]) != generationID {
				continue
			}
			return decodeRecord[MetricsRecord](record)
		}
	}
	return MetricsRecord{}, ErrNoMetricsFound
}

// decodeRecord converts a decoded JSONL map into a typed record.
func decodeRecord[T any](record map[string]any) (T, error) {
	var out T
	data, err := json.Marshal(record)
	if err != nil {
		return out, fmt.Errorf("encode archived record: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode archived record: %w", err)
	}
	return out, nil
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
