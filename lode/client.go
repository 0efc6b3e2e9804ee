// Package lode archives finished generations to a Lode dataset.
//
// Records are JSONL, Hive-partitioned by model/day/record_kind. Documents
// are stored as separate objects under documents/<day>/<generation_id>.html
// and referenced from the generation record.
package lode

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/vellum/metrics"
)

// Config configures an Archive.
type Config struct {
	// Dataset is the Lode dataset id. Empty uses DefaultDataset.
	Dataset string
	// StoreDocuments controls whether document bodies are written.
	StoreDocuments bool
}

// Archive writes generation and metrics records to Lode.
type Archive struct {
	dataset   lode.Dataset
	config    Config
	factory   lode.StoreFactory
	collector *metrics.Collector

	storeOnce sync.Once
	store     lode.Store
	storeErr  error
}

// NewFSArchive creates an Archive with filesystem storage rooted at root.
func NewFSArchive(cfg Config, root string, collector *metrics.Collector) (*Archive, error) {
	return NewArchive(cfg, lode.NewFSFactory(root), collector)
}

// NewArchive creates an Archive with a custom store factory.
// Use lode.NewMemoryFactory() for testing. collector may be nil.
func NewArchive(cfg Config, factory lode.StoreFactory, collector *metrics.Collector) (*Archive, error) {
	if cfg.Dataset == "" {
		cfg.Dataset = DefaultDataset
	}
	ds, err := lode.NewDataset(
		lode.DatasetID(cfg.Dataset),
		factory,
		lode.WithHiveLayout(partitionKeys...),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
	if err != nil {
		return nil, wrap("init", cfg.Dataset, err)
	}
	return &Archive{
		dataset:   ds,
		config:    cfg,
		factory:   factory,
		collector: collector,
	}, nil
}

// Dataset returns the underlying dataset, for queries.
func (a *Archive) Dataset() lode.Dataset {
	return a.dataset
}

// WriteGeneration archives rec. When document storage is enabled and
// document is non-empty, the document is written first and rec.DocumentPath
// points at it. Returns the record as written.
func (a *Archive) WriteGeneration(ctx context.Context, rec GenerationRecord, document string) (GenerationRecord, error) {
	if a.config.StoreDocuments && document != "" {
		path, err := a.PutDocument(ctx, rec.Day, rec.GenerationID, document)
		if err != nil {
			return rec, err
		}
		rec.DocumentPath = path
	}

	if _, err := a.dataset.Write(ctx, []any{rec.toMap()}, lode.Metadata{}); err != nil {
		a.collector.IncArchiveWriteFailure()
		return rec, wrap("write", a.config.Dataset, err)
	}
	a.collector.IncArchiveWriteSuccess()
	return rec, nil
}

// PutDocument stores a document body and returns its object path.
func (a *Archive) PutDocument(ctx context.Context, day, generationID, document string) (string, error) {
	if generationID == "" {
		return "", fmt.Errorf("archive document: missing generation id")
	}
	store, err := a.objectStore()
	if err != nil {
		a.collector.IncArchiveWriteFailure()
		return "", err
	}
	path := DocumentPath(a.config.Dataset, day, generationID)
	if err := store.Put(ctx, path, strings.NewReader(document)); err != nil {
		a.collector.IncArchiveWriteFailure()
		return "", wrap("put", path, err)
	}
	a.collector.IncArchiveWriteSuccess()
	return path, nil
}

// WriteMetrics archives a metrics snapshot.
func (a *Archive) WriteMetrics(ctx context.Context, snap metrics.Snapshot, completedAt time.Time) error {
	record := toMetricsRecordMap(snap, completedAt)
	if _, err := a.dataset.Write(ctx, []any{record}, lode.Metadata{}); err != nil {
		a.collector.IncArchiveWriteFailure()
		return wrap("write", a.config.Dataset, err)
	}
	a.collector.IncArchiveWriteSuccess()
	return nil
}

// ReadDocument loads a document stored by PutDocument.
func (a *Archive) ReadDocument(ctx context.Context, path string) (string, error) {
	store, err := a.objectStore()
	if err != nil {
		return "", err
	}
	rc, err := store.Get(ctx, path)
	if err != nil {
		return "", wrap("read", path, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return "", wrap("read", path, err)
	}
	return string(data), nil
}

func (a *Archive) objectStore() (lode.Store, error) {
	a.storeOnce.Do(func() {
		a.store, a.storeErr = a.factory()
		if a.storeErr != nil {
			a.storeErr = wrap("init", a.config.Dataset, a.storeErr)
		}
	})
	return a.store, a.storeErr
}

// DocumentPath returns the object path for a generation's document.
func DocumentPath(dataset, day, generationID string) string {
	if dataset == "" {
		dataset = DefaultDataset
	}
	return fmt.Sprintf("%s/documents/day=%s/%s.html", dataset, day, partitionValue(generationID))
}
