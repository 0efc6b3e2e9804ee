package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	lodedb "github.com/justapithecus/lode/lode"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/vellum/adapter"
	"github.com/pithecene-io/vellum/adapter/redis"
	"github.com/pithecene-io/vellum/adapter/webhook"
	"github.com/pithecene-io/vellum/cli/config"
	"github.com/pithecene-io/vellum/lode"
	"github.com/pithecene-io/vellum/metrics"
	"github.com/pithecene-io/vellum/usage"
)

// usageFlags selects the usage store. Shared by generate and usage.
func usageFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "usage-backend",
			Usage: "Usage store: file, sqlite, memory",
			Value: "file",
		},
		&cli.StringFlag{
			Name:  "usage-path",
			Usage: "Usage store path (default: ~/.vellum/usage.msgpack or usage.db)",
		},
	}
}

// storageFlags selects the archive. Shared by generate and history.
func storageFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "storage-backend",
			Usage: "Archive backend: fs, s3 (empty disables archiving)",
		},
		&cli.StringFlag{
			Name:  "storage-path",
			Usage: "Archive path (fs: directory, s3: bucket/prefix)",
		},
		&cli.StringFlag{
			Name:  "storage-dataset",
			Usage: "Archive dataset name",
			Value: lode.DefaultDataset,
		},
		&cli.StringFlag{
			Name:  "storage-region",
			Usage: "AWS region for the s3 backend",
		},
		&cli.StringFlag{
			Name:  "storage-endpoint",
			Usage: "Custom S3 endpoint (R2, MinIO)",
		},
		&cli.BoolFlag{
			Name:  "storage-s3-path-style",
			Usage: "Use path-style S3 addressing",
		},
	}
}

// openUsageStore opens the usage backend named by flags or config.
func openUsageStore(c *cli.Context, cfg *config.Config) (usage.Store, string, error) {
	backend := resolveString(c, "usage-backend", configVal(cfg, func(c *config.Config) string { return c.Usage.Backend }))
	path := resolveString(c, "usage-path", configVal(cfg, func(c *config.Config) string { return c.Usage.Path }))

	switch backend {
	case "memory":
		return usage.NewMemoryStore(), backend, nil
	case "file", "sqlite":
	default:
		return nil, "", fmt.Errorf("unknown usage backend %q (want file, sqlite or memory)", backend)
	}

	if path == "" {
		def, err := usage.DefaultPath()
		if err != nil {
			return nil, "", err
		}
		path = def
		if backend == "sqlite" {
			path = filepath.Join(filepath.Dir(def), "usage.db")
		}
	}
	if backend == "sqlite" {
		store, err := usage.NewSQLiteStore(path)
		if err != nil {
			return nil, "", err
		}
		return store, backend, nil
	}
	return usage.NewFileStore(path), backend, nil
}

// buildPricing applies config overrides to the default rates.
func buildPricing(cfg *config.Config) usage.Pricing {
	p := usage.DefaultPricing()
	if v := configVal(cfg, func(c *config.Config) *float64 { return c.Usage.PricePerMillion }); v != nil {
		p.PerMillion = *v
	}
	if v := configVal(cfg, func(c *config.Config) *float64 { return c.Usage.TestPricePerMillion }); v != nil {
		p.TestModePerMillion = *v
	}
	return p
}

// storageChoice is the resolved archive configuration.
type storageChoice struct {
	backend  string // "", fs, s3
	path     string // fs: directory, s3: bucket/prefix
	dataset  string
	region   string
	endpoint string
	style    bool
	docs     bool
}

func resolveStorage(c *cli.Context, cfg *config.Config) (storageChoice, error) {
	sc := configVal(cfg, func(c *config.Config) config.StorageConfig { return c.Storage })
	choice := storageChoice{
		backend:  resolveString(c, "storage-backend", sc.Backend),
		path:     resolveString(c, "storage-path", sc.Path),
		dataset:  resolveString(c, "storage-dataset", sc.Dataset),
		region:   resolveString(c, "storage-region", sc.Region),
		endpoint: resolveString(c, "storage-endpoint", sc.Endpoint),
		style:    resolveBool(c, "storage-s3-path-style", sc.S3PathStyle),
		docs:     true,
	}
	if sc.StoreDocuments != nil {
		choice.docs = *sc.StoreDocuments
	}
	switch choice.backend {
	case "":
		return choice, nil
	case "fs", "s3":
	default:
		return choice, fmt.Errorf("unknown storage backend %q (want fs or s3)", choice.backend)
	}
	if choice.path == "" {
		return choice, fmt.Errorf("--storage-path is required for backend %q", choice.backend)
	}
	return choice, nil
}

func (s storageChoice) s3Config() lode.S3Config {
	bucket, prefix := lode.ParseS3Path(s.path)
	return lode.S3Config{
		Bucket:       bucket,
		Prefix:       prefix,
		Region:       s.region,
		Endpoint:     s.endpoint,
		UsePathStyle: s.style,
	}
}

// storagePath is the root that archived document paths are relative to.
func (s storageChoice) storagePath() string {
	if s.backend == "s3" {
		return "s3://" + s.path
	}
	return s.path
}

// openArchive returns nil when archiving is disabled.
func openArchive(ctx context.Context, s storageChoice, collector *metrics.Collector) (*lode.Archive, error) {
	cfg := lode.Config{Dataset: s.dataset, StoreDocuments: s.docs}
	switch s.backend {
	case "fs":
		return lode.NewFSArchive(cfg, s.path, collector)
	case "s3":
		return lode.NewS3Archive(ctx, cfg, s.s3Config(), collector)
	default:
		return nil, nil
	}
}

// openReadDataset opens the archive dataset for queries.
func openReadDataset(ctx context.Context, s storageChoice) (lodedb.Dataset, error) {
	switch s.backend {
	case "fs":
		return lode.NewReadDatasetFS(s.dataset, s.path)
	case "s3":
		return lode.NewReadDatasetS3(ctx, s.dataset, s.s3Config())
	default:
		return nil, fmt.Errorf("--storage-backend is required")
	}
}

// openAdapter returns nil when no adapter is configured.
func openAdapter(c *cli.Context, cfg *config.Config) (adapter.Adapter, error) {
	ac := configVal(cfg, func(c *config.Config) config.AdapterConfig { return c.Adapter })
	kind := resolveString(c, "adapter", ac.Type)
	url := resolveString(c, "adapter-url", ac.URL)
	timeout := resolveDuration(c, "adapter-timeout", ac.Timeout)

	switch kind {
	case "":
		return nil, nil
	case "webhook":
		retries := webhook.DefaultRetries
		if ac.Retries != nil {
			retries = *ac.Retries
		}
		a, err := webhook.New(webhook.Config{
			URL:     url,
			Headers: ac.Headers,
			Timeout: timeout,
			Retries: retries,
		})
		if err != nil {
			return nil, err
		}
		return a, nil
	case "redis":
		retries := redis.DefaultRetries
		if ac.Retries != nil {
			retries = *ac.Retries
		}
		a, err := redis.New(redis.Config{
			URL:        url,
			Channel:    resolveString(c, "adapter-channel", ac.Channel),
			HistoryKey: ac.HistoryKey,
			Timeout:    timeout,
			Retries:    retries,
		})
		if err != nil {
			return nil, err
		}
		return a, nil
	default:
		return nil, fmt.Errorf("unknown adapter %q (want webhook or redis)", kind)
	}
}
