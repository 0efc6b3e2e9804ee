package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/vellum/adapter"
	"github.com/pithecene-io/vellum/cli/config"
	"github.com/pithecene-io/vellum/cli/render"
	"github.com/pithecene-io/vellum/cli/tui"
	"github.com/pithecene-io/vellum/iox"
	"github.com/pithecene-io/vellum/lode"
	"github.com/pithecene-io/vellum/log"
	"github.com/pithecene-io/vellum/metrics"
	"github.com/pithecene-io/vellum/preview"
	"github.com/pithecene-io/vellum/runtime"
	"github.com/pithecene-io/vellum/telemetry"
	"github.com/pithecene-io/vellum/transport"
	"github.com/pithecene-io/vellum/types"
	"github.com/pithecene-io/vellum/usage"
)

// postRunTimeout bounds archiving and publishing after a generation ends.
const postRunTimeout = 30 * time.Second

// GenerateCommand returns the generate command.
func GenerateCommand() *cli.Command {
	defaults := types.DefaultModelParams()
	flags := []cli.Flag{
		ConfigFlag,
		LogLevelFlag,
		&cli.StringFlag{
			Name:    "endpoint",
			Usage:   "Generation endpoint URL",
			EnvVars: []string{"VELLUM_ENDPOINT"},
		},
		&cli.StringFlag{
			Name:    "credential",
			Usage:   "API credential forwarded to the endpoint",
			EnvVars: []string{"GEMINI_API_KEY"},
		},
		&cli.StringFlag{
			Name:  "format-prompt",
			Usage: "Formatting instructions",
		},
		&cli.StringFlag{
			Name:  "model",
			Usage: "Model identifier",
			Value: defaults.Model,
		},
		&cli.Float64Flag{
			Name:  "temperature",
			Usage: "Sampling temperature in [0, 1]",
			Value: defaults.Temperature,
		},
		&cli.IntFlag{
			Name:  "max-tokens",
			Usage: "Maximum output tokens",
			Value: defaults.MaxTokens,
		},
		&cli.IntFlag{
			Name:  "thinking-budget",
			Usage: "Thinking token budget",
			Value: defaults.ThinkingBudget,
		},
		&cli.BoolFlag{
			Name:  "test-mode",
			Usage: "Route the request to the endpoint's test mode",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Write the finished document to this file",
		},
		&cli.StringFlag{
			Name:  "preview-file",
			Usage: "Keep a live preview of the document in this file",
		},
		&cli.IntFlag{
			Name:  "large-threshold",
			Usage: "Document size in bytes above which the preview appends incrementally",
			Value: preview.DefaultLargeThreshold,
		},
		&cli.DurationFlag{
			Name:  "keepalive-timeout",
			Usage: "Reconnect when no event arrives within this window",
			Value: runtime.DefaultKeepaliveTimeout,
		},
		&cli.DurationFlag{
			Name:  "reconnect-delay",
			Usage: "Wait before each reconnect",
			Value: runtime.DefaultReconnectDelay,
		},
		&cli.IntFlag{
			Name:  "max-reconnects",
			Usage: "Consecutive reconnects allowed before giving up",
			Value: runtime.DefaultMaxReconnects,
		},
		&cli.StringFlag{
			Name:  "resume-policy",
			Usage: "How resent content is reconciled after a reconnect: dedupe, trust",
			Value: string(runtime.ResumeDedupe),
		},
		&cli.StringFlag{
			Name:  "report",
			Usage: "Write a JSON generation report to this path (- for stderr)",
		},
		&cli.StringFlag{
			Name:  "traces",
			Usage: "Export trace spans: stderr or a file path",
		},
		&cli.StringFlag{
			Name:  "adapter",
			Usage: "Completion notification adapter: webhook, redis",
		},
		&cli.StringFlag{
			Name:  "adapter-url",
			Usage: "Adapter endpoint (webhook URL or redis:// URL)",
		},
		&cli.StringFlag{
			Name:  "adapter-channel",
			Usage: "Redis pub/sub channel",
		},
		&cli.DurationFlag{
			Name:  "adapter-timeout",
			Usage: "Per-publish timeout",
		},
	}
	flags = append(flags, inputFlags()...)
	flags = append(flags, usageFlags()...)
	flags = append(flags, storageFlags()...)
	flags = append(flags, OutputFlags()...)

	return &cli.Command{
		Name:   "generate",
		Usage:  "Generate an HTML document from text or a file",
		Flags:  flags,
		Action: generateAction,
	}
}

// generation holds everything generateAction wires together.
type generation struct {
	req        *types.GenerationRequest
	meta       *types.GenerationMeta
	logger     *log.Logger
	collector  *metrics.Collector
	controller *runtime.SessionController
	surfaces   preview.MultiSurface
	sessionCfg runtime.SessionConfig
	storage    storageChoice
	archive    *lode.Archive
	adapter    adapter.Adapter
	aggregator *usage.Aggregator
}

func generateAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), runtime.ExitCodeError)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), runtime.ExitCodeError)
	}

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	g, err := buildGeneration(ctx, c, cfg)
	if err != nil {
		return cli.Exit(err.Error(), runtime.ExitCodeError)
	}
	defer g.close()

	if traces := resolveString(c, "traces", configVal(cfg, func(c *config.Config) string { return c.Telemetry.Traces })); traces != "" {
		shutdown, err := startTracing(c, traces, g.logger)
		if err != nil {
			return cli.Exit(err.Error(), runtime.ExitCodeError)
		}
		defer func() { _ = shutdown(context.WithoutCancel(ctx)) }()
	}

	var (
		result  *runtime.GenerationResult
		execErr error
	)
	if c.Bool("tui") {
		execErr = tui.RunPreview(ctx, "vellum · "+g.meta.Model, func(ctx context.Context, bridge *tui.Bridge) (string, error) {
			sc := g.sessionCfg
			sc.Surface = append(preview.MultiSurface{bridge}, g.surfaces...)
			sc.Observer = bridge
			controller, err := runtime.NewSessionController(sc)
			if err != nil {
				return "", err
			}
			result, err = controller.Execute(ctx, g.req, g.meta)
			return summarize(result), err
		})
	} else {
		result, execErr = g.controller.Execute(ctx, g.req, g.meta)
	}
	if result == nil {
		return cli.Exit(execErr.Error(), runtime.ExitCodeError)
	}

	outputPath := c.String("output")
	if outputPath != "" && result.Outcome.Status == types.OutcomeSuccess {
		if err := os.WriteFile(outputPath, []byte(result.Document), 0o644); err != nil {
			return cli.Exit(fmt.Sprintf("write output: %v", err), runtime.ExitCodeError)
		}
	} else {
		outputPath = ""
	}

	postCtx, postCancel := context.WithTimeout(context.WithoutCancel(ctx), postRunTimeout)
	defer postCancel()
	g.finish(postCtx, result)

	exitCode := runtime.ExitCode(execErr)
	if path := c.String("report"); path != "" {
		report := runtime.BuildGenerationReport(result, g.collector.Snapshot(), exitCode)
		if err := runtime.WriteGenerationReport(report, path); err != nil {
			g.logger.Warn("failed to write report", map[string]any{"error": err.Error()})
		}
	}

	if err := r.Render(render.NewResultView(result, outputPath)); err != nil {
		return err
	}
	if exitCode == runtime.ExitCodeSuccess {
		return nil
	}
	return cli.Exit("", exitCode)
}

// buildGeneration resolves flags and config into a ready controller.
func buildGeneration(ctx context.Context, c *cli.Context, cfg *config.Config) (*generation, error) {
	mc := configVal(cfg, func(c *config.Config) config.ModelConfig { return c.Model })
	sc := configVal(cfg, func(c *config.Config) config.SessionConfig { return c.Session })

	p, err := readPayload(c)
	if err != nil {
		return nil, err
	}

	req := &types.GenerationRequest{
		Credential:   resolveString(c, "credential", configVal(cfg, func(c *config.Config) string { return c.Credential })),
		Content:      p.content,
		File:         p.file,
		FormatPrompt: resolveString(c, "format-prompt", mc.FormatPrompt),
		TestMode:     resolveBool(c, "test-mode", mc.TestMode),
		Params: types.ModelParams{
			Model:          resolveString(c, "model", mc.Name),
			Temperature:    resolveFloatPtr(c, "temperature", mc.Temperature),
			MaxTokens:      resolveInt(c, "max-tokens", mc.MaxTokens),
			ThinkingBudget: resolveInt(c, "thinking-budget", mc.ThinkingBudget),
		},
	}

	endpoint := resolveString(c, "endpoint", configVal(cfg, func(c *config.Config) string { return c.Endpoint }))
	if endpoint == "" {
		return nil, errors.New("--endpoint is required")
	}

	policy, err := runtime.ParseResumePolicy(resolveString(c, "resume-policy", sc.ResumePolicy))
	if err != nil {
		return nil, err
	}

	storage, err := resolveStorage(c, cfg)
	if err != nil {
		return nil, err
	}

	meta := runtime.NewGenerationMeta(req.Params.Model)
	logger := log.NewLogger(meta).WithOutput(errWriter(c))
	if c.Bool("tui") {
		logger = logger.WithOutput(io.Discard)
	}
	logger.SetLevel(c.String("log-level"))

	storageBackend := storage.backend
	if storageBackend == "" {
		storageBackend = "none"
	}
	collector := metrics.NewCollector(req.Params.Model, "http", storageBackend, meta.GenerationID)

	g := &generation{
		req:       req,
		meta:      meta,
		logger:    logger,
		collector: collector,
		storage:   storage,
	}

	var opts []transport.Option
	if resolveString(c, "traces", configVal(cfg, func(c *config.Config) string { return c.Telemetry.Traces })) != "" {
		opts = append(opts, transport.WithTracing())
	}
	t, err := transport.NewHTTPTransport(endpoint, opts...)
	if err != nil {
		return nil, err
	}

	store, _, err := openUsageStore(c, cfg)
	if err != nil {
		return nil, err
	}
	g.aggregator, err = usage.NewAggregator(ctx, store, buildPricing(cfg))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	if path := resolveString(c, "preview-file", configVal(cfg, func(c *config.Config) string { return c.Preview.File })); path != "" {
		fs, err := preview.NewFileSurface(path)
		if err != nil {
			g.close()
			return nil, err
		}
		g.surfaces = append(g.surfaces, fs)
	}

	if g.archive, err = openArchive(ctx, storage, collector); err != nil {
		g.close()
		return nil, err
	}
	if g.adapter, err = openAdapter(c, cfg); err != nil {
		g.close()
		return nil, err
	}

	scfg := runtime.DefaultSessionConfig(t)
	scfg.Aggregator = g.aggregator
	scfg.Logger = logger
	scfg.Collector = collector
	scfg.ResumePolicy = policy
	scfg.Surface = g.surfaces
	scfg.LargeContentThreshold = resolveInt(c, "large-threshold", configVal(cfg, func(c *config.Config) int { return c.Preview.LargeThreshold }))
	scfg.KeepaliveTimeout = resolveDuration(c, "keepalive-timeout", sc.KeepaliveTimeout)
	scfg.ReconnectDelay = resolveDuration(c, "reconnect-delay", sc.ReconnectDelay)
	scfg.MaxReconnects = resolveIntPtr(c, "max-reconnects", sc.MaxReconnects)
	if sc.LivenessInterval.Duration > 0 {
		scfg.LivenessInterval = sc.LivenessInterval.Duration
	}
	if sc.MaxTotalReconnects != nil {
		scfg.MaxTotalReconnects = *sc.MaxTotalReconnects
	}
	if sc.ReassemblyGrace != nil {
		scfg.ReassemblyGrace = sc.ReassemblyGrace.Duration
	}
	g.sessionCfg = scfg

	if g.controller, err = runtime.NewSessionController(scfg); err != nil {
		g.close()
		return nil, err
	}
	return g, nil
}

// finish archives the result and publishes the completion event. Failures
// are logged and never change the exit code.
func (g *generation) finish(ctx context.Context, result *runtime.GenerationResult) {
	completedAt := time.Now()
	rec := lode.NewGenerationRecord(result, completedAt)

	if g.archive != nil {
		written, err := g.archive.WriteGeneration(ctx, rec, result.Document)
		if err != nil {
			g.logger.Warn("failed to archive generation", map[string]any{"error": err.Error()})
		} else {
			rec = written
		}
		if err := g.archive.WriteMetrics(ctx, g.collector.Snapshot(), completedAt); err != nil {
			g.logger.Warn("failed to archive metrics", map[string]any{"error": err.Error()})
		}
	}

	if g.adapter != nil {
		event := adapter.NewGenerationCompletedEvent(rec, g.storage.storagePath())
		if err := g.adapter.Publish(ctx, event); err != nil {
			g.logger.Warn("failed to publish completion event", map[string]any{"error": err.Error()})
		} else {
			g.logger.Debug("published completion event", map[string]any{"generation_id": event.GenerationID})
		}
	}
}

func (g *generation) close() {
	if g.adapter != nil {
		iox.DiscardClose(g.adapter)
	}
	if g.aggregator != nil {
		iox.DiscardClose(g.aggregator)
	}
	g.logger.Sync()
}

// startTracing installs the span exporter named by dest.
func startTracing(c *cli.Context, dest string, logger *log.Logger) (telemetry.Shutdown, error) {
	if dest == "stderr" {
		return telemetry.InitTracer(errWriter(c), logger)
	}
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	shutdown, err := telemetry.InitTracer(f, logger)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return func(ctx context.Context) error {
		err := shutdown(ctx)
		return errors.Join(err, f.Close())
	}, nil
}

// summarize is the one-line status shown when the preview finishes.
func summarize(res *runtime.GenerationResult) string {
	if res == nil || res.Outcome == nil {
		return ""
	}
	if res.Outcome.Status != types.OutcomeSuccess {
		return res.Outcome.Message
	}
	return fmt.Sprintf("%s in %s, %d reconnects",
		render.FormatBytes(int64(len(res.Document))),
		res.Elapsed.Round(time.Millisecond),
		res.Reconnects)
}

func errWriter(c *cli.Context) io.Writer {
	if c.App.ErrWriter != nil {
		return c.App.ErrWriter
	}
	return os.Stderr
}
