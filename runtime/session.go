package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pithecene-io/vellum/log"
	"github.com/pithecene-io/vellum/metrics"
	"github.com/pithecene-io/vellum/preview"
	"github.com/pithecene-io/vellum/sse"
	"github.com/pithecene-io/vellum/transport"
	"github.com/pithecene-io/vellum/types"
	"github.com/pithecene-io/vellum/usage"
)

// Controller defaults.
const (
	DefaultKeepaliveTimeout   = 30 * time.Second
	DefaultLivenessInterval   = time.Second
	DefaultReconnectDelay     = 2 * time.Second
	DefaultMaxReconnects      = 5
	DefaultMaxTotalReconnects = 50
	DefaultReassemblyGrace    = 5 * time.Second
)

// drainTimeout bounds the wait for the reader goroutine after a forced cancel.
const drainTimeout = 2 * time.Second

// ErrLivenessTimeout is the cause of a reconnect forced by keepalive silence.
var ErrLivenessTimeout = errors.New("no events within keepalive timeout")

// Observer receives session progress. Callbacks run on the session's
// event loop and must not block.
type Observer interface {
	OnStateChange(state types.SessionState)
	OnThinking(text string)
}

type noopObserver struct{}

func (noopObserver) OnStateChange(types.SessionState) {}
func (noopObserver) OnThinking(string)                {}

// SessionConfig configures a SessionController.
// Start from DefaultSessionConfig: MaxReconnects and ReassemblyGrace are
// used as given, so their zero values mean "never reconnect" and "fail at
// chunk_end".
type SessionConfig struct {
	// Transport opens connection attempts. Required.
	Transport transport.Transport
	// Surface receives preview updates. If nil, updates are discarded.
	Surface preview.Surface
	// Aggregator records usage for completed generations. If nil, usage
	// is reported in the result but not accumulated.
	Aggregator *usage.Aggregator
	// Logger is the base logger. If nil, a logger is created per generation.
	Logger *log.Logger
	// Collector records metrics. All Collector methods are nil-safe.
	Collector *metrics.Collector
	// Observer receives state changes and thinking text. Optional.
	Observer Observer

	// KeepaliveTimeout is the liveness window.
	KeepaliveTimeout time.Duration
	// LivenessInterval is the liveness check period.
	LivenessInterval time.Duration
	// ReconnectDelay is the fixed wait before each reconnect.
	ReconnectDelay time.Duration
	// MaxReconnects bounds consecutive reconnects. The counter resets
	// whenever a connection reaches streaming.
	MaxReconnects int
	// MaxTotalReconnects bounds reconnects over the whole generation.
	// Zero means unbounded.
	MaxTotalReconnects int
	// LargeContentThreshold switches the preview to incremental rendering.
	LargeContentThreshold int
	// ReassemblyGrace is how long an incomplete chunked transfer may wait
	// for late fragments after chunk_end.
	ReassemblyGrace time.Duration
	// ResumePolicy reconciles content resent after a reconnect.
	ResumePolicy ResumePolicy
}

// DefaultSessionConfig returns a config with the controller defaults.
func DefaultSessionConfig(t transport.Transport) SessionConfig {
	return SessionConfig{
		Transport:             t,
		KeepaliveTimeout:      DefaultKeepaliveTimeout,
		LivenessInterval:      DefaultLivenessInterval,
		ReconnectDelay:        DefaultReconnectDelay,
		MaxReconnects:         DefaultMaxReconnects,
		MaxTotalReconnects:    DefaultMaxTotalReconnects,
		LargeContentThreshold: preview.DefaultLargeThreshold,
		ReassemblyGrace:       DefaultReassemblyGrace,
		ResumePolicy:          ResumeDedupe,
	}
}

// GenerationResult is the result of one generation.
type GenerationResult struct {
	// Meta identifies the generation.
	Meta *types.GenerationMeta
	// Outcome is the final classification.
	Outcome *types.GenerationOutcome
	// Document is the accumulated document. On failure it holds whatever
	// was received.
	Document string
	// Usage is the endpoint's usage report, if any.
	Usage *types.Usage
	// Record is the usage record added to the aggregator, if one was added.
	Record *usage.RunRecord
	// SessionID is the server session id, if one was assigned.
	SessionID string
	// Reconnects is the total number of reconnects issued.
	Reconnects int
	// Elapsed is the wall time of the generation.
	Elapsed time.Duration
	// EventCount is the number of decoded events handled.
	EventCount int64
	// ChunkStats holds chunk reassembly statistics.
	ChunkStats ChunkStats
	// PreviewStats holds renderer statistics.
	PreviewStats preview.Stats
}

// SessionController runs generations against one transport. It holds no
// per-generation state, so one controller can run generations back to back.
type SessionController struct {
	cfg    SessionConfig
	tracer trace.Tracer
}

// NewSessionController validates cfg and creates a controller.
func NewSessionController(cfg SessionConfig) (*SessionController, error) {
	if cfg.Transport == nil {
		return nil, errors.New("session controller requires a transport")
	}
	if cfg.KeepaliveTimeout <= 0 {
		cfg.KeepaliveTimeout = DefaultKeepaliveTimeout
	}
	if cfg.LivenessInterval <= 0 {
		cfg.LivenessInterval = DefaultLivenessInterval
	}
	if cfg.ReconnectDelay < 0 {
		return nil, fmt.Errorf("reconnect delay must be >= 0, got %s", cfg.ReconnectDelay)
	}
	if cfg.MaxReconnects < 0 {
		return nil, fmt.Errorf("max reconnects must be >= 0, got %d", cfg.MaxReconnects)
	}
	if cfg.ReassemblyGrace < 0 {
		return nil, fmt.Errorf("reassembly grace must be >= 0, got %s", cfg.ReassemblyGrace)
	}
	if cfg.Surface == nil {
		cfg.Surface = preview.Discard
	}
	if cfg.Observer == nil {
		cfg.Observer = noopObserver{}
	}
	if cfg.ResumePolicy == "" {
		cfg.ResumePolicy = ResumeDedupe
	}
	return &SessionController{
		cfg:    cfg,
		tracer: otel.Tracer("github.com/pithecene-io/vellum/runtime"),
	}, nil
}

// NewGenerationMeta creates metadata with a fresh generation id.
func NewGenerationMeta(model string) *types.GenerationMeta {
	return &types.GenerationMeta{
		GenerationID: uuid.NewString(),
		Model:        model,
		StartedAt:    time.Now().UTC(),
	}
}

// Execute runs one generation to completion or failure.
// The result is always non-nil. The error is nil on success and a
// *GenerationError otherwise.
func (c *SessionController) Execute(ctx context.Context, req *types.GenerationRequest, meta *types.GenerationMeta) (*GenerationResult, error) {
	if meta == nil {
		meta = NewGenerationMeta(req.Params.Model)
	}

	ctx, span := c.tracer.Start(ctx, "vellum.generation", trace.WithAttributes(
		attribute.String("vellum.generation_id", meta.GenerationID),
		attribute.String("vellum.model", meta.Model),
	))
	defer span.End()

	logger := c.cfg.Logger
	if logger == nil {
		logger = log.NewLogger(meta)
	}

	s := newSession(c.cfg, req, meta, logger)
	c.cfg.Collector.IncSessionStarted()

	var err error
	if verr := req.Validate(); verr != nil {
		err = &GenerationError{Kind: ErrorFatalRequest, Err: verr}
	} else {
		logger.Info("starting generation", map[string]any{
			"model":     req.Params.Model,
			"test_mode": req.TestMode,
		})
		err = s.run(ctx)
	}

	result := s.result()
	result.Outcome = DetermineOutcome(err)

	span.SetAttributes(
		attribute.String("vellum.session_id", result.SessionID),
		attribute.Int("vellum.reconnects", result.Reconnects),
		attribute.Int("vellum.document_length", len(result.Document)),
		attribute.String("vellum.outcome", string(result.Outcome.Status)),
	)

	switch result.Outcome.Status {
	case types.OutcomeSuccess:
		c.cfg.Collector.IncSessionCompleted()
		logger.Info("generation completed", map[string]any{
			"session_id": result.SessionID,
			"length":     len(result.Document),
			"reconnects": result.Reconnects,
			"elapsed":    result.Elapsed.String(),
		})
		return result, nil
	case types.OutcomeRejected:
		c.cfg.Collector.IncSessionRejected()
	case types.OutcomeCanceled:
		c.cfg.Collector.IncSessionCanceled()
	default:
		c.cfg.Collector.IncSessionFailed()
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	logger.Error("generation failed", map[string]any{
		"error":      err.Error(),
		"kind":       result.Outcome.ErrorKind,
		"session_id": result.SessionID,
		"reconnects": result.Reconnects,
	})
	return result, err
}

// session is the mutable state of one generation. It is owned by the
// goroutine running Execute.
type session struct {
	cfg       SessionConfig
	req       *types.GenerationRequest
	meta      *types.GenerationMeta
	logger    *log.Logger
	collector *metrics.Collector
	observer  Observer

	doc       *Document
	assembler *ChunkAssembler
	renderer  *preview.Renderer
	engine    *IngestionEngine

	state            types.SessionState
	reconnects       int
	totalReconnects  int
	completed        bool
	reconnectPending bool
	lastLiveness     time.Time
	record           *usage.RunRecord
	start            time.Time
}

func newSession(cfg SessionConfig, req *types.GenerationRequest, meta *types.GenerationMeta, logger *log.Logger) *session {
	doc := NewDocument(cfg.ResumePolicy)
	assembler := NewChunkAssembler()
	renderer := preview.NewRenderer(doc, cfg.Surface, cfg.LargeContentThreshold, logger)
	engine := NewIngestionEngine(doc, assembler, renderer, logger, cfg.Collector)
	engine.OnThinking(cfg.Observer.OnThinking)

	return &session{
		cfg:       cfg,
		req:       req,
		meta:      meta,
		logger:    logger,
		collector: cfg.Collector,
		observer:  cfg.Observer,
		doc:       doc,
		assembler: assembler,
		renderer:  renderer,
		engine:    engine,
		state:     types.StateIdle,
		start:     time.Now(),
	}
}

func (s *session) setState(state types.SessionState) {
	if s.state == state {
		return
	}
	s.logger.Debug("session state", map[string]any{
		"from": string(s.state),
		"to":   string(state),
	})
	s.state = state
	s.observer.OnStateChange(state)
}

// run drives the state machine until completion or a terminal failure.
func (s *session) run(ctx context.Context) error {
	s.setState(types.StateConnecting)
	for {
		err := s.attempt(ctx)
		if err == nil {
			return nil
		}

		var genErr *GenerationError
		if !errors.As(err, &genErr) || !genErr.Kind.Recoverable() {
			return s.fail(err)
		}
		if err := s.scheduleReconnect(ctx, genErr); err != nil {
			return s.fail(err)
		}
	}
}

func (s *session) fail(err error) error {
	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		genErr = &GenerationError{Kind: ErrorTransportFailure, Err: err}
	}
	if genErr.SessionID == "" {
		genErr.SessionID = s.engine.SessionID()
	}
	genErr.Reconnects = s.totalReconnects
	s.setState(types.StateFailed)
	return genErr
}

// attempt runs one connection. It returns nil once the generation completed.
func (s *session) attempt(ctx context.Context) error {
	connCtx, cancelConn := context.WithCancel(ctx)
	defer cancelConn()

	s.reconnectPending = false
	s.collector.IncConnectAttempt()

	resp, err := s.cfg.Transport.Open(connCtx, s.req.Outbound(s.engine.Resume()))
	if err != nil {
		return s.classifyConnectError(ctx, err)
	}

	if resp.Document != nil {
		s.engine.ApplyDocument(resp.Document.HTML, resp.Document.Usage, resp.Document.SessionID)
		return s.complete(ctx)
	}
	if resp.Body == nil {
		return &GenerationError{Kind: ErrorTransportFailure, Err: errors.New("response carried neither a stream nor a document")}
	}

	s.setState(types.StateStreaming)
	s.reconnects = 0
	return s.consume(ctx, connCtx, cancelConn, resp.Body)
}

func (s *session) classifyConnectError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return &GenerationError{Kind: ErrorCanceled, Err: ctx.Err()}
	}

	if transport.IsTransientTimeout(err) {
		s.collector.IncTransientTimeout()
		if id := transport.SessionIDFromError(err); id != "" && s.engine.SessionID() == "" {
			s.engine.AdoptSessionID(id)
			s.logger.Info("session id recovered from timeout response", map[string]any{
				"session_id": id,
			})
		}
		return &GenerationError{Kind: ErrorTransientTimeout, SessionID: s.engine.SessionID(), Err: err}
	}

	var statusErr *transport.StatusError
	var upErr *transport.UpstreamError
	if errors.As(err, &statusErr) || errors.As(err, &upErr) {
		return &GenerationError{Kind: ErrorUpstream, SessionID: s.engine.SessionID(), Err: err}
	}

	s.collector.IncTransportFailure()
	return &GenerationError{Kind: ErrorTransportFailure, SessionID: s.engine.SessionID(), Err: err}
}

// consume reads one stream until it completes, fails or goes silent.
func (s *session) consume(ctx, connCtx context.Context, cancelConn context.CancelFunc, body io.ReadCloser) error {
	defer body.Close()

	results := sse.Stream(connCtx, body)
	ticker := time.NewTicker(s.cfg.LivenessInterval)
	defer ticker.Stop()

	var grace *time.Timer
	var graceC <-chan time.Time
	stopGrace := func() {
		if grace != nil {
			grace.Stop()
			grace, graceC = nil, nil
		}
	}
	defer stopGrace()

	s.lastLiveness = time.Now()

	for {
		select {
		case <-ctx.Done():
			return &GenerationError{Kind: ErrorCanceled, Err: ctx.Err()}

		case res, ok := <-results:
			if !ok {
				if ctx.Err() != nil {
					return &GenerationError{Kind: ErrorCanceled, Err: ctx.Err()}
				}
				if s.engine.CompletionRecorded() {
					return s.complete(ctx)
				}
				s.collector.IncTransportFailure()
				return &GenerationError{
					Kind:      ErrorTransportFailure,
					SessionID: s.engine.SessionID(),
					Err:       errors.New("stream ended before completion"),
				}
			}

			if res.Err != nil {
				var decErr *sse.DecodeError
				if errors.As(res.Err, &decErr) {
					s.collector.IncDecodeFault()
					s.logger.Warn("discarding undecodable line", map[string]any{
						"error": res.Err.Error(),
					})
					s.engine.TrackDiscarded(decErr.SessionID, decErr.ChunkID)
					continue
				}
				if ctx.Err() != nil {
					return &GenerationError{Kind: ErrorCanceled, Err: ctx.Err()}
				}
				s.collector.IncTransportFailure()
				return &GenerationError{
					Kind:      ErrorTransportFailure,
					SessionID: s.engine.SessionID(),
					Err:       res.Err,
				}
			}

			s.lastLiveness = time.Now()
			sig, err := s.engine.Handle(res.Event)
			switch sig {
			case SignalCompleted:
				return s.complete(ctx)
			case SignalFailed:
				if kind, _ := KindOf(err); kind == ErrorTransientTimeout {
					s.collector.IncTransientTimeout()
				}
				return err
			case SignalReassemblyPending:
				if s.cfg.ReassemblyGrace == 0 {
					return &GenerationError{Kind: ErrorReassemblyFault, SessionID: s.engine.SessionID(), Err: err}
				}
				if grace == nil {
					grace = time.NewTimer(s.cfg.ReassemblyGrace)
					graceC = grace.C
					s.logger.Warn("waiting for late chunk fragments", map[string]any{
						"grace": s.cfg.ReassemblyGrace.String(),
					})
				}
			case SignalReassembled:
				stopGrace()
			}

		case <-graceC:
			return s.reassemblyFault()

		case <-ticker.C:
			if s.completed || s.reconnectPending {
				continue
			}
			if silent := time.Since(s.lastLiveness); silent > s.cfg.KeepaliveTimeout {
				s.reconnectPending = true
				s.collector.IncKeepaliveTimeout()
				s.logger.Warn("keepalive timeout, canceling stream", map[string]any{
					"silent":  silent.String(),
					"timeout": s.cfg.KeepaliveTimeout.String(),
				})
				cancelConn()
				_ = body.Close()
				drain(results, drainTimeout)
				return &GenerationError{
					Kind:      ErrorKeepaliveTimeout,
					SessionID: s.engine.SessionID(),
					Err:       ErrLivenessTimeout,
				}
			}
		}
	}
}

// drain discards results until the reader goroutine exits or timeout elapses.
func drain(results <-chan sse.Result, timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case _, ok := <-results:
			if !ok {
				return
			}
		case <-timer.C:
			return
		}
	}
}

func (s *session) reassemblyFault() error {
	var err error
	if fault := s.engine.LastReassemblyFault(); fault != nil {
		err = fault
	} else {
		err = s.assembler.End()
	}
	if err == nil {
		err = errors.New("chunked transfer incomplete")
	}
	return &GenerationError{Kind: ErrorReassemblyFault, SessionID: s.engine.SessionID(), Err: err}
}

func (s *session) scheduleReconnect(ctx context.Context, cause *GenerationError) error {
	if s.reconnects >= s.cfg.MaxReconnects ||
		(s.cfg.MaxTotalReconnects > 0 && s.totalReconnects >= s.cfg.MaxTotalReconnects) {
		return &GenerationError{
			Kind:      ErrorExhaustedRetries,
			SessionID: s.engine.SessionID(),
			Err:       fmt.Errorf("gave up after %d reconnect attempts: %w", s.totalReconnects, cause),
		}
	}

	s.reconnects++
	s.totalReconnects++
	s.reconnectPending = true
	s.collector.IncReconnect()
	s.setState(types.StateReconnecting)
	s.logger.Warn("reconnecting", map[string]any{
		"cause":      cause.Error(),
		"kind":       cause.Kind.String(),
		"attempt":    s.reconnects,
		"session_id": s.engine.SessionID(),
		"delay":      s.cfg.ReconnectDelay.String(),
	})

	timer := time.NewTimer(s.cfg.ReconnectDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return &GenerationError{Kind: ErrorCanceled, Err: ctx.Err()}
	case <-timer.C:
		return nil
	}
}

// complete finishes the generation. It runs at most once.
func (s *session) complete(ctx context.Context) error {
	if s.completed {
		return nil
	}
	if s.assembler.Pending() {
		return s.reassemblyFault()
	}

	s.completed = true
	s.setState(types.StateCompleted)

	if err := s.renderer.Flush(); err != nil {
		s.collector.IncRenderFault()
		s.logger.Warn("final preview update failed", map[string]any{
			"error": err.Error(),
		})
	}

	if s.cfg.Aggregator != nil {
		var u types.Usage
		if reported := s.engine.Usage(); reported != nil {
			u = *reported
		}
		rec, err := s.cfg.Aggregator.Record(context.WithoutCancel(ctx), u, usage.RunInfo{
			GenerationID: s.meta.GenerationID,
			Model:        s.meta.Model,
			TestMode:     s.req.TestMode,
		})
		if err != nil {
			s.collector.IncUsagePersistFailure()
			s.logger.Error("failed to record usage", map[string]any{
				"error": err.Error(),
			})
		} else {
			s.record = &rec
		}
	}
	return nil
}

func (s *session) result() *GenerationResult {
	return &GenerationResult{
		Meta:         s.meta,
		Document:     s.doc.String(),
		Usage:        s.engine.Usage(),
		Record:       s.record,
		SessionID:    s.engine.SessionID(),
		Reconnects:   s.totalReconnects,
		Elapsed:      time.Since(s.start),
		EventCount:   s.engine.EventCount(),
		ChunkStats:   s.assembler.Stats(),
		PreviewStats: s.renderer.Stats(),
	}
}
