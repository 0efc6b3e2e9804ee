package runtime

import (
	"errors"
	"fmt"

	"github.com/pithecene-io/vellum/log"
	"github.com/pithecene-io/vellum/metrics"
	"github.com/pithecene-io/vellum/preview"
	"github.com/pithecene-io/vellum/transport"
	"github.com/pithecene-io/vellum/types"
)

// Signal tells the session controller what an event did to the session.
type Signal int

const (
	// SignalContinue means keep reading.
	SignalContinue Signal = iota
	// SignalReassemblyPending means a chunked transfer ended with missing
	// fragments. The controller starts the reassembly grace period.
	SignalReassemblyPending
	// SignalReassembled means a chunked transfer completed.
	SignalReassembled
	// SignalCompleted means a terminal event completed the generation.
	SignalCompleted
	// SignalFailed means the event failed the connection or the generation.
	// Handle returns a *GenerationError alongside it.
	SignalFailed
)

func (s Signal) String() string {
	switch s {
	case SignalContinue:
		return "continue"
	case SignalReassemblyPending:
		return "reassembly_pending"
	case SignalReassembled:
		return "reassembled"
	case SignalCompleted:
		return "completed"
	case SignalFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IngestionEngine applies decoded events to the session's document.
//   - Events are handled strictly in receive order
//   - First terminal event wins; later terminals are ignored
//   - Nothing mutates the document after a terminal event
//   - Decode and render faults are logged and never end the stream
//
// The engine outlives individual connections: the document, the chunk
// buffer and the resume state carry over a reconnect.
type IngestionEngine struct {
	doc       *Document
	assembler *ChunkAssembler
	renderer  *preview.Renderer
	logger    *log.Logger
	collector *metrics.Collector

	onThinking func(string)

	sessionID          string
	lastChunkID        string
	completionRecorded bool
	terminalSeen       bool
	terminalType       types.EventType
	usage              *types.Usage
	lastFault          *ReassemblyError
	events             int64
}

// NewIngestionEngine creates an engine. renderer and collector may be nil.
func NewIngestionEngine(
	doc *Document,
	assembler *ChunkAssembler,
	renderer *preview.Renderer,
	logger *log.Logger,
	collector *metrics.Collector,
) *IngestionEngine {
	if logger == nil {
		logger = log.Nop()
	}
	return &IngestionEngine{
		doc:       doc,
		assembler: assembler,
		renderer:  renderer,
		logger:    logger,
		collector: collector,
	}
}

// OnThinking registers a callback for thinking-update progress text.
func (e *IngestionEngine) OnThinking(fn func(string)) {
	e.onThinking = fn
}

// Handle applies one event.
func (e *IngestionEngine) Handle(ev *types.Event) (Signal, error) {
	e.events++
	e.collector.IncEvent(string(ev.Type))

	if e.terminalSeen {
		if ev.Type.IsTerminal() {
			e.logger.Warn("ignoring duplicate terminal event", map[string]any{
				"type":     string(ev.Type),
				"terminal": string(e.terminalType),
			})
		} else {
			e.logger.Debug("ignoring event after terminal", map[string]any{
				"type": string(ev.Type),
			})
		}
		return SignalContinue, nil
	}

	e.track(ev)

	switch ev.Type {
	case types.EventContentDelta:
		e.applyDelta(ev)
		return SignalContinue, nil

	case types.EventChunkBegin:
		if err := e.assembler.Initialize(ev.TotalChunks, ev.TotalLength); err != nil {
			e.logger.Warn("ignoring chunk_begin", map[string]any{
				"error":        err.Error(),
				"total_chunks": ev.TotalChunks,
				"total_length": ev.TotalLength,
			})
			if !errors.Is(err, ErrTransferInProgress) {
				e.collector.IncDecodeFault()
			}
		}
		return SignalContinue, nil

	case types.EventChunkFragment:
		return e.applyFragment(ev)

	case types.EventChunkEnd:
		err := e.assembler.End()
		if err == nil {
			return SignalContinue, nil
		}
		var reErr *ReassemblyError
		if errors.As(err, &reErr) {
			e.lastFault = reErr
		}
		e.collector.IncReassemblyFault()
		e.logger.Error("chunked transfer incomplete at chunk_end", map[string]any{
			"error": err.Error(),
		})
		return SignalReassemblyPending, err

	case types.EventContentComplete:
		if ev.HTML != nil {
			e.replace(*ev.HTML)
			e.completionRecorded = true
		}
		return SignalContinue, nil

	case types.EventMessageComplete:
		if ev.HTML != nil && *ev.HTML != "" {
			e.replace(*ev.HTML)
		}
		e.markTerminal(ev.Type)
		return SignalCompleted, nil

	case types.EventStreamEnd:
		e.markTerminal(ev.Type)
		return SignalCompleted, nil

	case types.EventError:
		return e.applyError(ev)

	case types.EventThinkingUpdate:
		if e.onThinking != nil && ev.Text != "" {
			e.onThinking(ev.Text)
		}
		return SignalContinue, nil

	case types.EventKeepalive:
		return SignalContinue, nil

	default:
		e.logger.Debug("ignoring unhandled event type", map[string]any{
			"type": string(ev.Type),
		})
		return SignalContinue, nil
	}
}

// ApplyDocument applies a complete non-streamed document.
func (e *IngestionEngine) ApplyDocument(html string, usage *types.Usage, sessionID string) {
	if e.terminalSeen {
		return
	}
	if sessionID != "" {
		e.AdoptSessionID(sessionID)
	}
	if usage != nil {
		u := *usage
		e.usage = &u
	}
	e.replace(html)
	e.completionRecorded = true
	e.markTerminal(types.EventMessageComplete)
}

// track records resume state and usage carried by any event.
func (e *IngestionEngine) track(ev *types.Event) {
	e.trackIDs(ev.SessionID, ev.ChunkID)
	if ev.Usage != nil {
		u := *ev.Usage
		e.usage = &u
	}
}

func (e *IngestionEngine) trackIDs(sessionID, chunkID string) {
	if sessionID != "" && sessionID != e.sessionID {
		e.AdoptSessionID(sessionID)
	}
	if chunkID != "" {
		e.lastChunkID = chunkID
	}
}

// TrackDiscarded keeps the resume ids of a record that could not be
// decoded into an event.
func (e *IngestionEngine) TrackDiscarded(sessionID, chunkID string) {
	if e.terminalSeen {
		return
	}
	e.trackIDs(sessionID, chunkID)
}

func (e *IngestionEngine) applyDelta(ev *types.Event) {
	if ev.Text == "" {
		return
	}
	if !e.doc.Append(ev.Text, ev.ChunkID) {
		e.collector.IncDuplicateDelta()
		e.logger.Debug("dropping duplicate delta", map[string]any{
			"chunk_id": ev.ChunkID,
		})
		return
	}
	e.render()
}

func (e *IngestionEngine) applyFragment(ev *types.Event) (Signal, error) {
	done, err := e.assembler.AddFragment(ev.Index, ev.Text)
	if err != nil {
		e.collector.IncDecodeFault()
		e.logger.Warn("discarding chunk fragment", map[string]any{
			"error": err.Error(),
			"index": ev.Index,
		})
		return SignalContinue, nil
	}
	if done == nil {
		return SignalContinue, nil
	}

	if !done.LengthMatches {
		e.logger.Warn("reassembled document length differs from declared length", map[string]any{
			"length": len(done.Document),
		})
	}
	e.lastFault = nil
	e.replace(done.Document)
	e.completionRecorded = true
	e.logger.Debug("chunked transfer reassembled", map[string]any{
		"length": len(done.Document),
	})
	return SignalReassembled, nil
}

func (e *IngestionEngine) applyError(ev *types.Event) (Signal, error) {
	msg := ev.Text
	if msg == "" {
		msg = "unspecified upstream error"
	}
	if transport.HasTimeoutMarker(msg) {
		return SignalFailed, &GenerationError{
			Kind:      ErrorTransientTimeout,
			SessionID: e.sessionID,
			Err:       fmt.Errorf("upstream timeout: %s", msg),
		}
	}
	e.markTerminal(ev.Type)
	return SignalFailed, &GenerationError{
		Kind:      ErrorUpstream,
		SessionID: e.sessionID,
		Err:       &transport.UpstreamError{Message: msg, SessionID: e.sessionID},
	}
}

func (e *IngestionEngine) replace(content string) {
	e.doc.Replace(content)
	e.render()
}

func (e *IngestionEngine) render() {
	if e.renderer == nil {
		return
	}
	if err := e.renderer.Apply(e.doc.Len()); err != nil {
		e.collector.IncRenderFault()
		e.logger.Warn("preview update failed", map[string]any{
			"error": err.Error(),
		})
	}
}

func (e *IngestionEngine) markTerminal(t types.EventType) {
	e.terminalSeen = true
	e.terminalType = t
}

// AdoptSessionID records the server session id.
func (e *IngestionEngine) AdoptSessionID(id string) {
	if e.sessionID != "" && e.sessionID != id {
		e.logger.Warn("server changed session id", map[string]any{
			"previous": e.sessionID,
			"current":  id,
		})
	}
	e.sessionID = id
}

// SessionID returns the server session id, or "" before one is assigned.
func (e *IngestionEngine) SessionID() string { return e.sessionID }

// LastChunkID returns the last acknowledged fragment id.
func (e *IngestionEngine) LastChunkID() string { return e.lastChunkID }

// Resume returns the resume state for a reconnect, or nil when no
// session id is known yet.
func (e *IngestionEngine) Resume() *types.ResumeState {
	if e.sessionID == "" {
		return nil
	}
	return &types.ResumeState{
		SessionID:      e.sessionID,
		LastChunkID:    e.lastChunkID,
		ReceivedLength: e.doc.Len(),
	}
}

// CompletionRecorded reports whether a complete document was received
// (content_complete with html, a reassembled transfer or a JSON document).
func (e *IngestionEngine) CompletionRecorded() bool { return e.completionRecorded }

// TerminalSeen reports whether a terminal event was applied.
func (e *IngestionEngine) TerminalSeen() bool { return e.terminalSeen }

// Usage returns the latest usage snapshot, or nil.
func (e *IngestionEngine) Usage() *types.Usage { return e.usage }

// LastReassemblyFault returns the unresolved reassembly fault, if any.
func (e *IngestionEngine) LastReassemblyFault() *ReassemblyError { return e.lastFault }

// EventCount returns the number of events handled.
func (e *IngestionEngine) EventCount() int64 { return e.events }
