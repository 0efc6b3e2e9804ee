// Package metrics provides per-generation metrics collection.
//
// The Collector accumulates counters during a single generation. It is a
// leaf package with no internal dependencies: event types are recorded as
// plain strings.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Session lifecycle
	SessionsStarted   int64
	SessionsCompleted int64
	SessionsFailed    int64
	SessionsRejected  int64
	SessionsCanceled  int64

	// Connection
	ConnectAttempts   int64
	Reconnects        int64
	TransientTimeouts int64
	TransportFailures int64
	KeepaliveTimeouts int64

	// Ingestion
	EventsReceived   int64
	EventsByType     map[string]int64
	DecodeFaults     int64
	ReassemblyFaults int64
	DuplicateDeltas  int64
	RenderFaults     int64

	// Storage
	ArchiveWriteSuccess int64
	ArchiveWriteFailure int64
	UsagePersistFailure int64

	// Dimensions (informational, set at construction)
	Model          string
	Transport      string
	StorageBackend string
	GenerationID   string
}

// Collector accumulates metrics during a single generation.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe,
// so components accept a nil *Collector when metrics are not wanted.
type Collector struct {
	mu sync.Mutex

	sessionsStarted   int64
	sessionsCompleted int64
	sessionsFailed    int64
	sessionsRejected  int64
	sessionsCanceled  int64

	connectAttempts   int64
	reconnects        int64
	transientTimeouts int64
	transportFailures int64
	keepaliveTimeouts int64

	eventsReceived   int64
	eventsByType     map[string]int64
	decodeFaults     int64
	reassemblyFaults int64
	duplicateDeltas  int64
	renderFaults     int64

	archiveWriteSuccess int64
	archiveWriteFailure int64
	usagePersistFailure int64

	model          string
	transport      string
	storageBackend string
	generationID   string
}

// NewCollector creates a Collector with dimension labels.
// generationID is optional.
func NewCollector(model, transport, storageBackend, generationID string) *Collector {
	return &Collector{
		eventsByType:   make(map[string]int64),
		model:          model,
		transport:      transport,
		storageBackend: storageBackend,
		generationID:   generationID,
	}
}

// inc applies fn under the lock. Nil-receiver safe.
func (c *Collector) inc(fn func()) {
	if c == nil {
		return
	}
	c.mu.Lock()
	fn()
	c.mu.Unlock()
}

// --- Session lifecycle ---

// IncSessionStarted records a generation start.
func (c *Collector) IncSessionStarted() { c.inc(func() { c.sessionsStarted++ }) }

// IncSessionCompleted records a completed generation.
func (c *Collector) IncSessionCompleted() { c.inc(func() { c.sessionsCompleted++ }) }

// IncSessionFailed records a generation that failed after being sent.
func (c *Collector) IncSessionFailed() { c.inc(func() { c.sessionsFailed++ }) }

// IncSessionRejected records a request rejected before sending.
func (c *Collector) IncSessionRejected() { c.inc(func() { c.sessionsRejected++ }) }

// IncSessionCanceled records a generation canceled by the caller.
func (c *Collector) IncSessionCanceled() { c.inc(func() { c.sessionsCanceled++ }) }

// --- Connection ---

// IncConnectAttempt records one outbound request.
func (c *Collector) IncConnectAttempt() { c.inc(func() { c.connectAttempts++ }) }

// IncReconnect records a scheduled reconnect.
func (c *Collector) IncReconnect() { c.inc(func() { c.reconnects++ }) }

// IncTransientTimeout records an upstream execution timeout.
func (c *Collector) IncTransientTimeout() { c.inc(func() { c.transientTimeouts++ }) }

// IncTransportFailure records a network-level failure.
func (c *Collector) IncTransportFailure() { c.inc(func() { c.transportFailures++ }) }

// IncKeepaliveTimeout records a liveness failure and its forced cancellation.
func (c *Collector) IncKeepaliveTimeout() { c.inc(func() { c.keepaliveTimeouts++ }) }

// --- Ingestion ---

// IncEvent records a decoded event of the given type.
func (c *Collector) IncEvent(eventType string) {
	c.inc(func() {
		c.eventsReceived++
		c.eventsByType[eventType]++
	})
}

// IncDecodeFault records a discarded line.
func (c *Collector) IncDecodeFault() { c.inc(func() { c.decodeFaults++ }) }

// IncReassemblyFault records an incomplete chunk set.
func (c *Collector) IncReassemblyFault() { c.inc(func() { c.reassemblyFaults++ }) }

// IncDuplicateDelta records a delta dropped by resume deduplication.
func (c *Collector) IncDuplicateDelta() { c.inc(func() { c.duplicateDeltas++ }) }

// IncRenderFault records a preview update that could not be applied.
func (c *Collector) IncRenderFault() { c.inc(func() { c.renderFaults++ }) }

// --- Storage ---
// Archive counters are per-call, not per-record.

// IncArchiveWriteSuccess records a successful archive write.
func (c *Collector) IncArchiveWriteSuccess() { c.inc(func() { c.archiveWriteSuccess++ }) }

// IncArchiveWriteFailure records a failed archive write.
func (c *Collector) IncArchiveWriteFailure() { c.inc(func() { c.archiveWriteFailure++ }) }

// IncUsagePersistFailure records usage totals that could not be persisted.
func (c *Collector) IncUsagePersistFailure() { c.inc(func() { c.usagePersistFailure++ }) }

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
// The returned Snapshot is safe to read concurrently; the Collector can
// continue to be mutated independently.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	byType := make(map[string]int64, len(c.eventsByType))
	for k, v := range c.eventsByType {
		byType[k] = v
	}

	return Snapshot{
		SessionsStarted:   c.sessionsStarted,
		SessionsCompleted: c.sessionsCompleted,
		SessionsFailed:    c.sessionsFailed,
		SessionsRejected:  c.sessionsRejected,
		SessionsCanceled:  c.sessionsCanceled,

		ConnectAttempts:   c.connectAttempts,
		Reconnects:        c.reconnects,
		TransientTimeouts: c.transientTimeouts,
		TransportFailures: c.transportFailures,
		KeepaliveTimeouts: c.keepaliveTimeouts,

		EventsReceived:   c.eventsReceived,
		EventsByType:     byType,
		DecodeFaults:     c.decodeFaults,
		ReassemblyFaults: c.reassemblyFaults,
		DuplicateDeltas:  c.duplicateDeltas,
		RenderFaults:     c.renderFaults,

		ArchiveWriteSuccess: c.archiveWriteSuccess,
		ArchiveWriteFailure: c.archiveWriteFailure,
		UsagePersistFailure: c.usagePersistFailure,

		Model:          c.model,
		Transport:      c.transport,
		StorageBackend: c.storageBackend,
		GenerationID:   c.generationID,
	}
}
