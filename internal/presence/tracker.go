package presence

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/larlab/bellcore/internal/lab"
)

// Heartbeat is a single presence announcement from a lab's device.
type Heartbeat struct {
	Lab lab.ID
	At  time.Time
}

// offlinePayload is the tombstone a device leaves on its status topic,
// either as a broker-delivered LWT or a final publish on graceful
// shutdown.
const offlinePayload = "offline"

// IsHeartbeat reports whether a status payload announces presence.
// Devices publish "online" heartbeats; the retained "offline" tombstone
// is a withdrawal of presence and must not refresh last-seen — a relay
// replaying retained messages on (re)connect would otherwise mark a dead
// lab online for a full threshold window.
func IsHeartbeat(payload []byte) bool {
	return strings.TrimSpace(string(payload)) != offlinePayload
}

// feedBuffer bounds the heartbeat queue between the MQTT handler and the
// tracker's run loop. Heartbeats are periodic and idempotent, so dropping
// under burst is harmless: the next one arrives within 10 s.
const feedBuffer = 256

// Logger defines the logging interface used by the Tracker.
type Logger interface {
	Debug(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}

// Tracker records the last-seen instant per lab and answers automatic
// online/offline queries.
//
// Records are never deleted; a lab that has never been seen is never
// auto-online. Heartbeats flow through a bounded channel drained by
// Run(), decoupling MQTT I/O from state mutation.
//
// All public methods are thread-safe.
type Tracker struct {
	registry *lab.Registry

	mu       sync.RWMutex
	lastSeen map[lab.ID]time.Time

	feed   chan Heartbeat
	logger Logger
}

// NewTracker creates a presence tracker for the given registry.
func NewTracker(registry *lab.Registry) *Tracker {
	return &Tracker{
		registry: registry,
		lastSeen: make(map[lab.ID]time.Time),
		feed:     make(chan Heartbeat, feedBuffer),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the tracker.
func (t *Tracker) SetLogger(logger Logger) {
	t.logger = logger
}

// Ingest validates a raw topic segment and queues a heartbeat.
//
// Segments that fail normalisation or are not registered are silently
// discarded (debug log only): unknown devices chattering on the status
// wildcard are expected, not an error. Returns whether the heartbeat
// was accepted into the queue.
func (t *Tracker) Ingest(rawLab string, at time.Time) bool {
	id, err := t.registry.Resolve(rawLab)
	if err != nil {
		t.logger.Debug("discarding heartbeat for unknown lab", "segment", rawLab)
		return false
	}

	select {
	case t.feed <- Heartbeat{Lab: id, At: at}:
		return true
	default:
		// Queue full: drop. The device repeats every 10 s.
		t.logger.Debug("heartbeat queue full, dropping", "lab", string(id))
		return false
	}
}

// Run drains the heartbeat queue until the context is cancelled.
// It must be started once, at startup, before heartbeats arrive.
func (t *Tracker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case hb := <-t.feed:
			t.RecordHeartbeat(hb.Lab, hb.At)
		}
	}
}

// RecordHeartbeat stores the last-seen instant for a lab.
// Later heartbeats never move the instant backwards (out-of-order
// delivery at QoS 1 is possible).
func (t *Tracker) RecordHeartbeat(id lab.ID, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if prev, ok := t.lastSeen[id]; ok && at.Before(prev) {
		return
	}
	t.lastSeen[id] = at
}

// IsAutoOnline reports whether a lab is automatically online: a
// heartbeat was recorded and now minus last-seen is within threshold.
func (t *Tracker) IsAutoOnline(id lab.ID, now time.Time, threshold time.Duration) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	seen, ok := t.lastSeen[id]
	if !ok {
		return false
	}
	return now.Sub(seen) <= threshold
}

// LastSeen returns the last recorded heartbeat instant for a lab.
func (t *Tracker) LastSeen(id lab.ID) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	seen, ok := t.lastSeen[id]
	return seen, ok
}
