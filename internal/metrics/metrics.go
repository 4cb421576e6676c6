// Package metrics keeps lock-free counters for relay sessions.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so the relay pumps never need to nil-check.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks byte counts and session lifecycle for one process.
type Collector struct {
	sessionsActive  atomic.Int64
	sessionsTotal   atomic.Int64
	bytesFromPeer   atomic.Int64
	bytesToPeer     atomic.Int64
	connectAttempts atomic.Int64
	errorsTotal     atomic.Int64

	mu           sync.RWMutex
	startTime    time.Time
	lastOutcome  string
	lastError    time.Time
	lastErrorMsg string
}

// New creates a collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Sessions ─────────────────────────────────────────────────────────

// SessionOpened increments the active and total session counters.
func (c *Collector) SessionOpened() {
	if c == nil {
		return
	}
	c.sessionsActive.Add(1)
	c.sessionsTotal.Add(1)
}

// SessionClosed decrements the active counter and remembers how the
// session ended.
func (c *Collector) SessionClosed(outcome string) {
	if c == nil {
		return
	}
	c.sessionsActive.Add(-1)
	c.mu.Lock()
	c.lastOutcome = outcome
	c.mu.Unlock()
}

// ActiveSessions returns the number of relays currently running.
func (c *Collector) ActiveSessions() int64 {
	if c == nil {
		return 0
	}
	return c.sessionsActive.Load()
}

// TotalSessions returns the lifetime session count.
func (c *Collector) TotalSessions() int64 {
	if c == nil {
		return 0
	}
	return c.sessionsTotal.Load()
}

// ConnectAttempt records one dial attempt (including retries).
func (c *Collector) ConnectAttempt() {
	if c == nil {
		return
	}
	c.connectAttempts.Add(1)
}

// ConnectAttempts returns the number of dial attempts made.
func (c *Collector) ConnectAttempts() int64 {
	if c == nil {
		return 0
	}
	return c.connectAttempts.Load()
}

// ── I/O ──────────────────────────────────────────────────────────────

// BytesReceived records n bytes read from the connection and written
// to local output.
func (c *Collector) BytesReceived(n int64) {
	if c == nil {
		return
	}
	c.bytesFromPeer.Add(n)
}

// BytesSent records n bytes read from local input and written to the
// connection.
func (c *Collector) BytesSent(n int64) {
	if c == nil {
		return
	}
	c.bytesToPeer.Add(n)
}

// TotalBytesIn returns total bytes received from the peer.
func (c *Collector) TotalBytesIn() int64 {
	if c == nil {
		return 0
	}
	return c.bytesFromPeer.Load()
}

// TotalBytesOut returns total bytes sent to the peer.
func (c *Collector) TotalBytesOut() int64 {
	if c == nil {
		return 0
	}
	return c.bytesToPeer.Load()
}

// ── Errors ───────────────────────────────────────────────────────────

// RecordError increments the error counter and stores the message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.errorsTotal.Add(1)
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ErrorCount returns the total number of errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.errorsTotal.Load()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime           string `json:"uptime"`
	SessionsActive   int64  `json:"sessions_active"`
	SessionsTotal    int64  `json:"sessions_total"`
	BytesIn          int64  `json:"bytes_in"`
	BytesOut         int64  `json:"bytes_out"`
	ConnectAttempts  int64  `json:"connect_attempts"`
	ErrorsTotal      int64  `json:"errors_total"`
	LastOutcome      string `json:"last_outcome,omitempty"`
	LastError        string `json:"last_error,omitempty"`
	LastErrorMessage string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:          time.Since(c.startTime).Truncate(time.Millisecond).String(),
		SessionsActive:  c.sessionsActive.Load(),
		SessionsTotal:   c.sessionsTotal.Load(),
		BytesIn:         c.bytesFromPeer.Load(),
		BytesOut:        c.bytesToPeer.Load(),
		ConnectAttempts: c.connectAttempts.Load(),
		ErrorsTotal:     c.errorsTotal.Load(),
		LastOutcome:     c.lastOutcome,
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as a compact JSON string.
func (c *Collector) JSON() string {
	data, _ := json.Marshal(c.Snapshot())
	return string(data)
}
