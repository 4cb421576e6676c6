package relay

import "sync/atomic"

// stopCause is the first terminal event recorded for a session.
type stopCause struct {
	outcome Outcome
	err     error
}

// Token is a one-shot cancellation flag.  The first Cancel wins and
// fixes the session's outcome; later calls are no-ops.
type Token struct {
	cause atomic.Pointer[stopCause]
}

// Cancel records outcome and err if nothing was recorded yet.  It
// reports whether this call won.
func (t *Token) Cancel(outcome Outcome, err error) bool {
	return t.cause.CompareAndSwap(nil, &stopCause{outcome: outcome, err: err})
}

// Cancelled reports whether a cause has been recorded.
func (t *Token) Cancelled() bool { return t.cause.Load() != nil }

// Cause returns the recorded outcome and error.  ok is false while the
// token is still live.
func (t *Token) Cause() (outcome Outcome, err error, ok bool) {
	c := t.cause.Load()
	if c == nil {
		return Completed, nil, false
	}
	return c.outcome, c.err, true
}

// Coordinator owns a session's token and the interruptible readers of
// both pumps.
type Coordinator struct {
	token    Token
	readers  [2]interruptibleReader
	onCancel func()
}

func newCoordinator(inbound, outbound interruptibleReader, onCancel func()) *Coordinator {
	return &Coordinator{
		readers:  [2]interruptibleReader{Inbound: inbound, Outbound: outbound},
		onCancel: onCancel,
	}
}

// Token exposes the session's cancellation token.
func (c *Coordinator) Token() *Token { return &c.token }

// Record stores the session's termination cause.  Only the first call
// has any effect.
func (c *Coordinator) Record(outcome Outcome, err error) bool {
	if !c.token.Cancel(outcome, err) {
		return false
	}
	if c.onCancel != nil {
		c.onCancel()
	}
	return true
}

// Signal forces the pump of direction dir out of its current or next
// read.  Safe to call any number of times.
func (c *Coordinator) Signal(dir Direction) {
	c.readers[dir].Interrupt()
}

// Interrupt stops the whole session from outside.  With no earlier
// cause the session reports Completed.
func (c *Coordinator) Interrupt() {
	c.Record(Completed, nil)
	c.Signal(Inbound)
	c.Signal(Outbound)
}

func (c *Coordinator) release() {
	for _, r := range c.readers {
		r.Release()
	}
}
