// Package relay bridges local input and output with one connection.
//
// An Engine runs two pumps per session: Inbound copies the connection
// to local output, Outbound copies local input to the connection.  The
// first pump to finish records why on the session's Coordinator and
// interrupts its sibling's read; Run returns once both have stopped.
// Neither pump ever closes the connection or the local streams.
package relay

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"sockcon/internal/metrics"
	"sockcon/util"
)

// DefaultChunkSize is the largest read a pump issues when Options
// leaves ChunkSize unset.
const DefaultChunkSize = 1024

// Options configures an Engine.  The zero value is usable.
type Options struct {
	ChunkSize int
	// HalfClose keeps the session alive after local input ends: the
	// connection's write side is shut (if it supports CloseWrite) and
	// the Inbound pump runs until the peer closes.
	HalfClose bool
	Logger    *util.Logger
	Metrics   *metrics.Collector
}

// Engine runs one relay session at a time.
type Engine struct {
	opts   Options
	logger *util.Logger

	state  atomic.Int32
	active atomic.Pointer[session]
	last   atomic.Pointer[Stats]
}

// New returns an idle engine.
func New(opts Options) *Engine {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = util.NewLogger(0)
	}
	return &Engine{opts: opts, logger: logger}
}

// State reports the engine's lifecycle state.
func (e *Engine) State() State { return State(e.state.Load()) }

// Stats is the byte count of the most recent session.
type Stats struct {
	ID       string
	BytesIn  int64 // connection → local output
	BytesOut int64 // local input → connection
}

// session is everything owned by one Run call.
type session struct {
	id    string
	conn  net.Conn
	coord *Coordinator
	pumps [2]*pump
}

// Run relays between conn and the local streams until one side ends, a
// pump fails, ctx is cancelled, or Interrupt is called.  It returns only
// after both pumps have stopped.  conn, in, and out stay open.
//
// A Failed outcome is always paired with the error that caused it.
func (e *Engine) Run(ctx context.Context, conn net.Conn, in io.Reader, out io.Writer) (Outcome, error) {
	if !e.state.CompareAndSwap(int32(Idle), int32(Running)) &&
		!e.state.CompareAndSwap(int32(Stopped), int32(Running)) {
		return Failed, ErrBusy
	}

	s := e.newSession(conn, in, out)
	e.active.Store(s)
	stop := context.AfterFunc(ctx, s.coord.Interrupt)

	log := e.logger.With("session", s.id)
	log.Verbose("relay started (peer %s, chunk %d)", peerAddr(conn), e.opts.ChunkSize)
	e.opts.Metrics.SessionOpened()

	var wg sync.WaitGroup
	for _, p := range s.pumps {
		p.running.Store(true)
		wg.Add(1)
		go func(p *pump) {
			defer wg.Done()
			p.serve(s.coord)
		}(p)
	}
	wg.Wait()

	stop()
	e.active.Store(nil)
	s.coord.release()

	outcome, err, _ := s.coord.Token().Cause()
	stats := s.stats()
	e.last.Store(&stats)
	log.Verbose("relay finished: %s (in %d bytes, out %d bytes)", outcome, stats.BytesIn, stats.BytesOut)
	if err != nil {
		log.Debug("relay error: %v", err)
		e.opts.Metrics.RecordError(err.Error())
	}
	e.opts.Metrics.SessionClosed(outcome.String())

	e.state.Store(int32(Stopped))
	return outcome, err
}

// Interrupt stops the active session, if any.  It is safe to call from
// any goroutine, any number of times, including when idle.
func (e *Engine) Interrupt() {
	if s := e.active.Load(); s != nil {
		s.coord.Interrupt()
	}
}

// LastStats returns the byte counts of the most recent finished
// session.
func (e *Engine) LastStats() Stats {
	if st := e.last.Load(); st != nil {
		return *st
	}
	return Stats{}
}

// SessionID returns the id of the running session, or "" when idle.
func (e *Engine) SessionID() string {
	if s := e.active.Load(); s != nil {
		return s.id
	}
	return ""
}

func (e *Engine) newSession(conn net.Conn, in io.Reader, out io.Writer) *session {
	s := &session{id: uuid.NewString(), conn: conn}

	inbound := &pump{
		dir:   Inbound,
		src:   newReader(conn),
		dst:   out,
		chunk: e.opts.ChunkSize,
		count: e.opts.Metrics.BytesReceived,
	}
	outbound := &pump{
		dir:   Outbound,
		src:   newReader(in),
		dst:   conn,
		chunk: e.opts.ChunkSize,
		count: e.opts.Metrics.BytesSent,
	}
	if e.opts.HalfClose {
		outbound.onEOF = func() bool {
			s.closeWrite()
			e.state.CompareAndSwap(int32(Running), int32(Draining))
			return true
		}
	}
	s.pumps = [2]*pump{Inbound: inbound, Outbound: outbound}

	s.coord = newCoordinator(inbound.src, outbound.src, func() {
		e.state.CompareAndSwap(int32(Running), int32(Draining))
	})
	return s
}

// closeWrite shuts the connection's write side after local EOF.  The
// peer still decides when the session ends.
func (s *session) closeWrite() {
	if cw, ok := s.conn.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}
}

func (s *session) stats() Stats {
	return Stats{
		ID:       s.id,
		BytesIn:  s.pumps[Inbound].transferred.Load(),
		BytesOut: s.pumps[Outbound].transferred.Load(),
	}
}

func peerAddr(conn net.Conn) string {
	if a := conn.RemoteAddr(); a != nil {
		return a.String()
	}
	return "unknown"
}
