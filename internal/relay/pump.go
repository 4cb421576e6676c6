package relay

import (
	"errors"
	"io"
	"sync/atomic"

	"sockcon/util"
)

// pump copies one direction of a session.  It never logs; everything it
// has to say goes to the coordinator.
type pump struct {
	dir   Direction
	src   interruptibleReader
	dst   io.Writer
	chunk int

	// count, if set, is told how many bytes each write delivered.
	count func(n int64)
	// onEOF, if set, handles end of input in place of recording a
	// cause.  It returns true when the sibling should keep running.
	onEOF func() bool

	running     atomic.Bool
	transferred atomic.Int64
}

// result is a pump's terminal event.
type result struct {
	eof         bool
	interrupted bool
	err         error
}

// serve runs the pump to completion and reports to c.  An interrupted
// pump reports nothing; the interrupter already did.
func (p *pump) serve(c *Coordinator) {
	defer p.running.Store(false)

	res := p.transfer(c.Token())
	switch {
	case res.interrupted:
		return
	case res.err != nil:
		c.Record(Failed, res.err)
	case res.eof:
		if p.onEOF != nil && p.onEOF() {
			return
		}
		c.Record(p.eofOutcome(), nil)
	}
	c.Signal(p.dir.other())
}

func (p *pump) eofOutcome() Outcome {
	if p.dir == Inbound {
		return ConnectionClosedByPeer
	}
	return LocalInputClosed
}

// transfer forwards exactly the bytes each read returned until EOF, an
// error, or interruption.
func (p *pump) transfer(tok *Token) result {
	bp := util.GetChunk(p.chunk)
	defer util.PutChunk(bp)
	buf := *bp

	for {
		if tok.Cancelled() {
			return result{interrupted: true}
		}
		n, rerr := p.src.Read(buf)
		if n > 0 {
			w, werr := p.dst.Write(buf[:n])
			if w > 0 {
				p.transferred.Add(int64(w))
				if p.count != nil {
					p.count(int64(w))
				}
			}
			if werr == nil && w != n {
				werr = io.ErrShortWrite
			}
			if werr != nil {
				return result{err: &PumpError{Dir: p.dir, Op: "write", Err: werr}}
			}
		}

		switch {
		case rerr == nil:
		case errors.Is(rerr, ErrInterrupted):
			return result{interrupted: true}
		case errors.Is(rerr, io.EOF):
			return result{eof: true}
		default:
			return result{err: &PumpError{Dir: p.dir, Op: "read", Err: rerr}}
		}
	}
}
