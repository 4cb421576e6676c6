package relay

import (
	"errors"
	"io"
	"os"
	"sync"
	"time"
)

// interruptibleReader is a reader whose blocked or future Read can be
// forced to return ErrInterrupted without closing the handle.
type interruptibleReader interface {
	io.Reader
	// Interrupt makes the current and every later Read return
	// ErrInterrupted.
	Interrupt()
	// Release frees helper resources once no Read is in progress.
	Release()
}

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// newReader picks the cheapest mechanism r supports: read deadlines,
// then poll(2) for plain files, then a helper goroutine.
func newReader(r io.Reader) interruptibleReader {
	if d, ok := r.(readDeadliner); ok && d.SetReadDeadline(time.Time{}) == nil {
		return &deadlineReader{r: r, d: d}
	}
	if f, ok := r.(*os.File); ok {
		if fr, err := newFileReader(f); err == nil {
			return fr
		}
	}
	return newAsyncReader(r)
}

// ── deadline ─────────────────────────────────────────────────────────

// aLongTimeAgo is a read deadline that has always passed.
var aLongTimeAgo = time.Unix(1, 0)

// deadlineReader interrupts by moving the read deadline into the past.
type deadlineReader struct {
	r io.Reader
	d readDeadliner

	mu          sync.Mutex
	interrupted bool
	released    bool
}

func (r *deadlineReader) Read(p []byte) (int, error) {
	if r.isInterrupted() {
		return 0, ErrInterrupted
	}
	n, err := r.r.Read(p)
	if err != nil && errors.Is(err, os.ErrDeadlineExceeded) && r.isInterrupted() {
		err = ErrInterrupted
	}
	return n, err
}

func (r *deadlineReader) isInterrupted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.interrupted
}

func (r *deadlineReader) Interrupt() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.interrupted || r.released {
		return
	}
	r.interrupted = true
	_ = r.d.SetReadDeadline(aLongTimeAgo)
}

// Release clears the deadline so the owner gets the handle back as it
// was lent.
func (r *deadlineReader) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return
	}
	r.released = true
	_ = r.d.SetReadDeadline(time.Time{})
}

// ── helper goroutine ─────────────────────────────────────────────────

type readResult struct {
	buf []byte
	err error
}

// asyncReader runs reads on a helper goroutine, one request at a time,
// so the caller can stop waiting on a read that will not return.  The
// helper reads into its own buffer; an abandoned result is dropped.
type asyncReader struct {
	r       io.Reader
	reqs    chan int
	results chan readResult
	done    chan struct{}

	start sync.Once
	stop  sync.Once
}

func newAsyncReader(r io.Reader) *asyncReader {
	return &asyncReader{
		r:       r,
		reqs:    make(chan int),
		results: make(chan readResult, 1),
		done:    make(chan struct{}),
	}
}

func (a *asyncReader) Read(p []byte) (int, error) {
	select {
	case <-a.done:
		return 0, ErrInterrupted
	default:
	}
	if len(p) == 0 {
		return 0, nil
	}
	a.start.Do(func() { go a.loop() })

	select {
	case a.reqs <- len(p):
	case <-a.done:
		return 0, ErrInterrupted
	}
	select {
	case res := <-a.results:
		return copy(p, res.buf), res.err
	case <-a.done:
		return 0, ErrInterrupted
	}
}

// loop exits once done is closed and no read is in flight.
func (a *asyncReader) loop() {
	var buf []byte
	for {
		select {
		case n := <-a.reqs:
			if cap(buf) < n {
				buf = make([]byte, n)
			}
			m, err := a.r.Read(buf[:n])
			a.results <- readResult{buf: buf[:m], err: err}
		case <-a.done:
			return
		}
	}
}

func (a *asyncReader) Interrupt() {
	a.stop.Do(func() { close(a.done) })
}

func (a *asyncReader) Release() { a.Interrupt() }
