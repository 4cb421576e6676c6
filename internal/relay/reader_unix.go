//go:build unix

package relay

import (
	"io"
	"os"
	"runtime"
	"sync"

	"golang.org/x/sys/unix"
)

// pollReader waits in poll(2) on the file and a private wake pipe, and
// only calls read(2) once the file is readable.  Used for files the Go
// runtime poller does not manage, such as a terminal on stdin.
type pollReader struct {
	f  *os.File
	fd int

	mu          sync.Mutex
	interrupted bool
	released    bool
	wakeR       int
	wakeW       int
}

func newFileReader(f *os.File) (interruptibleReader, error) {
	return newPollReader(f)
}

func newPollReader(f *os.File) (*pollReader, error) {
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return nil, os.NewSyscallError("pipe", err)
	}
	for _, fd := range p {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(p[0])
			unix.Close(p[1])
			return nil, os.NewSyscallError("setnonblock", err)
		}
	}
	return &pollReader{f: f, fd: int(f.Fd()), wakeR: p[0], wakeW: p[1]}, nil
}

func (r *pollReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	defer runtime.KeepAlive(r.f)

	for {
		r.mu.Lock()
		if r.interrupted || r.released {
			r.mu.Unlock()
			return 0, ErrInterrupted
		}
		fds := []unix.PollFd{
			{Fd: int32(r.fd), Events: unix.POLLIN},
			{Fd: int32(r.wakeR), Events: unix.POLLIN},
		}
		r.mu.Unlock()

		if _, err := unix.Poll(fds, -1); err != nil {
			if err == unix.EINTR {
				continue
			}
			return 0, os.NewSyscallError("poll", err)
		}
		if fds[1].Revents != 0 {
			return 0, ErrInterrupted
		}
		if fds[0].Revents == 0 {
			continue
		}

		n, err := unix.Read(r.fd, p)
		switch {
		case err == unix.EINTR || err == unix.EAGAIN:
			continue
		case err != nil:
			return 0, &os.PathError{Op: "read", Path: r.f.Name(), Err: err}
		case n == 0:
			return 0, io.EOF
		}
		return n, nil
	}
}

func (r *pollReader) Interrupt() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.interrupted || r.released {
		return
	}
	r.interrupted = true
	_, _ = unix.Write(r.wakeW, []byte{0})
}

// Release closes the wake pipe.  The watched file stays open.
func (r *pollReader) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return
	}
	r.released = true
	unix.Close(r.wakeR)
	unix.Close(r.wakeW)
}
