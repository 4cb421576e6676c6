package core

import (
	"io"
	"os"
	"testing"

	"sockcon/internal/metrics"
	"sockcon/internal/relay"
	"sockcon/util"
)

// idleStdin stands in for a terminal nobody types into.
func idleStdin(t *testing.T) *os.File {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		w.Close()
		r.Close()
	})
	return r
}

func testConsole(in io.Reader, out io.Writer) console {
	m := metrics.New()
	logger := util.NewLogger(0)
	return console{
		Engine:  relay.New(relay.Options{Logger: logger, Metrics: m}),
		Logger:  logger,
		Metrics: m,
		Stdin:   in,
		Stdout:  out,
	}
}

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }
