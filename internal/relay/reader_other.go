//go:build !unix

package relay

import "os"

func newFileReader(f *os.File) (interruptibleReader, error) {
	return newAsyncReader(f), nil
}
