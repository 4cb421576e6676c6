package util

import "sync"

// MaxChunkSize is the largest per-read chunk a relay pump may use (32 KiB).
const MaxChunkSize = 32 * 1024

// chunkPool hands out MaxChunkSize backing arrays so each relay
// session does not allocate fresh read buffers.
var chunkPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, MaxChunkSize)
		return &buf
	},
}

// GetChunk returns a pooled buffer resliced to size bytes.  size is
// clamped to [1, MaxChunkSize].  Return it with [PutChunk].
func GetChunk(size int) *[]byte {
	if size < 1 {
		size = 1
	}
	if size > MaxChunkSize {
		size = MaxChunkSize
	}
	buf := chunkPool.Get().(*[]byte)
	*buf = (*buf)[:size]
	return buf
}

// PutChunk returns a buffer obtained from [GetChunk] to the pool.
func PutChunk(buf *[]byte) {
	if buf == nil || cap(*buf) < MaxChunkSize {
		return
	}
	*buf = (*buf)[:MaxChunkSize]
	chunkPool.Put(buf)
}
