package buffer

import "sync"

// Size is the capacity of pooled buffers. Barrage frames are almost always
// well below it; larger frames are allocated directly by the caller.
const Size = 8192

// Pool provides a pool of byte buffers for frame payload reads
var Pool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, Size)
		return &b
	},
}

// Get retrieves a full-length buffer from the pool
func Get() []byte {
	return *(Pool.Get().(*[]byte))
}

// Put returns a buffer to the pool.
// Buffers smaller than Size are dropped.
func Put(buf []byte) {
	if cap(buf) < Size {
		return
	}
	buf = buf[:cap(buf)]
	Pool.Put(&buf)
}
