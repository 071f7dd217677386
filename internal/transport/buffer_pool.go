package transport

import "sync"

// bufferPool recycles receive buffers of maxReceiveLen bytes, avoiding an
// allocation on every datagram.
var bufferPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, maxReceiveLen)
		return &buf
	},
}

// GetBuffer returns a pointer to a pooled receive buffer. Callers must call
// PutBuffer to return it (use defer immediately after GetBuffer).
func GetBuffer() *[]byte {
	return bufferPool.Get().(*[]byte)
}

// PutBuffer returns a buffer to the pool for reuse.
func PutBuffer(bufPtr *[]byte) {
	bufferPool.Put(bufPtr)
}
