package local

import "sync"

// Reply payloads are short-lived: borrowed by the requester until
// FreeReturnValue. Size-bucketed pools keep the request path free of
// steady-state allocations. Buckets use power-of-4 sizes from 1KB to 64KB;
// larger payloads fall back to plain allocation and are not pooled.

const (
	size1k  = 1 << 10
	size4k  = 4 << 10
	size16k = 16 << 10
	size64k = 64 << 10
)

var replyPool = struct {
	pool1k  sync.Pool
	pool4k  sync.Pool
	pool16k sync.Pool
	pool64k sync.Pool
}{
	pool1k:  sync.Pool{New: func() any { b := make([]byte, size1k); return &b }},
	pool4k:  sync.Pool{New: func() any { b := make([]byte, size4k); return &b }},
	pool16k: sync.Pool{New: func() any { b := make([]byte, size16k); return &b }},
	pool64k: sync.Pool{New: func() any { b := make([]byte, size64k); return &b }},
}

// getBuffer returns a buffer of exactly size bytes, pooled when it fits a
// bucket.
func getBuffer(size int) []byte {
	switch {
	case size <= size1k:
		return (*replyPool.pool1k.Get().(*[]byte))[:size]
	case size <= size4k:
		return (*replyPool.pool4k.Get().(*[]byte))[:size]
	case size <= size16k:
		return (*replyPool.pool16k.Get().(*[]byte))[:size]
	case size <= size64k:
		return (*replyPool.pool64k.Get().(*[]byte))[:size]
	default:
		return make([]byte, size)
	}
}

// putBuffer returns a buffer to its bucket. Non-bucket capacities are left
// for the garbage collector.
func putBuffer(buf []byte) {
	c := cap(buf)
	buf = buf[:c]
	switch c {
	case size1k:
		replyPool.pool1k.Put(&buf)
	case size4k:
		replyPool.pool4k.Put(&buf)
	case size16k:
		replyPool.pool16k.Put(&buf)
	case size64k:
		replyPool.pool64k.Put(&buf)
	}
}
