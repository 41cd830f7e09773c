package pool

import (
	"bytes"
	"sync"
	"sync/atomic"
)

// maxPooledBufferSize caps the capacity of buffers returned to the pool;
// larger buffers are dropped so one huge artifact does not pin memory.
const maxPooledBufferSize = 4 << 20

// BufferPool hands out reusable byte buffers.
type BufferPool struct {
	pool sync.Pool

	gets    atomic.Int64
	news    atomic.Int64
	dropped atomic.Int64
}

// NewBufferPool creates a buffer pool whose fresh buffers start with initCap bytes.
func NewBufferPool(initCap int) *BufferPool {
	p := &BufferPool{}
	p.pool.New = func() any {
		p.news.Add(1)
		return bytes.NewBuffer(make([]byte, 0, initCap))
	}
	return p
}

// Get retrieves an empty buffer.
func (p *BufferPool) Get() *bytes.Buffer {
	p.gets.Add(1)
	return p.pool.Get().(*bytes.Buffer)
}

// Put resets buf and returns it to the pool.
func (p *BufferPool) Put(buf *bytes.Buffer) {
	if buf == nil {
		return
	}
	if buf.Cap() > maxPooledBufferSize {
		p.dropped.Add(1)
		return
	}
	buf.Reset()
	p.pool.Put(buf)
}

// BufferPoolStats contains buffer pool statistics.
type BufferPoolStats struct {
	Gets    int64 `json:"gets"`
	News    int64 `json:"news"`
	Dropped int64 `json:"dropped"`
}

// Stats returns pool statistics.
func (p *BufferPool) Stats() BufferPoolStats {
	return BufferPoolStats{
		Gets:    p.gets.Load(),
		News:    p.news.Load(),
		Dropped: p.dropped.Load(),
	}
}

// Buffers is the shared pool used for encoding thumbnails and reading
// integration response bodies.
var Buffers = NewBufferPool(64 << 10)
