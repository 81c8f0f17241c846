package pool

import (
	"bytes"
	"sync"
	"sync/atomic"
)

// Pool is a generic object pool over sync.Pool that counts allocations.
type Pool[T any] struct {
	pool  sync.Pool
	reset func(*T)

	gets atomic.Int64
	puts atomic.Int64
	news atomic.Int64
}

// NewPool creates an object pool. reset runs on every Put and may replace the object.
func NewPool[T any](newFunc func() T, reset func(*T)) *Pool[T] {
	p := &Pool[T]{reset: reset}
	p.pool.New = func() any {
		p.news.Add(1)
		return newFunc()
	}
	return p
}

// Get retrieves an object from the pool.
func (p *Pool[T]) Get() T {
	p.gets.Add(1)
	return p.pool.Get().(T)
}

// Put returns an object to the pool.
func (p *Pool[T]) Put(obj T) {
	p.puts.Add(1)
	if p.reset != nil {
		p.reset(&obj)
	}
	p.pool.Put(obj)
}

// Stats returns pool statistics.
func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{
		Gets: p.gets.Load(),
		Puts: p.puts.Load(),
		News: p.news.Load(),
	}
}

// PoolStats contains pool statistics.
type PoolStats struct {
	Gets int64 `json:"gets"`
	Puts int64 `json:"puts"`
	News int64 `json:"news"`
}

// ReuseRate is the share of Gets served without allocating.
func (s PoolStats) ReuseRate() float64 {
	if s.Gets == 0 {
		return 0
	}
	return float64(s.Gets-s.News) / float64(s.Gets)
}

// maxPooledBuffer caps the capacity a buffer may keep when returned.
const maxPooledBuffer = 64 << 10

// NewBufferPool 创建字节缓冲池，超过 64KiB 的缓冲归还时被替换为新缓冲
func NewBufferPool(initSize int) *Pool[*bytes.Buffer] {
	return NewPool(
		func() *bytes.Buffer { return bytes.NewBuffer(make([]byte, 0, initSize)) },
		func(b **bytes.Buffer) {
			if (*b).Cap() > maxPooledBuffer {
				*b = bytes.NewBuffer(make([]byte, 0, initSize))
				return
			}
			(*b).Reset()
		},
	)
}

// BufferPool is shared by encoding hot paths such as cache key hashing.
var BufferPool = NewBufferPool(1024)
