package crypto

import (
	"sync"
	"sync/atomic"
)

// BufferPool provides thread-safe pooling of byte buffers to reduce
// allocations on the hot path: one nonce and one key-sized buffer per
// chunk, plus the chunk-sized plaintext/ciphertext buffers themselves.
// Buffers are zeroized before returning to pools to prevent data leakage
// between chunks (and, for key-sized buffers, between backups).
type BufferPool struct {
	pool4     *sync.Pool // 4-byte buffers (length prefixes)
	poolNonce *sync.Pool // 24-byte buffers (secretbox nonces)
	poolKey   *sync.Pool // 32-byte buffers (content secrets, HMAC digests)
	poolChunk *sync.Pool // chunk-sized buffers

	chunkSize int

	hits4, misses4         int64
	hitsNonce, missesNonce int64
	hitsKey, missesKey     int64
	hitsChunk, missesChunk int64
}

// NewBufferPool returns a pool sized for the given chunk_size. chunkSize
// should match the Chunker's configured size; buffers larger than the pool
// size simply bypass the chunk pool.
func NewBufferPool(chunkSize int) *BufferPool {
	if chunkSize <= 0 {
		chunkSize = 100 * 1024 * 1024
	}
	p := &BufferPool{chunkSize: chunkSize}
	p.pool4 = &sync.Pool{New: func() interface{} { return make([]byte, 4) }}
	p.poolNonce = &sync.Pool{New: func() interface{} { return make([]byte, secretboxNonceSize) }}
	p.poolKey = &sync.Pool{New: func() interface{} { return make([]byte, KeySize) }}
	p.poolChunk = &sync.Pool{New: func() interface{} { return make([]byte, chunkSize) }}
	return p
}

// Get returns a buffer of the requested size, preferring a pooled buffer
// when the size matches one of the four pools.
func (p *BufferPool) Get(size int) []byte {
	switch {
	case size == 4:
		return p.Get4()
	case size == secretboxNonceSize:
		return p.GetNonce()
	case size == KeySize:
		return p.GetKey()
	case size == p.chunkSize:
		return p.GetChunk()
	default:
		return make([]byte, size)
	}
}

// Put returns buf to the matching pool after zeroizing it. Buffers of a
// size that doesn't match any pool are left for the garbage collector.
func (p *BufferPool) Put(buf []byte) {
	switch cap(buf) {
	case 4:
		p.Put4(buf)
	case secretboxNonceSize:
		p.PutNonce(buf)
	case KeySize:
		p.PutKey(buf)
	case p.chunkSize:
		p.PutChunk(buf)
	}
}

func (p *BufferPool) Get4() []byte {
	if buf, ok := p.pool4.Get().([]byte); ok {
		atomic.AddInt64(&p.hits4, 1)
		return buf
	}
	atomic.AddInt64(&p.misses4, 1)
	return make([]byte, 4)
}

func (p *BufferPool) Put4(buf []byte) {
	if cap(buf) != 4 {
		return
	}
	zero(buf)
	p.pool4.Put(buf[:4])
}

func (p *BufferPool) GetNonce() []byte {
	if buf, ok := p.poolNonce.Get().([]byte); ok {
		atomic.AddInt64(&p.hitsNonce, 1)
		return buf
	}
	atomic.AddInt64(&p.missesNonce, 1)
	return make([]byte, secretboxNonceSize)
}

func (p *BufferPool) PutNonce(buf []byte) {
	if cap(buf) != secretboxNonceSize {
		return
	}
	zero(buf)
	p.poolNonce.Put(buf[:secretboxNonceSize])
}

func (p *BufferPool) GetKey() []byte {
	if buf, ok := p.poolKey.Get().([]byte); ok {
		atomic.AddInt64(&p.hitsKey, 1)
		return buf
	}
	atomic.AddInt64(&p.missesKey, 1)
	return make([]byte, KeySize)
}

func (p *BufferPool) PutKey(buf []byte) {
	if cap(buf) != KeySize {
		return
	}
	zero(buf)
	p.poolKey.Put(buf[:KeySize])
}

func (p *BufferPool) GetChunk() []byte {
	if buf, ok := p.poolChunk.Get().([]byte); ok {
		atomic.AddInt64(&p.hitsChunk, 1)
		return buf[:p.chunkSize]
	}
	atomic.AddInt64(&p.missesChunk, 1)
	return make([]byte, p.chunkSize)
}

func (p *BufferPool) PutChunk(buf []byte) {
	if cap(buf) != p.chunkSize {
		return
	}
	zero(buf)
	p.poolChunk.Put(buf[:p.chunkSize])
}

func zero(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}

// BufferPoolMetrics reports pool hit/miss counters, useful for tuning
// concurrency against allocation pressure on large backups.
type BufferPoolMetrics struct {
	Hits4, Misses4         int64
	HitsNonce, MissesNonce int64
	HitsKey, MissesKey     int64
	HitsChunk, MissesChunk int64
}

// Metrics returns a snapshot of the pool's current hit/miss counters.
func (p *BufferPool) Metrics() BufferPoolMetrics {
	return BufferPoolMetrics{
		Hits4:       atomic.LoadInt64(&p.hits4),
		Misses4:     atomic.LoadInt64(&p.misses4),
		HitsNonce:   atomic.LoadInt64(&p.hitsNonce),
		MissesNonce: atomic.LoadInt64(&p.missesNonce),
		HitsKey:     atomic.LoadInt64(&p.hitsKey),
		MissesKey:   atomic.LoadInt64(&p.missesKey),
		HitsChunk:   atomic.LoadInt64(&p.hitsChunk),
		MissesChunk: atomic.LoadInt64(&p.missesChunk),
	}
}

// HitRateChunk returns the chunk-buffer pool hit rate, in [0,1].
func (m BufferPoolMetrics) HitRateChunk() float64 {
	total := m.HitsChunk + m.MissesChunk
	if total == 0 {
		return 0
	}
	return float64(m.HitsChunk) / float64(total)
}
