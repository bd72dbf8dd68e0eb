package pool

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPool_ResetsOnPut(t *testing.T) {
	p := NewPool(func() *bytes.Buffer { return new(bytes.Buffer) }, func(b **bytes.Buffer) { (*b).Reset() })

	b := p.Get()
	b.WriteString("payload")
	p.Put(b)

	got := p.Get()
	assert.Zero(t, got.Len())

	stats := p.Stats()
	assert.Equal(t, int64(2), stats.Gets)
	assert.Equal(t, int64(1), stats.Puts)
	assert.GreaterOrEqual(t, stats.News, int64(1))
}

func TestPoolStats_HitRate(t *testing.T) {
	assert.Zero(t, PoolStats{}.HitRate())
	assert.InDelta(t, 0.75, PoolStats{Gets: 4, News: 1}.HitRate(), 1e-9)
}

func TestByteBufferPool_DropsOversized(t *testing.T) {
	b := ByteBufferPool.Get()
	b.Write(make([]byte, maxPooledBuffer+1))
	ByteBufferPool.Put(b)

	got := ByteBufferPool.Get()
	defer ByteBufferPool.Put(got)
	assert.Zero(t, got.Len())
	assert.LessOrEqual(t, got.Cap(), maxPooledBuffer)
}
