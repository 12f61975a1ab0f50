package randpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPoolFairness(t *testing.T) {
	const size = 7
	const cycles = 5
	p := New(size)
	counts := make(map[int]int)
	for i := 0; i < size*cycles; i++ {
		counts[p.Get()]++
	}
	assert.Len(t, counts, size)
	for v := 0; v < size; v++ {
		assert.Equal(t, cycles, counts[v], "value %d", v)
	}
}

func TestPoolRange(t *testing.T) {
	p := New(3)
	for i := 0; i < 30; i++ {
		v := p.Get()
		assert.GreaterOrEqual(t, v, 0)
		assert.Less(t, v, 3)
	}
}

func TestPoolSizeOne(t *testing.T) {
	p := New(1)
	for i := 0; i < 5; i++ {
		assert.Equal(t, 0, p.Get())
	}
}
