package ringbuffer

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFIFOOrder(t *testing.T) {
	b := New[int](8)
	for i := 1; i <= 8; i++ {
		require.True(t, b.Write(i))
	}
	for i := 1; i <= 8; i++ {
		assert.Equal(t, i, b.Read())
	}
	assert.True(t, b.IsEmpty())
}

func TestOverflowDropsNewest(t *testing.T) {
	const capacity, extra = 5, 3
	b := New[int](capacity)
	for i := 0; i < capacity+extra; i++ {
		accepted := b.Write(i)
		assert.Equal(t, i < capacity, accepted, "write %d", i)
	}
	require.Equal(t, capacity, b.Len())
	for i := 0; i < capacity; i++ {
		assert.Equal(t, i, b.Read())
	}
}

func TestUnderflowYieldsZeroValue(t *testing.T) {
	b := New[float32](4)
	assert.Equal(t, float32(0), b.Read())
	assert.Equal(t, 0, b.Len())

	b.Write(1.5)
	assert.Equal(t, float32(1.5), b.Read())
	assert.Equal(t, float32(0), b.Read())
	assert.True(t, b.IsEmpty())
}

func TestClear(t *testing.T) {
	b := New[float32](4)
	b.WriteSlice([]float32{1, 2, 3})
	b.Clear()
	assert.True(t, b.IsEmpty())
	assert.Equal(t, float32(0), b.Read())

	// Cursors reset: the buffer is fully usable again.
	assert.Equal(t, 4, b.WriteSlice([]float32{4, 5, 6, 7}))
	assert.Equal(t, float32(4), b.Read())
}

func TestWrapAround(t *testing.T) {
	b := New[int](3)
	b.WriteSlice([]int{1, 2, 3})
	assert.Equal(t, 1, b.Read())
	assert.Equal(t, 2, b.Read())
	assert.True(t, b.Write(4))
	assert.True(t, b.Write(5))
	assert.False(t, b.Write(6))
	assert.Equal(t, []int{3, 4, 5}, []int{b.Read(), b.Read(), b.Read()})
}

func TestReadIntoPadsWithZero(t *testing.T) {
	b := New[float32](256)
	for i := 0; i < 100; i++ {
		b.Write(float32(i + 1))
	}
	out := make([]float32, 256)
	for i := range out {
		out[i] = -1
	}
	n := b.ReadInto(out)
	require.Equal(t, 100, n)
	for i := 0; i < 100; i++ {
		assert.Equal(t, float32(i+1), out[i])
	}
	for i := 100; i < 256; i++ {
		assert.Equal(t, float32(0), out[i], "index %d", i)
	}
}

func TestZeroCapacityDropsEverything(t *testing.T) {
	for _, capacity := range []int{0, -3} {
		b := New[int](capacity)
		assert.False(t, b.Write(1))
		assert.Equal(t, 0, b.Cap())
		assert.Equal(t, 0, b.Read())
	}
}

func TestLengthNeverExceedsCapacity(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	b := New[int](16)
	shadow := make([]int, 0, 16)
	for step := 0; step < 5000; step++ {
		if rng.Intn(3) > 0 {
			v := rng.Int()
			if b.Write(v) {
				shadow = append(shadow, v)
			}
		} else {
			got := b.Read()
			if len(shadow) > 0 {
				require.Equal(t, shadow[0], got)
				shadow = shadow[1:]
			} else {
				require.Equal(t, 0, got)
			}
		}
		require.LessOrEqual(t, b.Len(), b.Cap())
		require.Equal(t, len(shadow), b.Len())
	}
}
