package crdt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestZipUint64(t *testing.T) {
	cases := []uint64{0, 1, 0xff, 0x100, 0xffff, 0x123456, 0xffffffff, ^uint64(0)}
	for _, v := range cases {
		assert.Equal(t, v, UnzipUint64(ZipUint64(v)))
	}
	assert.Len(t, ZipUint64(0), 0)
	assert.Len(t, ZipUint64(0xff), 1)
	assert.Len(t, ZipUint64(0x100), 2)
}

func TestZipUint64Pair(t *testing.T) {
	cases := [][2]uint64{
		{0, 0}, {1, 0}, {0, 1}, {1, 2},
		{0xffff, 3}, {5, 0xdeadbeef}, {^uint64(0), ^uint64(0)},
	}
	for _, c := range cases {
		a, b := UnzipUint64Pair(ZipUint64Pair(c[0], c[1]))
		assert.Equal(t, c[0], a)
		assert.Equal(t, c[1], b)
	}
}

func TestZipInt64(t *testing.T) {
	cases := []int64{0, 1, -1, 2, -2, 1000, -1000, 1 << 40, -(1 << 40)}
	for _, v := range cases {
		assert.Equal(t, v, UnzipInt64(ZipInt64(v)))
	}
	// zigzag keeps small magnitudes short
	assert.Len(t, ZipInt64(-1), 1)
	assert.Len(t, ZipInt64(1), 1)
}

func TestZipFloat64(t *testing.T) {
	cases := []float64{0, 1, -1, 3.1415, 1e-8, -2.5e17}
	for _, v := range cases {
		assert.Equal(t, v, UnzipFloat64(ZipFloat64(v)))
	}
	// round values pack short thanks to the bit reversal
	assert.Less(t, len(ZipFloat64(1.0)), 3)
}
