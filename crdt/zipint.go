package crdt

import (
	"math"
	"math/bits"
)

// Variable-width integer packing for the wire format. Values are
// little-endian with trailing zero bytes stripped; the record length
// recovers the width, so no continuation bits are needed.

// ZipUint64 packs an uint64 into the shortest possible byte string.
func ZipUint64(v uint64) []byte {
	var buf [8]byte
	i := 0
	for v > 0 {
		buf[i] = byte(v)
		v >>= 8
		i++
	}
	return buf[:i]
}

func UnzipUint64(zip []byte) (v uint64) {
	for i := len(zip) - 1; i >= 0; i-- {
		v = v<<8 | uint64(zip[i])
	}
	return
}

// ZipUint64Pair packs two uint64s; the leading byte carries the
// length of the first field.
func ZipUint64Pair(a, b uint64) []byte {
	za := ZipUint64(a)
	zb := ZipUint64(b)
	ret := make([]byte, 0, 1+len(za)+len(zb))
	ret = append(ret, byte(len(za)))
	ret = append(ret, za...)
	ret = append(ret, zb...)
	return ret
}

func UnzipUint64Pair(zip []byte) (a, b uint64) {
	if len(zip) == 0 {
		return
	}
	alen := int(zip[0])
	if alen+1 > len(zip) {
		return
	}
	a = UnzipUint64(zip[1 : 1+alen])
	b = UnzipUint64(zip[1+alen:])
	return
}

func ZigZagInt64(i int64) uint64 {
	return uint64(i*2) ^ uint64(i>>63)
}

func ZagZigUint64(u uint64) int64 {
	half := u >> 1
	mask := -(u & 1)
	return int64(half ^ mask)
}

func ZipInt64(i int64) []byte {
	return ZipUint64(ZigZagInt64(i))
}

func UnzipInt64(zip []byte) int64 {
	return ZagZigUint64(UnzipUint64(zip))
}

// ZipFloat64 bit-reverses the IEEE representation so that common
// round values zip short.
func ZipFloat64(f float64) []byte {
	return ZipUint64(bits.Reverse64(math.Float64bits(f)))
}

func UnzipFloat64(zip []byte) float64 {
	return math.Float64frombits(bits.Reverse64(UnzipUint64(zip)))
}
