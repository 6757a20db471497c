package infra

import (
	"bytes"
	"encoding/binary"
)

type Signed interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64
}

// Unsigned is a constraint that permits any unsigned integer type.
type Unsigned interface {
	~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

// Integer is a constraint that permits any integer type.
type Integer interface {
	Signed | Unsigned
}

// KeyComparator
// Assume i is the new key.
//  1. i == j (return 0)
//  2. i > j (return 1), turn to right part.
//  3. i < j (return -1), turn to left part.
//
// It must define a strict total order and stay stable for the whole
// lifetime of the container that uses it.
type KeyComparator func(i, j []byte) int64

// BytesComparator orders keys lexicographically byte by byte.
func BytesComparator(i, j []byte) int64 {
	return int64(bytes.Compare(i, j))
}

// ReverseComparator flips the order defined by cmp.
func ReverseComparator(cmp KeyComparator) KeyComparator {
	if cmp == nil {
		return nil
	}
	return func(i, j []byte) int64 {
		return cmp(j, i)
	}
}

// OrderedKeySize is the byte width of the keys produced by OrderedKeyBytes.
const OrderedKeySize = 8

func isSigned[K Integer]() bool {
	var zero K
	return zero-1 < zero
}

// OrderedKeyBytes encodes k into 8 big-endian bytes, whose lexicographic order
// (BytesComparator) is the same as the numeric order of k.
// Signed keys get their sign bit flipped, so negative numbers sort first.
func OrderedKeyBytes[K Integer](k K) []byte {
	var u uint64
	if isSigned[K]() {
		u = uint64(int64(k)) ^ (1 << 63)
	} else {
		u = uint64(k)
	}
	buf := make([]byte, OrderedKeySize)
	binary.BigEndian.PutUint64(buf, u)
	return buf
}

// OrderedKeyFromBytes is the inverse of OrderedKeyBytes.
func OrderedKeyFromBytes[K Integer](key []byte) K {
	if len(key) < OrderedKeySize {
		// impossible run to here
		panic( /* debug assertion */ "[infra] ordered key is shorter than 8 bytes")
	}
	u := binary.BigEndian.Uint64(key)
	if isSigned[K]() {
		return K(int64(u ^ (1 << 63)))
	}
	return K(u)
}
