package protocol

import (
	"math"
	"reflect"
	"unsafe"
)

// Key is the set of key types the network can sort. Keys must have a fixed
// width so shards can be framed on the wire without a schema.
type Key interface {
	~int8 | ~int16 | ~int32 | ~int64 |
		~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64
}

// Direction selects the order a bitonic sort or merge produces.
type Direction bool

const (
	Descending Direction = false
	Ascending  Direction = true
)

func (d Direction) String() string {
	if d == Ascending {
		return "ascending"
	}
	return "descending"
}

// Sentinel returns the largest value representable by K (+Inf for floats).
// Padding slots are filled with it so they always sort to the tail.
func Sentinel[K Key]() K {
	var k K
	bits := uint(unsafe.Sizeof(k)) * 8
	switch reflect.TypeOf(k).Kind() {
	case reflect.Float32, reflect.Float64:
		return K(math.Inf(1))
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return K(^uint64(0) >> (64 - bits))
	default:
		return K(^uint64(0) >> (64 - bits + 1))
	}
}
