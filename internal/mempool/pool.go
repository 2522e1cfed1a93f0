// Package mempool keeps size-classed buffers for the tensor and flag slices
// allocated on every inpainting call.
package mempool

import (
	"sync"
)

const classStep = 1 << 16

// sizeClass rounds n up to a multiple of classStep so a 512x512 tensor and a
// slightly smaller one share a bucket.
func sizeClass(n int) int {
	if n <= classStep {
		return classStep
	}
	return ((n + classStep - 1) / classStep) * classStep
}

type slicePool[T any] struct {
	buckets sync.Map // size class -> *sync.Pool
}

func (p *slicePool[T]) bucket(cls int) *sync.Pool {
	if v, ok := p.buckets.Load(cls); ok {
		return v.(*sync.Pool)
	}
	v, _ := p.buckets.LoadOrStore(cls, &sync.Pool{New: func() any {
		buf := make([]T, cls)
		return &buf
	}})
	return v.(*sync.Pool)
}

func (p *slicePool[T]) get(n int) []T {
	if n < 0 {
		n = 0
	}
	cls := sizeClass(n)
	bp := p.bucket(cls).Get().(*[]T)
	buf := *bp
	if cap(buf) < cls {
		buf = make([]T, cls)
	}
	buf = buf[:n]
	var zero T
	for i := range buf {
		buf[i] = zero
	}
	return buf
}

func (p *slicePool[T]) put(buf []T) {
	if cap(buf) == 0 {
		return
	}
	cls := sizeClass(cap(buf))
	if cls != cap(buf) {
		// foreign slice, not from a bucket
		return
	}
	full := buf[:cap(buf)]
	p.bucket(cls).Put(&full)
}

var (
	float32s slicePool[float32]
	bytesSet slicePool[uint8]
	int32s   slicePool[int32]
)

// GetFloat32 returns a zeroed []float32 of length n. Return it with PutFloat32.
func GetFloat32(n int) []float32 { return float32s.get(n) }

// PutFloat32 returns a buffer obtained from GetFloat32. Nil is ignored.
func PutFloat32(buf []float32) { float32s.put(buf) }

// GetUint8 returns a zeroed []uint8 of length n. Return it with PutUint8.
func GetUint8(n int) []uint8 { return bytesSet.get(n) }

// PutUint8 returns a buffer obtained from GetUint8. Nil is ignored.
func PutUint8(buf []uint8) { bytesSet.put(buf) }

// GetInt32 returns a zeroed []int32 of length n. Return it with PutInt32.
func GetInt32(n int) []int32 { return int32s.get(n) }

// PutInt32 returns a buffer obtained from GetInt32. Nil is ignored.
func PutInt32(buf []int32) { int32s.put(buf) }
