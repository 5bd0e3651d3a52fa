// Package kvcache - Speicher-Backends des Page-Pools
//
// Dieses Modul enthaelt die flachen Arenen fuer die unterstuetzten DTypes:
// - f32Storage: float32, Werte werden unveraendert abgelegt
// - f16Storage: IEEE half precision (x448/float16)
// - bf16Storage: bfloat16 (d4l3k/go-bfloat16)
package kvcache

import (
	"fmt"

	"github.com/x448/float16"

	"github.com/ollama/pagedkv/ml"
)

// storage is a flat element array. Offsets and lengths are in elements.
type storage interface {
	write(off int, src []float32)
	read(off int, dst []float32)
	copy(dstOff, srcOff, n int)
	len() int
}

func newStorage(dtype ml.DType, n int) (storage, error) {
	switch dtype {
	case ml.DTypeF32:
		return make(f32Storage, n), nil
	case ml.DTypeF16:
		return make(f16Storage, n), nil
	case ml.DTypeBF16:
		return make(bf16Storage, 2*n), nil
	default:
		return nil, fmt.Errorf("unsupported dtype %v", dtype)
	}
}

type f32Storage []float32

func (s f32Storage) write(off int, src []float32) { copy(s[off:off+len(src)], src) }
func (s f32Storage) read(off int, dst []float32)  { copy(dst, s[off:off+len(dst)]) }
func (s f32Storage) copy(dstOff, srcOff, n int)    { copy(s[dstOff:dstOff+n], s[srcOff:srcOff+n]) }
func (s f32Storage) len() int                      { return len(s) }

type f16Storage []float16.Float16

func (s f16Storage) write(off int, src []float32) { ml.EncodeF16(s[off:off+len(src)], src) }
func (s f16Storage) read(off int, dst []float32)  { ml.DecodeF16(dst, s[off:off+len(dst)]) }
func (s f16Storage) copy(dstOff, srcOff, n int)    { copy(s[dstOff:dstOff+n], s[srcOff:srcOff+n]) }
func (s f16Storage) len() int                      { return len(s) }

// bf16Storage holds two little endian bytes per element
type bf16Storage []byte

func (s bf16Storage) write(off int, src []float32) {
	ml.EncodeBF16(s[2*off:2*(off+len(src))], src)
}

func (s bf16Storage) read(off int, dst []float32) {
	ml.DecodeBF16(dst, s[2*off:2*(off+len(dst))])
}

func (s bf16Storage) copy(dstOff, srcOff, n int) {
	copy(s[2*dstOff:2*(dstOff+n)], s[2*srcOff:2*(srcOff+n)])
}

func (s bf16Storage) len() int { return len(s) / 2 }
