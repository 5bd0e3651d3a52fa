// types.go - Datentypen fuer den Page-Speicher
// Dieses Modul definiert DType, die Element-Typen in denen K/V-Werte abgelegt werden,
// sowie die Umrechnung von/nach float32.
package ml

import (
	"fmt"
	"strings"

	bfloat16 "github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

// DType represents the data type of tensor elements.
type DType int

const (
	DTypeOther DType = iota
	DTypeF32
	DTypeF16
	DTypeBF16
)

// DTypeFromString wandelt einen Cache-Typ (f32, f16, bf16) in einen DType um.
// Leerer String ergibt f16, wie beim K/V Cache ueblich.
func DTypeFromString(s string) (DType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "f16", "fp16", "float16":
		return DTypeF16, nil
	case "f32", "fp32", "float32":
		return DTypeF32, nil
	case "bf16", "bfloat16":
		return DTypeBF16, nil
	default:
		return DTypeOther, fmt.Errorf("unsupported kv cache type %q", s)
	}
}

func (t DType) String() string {
	switch t {
	case DTypeF32:
		return "f32"
	case DTypeF16:
		return "f16"
	case DTypeBF16:
		return "bf16"
	default:
		return "other"
	}
}

// Size gibt die Bytes pro Element zurueck
func (t DType) Size() int {
	switch t {
	case DTypeF32:
		return 4
	case DTypeF16, DTypeBF16:
		return 2
	default:
		return 0
	}
}

// EncodeF16 schreibt src als IEEE-754 half precision nach dst.
func EncodeF16(dst []float16.Float16, src []float32) {
	for i, f := range src {
		dst[i] = float16.Fromfloat32(f)
	}
}

// DecodeF16 liest half precision Werte aus src nach dst.
func DecodeF16(dst []float32, src []float16.Float16) {
	for i, h := range src {
		dst[i] = h.Float32()
	}
}

// EncodeBF16 schreibt src als bfloat16 (little endian, 2 Bytes pro Element) nach dst.
func EncodeBF16(dst []byte, src []float32) {
	copy(dst, bfloat16.EncodeFloat32(src))
}

// DecodeBF16 liest bfloat16 Werte aus src nach dst.
func DecodeBF16(dst []float32, src []byte) {
	copy(dst, bfloat16.DecodeFloat32(src))
}
