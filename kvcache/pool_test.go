package kvcache

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/ollama/pagedkv/ml"
)

func testConfig(dtype ml.DType) Config {
	return Config{PageSize: 4, MaxNumPages: 8, NumKVHeads: 2, HeadDim: 3, DType: dtype}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{name: "gueltig", modify: func(*Config) {}},
		{name: "page size 0", modify: func(c *Config) { c.PageSize = 0 }, wantErr: true},
		{name: "keine Pages", modify: func(c *Config) { c.MaxNumPages = 0 }, wantErr: true},
		{name: "keine Heads", modify: func(c *Config) { c.NumKVHeads = 0 }, wantErr: true},
		{name: "head dim negativ", modify: func(c *Config) { c.HeadDim = -1 }, wantErr: true},
		{name: "unbekannter dtype", modify: func(c *Config) { c.DType = ml.DTypeOther }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(ml.DTypeF32)
			tt.modify(&cfg)

			_, err := NewPool(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewPool() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPoolReadWrite(t *testing.T) {
	tests := []struct {
		dtype     ml.DType
		bytes     int64
		tolerance float64
	}{
		{dtype: ml.DTypeF32, bytes: 8 * 2 * 4 * 6 * 4, tolerance: 0},
		{dtype: ml.DTypeF16, bytes: 8 * 2 * 4 * 6 * 2, tolerance: 1e-3},
		{dtype: ml.DTypeBF16, bytes: 8 * 2 * 4 * 6 * 2, tolerance: 1e-2},
	}

	for _, tt := range tests {
		t.Run(tt.dtype.String(), func(t *testing.T) {
			pool, err := NewPool(testConfig(tt.dtype))
			require.NoError(t, err)

			if pool.Bytes() != tt.bytes {
				t.Errorf("Bytes() = %d, erwartet %d", pool.Bytes(), tt.bytes)
			}

			key := []float32{0.5, -1.25, 3, 0.1, -0.3, 7}
			value := []float32{-0.5, 1.25, -3, 0.2, 0.3, -7}

			pool.WriteSlot(5, 2, Key, key)
			pool.WriteSlot(5, 2, Value, value)

			gotKey := make([]float32, 6)
			gotValue := make([]float32, 6)
			pool.ReadSlot(5, 2, Key, gotKey)
			pool.ReadSlot(5, 2, Value, gotValue)

			approx := cmp.Comparer(func(a, b float32) bool {
				return math.Abs(float64(a-b)) <= tt.tolerance*max(1, math.Abs(float64(b)))
			})

			if diff := cmp.Diff(key, gotKey, approx); diff != "" {
				t.Errorf("key mismatch (-want +got):\n%s", diff)
			}

			if diff := cmp.Diff(value, gotValue, approx); diff != "" {
				t.Errorf("value mismatch (-want +got):\n%s", diff)
			}

			// benachbarte Slots bleiben unberuehrt
			zero := make([]float32, 6)
			for _, slot := range []struct{ page, slot int }{{5, 1}, {5, 3}, {4, 2}, {6, 2}} {
				got := make([]float32, 6)
				pool.ReadSlot(slot.page, slot.slot, Key, got)
				if diff := cmp.Diff(zero, got); diff != "" {
					t.Errorf("slot %v veraendert (-want +got):\n%s", slot, diff)
				}
			}
		})
	}
}

func TestPoolCopySlot(t *testing.T) {
	pool, err := NewPool(testConfig(ml.DTypeBF16))
	require.NoError(t, err)

	key := []float32{1, 2, 3, 4, 5, 6}
	value := []float32{-1, -2, -3, -4, -5, -6}
	pool.WriteSlot(0, 0, Key, key)
	pool.WriteSlot(0, 0, Value, value)

	pool.CopySlot(7, 3, 0, 0)

	got := make([]float32, 6)
	pool.ReadSlot(7, 3, Key, got)
	if diff := cmp.Diff(key, got); diff != "" {
		t.Errorf("key mismatch (-want +got):\n%s", diff)
	}

	pool.ReadSlot(7, 3, Value, got)
	if diff := cmp.Diff(value, got); diff != "" {
		t.Errorf("value mismatch (-want +got):\n%s", diff)
	}
}

func TestPoolPanicsOutOfRange(t *testing.T) {
	pool, err := NewPool(testConfig(ml.DTypeF32))
	require.NoError(t, err)

	buf := make([]float32, 6)
	require.Panics(t, func() { pool.WriteSlot(8, 0, Key, buf) })
	require.Panics(t, func() { pool.WriteSlot(-1, 0, Key, buf) })
	require.Panics(t, func() { pool.ReadSlot(0, 4, Value, buf) })
	require.Panics(t, func() { pool.ReadSlot(0, 0, Value, buf[:5]) })
	require.NotPanics(t, func() { pool.ReadSlot(7, 3, Value, buf) })
}
