package kvcache

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/ollama/pagedkv/ml"
)

// tokenData returns nnz distinct, exactly representable token vectors
func tokenData(nnz, tokenSize int, base float32) []float32 {
	data := make([]float32, nnz*tokenSize)
	for i := range data {
		data[i] = base + float32(i)
	}
	return data
}

// spreadPages returns n distinct pages of a pool with numPages pages
func spreadPages(n, numPages int) []int32 {
	pages := make([]int32, n)
	for i := range pages {
		pages[i] = int32((i * 7) % numPages)
	}
	return pages
}

func newTestEngine(t *testing.T, cfg Config, workers int) (*Pool, *Engine) {
	t.Helper()

	pool, err := NewPool(cfg)
	require.NoError(t, err)
	return pool, NewEngine(pool, workers)
}

func readAll(pool *Pool) []float32 {
	cfg := pool.Config()
	out := make([]float32, 0, cfg.MaxNumPages*2*cfg.PageSize*cfg.TokenSize())
	buf := make([]float32, cfg.TokenSize())
	for page := range cfg.MaxNumPages {
		for _, kind := range []Kind{Key, Value} {
			for slot := range cfg.PageSize {
				pool.ReadSlot(page, slot, kind, buf)
				out = append(out, buf...)
			}
		}
	}
	return out
}

func TestAppendLongSequence(t *testing.T) {
	cfg := Config{PageSize: 16, MaxNumPages: 300, NumKVHeads: 2, HeadDim: 4, DType: ml.DTypeF32}
	const seqLen = 4096

	tests := []struct {
		name     string
		nnz      int
		numPages int
		err      error
	}{
		{name: "ein Token ohne neue Page", nnz: 1, numPages: 256, err: ErrCapacityExceeded},
		{name: "ein Token", nnz: 1, numPages: 257},
		{name: "256 Tokens", nnz: 256, numPages: 272},
		{name: "256 Tokens, eine Page zu wenig", nnz: 256, numPages: 271, err: ErrCapacityExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool, engine := newTestEngine(t, cfg, 4)

			batchIndices, positions, err := BatchIndicesPositions([]int32{0, int32(tt.nnz)}, []int32{seqLen}, tt.nnz)
			require.NoError(t, err)

			pages := spreadPages(tt.numPages, cfg.MaxNumPages)
			table := BatchPageTable{
				Indices:     pages,
				Indptr:      []int32{0, int32(tt.numPages)},
				LastPageLen: []int32{0},
			}

			batch := AppendBatch{
				Keys:         tokenData(tt.nnz, cfg.TokenSize(), 1),
				Values:       tokenData(tt.nnz, cfg.TokenSize(), -100000),
				BatchIndices: batchIndices,
				Positions:    positions,
			}

			err = engine.Append(batch, table)
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)
				if diff := cmp.Diff(make([]float32, len(readAll(pool))), readAll(pool)); diff != "" {
					t.Errorf("pool nach fehlgeschlagenem Append veraendert:\n%s", diff)
				}
				return
			}
			require.NoError(t, err)

			key := make([]float32, cfg.TokenSize())
			value := make([]float32, cfg.TokenSize())
			for tok, pos := range positions {
				if want := int32(seqLen + tok); pos != want {
					t.Fatalf("token %d: position %d, erwartet %d", tok, pos, want)
				}

				pageSlot, slotOffset := Locate(int(pos), cfg.PageSize)
				if pageSlot != 256+tok/16 || slotOffset != tok%16 {
					t.Fatalf("token %d: (%d, %d), erwartet (%d, %d)", tok, pageSlot, slotOffset, 256+tok/16, tok%16)
				}

				pool.ReadSlot(int(pages[pageSlot]), slotOffset, Key, key)
				pool.ReadSlot(int(pages[pageSlot]), slotOffset, Value, value)

				off := tok * cfg.TokenSize()
				if diff := cmp.Diff(batch.Keys[off:off+cfg.TokenSize()], key); diff != "" {
					t.Fatalf("token %d key mismatch (-want +got):\n%s", tok, diff)
				}
				if diff := cmp.Diff(batch.Values[off:off+cfg.TokenSize()], value); diff != "" {
					t.Fatalf("token %d value mismatch (-want +got):\n%s", tok, diff)
				}

				if err := engine.ReadPosition(table, 0, int(pos), Key, key); err != nil {
					t.Fatal(err)
				}
			}
		})
	}
}

func TestAppendTwoSequences(t *testing.T) {
	cfg := Config{PageSize: 16, MaxNumPages: 4, NumKVHeads: 2, HeadDim: 4, DType: ml.DTypeF32}
	pool, engine := newTestEngine(t, cfg, 2)

	// Sequenz 0 mit 10 Tokens in Page 2, Sequenz 1 mit 5 Tokens in Page 0
	table := NewBatchPageTable(
		Entry{Pages: []int32{2}, LastPageLen: 10},
		Entry{Pages: []int32{0}, LastPageLen: 5},
	)

	seqLens, err := table.SeqLens(cfg.PageSize)
	require.NoError(t, err)

	batchIndices, positions, err := BatchIndicesPositions([]int32{0, 1, 2}, seqLens, 2)
	require.NoError(t, err)

	if diff := cmp.Diff([]int32{10, 5}, positions); diff != "" {
		t.Fatalf("positions mismatch (-want +got):\n%s", diff)
	}

	batch := AppendBatch{
		Keys:         tokenData(2, cfg.TokenSize(), 1),
		Values:       tokenData(2, cfg.TokenSize(), 100),
		BatchIndices: batchIndices,
		Positions:    positions,
	}
	require.NoError(t, engine.Append(batch, table))

	got := make([]float32, cfg.TokenSize())
	pool.ReadSlot(2, 10, Key, got)
	if diff := cmp.Diff(batch.Keys[:8], got); diff != "" {
		t.Errorf("sequence 0 mismatch (-want +got):\n%s", diff)
	}

	pool.ReadSlot(0, 5, Key, got)
	if diff := cmp.Diff(batch.Keys[8:], got); diff != "" {
		t.Errorf("sequence 1 mismatch (-want +got):\n%s", diff)
	}

	// nur die beiden Slots wurden geschrieben
	var written int
	for _, v := range readAll(pool) {
		if v != 0 {
			written++
		}
	}
	if written != 4*cfg.TokenSize() {
		t.Errorf("%d Elemente geschrieben, erwartet %d", written, 4*cfg.TokenSize())
	}
}

func TestAppendOrderIndependent(t *testing.T) {
	cfg := Config{PageSize: 8, MaxNumPages: 64, NumKVHeads: 2, HeadDim: 2, DType: ml.DTypeF32}

	table := NewBatchPageTable(
		Entry{Pages: spreadPages(20, 64)[:5], LastPageLen: 8},
		Entry{Pages: spreadPages(20, 64)[10:16], LastPageLen: 3},
	)
	appendIndptr := []int32{0, 37, 80}
	batchIndices, positions, err := BatchIndicesPositions(appendIndptr, []int32{3, 0}, 80)
	require.NoError(t, err)

	batch := AppendBatch{
		Keys:         tokenData(80, cfg.TokenSize(), 1),
		Values:       tokenData(80, cfg.TokenSize(), 1000),
		BatchIndices: batchIndices,
		Positions:    positions,
	}

	want, sequential := newTestEngine(t, cfg, 1)
	require.NoError(t, sequential.Append(batch, table))

	// gleiche Tokens in zufaelliger Reihenfolge, parallel geschrieben
	perm := rand.New(rand.NewPCG(1, 2)).Perm(80)
	shuffled := AppendBatch{
		Keys:         make([]float32, len(batch.Keys)),
		Values:       make([]float32, len(batch.Values)),
		BatchIndices: make([]int32, 80),
		Positions:    make([]int32, 80),
	}
	size := cfg.TokenSize()
	for dst, src := range perm {
		copy(shuffled.Keys[dst*size:(dst+1)*size], batch.Keys[src*size:(src+1)*size])
		copy(shuffled.Values[dst*size:(dst+1)*size], batch.Values[src*size:(src+1)*size])
		shuffled.BatchIndices[dst] = batch.BatchIndices[src]
		shuffled.Positions[dst] = batch.Positions[src]
	}

	got, parallel := newTestEngine(t, cfg, 8)
	require.NoError(t, parallel.Append(shuffled, table))

	if diff := cmp.Diff(readAll(want), readAll(got)); diff != "" {
		t.Errorf("pool mismatch (-want +got):\n%s", diff)
	}

	keys, values, err := parallel.Gather(table, 1)
	require.NoError(t, err)

	if diff := cmp.Diff(batch.Keys[37*size:], keys); diff != "" {
		t.Errorf("gathered keys mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(batch.Values[37*size:], values); diff != "" {
		t.Errorf("gathered values mismatch (-want +got):\n%s", diff)
	}
}

func TestAppendNoCrossSequenceBleed(t *testing.T) {
	cfg := Config{PageSize: 4, MaxNumPages: 32, NumKVHeads: 1, HeadDim: 4, DType: ml.DTypeF16}
	pool, engine := newTestEngine(t, cfg, 4)

	pages := rand.New(rand.NewPCG(3, 4)).Perm(32)
	seqA := Entry{Pages: []int32{int32(pages[0]), int32(pages[1]), int32(pages[2])}, LastPageLen: 4}
	seqB := Entry{Pages: []int32{int32(pages[3]), int32(pages[4])}, LastPageLen: 4}

	// Sequenz B komplett fuellen
	tableB := NewBatchPageTable(seqB)
	indices, positions, err := BatchIndicesPositions([]int32{0, 8}, []int32{0}, 8)
	require.NoError(t, err)
	require.NoError(t, engine.Append(AppendBatch{
		Keys:         tokenData(8, 4, 1),
		Values:       tokenData(8, 4, 50),
		BatchIndices: indices,
		Positions:    positions,
	}, tableB))

	wantKeys, wantValues, err := engine.Gather(tableB, 0)
	require.NoError(t, err)

	// Sequenz A mehrfach schreiben, auch ueberschreibend
	table := NewBatchPageTable(seqA, seqB)
	for step := range 3 {
		indices, positions, err := BatchIndicesPositions([]int32{0, 12, 12}, []int32{0, 8}, 12)
		require.NoError(t, err)
		require.NoError(t, engine.Append(AppendBatch{
			Keys:         tokenData(12, 4, float32(-100*step)),
			Values:       tokenData(12, 4, float32(-200*step)),
			BatchIndices: indices,
			Positions:    positions,
		}, table))
	}

	gotKeys, gotValues, err := engine.Gather(table, 1)
	require.NoError(t, err)

	if diff := cmp.Diff(wantKeys, gotKeys); diff != "" {
		t.Errorf("sequence B keys changed (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(wantValues, gotValues); diff != "" {
		t.Errorf("sequence B values changed (-want +got):\n%s", diff)
	}

	got := make([]float32, 4)
	pool.ReadSlot(int(seqA.Pages[2]), 3, Key, got)
	if diff := cmp.Diff([]float32{-156, -155, -154, -153}, got); diff != "" {
		t.Errorf("sequence A last key mismatch (-want +got):\n%s", diff)
	}
}

func TestAppendOverwrite(t *testing.T) {
	cfg := Config{PageSize: 4, MaxNumPages: 2, NumKVHeads: 1, HeadDim: 2, DType: ml.DTypeF32}
	pool, engine := newTestEngine(t, cfg, 1)

	table := NewBatchPageTable(Entry{Pages: []int32{1}, LastPageLen: 3})
	for _, v := range []float32{1, 2} {
		batch := AppendBatch{
			Keys:         []float32{v, v},
			Values:       []float32{-v, -v},
			BatchIndices: []int32{0},
			Positions:    []int32{2},
		}
		require.NoError(t, engine.Append(batch, table))
	}

	got := make([]float32, 2)
	pool.ReadSlot(1, 2, Key, got)
	if diff := cmp.Diff([]float32{2, 2}, got); diff != "" {
		t.Errorf("key mismatch (-want +got):\n%s", diff)
	}

	pool.ReadSlot(1, 2, Value, got)
	if diff := cmp.Diff([]float32{-2, -2}, got); diff != "" {
		t.Errorf("value mismatch (-want +got):\n%s", diff)
	}
}

func TestAppendErrors(t *testing.T) {
	cfg := Config{PageSize: 4, MaxNumPages: 4, NumKVHeads: 1, HeadDim: 2, DType: ml.DTypeF32}
	valid := NewBatchPageTable(Entry{Pages: []int32{3, 1}, LastPageLen: 4})

	tests := []struct {
		name  string
		batch AppendBatch
		table BatchPageTable
		err   error
	}{
		{
			name: "letztes Token ohne Page",
			batch: AppendBatch{
				Keys: tokenData(3, 2, 1), Values: tokenData(3, 2, 1),
				BatchIndices: []int32{0, 0, 0}, Positions: []int32{6, 7, 8},
			},
			table: valid,
			err:   ErrCapacityExceeded,
		},
		{
			name: "Page ausserhalb des Pools",
			batch: AppendBatch{
				Keys: tokenData(2, 2, 1), Values: tokenData(2, 2, 1),
				BatchIndices: []int32{0, 0}, Positions: []int32{0, 4},
			},
			table: NewBatchPageTable(Entry{Pages: []int32{0, 4}, LastPageLen: 1}),
			err:   ErrOutOfRange,
		},
		{
			name: "negative Page",
			batch: AppendBatch{
				Keys: tokenData(1, 2, 1), Values: tokenData(1, 2, 1),
				BatchIndices: []int32{0}, Positions: []int32{0},
			},
			table: NewBatchPageTable(Entry{Pages: []int32{-1}, LastPageLen: 0}),
			err:   ErrOutOfRange,
		},
		{
			name: "unbekannte Sequenz",
			batch: AppendBatch{
				Keys: tokenData(1, 2, 1), Values: tokenData(1, 2, 1),
				BatchIndices: []int32{1}, Positions: []int32{0},
			},
			table: valid,
			err:   ErrMalformedBatch,
		},
		{
			name: "negative Position",
			batch: AppendBatch{
				Keys: tokenData(1, 2, 1), Values: tokenData(1, 2, 1),
				BatchIndices: []int32{0}, Positions: []int32{-1},
			},
			table: valid,
			err:   ErrMalformedBatch,
		},
		{
			name: "zu wenige Werte",
			batch: AppendBatch{
				Keys: tokenData(2, 2, 1), Values: tokenData(1, 2, 1),
				BatchIndices: []int32{0, 0}, Positions: []int32{0, 1},
			},
			table: valid,
			err:   ErrMalformedBatch,
		},
		{
			name: "batch indices fehlen",
			batch: AppendBatch{
				Keys: tokenData(2, 2, 1), Values: tokenData(2, 2, 1),
				BatchIndices: []int32{0}, Positions: []int32{0, 1},
			},
			table: valid,
			err:   ErrMalformedBatch,
		},
		{
			name: "ungueltige Tabelle",
			batch: AppendBatch{
				Keys: tokenData(1, 2, 1), Values: tokenData(1, 2, 1),
				BatchIndices: []int32{0}, Positions: []int32{0},
			},
			table: BatchPageTable{Indices: []int32{0, 1}, Indptr: []int32{0, 1}, LastPageLen: []int32{1}},
			err:   ErrMalformedBatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool, engine := newTestEngine(t, cfg, 2)

			err := engine.Append(tt.batch, tt.table)
			require.ErrorIs(t, err, tt.err)

			if diff := cmp.Diff(make([]float32, len(readAll(pool))), readAll(pool)); diff != "" {
				t.Errorf("pool nach fehlgeschlagenem Append veraendert:\n%s", diff)
			}
		})
	}
}

func BenchmarkAppend(b *testing.B) {
	for _, nnz := range []int{1, 16, 256} {
		b.Run(fmt.Sprintf("tokens=%d", nnz), func(b *testing.B) {
			benchmarkAppend(b, nnz)
		})
	}
}

func benchmarkAppend(b *testing.B, nnz int) {
	cfg := Config{PageSize: 16, MaxNumPages: 4096, NumKVHeads: 4, HeadDim: 128, DType: ml.DTypeF16}
	pool, err := NewPool(cfg)
	if err != nil {
		b.Fatal(err)
	}
	engine := NewEngine(pool, 0)

	numPages := pagesFor(4096+nnz, cfg.PageSize)
	table := BatchPageTable{
		Indices:     spreadPages(numPages, cfg.MaxNumPages),
		Indptr:      []int32{0, int32(numPages)},
		LastPageLen: []int32{0},
	}
	batchIndices, positions, err := BatchIndicesPositions([]int32{0, int32(nnz)}, []int32{4096}, nnz)
	if err != nil {
		b.Fatal(err)
	}

	batch := AppendBatch{
		Keys:         tokenData(nnz, cfg.TokenSize(), 0),
		Values:       tokenData(nnz, cfg.TokenSize(), 0),
		BatchIndices: batchIndices,
		Positions:    positions,
	}

	b.SetBytes(int64(2 * nnz * cfg.TokenSize() * cfg.DType.Size()))
	b.ResetTimer()
	for range b.N {
		if err := engine.Append(batch, table); err != nil {
			b.Fatal(err)
		}
	}
}
