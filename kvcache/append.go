// Package kvcache - Append-Engine
//
// Dieses Modul enthaelt den Scatter-Write, der K/V-Vektoren neuer Tokens
// ueber die Batch-Page-Tabelle in den Page-Pool schreibt:
// - plan: validiert Batch und Tabelle und berechnet alle Ziel-Slots,
//   bevor irgendein Slot geschrieben wird
// - Append: schreibt die Tokens parallel (ein parallel-for ueber Token-Bloecke)
package kvcache

import (
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/ollama/pagedkv/logutil"
)

// minTokensPerTask is the smallest block of tokens handed to one goroutine
const minTokensPerTask = 16

// Engine writes append batches into a pool. Writes of distinct tokens are
// independent; callers must not let two tokens of one call target the same
// (page, slot), which holds as long as no page is assigned to two sequences.
type Engine struct {
	pool    *Pool
	workers int
}

type slotRef struct {
	page int32
	slot int32
}

// plan resolves the physical slot of every token. It returns an error before
// anything is written if the batch or table is inconsistent.
func (e *Engine) plan(batch AppendBatch, table BatchPageTable) ([]slotRef, error) {
	cfg := e.pool.cfg

	if err := table.Validate(cfg.PageSize); err != nil {
		return nil, err
	}

	nnz := batch.Len()
	if len(batch.BatchIndices) != nnz {
		return nil, fmt.Errorf("%w (batch indices: %v positions: %v)", ErrMalformedBatch, len(batch.BatchIndices), nnz)
	}

	tokenSize := cfg.TokenSize()
	if len(batch.Keys) != nnz*tokenSize || len(batch.Values) != nnz*tokenSize {
		return nil, fmt.Errorf("%w (keys: %v values: %v want: %v x %v)", ErrMalformedBatch, len(batch.Keys), len(batch.Values), nnz, tokenSize)
	}

	numSeqs := table.NumSequences()
	refs := make([]slotRef, nnz)
	for t := range nnz {
		seq, pos := int(batch.BatchIndices[t]), int(batch.Positions[t])
		if seq < 0 || seq >= numSeqs {
			return nil, fmt.Errorf("%w (token: %v batch index: %v sequences: %v)", ErrMalformedBatch, t, seq, numSeqs)
		}
		if pos < 0 {
			return nil, fmt.Errorf("%w (token: %v position: %v)", ErrMalformedBatch, t, pos)
		}

		pageSlot, slotOffset := Locate(pos, cfg.PageSize)
		idx := int(table.Indptr[seq]) + pageSlot
		if idx >= int(table.Indptr[seq+1]) {
			return nil, fmt.Errorf("%w (sequence: %v position: %v page slot: %v pages: %v)",
				ErrCapacityExceeded, seq, pos, pageSlot, table.Indptr[seq+1]-table.Indptr[seq])
		}

		page := table.Indices[idx]
		if page < 0 || int(page) >= cfg.MaxNumPages {
			return nil, fmt.Errorf("%w (sequence: %v page: %v pool: %v)", ErrOutOfRange, seq, page, cfg.MaxNumPages)
		}

		refs[t] = slotRef{page: page, slot: int32(slotOffset)}
	}

	return refs, nil
}

// Append writes batch.Keys[t] and batch.Values[t] to the slot addressed by
// (BatchIndices[t], Positions[t]) through table. The table must already cover
// every position; the engine never allocates pages. If an error is returned
// nothing has been written.
func (e *Engine) Append(batch AppendBatch, table BatchPageTable) error {
	refs, err := e.plan(batch, table)
	if err != nil {
		return err
	}

	tokenSize := e.pool.tokenSize
	e.parallelFor(len(refs), func(start, end int) {
		for t := start; t < end; t++ {
			ref := refs[t]
			off := t * tokenSize
			e.pool.WriteSlot(int(ref.page), int(ref.slot), Key, batch.Keys[off:off+tokenSize])
			e.pool.WriteSlot(int(ref.page), int(ref.slot), Value, batch.Values[off:off+tokenSize])
		}
	})

	logutil.Trace("kvcache append", "tokens", len(refs), "sequences", table.NumSequences())
	return nil
}

// parallelFor splits [0, n) into blocks and runs fn on up to e.workers
// goroutines. Small ranges run on the calling goroutine.
func (e *Engine) parallelFor(n int, fn func(start, end int)) {
	if n <= minTokensPerTask || e.workers <= 1 {
		fn(0, n)
		return
	}

	chunk := max(minTokensPerTask, (n+4*e.workers-1)/(4*e.workers))

	var g errgroup.Group
	g.SetLimit(e.workers)
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		g.Go(func() error {
			fn(start, end)
			return nil
		})
	}
	g.Wait() //nolint:errcheck
}

// Workers gibt die Anzahl paralleler Worker zurueck
func (e *Engine) Workers() int {
	return e.workers
}

func defaultWorkers(n int) int {
	if n <= 0 {
		return runtime.NumCPU()
	}
	return n
}
