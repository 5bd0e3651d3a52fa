// Package kvcache - Decode-Schritt
//
// Dieses Modul enthaelt den Ablauf eines Schritts ueber den Paged-Cache:
// - Append: Laengen ableiten, Positionen aufloesen, Page-Tabellen wachsen lassen,
//   Append-Engine aufrufen, Ergebnis uebernehmen
// - Gather/Read: Lesezugriff fuer die Attention-Stufe
package kvcache

import (
	"fmt"
	"log/slog"
)

// Append appends counts[i] tokens to sequence seqs[i] and returns the position
// assigned to every token. keys and values hold the tokens of all sequences
// back to back in the order of seqs, each [num_kv_heads, head_dim].
//
// The step is all-or-nothing: on error no page table changes and pages
// allocated for the step are returned.
func (c *Paged) Append(seqs []int, counts []int, keys, values []float32) ([]int32, error) {
	res, err := c.table.Reserve(seqs, counts)
	if err != nil {
		return nil, err
	}

	appendIndptr := make([]int32, len(counts)+1)
	for i, n := range counts {
		appendIndptr[i+1] = appendIndptr[i] + int32(n)
	}
	nnz := int(appendIndptr[len(counts)])

	batchIndices, positions, err := BatchIndicesPositions(appendIndptr, res.SeqLens(), nnz)
	if err != nil {
		res.Cancel()
		return nil, err
	}

	batch := AppendBatch{
		Keys:         keys,
		Values:       values,
		BatchIndices: batchIndices,
		Positions:    positions,
	}

	if err := c.engine.Append(batch, res.Batch()); err != nil {
		res.Cancel()
		return nil, err
	}

	res.Commit()

	slog.Debug("kv cache append", "sequences", len(seqs), "tokens", nnz, "new_pages", res.Added(), "free_pages", c.alloc.Available())
	return positions, nil
}

// Gather liest alle K/V-Vektoren einer Sequenz in logischer Reihenfolge
func (c *Paged) Gather(seq int) (keys, values []float32, err error) {
	table, err := c.table.Batch([]int{seq})
	if err != nil {
		return nil, nil, err
	}

	return c.engine.Gather(table, 0)
}

// Read liest den Vektor einer Position innerhalb der Sequenzlaenge
func (c *Paged) Read(seq, position int, kind Kind, dst []float32) error {
	length, err := c.table.Len(seq)
	if err != nil {
		return err
	}

	if position < 0 || position >= length {
		return fmt.Errorf("position %v outside sequence %v of length %v", position, seq, length)
	}

	table, err := c.table.Batch([]int{seq})
	if err != nil {
		return err
	}

	return c.engine.ReadPosition(table, 0, position, kind, dst)
}
