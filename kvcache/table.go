// Package kvcache - Batch-Page-Tabelle
//
// Dieses Modul enthaelt die flache Page-Tabelle eines Batches
// (Indices + Indptr + LastPageLen als parallele Arrays):
// - NewBatchPageTable: baut die Tabelle aus Entries
// - Validate: prueft die indptr-Invarianten
// - SeqLens/SeqLen: leitet die Sequenzlaengen ab
package kvcache

import "fmt"

// SeqLen leitet die Laenge einer Sequenz aus Page-Anzahl und Fuellstand der letzten Page ab.
// Eine Sequenz ohne Pages hat Laenge 0. lastPageLen == 0 bei vorhandenen Pages
// bedeutet eine leere, bereits zugewiesene letzte Page.
func SeqLen(numPages, lastPageLen, pageSize int) int {
	if numPages == 0 {
		return 0
	}
	return (numPages-1)*pageSize + lastPageLen
}

// NewBatchPageTable concatenates the page lists of entries in order.
func NewBatchPageTable(entries ...Entry) BatchPageTable {
	var total int
	for _, e := range entries {
		total += len(e.Pages)
	}

	t := BatchPageTable{
		Indices:     make([]int32, 0, total),
		Indptr:      make([]int32, 1, len(entries)+1),
		LastPageLen: make([]int32, 0, len(entries)),
	}

	for _, e := range entries {
		t.Indices = append(t.Indices, e.Pages...)
		t.Indptr = append(t.Indptr, int32(len(t.Indices)))
		t.LastPageLen = append(t.LastPageLen, e.LastPageLen)
	}

	return t
}

// NumSequences gibt die Anzahl Sequenzen der Tabelle zurueck
func (t BatchPageTable) NumSequences() int {
	return max(len(t.Indptr)-1, 0)
}

// Pages gibt die Pages der Sequenz i zurueck. Die Tabelle muss gueltig sein.
func (t BatchPageTable) Pages(i int) []int32 {
	return t.Indices[t.Indptr[i]:t.Indptr[i+1]]
}

// Validate prueft, dass Indptr bei 0 beginnt, monoton nicht fallend ist und
// genau Indices abdeckt, und dass jedes LastPageLen in [0, pageSize] liegt.
func (t BatchPageTable) Validate(pageSize int) error {
	if err := validateIndptr(t.Indptr, len(t.Indices), "page indptr"); err != nil {
		return err
	}

	if len(t.LastPageLen) != t.NumSequences() {
		return fmt.Errorf("%w (last page lengths: %v sequences: %v)", ErrMalformedBatch, len(t.LastPageLen), t.NumSequences())
	}

	for i, n := range t.LastPageLen {
		if n < 0 || int(n) > pageSize {
			return fmt.Errorf("%w (sequence: %v last page length: %v page size: %v)", ErrMalformedBatch, i, n, pageSize)
		}
	}

	return nil
}

// SeqLens leitet die aktuelle Laenge jeder Sequenz der Tabelle ab
func (t BatchPageTable) SeqLens(pageSize int) ([]int32, error) {
	if err := t.Validate(pageSize); err != nil {
		return nil, err
	}

	lens := make([]int32, t.NumSequences())
	for i := range lens {
		lens[i] = int32(SeqLen(int(t.Indptr[i+1]-t.Indptr[i]), int(t.LastPageLen[i]), pageSize))
	}

	return lens, nil
}

// validateIndptr checks the half-open range encoding of a flat list of length n
func validateIndptr(indptr []int32, n int, name string) error {
	if len(indptr) == 0 {
		return fmt.Errorf("%w (%s is empty)", ErrMalformedBatch, name)
	}

	if indptr[0] != 0 {
		return fmt.Errorf("%w (%s starts at %v)", ErrMalformedBatch, name, indptr[0])
	}

	for i := 1; i < len(indptr); i++ {
		if indptr[i] < indptr[i-1] {
			return fmt.Errorf("%w (%s decreases at %v: %v < %v)", ErrMalformedBatch, name, i, indptr[i], indptr[i-1])
		}
	}

	if last := indptr[len(indptr)-1]; int(last) != n {
		return fmt.Errorf("%w (%s ends at %v, list length %v)", ErrMalformedBatch, name, last, n)
	}

	return nil
}
