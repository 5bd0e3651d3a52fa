// Package kvcache - Positions-Aufloesung
//
// Dieses Modul enthaelt:
// - BatchIndicesPositions: ordnet jedem Token des flachen Append-Batches
//   seine Sequenz und seine absolute Position zu
// - Locate: zerlegt eine Position in (page_slot, slot_offset)
package kvcache

import "fmt"

// BatchIndicesPositions resolves, for every token rank in [0, nnz), the sequence
// it belongs to and its absolute position in that sequence. Sequence i owns
// ranks [appendIndptr[i], appendIndptr[i+1]) and its tokens are placed at
// seqLens[i], seqLens[i]+1, ...
func BatchIndicesPositions(appendIndptr, seqLens []int32, nnz int) (batchIndices, positions []int32, err error) {
	if err := validateIndptr(appendIndptr, nnz, "append indptr"); err != nil {
		return nil, nil, err
	}

	if len(seqLens) != len(appendIndptr)-1 {
		return nil, nil, fmt.Errorf("%w (sequence lengths: %v sequences: %v)", ErrMalformedBatch, len(seqLens), len(appendIndptr)-1)
	}

	batchIndices = make([]int32, nnz)
	positions = make([]int32, nnz)

	for i, seqLen := range seqLens {
		if seqLen < 0 {
			return nil, nil, fmt.Errorf("%w (sequence: %v length: %v)", ErrMalformedBatch, i, seqLen)
		}

		start, end := appendIndptr[i], appendIndptr[i+1]
		for rank := start; rank < end; rank++ {
			batchIndices[rank] = int32(i)
			positions[rank] = seqLen + rank - start
		}
	}

	return batchIndices, positions, nil
}

// Locate gibt die Page innerhalb der Sequenz und den Offset innerhalb dieser Page zurueck
func Locate(position, pageSize int) (pageSlot, slotOffset int) {
	return position / pageSize, position % pageSize
}
