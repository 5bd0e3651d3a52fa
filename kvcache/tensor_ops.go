// Package kvcache - Lese-Operationen fuer die Attention-Stufe
//
// Dieses Modul enthaelt die Umkehrung der Positions-Aufloesung:
// - Gather: liest alle gueltigen K/V-Vektoren einer Sequenz in logischer Reihenfolge
// - ReadPosition: liest den K- oder V-Vektor einer einzelnen Position
package kvcache

import "fmt"

// Gather returns the keys and values of every valid token of sequence seq in
// table, flattened [seq_len, num_kv_heads, head_dim]. Callers must make sure all
// appends to those pages have completed.
func (e *Engine) Gather(table BatchPageTable, seq int) (keys, values []float32, err error) {
	cfg := e.pool.cfg

	lens, err := table.SeqLens(cfg.PageSize)
	if err != nil {
		return nil, nil, err
	}

	if seq < 0 || seq >= len(lens) {
		return nil, nil, fmt.Errorf("%w (sequence: %v sequences: %v)", ErrMalformedBatch, seq, len(lens))
	}

	pages := table.Pages(seq)
	for _, page := range pages {
		if page < 0 || int(page) >= cfg.MaxNumPages {
			return nil, nil, fmt.Errorf("%w (sequence: %v page: %v pool: %v)", ErrOutOfRange, seq, page, cfg.MaxNumPages)
		}
	}

	n := int(lens[seq])
	tokenSize := cfg.TokenSize()
	keys = make([]float32, n*tokenSize)
	values = make([]float32, n*tokenSize)

	for pos := range n {
		pageSlot, slotOffset := Locate(pos, cfg.PageSize)
		page := int(pages[pageSlot])
		off := pos * tokenSize
		e.pool.ReadSlot(page, slotOffset, Key, keys[off:off+tokenSize])
		e.pool.ReadSlot(page, slotOffset, Value, values[off:off+tokenSize])
	}

	return keys, values, nil
}

// ReadPosition liest den Vektor einer Position ohne Pruefung gegen die Sequenzlaenge,
// nur gegen die zugewiesenen Pages.
func (e *Engine) ReadPosition(table BatchPageTable, seq, position int, kind Kind, dst []float32) error {
	cfg := e.pool.cfg

	if err := table.Validate(cfg.PageSize); err != nil {
		return err
	}

	if seq < 0 || seq >= table.NumSequences() || position < 0 {
		return fmt.Errorf("%w (sequence: %v position: %v)", ErrMalformedBatch, seq, position)
	}

	pageSlot, slotOffset := Locate(position, cfg.PageSize)
	pages := table.Pages(seq)
	if pageSlot >= len(pages) {
		return fmt.Errorf("%w (sequence: %v position: %v pages: %v)", ErrCapacityExceeded, seq, position, len(pages))
	}

	page := pages[pageSlot]
	if page < 0 || int(page) >= cfg.MaxNumPages {
		return fmt.Errorf("%w (sequence: %v page: %v pool: %v)", ErrOutOfRange, seq, page, cfg.MaxNumPages)
	}

	if len(dst) != cfg.TokenSize() {
		return fmt.Errorf("%w (buffer: %v token size: %v)", ErrMalformedBatch, len(dst), cfg.TokenSize())
	}

	e.pool.ReadSlot(int(page), slotOffset, kind, dst)
	return nil
}
