// Package kvcache - Page-Pool
//
// Dieses Modul enthaelt den Page-Pool, eine einmalig allozierte, flache Arena
// mit dem Layout [max_num_pages, 2 (K/V), page_size, num_kv_heads, head_dim].
// Pages werden nur ueber ihren Index adressiert und nie verschoben.
// - WriteSlot/ReadSlot: positionierter Zugriff auf einen Token-Slot
// - CopySlot: kopiert K und V eines Slots in einen anderen
package kvcache

import "fmt"

// Pool is the backing store shared by all sequences.
type Pool struct {
	cfg   Config
	store storage

	tokenSize  int
	kvStride   int
	pageStride int
}

// NewPool alloziert den gesamten Speicher des Pools
func NewPool(cfg Config) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tokenSize := cfg.TokenSize()
	kvStride := cfg.PageSize * tokenSize
	pageStride := 2 * kvStride

	store, err := newStorage(cfg.DType, cfg.MaxNumPages*pageStride)
	if err != nil {
		return nil, err
	}

	return &Pool{
		cfg:        cfg,
		store:      store,
		tokenSize:  tokenSize,
		kvStride:   kvStride,
		pageStride: pageStride,
	}, nil
}

func (p *Pool) Config() Config {
	return p.cfg
}

// NumPages gibt die Kapazitaet des Pools zurueck
func (p *Pool) NumPages() int {
	return p.cfg.MaxNumPages
}

// Bytes gibt die Groesse des Backing-Stores in Bytes zurueck
func (p *Pool) Bytes() int64 {
	return int64(p.store.len()) * int64(p.cfg.DType.Size())
}

// offset panics when page or slot are outside the pool. Callers that accept
// untrusted indices validate them first and return ErrOutOfRange instead.
func (p *Pool) offset(page, slot int, kind Kind) int {
	if page < 0 || page >= p.cfg.MaxNumPages {
		panic(fmt.Errorf("%w (page: %v pool: %v)", ErrOutOfRange, page, p.cfg.MaxNumPages))
	}
	if slot < 0 || slot >= p.cfg.PageSize {
		panic(fmt.Errorf("slot %v outside page of size %v", slot, p.cfg.PageSize))
	}

	return page*p.pageStride + int(kind)*p.kvStride + slot*p.tokenSize
}

// WriteSlot schreibt einen Token-Vektor (alle Heads) in einen Slot
func (p *Pool) WriteSlot(page, slot int, kind Kind, src []float32) {
	if len(src) != p.tokenSize {
		panic(fmt.Errorf("inconsistent token size (got: %v want: %v)", len(src), p.tokenSize))
	}

	p.store.write(p.offset(page, slot, kind), src)
}

// ReadSlot liest einen Token-Vektor (alle Heads) aus einem Slot
func (p *Pool) ReadSlot(page, slot int, kind Kind, dst []float32) {
	if len(dst) != p.tokenSize {
		panic(fmt.Errorf("inconsistent token size (got: %v want: %v)", len(dst), p.tokenSize))
	}

	p.store.read(p.offset(page, slot, kind), dst)
}

// CopySlot kopiert K und V eines Slots ohne Typ-Konvertierung
func (p *Pool) CopySlot(dstPage, dstSlot, srcPage, srcSlot int) {
	for _, kind := range []Kind{Key, Value} {
		p.store.copy(p.offset(dstPage, dstSlot, kind), p.offset(srcPage, srcSlot, kind), p.tokenSize)
	}
}
