// Package kvcache - Typen und Datenstrukturen
//
// Dieses Modul enthaelt die gemeinsamen Definitionen des Paged-KV-Cache:
// - Config: Form des Page-Pools (page_size, Heads, Head-Dimension, DType)
// - Kind: Selektor fuer K oder V innerhalb einer Page
// - Entry / BatchPageTable: Page-Tabellen pro Sequenz und fuer einen Batch
// - AppendBatch: die an die Append-Engine uebergebenen Tokens
// - Fehler-Taxonomie (ErrCapacityExceeded, ErrMalformedBatch, ...)
package kvcache

import (
	"errors"
	"fmt"

	"github.com/ollama/pagedkv/ml"
)

var (
	// ErrCapacityExceeded: eine Position benoetigt eine Page, die der Sequenz
	// in der Page-Tabelle (noch) nicht zugewiesen ist.
	ErrCapacityExceeded = errors.New("page table does not cover append position")

	// ErrMalformedBatch: indptr/append_indptr verletzen die Halboffene-Bereiche-Invariante
	// oder Formen von K/V, Positionen und Tabellen passen nicht zusammen.
	ErrMalformedBatch = errors.New("malformed batch")

	// ErrOutOfRange: eine aufgeloeste physische Page liegt ausserhalb des Pools.
	ErrOutOfRange = errors.New("physical page out of pool range")

	// ErrPoolExhausted: der Allocator hat nicht genug freie Pages.
	ErrPoolExhausted = errors.New("page pool exhausted")

	// ErrUnknownSequence: die Sequenz ist nicht registriert.
	ErrUnknownSequence = errors.New("unknown sequence")
)

// Kind selects the key or value half of a page.
type Kind int

const (
	Key Kind = iota
	Value
)

func (k Kind) String() string {
	if k == Key {
		return "key"
	}
	return "value"
}

// Config beschreibt die Form des Page-Pools. Sie ist nach der Konstruktion unveraenderlich.
type Config struct {
	// PageSize ist die Anzahl Token-Slots pro Page
	PageSize int

	// MaxNumPages ist die Kapazitaet des Pools
	MaxNumPages int

	NumKVHeads int
	HeadDim    int

	// DType ist der Speichertyp der Pages
	DType ml.DType
}

// TokenSize ist die Anzahl Elemente eines K- (oder V-) Vektors eines Tokens ueber alle Heads
func (c Config) TokenSize() int {
	return c.NumKVHeads * c.HeadDim
}

func (c Config) Validate() error {
	switch {
	case c.PageSize <= 0:
		return fmt.Errorf("page size must be positive, got %d", c.PageSize)
	case c.MaxNumPages <= 0:
		return fmt.Errorf("max number of pages must be positive, got %d", c.MaxNumPages)
	case c.NumKVHeads <= 0 || c.HeadDim <= 0:
		return fmt.Errorf("invalid head shape (heads: %d head dim: %d)", c.NumKVHeads, c.HeadDim)
	case c.DType.Size() == 0:
		return fmt.Errorf("unsupported dtype %v", c.DType)
	}
	return nil
}

// Entry is the page table of a single sequence: the pages it owns in logical
// order and the number of occupied slots in the last one.
type Entry struct {
	Pages       []int32
	LastPageLen int32
}

// Len gibt die abgeleitete Sequenzlaenge zurueck
func (e Entry) Len(pageSize int) int {
	return SeqLen(len(e.Pages), int(e.LastPageLen), pageSize)
}

// BatchPageTable concatenates the page lists of the sequences in a batch.
// Sequence i owns Indices[Indptr[i]:Indptr[i+1]].
type BatchPageTable struct {
	Indices     []int32
	Indptr      []int32
	LastPageLen []int32
}

// AppendBatch holds the tokens written by one Append call. Keys and Values are
// flattened [nnz, num_kv_heads, head_dim]; BatchIndices and Positions have one
// entry per token.
type AppendBatch struct {
	Keys   []float32
	Values []float32

	BatchIndices []int32
	Positions    []int32
}

// Len gibt die Anzahl Tokens im Batch zurueck
func (b AppendBatch) Len() int {
	return len(b.Positions)
}
