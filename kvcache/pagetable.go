// Package kvcache - Page-Tabellen der Sequenzen
//
// Dieses Modul verwaltet die Page-Tabelle jeder Sequenz auf Aufruferseite:
// - Add/Remove: Sequenz anlegen bzw. ihre Pages an den Allocator zurueckgeben
// - Reserve: waechst die Tabellen fuer einen Schritt (Kapazitaetsplanung)
// - Reservation.Commit/Cancel: uebernimmt oder verwirft das Wachstum
// - Truncate: kuerzt eine Sequenz und gibt ueberzaehlige Pages frei
// - Batch: baut die Batch-Page-Tabelle fuer eine Menge von Sequenzen
package kvcache

import (
	"fmt"
	"slices"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// PageTable holds the page table entries of all live sequences in the order
// they were added. It is not safe for concurrent use.
type PageTable struct {
	pageSize int
	alloc    Allocator
	seqs     *orderedmap.OrderedMap[int, Entry]
}

func NewPageTable(pageSize int, alloc Allocator) *PageTable {
	return &PageTable{
		pageSize: pageSize,
		alloc:    alloc,
		seqs:     orderedmap.New[int, Entry](),
	}
}

// Add legt eine leere Sequenz an
func (t *PageTable) Add(seq int) error {
	if _, ok := t.seqs.Get(seq); ok {
		return fmt.Errorf("sequence %v already exists", seq)
	}

	t.seqs.Set(seq, Entry{})
	return nil
}

// Entry gibt eine Kopie der Page-Tabelle einer Sequenz zurueck
func (t *PageTable) Entry(seq int) (Entry, error) {
	e, ok := t.seqs.Get(seq)
	if !ok {
		return Entry{}, fmt.Errorf("%w (sequence: %v)", ErrUnknownSequence, seq)
	}

	return Entry{Pages: slices.Clone(e.Pages), LastPageLen: e.LastPageLen}, nil
}

// Len gibt die abgeleitete Laenge einer Sequenz zurueck
func (t *PageTable) Len(seq int) (int, error) {
	e, ok := t.seqs.Get(seq)
	if !ok {
		return 0, fmt.Errorf("%w (sequence: %v)", ErrUnknownSequence, seq)
	}

	return e.Len(t.pageSize), nil
}

// Sequences gibt alle Sequenzen in Einfuege-Reihenfolge zurueck
func (t *PageTable) Sequences() []int {
	seqs := make([]int, 0, t.seqs.Len())
	for pair := t.seqs.Oldest(); pair != nil; pair = pair.Next() {
		seqs = append(seqs, pair.Key)
	}
	return seqs
}

// UsedPages gibt die Anzahl aller an Sequenzen vergebenen Pages zurueck
func (t *PageTable) UsedPages() int {
	var n int
	for pair := t.seqs.Oldest(); pair != nil; pair = pair.Next() {
		n += len(pair.Value.Pages)
	}
	return n
}

// Batch builds the batch page table of seqs in the given order.
func (t *PageTable) Batch(seqs []int) (BatchPageTable, error) {
	entries := make([]Entry, len(seqs))
	for i, seq := range seqs {
		e, ok := t.seqs.Get(seq)
		if !ok {
			return BatchPageTable{}, fmt.Errorf("%w (sequence: %v)", ErrUnknownSequence, seq)
		}
		entries[i] = e
	}

	return NewBatchPageTable(entries...), nil
}

// Remove gibt alle Pages einer Sequenz frei und entfernt sie
func (t *PageTable) Remove(seq int) error {
	e, ok := t.seqs.Delete(seq)
	if !ok {
		return fmt.Errorf("%w (sequence: %v)", ErrUnknownSequence, seq)
	}

	t.alloc.Free(e.Pages...)
	return nil
}

// Truncate kuerzt eine Sequenz auf length Tokens
func (t *PageTable) Truncate(seq int, length int) error {
	e, ok := t.seqs.Get(seq)
	if !ok {
		return fmt.Errorf("%w (sequence: %v)", ErrUnknownSequence, seq)
	}

	cur := e.Len(t.pageSize)
	if length < 0 || length > cur {
		return fmt.Errorf("cannot truncate sequence %v of length %v to %v", seq, cur, length)
	}

	keep := pagesFor(length, t.pageSize)
	t.alloc.Free(e.Pages[keep:]...)

	e.Pages = slices.Clip(e.Pages[:keep])
	e.LastPageLen = lastPageLen(length, keep, t.pageSize)
	t.seqs.Set(seq, e)
	return nil
}

// set replaces the entry of an existing sequence without touching the allocator
func (t *PageTable) set(seq int, e Entry) {
	t.seqs.Set(seq, e)
}

// Reservation is the growth of a set of sequences for one step. It has to be
// either committed or cancelled.
type Reservation struct {
	table   *PageTable
	seqs    []int
	grown   []Entry
	added   []int32
	prevLen []int32
}

// Reserve grows the page tables of seqs so that counts[i] more tokens fit into
// sequence seqs[i]. Either all pages are allocated or none are.
func (t *PageTable) Reserve(seqs []int, counts []int) (*Reservation, error) {
	if len(seqs) != len(counts) {
		return nil, fmt.Errorf("%w (sequences: %v counts: %v)", ErrMalformedBatch, len(seqs), len(counts))
	}

	r := &Reservation{
		table:   t,
		seqs:    slices.Clone(seqs),
		grown:   make([]Entry, len(seqs)),
		prevLen: make([]int32, len(seqs)),
	}

	seen := make(map[int]struct{}, len(seqs))
	for i, seq := range seqs {
		if _, ok := seen[seq]; ok {
			r.Cancel()
			return nil, fmt.Errorf("%w (sequence %v appears twice)", ErrMalformedBatch, seq)
		}
		seen[seq] = struct{}{}

		e, ok := t.seqs.Get(seq)
		if !ok {
			r.Cancel()
			return nil, fmt.Errorf("%w (sequence: %v)", ErrUnknownSequence, seq)
		}

		if counts[i] < 0 {
			r.Cancel()
			return nil, fmt.Errorf("%w (sequence: %v count: %v)", ErrMalformedBatch, seq, counts[i])
		}

		cur := e.Len(t.pageSize)
		newLen := cur + counts[i]
		pages := slices.Clone(e.Pages)

		if extra := pagesFor(newLen, t.pageSize) - len(pages); extra > 0 {
			added, err := t.alloc.Allocate(extra)
			if err != nil {
				r.Cancel()
				return nil, err
			}
			r.added = append(r.added, added...)
			pages = append(pages, added...)
		}

		r.prevLen[i] = int32(cur)
		r.grown[i] = Entry{Pages: pages, LastPageLen: lastPageLen(newLen, len(pages), t.pageSize)}
	}

	return r, nil
}

// SeqLens gibt die Laengen der Sequenzen vor dem Wachstum zurueck
func (r *Reservation) SeqLens() []int32 {
	return r.prevLen
}

// Batch gibt die gewachsene Batch-Page-Tabelle zurueck
func (r *Reservation) Batch() BatchPageTable {
	return NewBatchPageTable(r.grown...)
}

// Added gibt die Anzahl neu allozierter Pages zurueck
func (r *Reservation) Added() int {
	return len(r.added)
}

// Commit uebernimmt das Wachstum in die Page-Tabellen
func (r *Reservation) Commit() {
	for i, seq := range r.seqs {
		r.table.set(seq, r.grown[i])
	}
	r.added = nil
}

// Cancel gibt alle reservierten Pages zurueck
func (r *Reservation) Cancel() {
	r.table.alloc.Free(r.added...)
	r.added = nil
}

// pagesFor returns the number of pages needed for length tokens
func pagesFor(length, pageSize int) int {
	return (length + pageSize - 1) / pageSize
}

func lastPageLen(length, numPages, pageSize int) int32 {
	if numPages == 0 {
		return 0
	}
	return int32(length - (numPages-1)*pageSize)
}
