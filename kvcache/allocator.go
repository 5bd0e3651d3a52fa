// Package kvcache - Page-Allocator
//
// Dieses Modul enthaelt die Vergabe von Page-Indizes an Sequenzen:
// - Allocator: Schnittstelle des Allocators (Vergabe und Rueckgabe, keine Eviction)
// - FreeList: Referenz-Implementierung ueber eine Free-Liste
// - NewShuffledFreeList: vergibt Pages in zufaelliger Reihenfolge (simuliert Fragmentierung)
package kvcache

import (
	"fmt"
	"math/rand/v2"

	"github.com/emirpasic/gods/v2/lists/arraylist"
)

// Allocator hands out page indices. Pages returned by Allocate must be unique
// among all outstanding allocations and within pool bounds.
type Allocator interface {
	Allocate(n int) ([]int32, error)
	Free(pages ...int32)
	Available() int
}

// FreeList is a LIFO free list of page indices.
type FreeList struct {
	free  *arraylist.List[int32]
	inUse []bool
}

// NewFreeList vergibt Pages in aufsteigender Reihenfolge
func NewFreeList(numPages int) *FreeList {
	order := make([]int32, numPages)
	for i := range order {
		order[i] = int32(numPages - 1 - i)
	}
	return newFreeList(order)
}

// NewShuffledFreeList vergibt Pages in einer zufaelligen Permutation
func NewShuffledFreeList(numPages int, r *rand.Rand) *FreeList {
	order := make([]int32, numPages)
	for i, p := range r.Perm(numPages) {
		order[i] = int32(p)
	}
	return newFreeList(order)
}

// newFreeList takes pages in reverse allocation order
func newFreeList(order []int32) *FreeList {
	l := &FreeList{
		free:  arraylist.New[int32](),
		inUse: make([]bool, len(order)),
	}
	l.free.Add(order...)
	return l
}

// Allocate nimmt n Pages von der Free-Liste oder keine, falls nicht genug frei sind
func (l *FreeList) Allocate(n int) ([]int32, error) {
	if n < 0 {
		return nil, fmt.Errorf("invalid page count %v", n)
	}

	if n > l.free.Size() {
		return nil, fmt.Errorf("%w (requested: %v free: %v)", ErrPoolExhausted, n, l.free.Size())
	}

	pages := make([]int32, n)
	for i := range pages {
		last := l.free.Size() - 1
		page, _ := l.free.Get(last)
		l.free.Remove(last)

		l.inUse[page] = true
		pages[i] = page
	}

	return pages, nil
}

// Free gibt Pages zurueck. Doppelte Rueckgabe ist ein Programmierfehler.
func (l *FreeList) Free(pages ...int32) {
	for i := len(pages) - 1; i >= 0; i-- {
		page := pages[i]
		if page < 0 || int(page) >= len(l.inUse) || !l.inUse[page] {
			panic(fmt.Errorf("freeing page %v that is not allocated", page))
		}

		l.inUse[page] = false
		l.free.Add(page)
	}
}

func (l *FreeList) Available() int {
	return l.free.Size()
}
