package kvcache

import (
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestFreeList(t *testing.T) {
	l := NewFreeList(5)

	pages, err := l.Allocate(3)
	require.NoError(t, err)
	if diff := cmp.Diff([]int32{0, 1, 2}, pages); diff != "" {
		t.Errorf("pages mismatch (-want +got):\n%s", diff)
	}

	if l.Available() != 2 {
		t.Errorf("Available() = %d, erwartet 2", l.Available())
	}

	_, err = l.Allocate(3)
	require.ErrorIs(t, err, ErrPoolExhausted)
	if l.Available() != 2 {
		t.Errorf("fehlgeschlagene Allokation veraendert die Free-Liste: %d", l.Available())
	}

	// zurueckgegebene Pages werden in derselben Reihenfolge wieder vergeben
	l.Free(pages[1:]...)
	again, err := l.Allocate(2)
	require.NoError(t, err)
	if diff := cmp.Diff([]int32{1, 2}, again); diff != "" {
		t.Errorf("pages mismatch (-want +got):\n%s", diff)
	}

	none, err := l.Allocate(0)
	require.NoError(t, err)
	if len(none) != 0 {
		t.Errorf("Allocate(0) = %v", none)
	}
}

func TestFreeListDoubleFree(t *testing.T) {
	l := NewFreeList(2)

	pages, err := l.Allocate(1)
	require.NoError(t, err)

	l.Free(pages...)
	require.Panics(t, func() { l.Free(pages...) })
	require.Panics(t, func() { l.Free(7) })
}

func TestShuffledFreeList(t *testing.T) {
	l := NewShuffledFreeList(100, rand.New(rand.NewPCG(42, 42)))

	pages, err := l.Allocate(100)
	require.NoError(t, err)

	if slices.IsSorted(pages) {
		t.Error("Pages sind nicht gemischt")
	}

	slices.Sort(pages)
	for i, p := range pages {
		if p != int32(i) {
			t.Fatalf("page %d fehlt oder doppelt (erhalten %d)", i, p)
		}
	}
}
