// Package kvcache - Sequenz-Operationen
//
// Dieses Modul verwaltet Sequenz-bezogene Operationen:
// - Add: legt eine Sequenz an
// - Len/Entry/Sequences: Abfragen der Page-Tabellen
// - CopyPrefix: kopiert einen Praefix von einer Sequenz in eigene Pages einer anderen
// - Remove: entfernt eine Sequenz und gibt ihre Pages frei
// - Truncate: kuerzt eine Sequenz (z.B. verworfene Tokens)
package kvcache

import (
	"fmt"
	"log/slog"
)

func (c *Paged) Add(seq int) error {
	return c.table.Add(seq)
}

func (c *Paged) Len(seq int) (int, error) {
	return c.table.Len(seq)
}

func (c *Paged) Entry(seq int) (Entry, error) {
	return c.table.Entry(seq)
}

func (c *Paged) Sequences() []int {
	return c.table.Sequences()
}

// CopyPrefix replaces the contents of dstSeq with the first length tokens of
// srcSeq. The prefix is copied into pages owned by dstSeq; pages are never
// shared between sequences.
func (c *Paged) CopyPrefix(srcSeq, dstSeq int, length int) error {
	if srcSeq == dstSeq {
		return fmt.Errorf("cannot copy sequence %v onto itself", srcSeq)
	}

	src, err := c.table.Entry(srcSeq)
	if err != nil {
		return err
	}

	if _, err := c.table.Entry(dstSeq); err != nil {
		return err
	}

	pageSize := c.pool.cfg.PageSize
	if srcLen := src.Len(pageSize); length < 0 || length > srcLen {
		return fmt.Errorf("prefix length %v outside sequence %v of length %v", length, srcSeq, srcLen)
	}

	numPages := pagesFor(length, pageSize)
	pages, err := c.alloc.Allocate(numPages)
	if err != nil {
		return err
	}

	// Remove the contents of dstSeq so that we only have the copied prefix
	if err := c.table.Truncate(dstSeq, 0); err != nil {
		c.alloc.Free(pages...)
		return err
	}

	for pos := range length {
		pageSlot, slotOffset := Locate(pos, pageSize)
		c.pool.CopySlot(int(pages[pageSlot]), slotOffset, int(src.Pages[pageSlot]), slotOffset)
	}

	c.table.set(dstSeq, Entry{Pages: pages, LastPageLen: lastPageLen(length, numPages, pageSize)})

	slog.Debug("kv cache copy prefix", "src", srcSeq, "dst", dstSeq, "length", length, "pages", numPages)
	return nil
}

// Remove entfernt eine Sequenz und gibt ihre Pages an den Allocator zurueck
func (c *Paged) Remove(seq int) error {
	return c.table.Remove(seq)
}

// Truncate kuerzt eine Sequenz auf length Tokens. Ueberzaehlige Pages werden frei.
func (c *Paged) Truncate(seq int, length int) error {
	return c.table.Truncate(seq, length)
}
