// Package kvcache - Konstruktoren und Initialisierung
//
// Dieses Modul enthaelt alle Factory-Funktionen:
// - NewEngine: Append-Engine ueber einem Pool
// - NewPaged: kompletter Paged-Cache (Pool, Allocator, Page-Tabellen, Engine)
// - Config/Stats/Close: Abfrage und Ressourcenfreigabe
package kvcache

import (
	"log/slog"

	"github.com/ollama/pagedkv/ml"
)

// NewEngine erstellt eine Append-Engine. workers <= 0 verwendet alle CPUs.
func NewEngine(pool *Pool, workers int) *Engine {
	return &Engine{
		pool:    pool,
		workers: defaultWorkers(workers),
	}
}

// Paged is a paged K/V cache: a page pool, the page tables of all live
// sequences and the engine writing into the pool. It is not safe for
// concurrent use.
type Paged struct {
	pool   *Pool
	engine *Engine
	alloc  Allocator
	table  *PageTable
}

// NewPaged erstellt einen Paged-Cache. Ist alloc nil, werden Pages aus einer
// aufsteigenden Free-Liste vergeben.
func NewPaged(cfg Config, alloc Allocator, workers int) (*Paged, error) {
	pool, err := NewPool(cfg)
	if err != nil {
		return nil, err
	}

	if alloc == nil {
		alloc = NewFreeList(cfg.MaxNumPages)
	}

	c := &Paged{
		pool:   pool,
		engine: NewEngine(pool, workers),
		alloc:  alloc,
		table:  NewPageTable(cfg.PageSize, alloc),
	}

	slog.Info("kv cache initialized",
		"page_size", cfg.PageSize,
		"pages", cfg.MaxNumPages,
		"kv_heads", cfg.NumKVHeads,
		"head_dim", cfg.HeadDim,
		"dtype", cfg.DType,
		"bytes", pool.Bytes(),
		"workers", c.engine.Workers())

	return c, nil
}

func (c *Paged) Config() Config {
	return c.pool.cfg
}

// Pool gibt den Page-Pool fuer lesende Stufen zurueck
func (c *Paged) Pool() *Pool {
	return c.pool
}

// Stats describes the occupancy of a paged cache.
type Stats struct {
	PageSize    int
	MaxNumPages int
	FreePages   int
	UsedPages   int
	Sequences   int
	NumKVHeads  int
	HeadDim     int
	DType       ml.DType
	Bytes       int64
	Workers     int
}

func (c *Paged) Stats() Stats {
	cfg := c.pool.cfg
	return Stats{
		PageSize:    cfg.PageSize,
		MaxNumPages: cfg.MaxNumPages,
		FreePages:   c.alloc.Available(),
		UsedPages:   c.table.UsedPages(),
		Sequences:   len(c.table.Sequences()),
		NumKVHeads:  cfg.NumKVHeads,
		HeadDim:     cfg.HeadDim,
		DType:       cfg.DType,
		Bytes:       c.pool.Bytes(),
		Workers:     c.engine.Workers(),
	}
}

// Close gibt die Pages aller Sequenzen zurueck
func (c *Paged) Close() {
	for _, seq := range c.table.Sequences() {
		c.table.Remove(seq) //nolint:errcheck
	}
}
