// Package api - Typen der pagedkv REST API
// Enthaelt: StatusError, PoolResponse, SequenceResponse, AppendRequest, AppendResponse, GatherResponse
package api

import (
	"fmt"
)

// StatusError is an error with an HTTP status code and message.
type StatusError struct {
	StatusCode   int
	Status       string
	ErrorMessage string `json:"error"`
}

func (e StatusError) Error() string {
	switch {
	case e.Status != "" && e.ErrorMessage != "":
		return fmt.Sprintf("%s: %s", e.Status, e.ErrorMessage)
	case e.Status != "":
		return e.Status
	case e.ErrorMessage != "":
		return e.ErrorMessage
	default:
		// this should not happen
		return "something went wrong, please see the pagedkv server logs for details"
	}
}

type VersionResponse struct {
	Version string `json:"version"`
}

// PoolResponse describes the page pool of a running server.
type PoolResponse struct {
	PageSize    int    `json:"page_size"`
	MaxNumPages int    `json:"max_num_pages"`
	FreePages   int    `json:"free_pages"`
	UsedPages   int    `json:"used_pages"`
	Sequences   int    `json:"sequences"`
	NumKVHeads  int    `json:"num_kv_heads"`
	HeadDim     int    `json:"head_dim"`
	DType       string `json:"dtype"`
	Bytes       int64  `json:"bytes"`
	Workers     int    `json:"workers"`
}

// SequenceResponse is a single sequence and its page table.
type SequenceResponse struct {
	ID          string  `json:"id"`
	Length      int     `json:"length"`
	Pages       []int32 `json:"pages"`
	LastPageLen int32   `json:"last_page_len"`
}

type ListSequencesResponse struct {
	Sequences []SequenceResponse `json:"sequences"`
}

type CreateSequenceRequest struct {
	// From optionally names a sequence whose first Length tokens are
	// copied into the new sequence.
	From   string `json:"from,omitempty"`
	Length int    `json:"length,omitempty"`
}

type CreateSequenceResponse struct {
	ID string `json:"id"`
}

type TruncateRequest struct {
	Length int `json:"length"`
}

// AppendItem holds the tokens appended to one sequence. Keys and Values
// are one [num_kv_heads * head_dim] vector per token.
type AppendItem struct {
	ID     string      `json:"id"`
	Keys   [][]float32 `json:"keys"`
	Values [][]float32 `json:"values"`
}

// AppendRequest is a batched append over several sequences. A sequence
// must not appear more than once.
type AppendRequest struct {
	Items []AppendItem `json:"items"`
}

type AppendResult struct {
	ID        string  `json:"id"`
	Positions []int32 `json:"positions"`
	Length    int     `json:"length"`
}

type AppendResponse struct {
	Items []AppendResult `json:"items"`
}

// GatherResponse holds all keys and values of a sequence in logical order.
type GatherResponse struct {
	ID     string      `json:"id"`
	Keys   [][]float32 `json:"keys"`
	Values [][]float32 `json:"values"`
}
