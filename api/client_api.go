// Package api - API-Methoden des Clients.
// Dieses Modul enthaelt alle Methoden fuer Pool, Sequenzen und Append.

package api

import (
	"context"
	"net/http"
)

// Version returns the pagedkv server version as a string.
func (c *Client) Version(ctx context.Context) (string, error) {
	var version VersionResponse
	if err := c.do(ctx, http.MethodGet, "/api/version", nil, &version); err != nil {
		return "", err
	}
	return version.Version, nil
}

// Heartbeat checks if the server has started and is responsive; if yes, it
// returns nil, otherwise an error.
func (c *Client) Heartbeat(ctx context.Context) error {
	return c.do(ctx, http.MethodHead, "/", nil, nil)
}

// Pool returns the occupancy of the server's page pool.
func (c *Client) Pool(ctx context.Context) (*PoolResponse, error) {
	var resp PoolResponse
	if err := c.do(ctx, http.MethodGet, "/api/pool", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Sequences lists live sequences in creation order.
func (c *Client) Sequences(ctx context.Context) (*ListSequencesResponse, error) {
	var resp ListSequencesResponse
	if err := c.do(ctx, http.MethodGet, "/api/sequences", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateSequence creates a new, empty sequence or, with req.From set, a copy
// of the first req.Length tokens of an existing one.
func (c *Client) CreateSequence(ctx context.Context, req *CreateSequenceRequest) (string, error) {
	if req == nil {
		req = &CreateSequenceRequest{}
	}

	var resp CreateSequenceResponse
	if err := c.do(ctx, http.MethodPost, "/api/sequences", req, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// DeleteSequence removes a sequence and releases its pages.
func (c *Client) DeleteSequence(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/sequences/"+id, nil, nil)
}

// Truncate shortens a sequence to length tokens.
func (c *Client) Truncate(ctx context.Context, id string, length int) (*SequenceResponse, error) {
	var resp SequenceResponse
	if err := c.do(ctx, http.MethodPost, "/api/sequences/"+id+"/truncate", &TruncateRequest{Length: length}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Append appends tokens to one or more sequences in a single step.
func (c *Client) Append(ctx context.Context, req *AppendRequest) (*AppendResponse, error) {
	var resp AppendResponse
	if err := c.do(ctx, http.MethodPost, "/api/append", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Gather returns all keys and values of a sequence.
func (c *Client) Gather(ctx context.Context, id string) (*GatherResponse, error) {
	var resp GatherResponse
	if err := c.do(ctx, http.MethodGet, "/api/sequences/"+id+"/kv", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
