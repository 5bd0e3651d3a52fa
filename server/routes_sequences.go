// routes_sequences.go - Handler fuer Sequenzen und den Append-Schritt
// Enthaelt: CreateSequenceHandler(), ListSequencesHandler(), DeleteSequenceHandler(),
// TruncateHandler(), AppendHandler(), GatherHandler()

package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ollama/pagedkv/api"
	"github.com/ollama/pagedkv/kvcache"
)

var errSequenceNotFound = errors.New("sequence not found")

// lookup loest eine Sequenz-ID auf. Der Aufrufer haelt s.mu.
func (s *Server) lookup(id string) (int, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return 0, fmt.Errorf("%w (invalid sequence id %q)", kvcache.ErrUnknownSequence, id)
	}

	seq, ok := s.ids[u]
	if !ok {
		return 0, fmt.Errorf("%w (%v)", kvcache.ErrUnknownSequence, errSequenceNotFound)
	}

	return seq, nil
}

// sequence gibt den Zustand einer Sequenz zurueck. Der Aufrufer haelt s.mu.
func (s *Server) sequence(seq int) (api.SequenceResponse, error) {
	entry, err := s.cache.Entry(seq)
	if err != nil {
		return api.SequenceResponse{}, err
	}

	return api.SequenceResponse{
		ID:          s.names[seq].String(),
		Length:      entry.Len(s.cache.Config().PageSize),
		Pages:       entry.Pages,
		LastPageLen: entry.LastPageLen,
	}, nil
}

func (s *Server) CreateSequenceHandler(c *gin.Context) {
	var req api.CreateSequenceRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	src := -1
	if req.From != "" {
		seq, err := s.lookup(req.From)
		if err != nil {
			abortWithError(c, err)
			return
		}

		length, err := s.cache.Len(seq)
		if err != nil {
			abortWithError(c, err)
			return
		}

		if req.Length < 0 || req.Length > length {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("prefix length %d outside sequence of length %d", req.Length, length)})
			return
		}
		src = seq
	}

	seq := s.next
	if err := s.cache.Add(seq); err != nil {
		abortWithError(c, err)
		return
	}

	if src >= 0 {
		if err := s.cache.CopyPrefix(src, seq, req.Length); err != nil {
			s.cache.Remove(seq) //nolint:errcheck
			abortWithError(c, err)
			return
		}
	}

	s.next++
	id := uuid.New()
	s.ids[id] = seq
	s.names[seq] = id

	slog.Debug("sequence created", "id", id, "from", req.From, "length", req.Length)
	c.JSON(http.StatusOK, api.CreateSequenceResponse{ID: id.String()})
}

func (s *Server) ListSequencesHandler(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sequences := []api.SequenceResponse{}
	for _, seq := range s.cache.Sequences() {
		resp, err := s.sequence(seq)
		if err != nil {
			abortWithError(c, err)
			return
		}
		sequences = append(sequences, resp)
	}

	c.JSON(http.StatusOK, api.ListSequencesResponse{Sequences: sequences})
}

func (s *Server) DeleteSequenceHandler(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq, err := s.lookup(c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	if err := s.cache.Remove(seq); err != nil {
		abortWithError(c, err)
		return
	}

	delete(s.ids, s.names[seq])
	delete(s.names, seq)

	c.Status(http.StatusOK)
}

func (s *Server) TruncateHandler(c *gin.Context) {
	var req api.TruncateRequest
	if err := c.ShouldBindJSON(&req); errors.Is(err, io.EOF) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing request body"})
		return
	} else if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seq, err := s.lookup(c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	if length, _ := s.cache.Len(seq); req.Length < 0 || req.Length > length {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("cannot truncate sequence of length %d to %d", length, req.Length)})
		return
	}

	if err := s.cache.Truncate(seq, req.Length); err != nil {
		abortWithError(c, err)
		return
	}

	resp, err := s.sequence(seq)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// flatten haengt die Token-Vektoren aneinander und prueft ihre Groesse
func flatten(dst []float32, vectors [][]float32, tokenSize int) ([]float32, error) {
	for i, v := range vectors {
		if len(v) != tokenSize {
			return nil, fmt.Errorf("%w (token: %v size: %v want: %v)", kvcache.ErrMalformedBatch, i, len(v), tokenSize)
		}
		dst = append(dst, v...)
	}
	return dst, nil
}

func (s *Server) AppendHandler(c *gin.Context) {
	var req api.AppendRequest
	if err := c.ShouldBindJSON(&req); errors.Is(err, io.EOF) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing request body"})
		return
	} else if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tokenSize := s.cache.Config().TokenSize()

	var nnz int
	for _, item := range req.Items {
		nnz += len(item.Keys)
	}

	seqs := make([]int, len(req.Items))
	counts := make([]int, len(req.Items))
	keys := make([]float32, 0, nnz*tokenSize)
	values := make([]float32, 0, nnz*tokenSize)

	for i, item := range req.Items {
		seq, err := s.lookup(item.ID)
		if err != nil {
			abortWithError(c, err)
			return
		}

		if len(item.Keys) != len(item.Values) {
			abortWithError(c, fmt.Errorf("%w (sequence %s keys: %v values: %v)", kvcache.ErrMalformedBatch, item.ID, len(item.Keys), len(item.Values)))
			return
		}

		if keys, err = flatten(keys, item.Keys, tokenSize); err != nil {
			abortWithError(c, err)
			return
		}

		if values, err = flatten(values, item.Values, tokenSize); err != nil {
			abortWithError(c, err)
			return
		}

		seqs[i] = seq
		counts[i] = len(item.Keys)
	}

	positions, err := s.cache.Append(seqs, counts, keys, values)
	if err != nil {
		abortWithError(c, err)
		return
	}

	resp := api.AppendResponse{Items: make([]api.AppendResult, len(req.Items))}
	var off int
	for i, item := range req.Items {
		length, _ := s.cache.Len(seqs[i])
		resp.Items[i] = api.AppendResult{
			ID:        item.ID,
			Positions: positions[off : off+counts[i]],
			Length:    length,
		}
		off += counts[i]
	}

	c.JSON(http.StatusOK, resp)
}

// split zerlegt einen flachen Puffer in Token-Vektoren
func split(data []float32, tokenSize int) [][]float32 {
	vectors := make([][]float32, 0, len(data)/tokenSize)
	for off := 0; off < len(data); off += tokenSize {
		vectors = append(vectors, data[off:off+tokenSize])
	}
	return vectors
}

func (s *Server) GatherHandler(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq, err := s.lookup(c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	keys, values, err := s.cache.Gather(seq)
	if err != nil {
		abortWithError(c, err)
		return
	}

	tokenSize := s.cache.Config().TokenSize()
	c.JSON(http.StatusOK, api.GatherResponse{
		ID:     c.Param("id"),
		Keys:   split(keys, tokenSize),
		Values: split(values, tokenSize),
	})
}
