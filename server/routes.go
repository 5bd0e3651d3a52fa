// routes.go - HTTP-Server des Paged-Caches
// Enthaelt: Server, NewServer(), GenerateRoutes(), Pool- und Version-Handler

package server

import (
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"sync"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ollama/pagedkv/api"
	"github.com/ollama/pagedkv/envconfig"
	"github.com/ollama/pagedkv/kvcache"
	"github.com/ollama/pagedkv/version"
)

// Server owns a paged cache and serialises every request on it.
type Server struct {
	addr net.Addr

	mu    sync.Mutex
	cache *kvcache.Paged

	// sequences are addressed by uuid over HTTP
	ids   map[uuid.UUID]int
	names map[int]uuid.UUID
	next  int
}

func NewServer(cache *kvcache.Paged) *Server {
	return &Server{
		cache: cache,
		ids:   make(map[uuid.UUID]int),
		names: make(map[int]uuid.UUID),
	}
}

// newCache erstellt den Paged-Cache aus der Umgebungskonfiguration
func newCache() (*kvcache.Paged, error) {
	cfg := kvcache.Config{
		PageSize:    int(envconfig.PageSize()),
		MaxNumPages: int(envconfig.MaxPages()),
		NumKVHeads:  int(envconfig.NumKVHeads()),
		HeadDim:     int(envconfig.HeadDim()),
		DType:       envconfig.KvCacheType(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid kv cache configuration: %w", err)
	}

	var alloc kvcache.Allocator
	if envconfig.ShufflePages() {
		alloc = kvcache.NewShuffledFreeList(cfg.MaxNumPages, rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())))
	}

	return kvcache.NewPaged(cfg, alloc, int(envconfig.NumThreads()))
}

// GenerateRoutes erstellt und konfiguriert den HTTP-Router
func (s *Server) GenerateRoutes() http.Handler {
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowWildcard = true
	corsConfig.AllowBrowserExtensions = true
	corsConfig.AllowHeaders = []string{
		"Authorization",
		"Content-Type",
		"User-Agent",
		"Accept",
		"X-Requested-With",
	}
	corsConfig.AllowOrigins = envconfig.AllowedOrigins()

	r := gin.Default()
	r.HandleMethodNotAllowed = true
	r.Use(
		cors.New(corsConfig),
		allowedHostsMiddleware(s.addr),
	)

	// General
	r.HEAD("/", func(c *gin.Context) { c.String(http.StatusOK, "pagedkv is running") })
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, "pagedkv is running") })
	r.HEAD("/api/version", s.VersionHandler)
	r.GET("/api/version", s.VersionHandler)

	// Pool
	r.GET("/api/pool", s.PoolHandler)

	// Sequences
	r.POST("/api/sequences", s.CreateSequenceHandler)
	r.GET("/api/sequences", s.ListSequencesHandler)
	r.DELETE("/api/sequences/:id", s.DeleteSequenceHandler)
	r.POST("/api/sequences/:id/truncate", s.TruncateHandler)
	r.GET("/api/sequences/:id/kv", s.GatherHandler)

	// Decode step
	r.POST("/api/append", s.AppendHandler)

	return r
}

func (s *Server) VersionHandler(c *gin.Context) {
	c.JSON(http.StatusOK, api.VersionResponse{Version: version.Version})
}

func (s *Server) PoolHandler(c *gin.Context) {
	s.mu.Lock()
	stats := s.cache.Stats()
	s.mu.Unlock()

	c.JSON(http.StatusOK, api.PoolResponse{
		PageSize:    stats.PageSize,
		MaxNumPages: stats.MaxNumPages,
		FreePages:   stats.FreePages,
		UsedPages:   stats.UsedPages,
		Sequences:   stats.Sequences,
		NumKVHeads:  stats.NumKVHeads,
		HeadDim:     stats.HeadDim,
		DType:       stats.DType.String(),
		Bytes:       stats.Bytes,
		Workers:     stats.Workers,
	})
}
