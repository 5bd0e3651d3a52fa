// routes_serve.go - Server-Start und Lifecycle-Management
// Enthaelt: Serve() - Hauptfunktion zum Starten des HTTP-Servers

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ollama/pagedkv/envconfig"
	"github.com/ollama/pagedkv/logutil"
	"github.com/ollama/pagedkv/version"
)

// Serve startet den HTTP-Server ueber einem neuen Paged-Cache
func Serve(ln net.Listener) error {
	slog.SetDefault(logutil.NewLogger(os.Stderr, envconfig.LogLevel()))
	slog.Info("server config", "env", envconfig.Values())

	cache, err := newCache()
	if err != nil {
		return err
	}

	s := NewServer(cache)
	s.addr = ln.Addr()

	srvr := &http.Server{
		Handler: s.GenerateRoutes(),
	}

	ctx, done := context.WithCancel(context.Background())

	// listen for a ctrl+c and release all sequences
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signals
		srvr.Close()

		s.mu.Lock()
		s.cache.Close()
		s.mu.Unlock()

		done()
	}()

	slog.Info(fmt.Sprintf("Listening on %s (version %s)", ln.Addr(), version.Version))

	err = srvr.Serve(ln)
	// If server is closed from the signal handler, wait for the ctx to be done
	// otherwise error out quickly
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-ctx.Done()
	return nil
}
