// config.go - Haupt-Konfigurationsfunktionen fuer pagedkv
//
// Dieses Modul enthaelt:
// - Host: Gibt Scheme und Host zurueck (PAGEDKV_HOST)
// - AllowedOrigins: Gibt erlaubte Origins zurueck (PAGEDKV_ORIGINS)
// - LogLevel: Gibt Log-Level zurueck (PAGEDKV_DEBUG)
// - KvCacheType: Gibt den Speichertyp der Pages zurueck (PAGEDKV_KV_CACHE_TYPE)
//
// Weitere Konfigurationen sind ausgelagert:
// - config_features.go: Form des Page-Pools und Parallelitaet
// - config_utils.go: Utility-Funktionen und AsMap/Values
package envconfig

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/ollama/pagedkv/ml"
)

// Host gibt Scheme und Host zurueck
// Konfigurierbar via PAGEDKV_HOST
// Default: http://127.0.0.1:11500
func Host() *url.URL {
	defaultPort := "11500"

	s := strings.TrimSpace(Var("PAGEDKV_HOST"))
	scheme, hostport, ok := strings.Cut(s, "://")
	switch {
	case !ok:
		scheme, hostport = "http", s
	case scheme == "http":
		defaultPort = "80"
	case scheme == "https":
		defaultPort = "443"
	}

	hostport, path, _ := strings.Cut(hostport, "/")
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		host, port = "127.0.0.1", defaultPort
		if ip := net.ParseIP(strings.Trim(hostport, "[]")); ip != nil {
			host = ip.String()
		} else if hostport != "" {
			host = hostport
		}
	}

	if n, err := strconv.ParseInt(port, 10, 32); err != nil || n > 65535 || n < 0 {
		slog.Warn("invalid port, using default", "port", port, "default", defaultPort)
		port = defaultPort
	}

	return &url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(host, port),
		Path:   path,
	}
}

// AllowedOrigins gibt erlaubte Origins zurueck
// Konfigurierbar via PAGEDKV_ORIGINS (komma-separiert)
// Enthaelt Standard-Origins fuer localhost
func AllowedOrigins() (origins []string) {
	if s := Var("PAGEDKV_ORIGINS"); s != "" {
		origins = strings.Split(s, ",")
	}

	// Standard-Origins fuer localhost
	for _, origin := range []string{"localhost", "127.0.0.1", "0.0.0.0"} {
		origins = append(origins,
			fmt.Sprintf("http://%s", origin),
			fmt.Sprintf("https://%s", origin),
			fmt.Sprintf("http://%s", net.JoinHostPort(origin, "*")),
			fmt.Sprintf("https://%s", net.JoinHostPort(origin, "*")),
		)
	}

	return origins
}

// LogLevel gibt das Log-Level zurueck
// Konfigurierbar via PAGEDKV_DEBUG
// Werte: 0/false = INFO (Default), 1/true = DEBUG, 2 = TRACE
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("PAGEDKV_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}

	return level
}

// KvCacheType gibt den Speichertyp der Pages zurueck
// Konfigurierbar via PAGEDKV_KV_CACHE_TYPE (f32, f16, bf16)
// Default: f16, ungueltige Werte fallen mit Warnung auf f16 zurueck
func KvCacheType() ml.DType {
	s := Var("PAGEDKV_KV_CACHE_TYPE")
	dtype, err := ml.DTypeFromString(s)
	if err != nil {
		slog.Warn("invalid kv cache type, using default", "type", s, "default", ml.DTypeF16)
		return ml.DTypeF16
	}

	return dtype
}

// Var gibt eine Environment-Variable zurueck
// Entfernt fuehrende/trailing Quotes und Leerzeichen
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}
