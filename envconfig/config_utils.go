// config_utils.go - Utility-Funktionen und Export fuer Konfiguration
//
// Dieses Modul enthaelt:
// - BoolWithDefault/Bool: Boolean-Getter mit Default-Wert
// - Uint: Integer-Getter mit Default-Wert
// - EnvVar: Struktur fuer Environment-Variablen-Info
// - AsMap: Gibt alle Konfigurationen als Map zurueck
// - Values: Gibt alle Konfigurationswerte als String-Map zurueck
package envconfig

import (
	"fmt"
	"log/slog"
	"strconv"
)

// =============================================================================
// Boolean-Getter
// =============================================================================

// BoolWithDefault gibt eine Funktion zurueck, die einen Bool mit Default-Wert liest
func BoolWithDefault(k string) func(defaultValue bool) bool {
	return func(defaultValue bool) bool {
		if s := Var(k); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return true
			}
			return b
		}
		return defaultValue
	}
}

// Bool gibt eine Funktion zurueck, die einen Bool liest (Default: false)
func Bool(k string) func() bool {
	withDefault := BoolWithDefault(k)
	return func() bool {
		return withDefault(false)
	}
}

// =============================================================================
// Integer-Getter
// =============================================================================

// Uint gibt eine Funktion zurueck, die einen uint mit Default-Wert liest
func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return uint(n)
			}
		}
		return defaultValue
	}
}

// =============================================================================
// Export-Strukturen und -Funktionen
// =============================================================================

// EnvVar repraesentiert eine Environment-Variable mit Metadaten
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap gibt alle Konfigurationen als Map zurueck
// Enthaelt Namen, aktuelle Werte und Beschreibungen
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"PAGEDKV_DEBUG":         {"PAGEDKV_DEBUG", LogLevel(), "Show additional debug information (e.g. PAGEDKV_DEBUG=1)"},
		"PAGEDKV_HOST":          {"PAGEDKV_HOST", Host(), "IP Address for the pagedkv server (default 127.0.0.1:11500)"},
		"PAGEDKV_ORIGINS":       {"PAGEDKV_ORIGINS", AllowedOrigins(), "A comma separated list of allowed origins"},
		"PAGEDKV_KV_CACHE_TYPE": {"PAGEDKV_KV_CACHE_TYPE", KvCacheType(), "Storage type of cache pages: f32, f16 or bf16 (default: f16)"},
		"PAGEDKV_PAGE_SIZE":     {"PAGEDKV_PAGE_SIZE", PageSize(), "Token slots per page (default: 16)"},
		"PAGEDKV_MAX_PAGES":     {"PAGEDKV_MAX_PAGES", MaxPages(), "Number of pages in the pool (default: 4096)"},
		"PAGEDKV_NUM_KV_HEADS":  {"PAGEDKV_NUM_KV_HEADS", NumKVHeads(), "Number of key/value heads (default: 4)"},
		"PAGEDKV_HEAD_DIM":      {"PAGEDKV_HEAD_DIM", HeadDim(), "Dimension of each head (default: 128)"},
		"PAGEDKV_NUM_THREADS":   {"PAGEDKV_NUM_THREADS", NumThreads(), "Append workers, 0 uses all CPUs (default: 0)"},
		"PAGEDKV_SHUFFLE_PAGES": {"PAGEDKV_SHUFFLE_PAGES", ShufflePages(), "Hand out pages in random order"},
	}
}

// Values gibt alle Konfigurationswerte als String-Map zurueck
func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}
