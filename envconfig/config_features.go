// config_features.go - Form des Page-Pools und Parallelitaet
//
// Dieses Modul enthaelt:
// - Geometrie des Page-Pools (Page-Groesse, Kapazitaet, Heads, Head-Dimension)
// - Parallelitaets-Einstellungen der Append-Engine
// - Feature-Flags der Page-Vergabe
package envconfig

// =============================================================================
// Page-Pool Geometrie
// =============================================================================

var (
	// PageSize setzt die Anzahl Token-Slots pro Page
	// Konfigurierbar via PAGEDKV_PAGE_SIZE
	PageSize = Uint("PAGEDKV_PAGE_SIZE", 16)

	// MaxPages setzt die Kapazitaet des Page-Pools
	// Konfigurierbar via PAGEDKV_MAX_PAGES
	MaxPages = Uint("PAGEDKV_MAX_PAGES", 4096)

	// NumKVHeads setzt die Anzahl K/V-Heads
	// Konfigurierbar via PAGEDKV_NUM_KV_HEADS
	NumKVHeads = Uint("PAGEDKV_NUM_KV_HEADS", 4)

	// HeadDim setzt die Dimension eines Heads
	// Konfigurierbar via PAGEDKV_HEAD_DIM
	HeadDim = Uint("PAGEDKV_HEAD_DIM", 128)
)

// =============================================================================
// Parallelitaets-Einstellungen
// =============================================================================

var (
	// NumThreads setzt die Anzahl Worker der Append-Engine (0 = alle CPUs)
	// Konfigurierbar via PAGEDKV_NUM_THREADS
	NumThreads = Uint("PAGEDKV_NUM_THREADS", 0)
)

// =============================================================================
// Feature-Flags
// =============================================================================

var (
	// ShufflePages vergibt Pages in zufaelliger Reihenfolge
	ShufflePages = Bool("PAGEDKV_SHUFFLE_PAGES")
)
