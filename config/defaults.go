// Package config provides configuration defaults and utilities
// for the quotad daemon.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml or command-line flags.
package config

import "time"

// =============================================================================
// Network Defaults
// =============================================================================

const (
	// DefaultListenAddress is the default HTTP listen address for the
	// reporting and enforcement API.
	// Override via config: listen
	DefaultListenAddress = "0.0.0.0:9301"

	// DefaultShutdownTimeout is how long the HTTP server waits for in-flight
	// requests during shutdown.
	DefaultShutdownTimeout = 5 * time.Second
)

// =============================================================================
// Reconciliation Defaults
// =============================================================================

const (
	// DefaultNaptime is how long a partition worker sleeps between
	// reconciliation cycles. A wake signal or SIGHUP cuts the sleep short.
	// Override via config: naptime_seconds
	DefaultNaptime = 10 * time.Second

	// DefaultScanYieldEvery is how many files a scan visits between context
	// cancellation checks, so shutdown is observed promptly even during a
	// long directory walk.
	DefaultScanYieldEvery = 256
)

// =============================================================================
// Accounting Defaults
// =============================================================================

const (
	// DefaultMaxOwnerEntries bounds the shared aggregate table. The table is
	// sized for a small number of distinct (owner, partition) pairs; when it
	// is full, new entries are refused (logged and skipped, never fatal).
	// Override via config: registry.max_entries
	DefaultMaxOwnerEntries = 1024

	// DefaultMinTrackedUnitID is the smallest unit identifier that counts as
	// user data. Units below the threshold are system-internal and excluded
	// from accounting.
	// Override via config: scan.min_unit_id
	DefaultMinTrackedUnitID = 16384

	// QuotaUnlimited is the quota sentinel meaning "no limit".
	QuotaUnlimited = int64(-1)

	// SharedPartition is the synthetic partition tag attributed to files
	// under the shared namespace directory.
	SharedPartition = "shared"
)

// =============================================================================
// Catalog Defaults
// =============================================================================

const (
	// DefaultCatalogQueryTimeout is the timeout for a single catalog query
	// (owner lookup or quota load).
	// Override via config: catalog.query_timeout_seconds
	DefaultCatalogQueryTimeout = 5 * time.Second

	// DefaultCatalogMaxOpenConns is the catalog connection pool size.
	// Override via config: catalog.max_open_conns
	DefaultCatalogMaxOpenConns = 8
)

// =============================================================================
// Statistics Defaults
// =============================================================================

const (
	// DefaultSketchAccuracy is the DDSketch relative accuracy used for
	// per-cycle file size distribution statistics.
	DefaultSketchAccuracy = 0.01
)
