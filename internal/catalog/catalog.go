// Package catalog provides the external collaborators of the accounting
// engine: the lookup that maps a storage unit to its owning principal, and
// the source of per-owner quota assignments.
//
// Both are served from an embedded DuckDB database that the surrounding
// storage system maintains. The accounting engine only ever reads it; the
// upsert helpers exist for provisioning tools and tests.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/xtxerr/quotad/config"
	qerrors "github.com/xtxerr/quotad/internal/errors"
	"github.com/xtxerr/quotad/internal/model"
)

// QuotaAssignment is one (owner, quota) row for a partition.
type QuotaAssignment struct {
	Owner string
	Quota int64
}

// QuotaSource supplies the current quota assignments for a partition, once
// per reconciliation cycle.
type QuotaSource interface {
	Quotas(ctx context.Context, partition string) ([]QuotaAssignment, error)
}

// =============================================================================
// Catalog Configuration
// =============================================================================

// Config holds catalog configuration options.
type Config struct {
	// DSN is the database path or connection string.
	DSN string

	// MaxOpenConns is the maximum number of open connections.
	MaxOpenConns int

	// QueryTimeout is the default timeout for queries.
	QueryTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxOpenConns: config.DefaultCatalogMaxOpenConns,
		QueryTimeout: config.DefaultCatalogQueryTimeout,
	}
}

// =============================================================================
// Catalog
// =============================================================================

// Catalog implements model.OwnerLookup and QuotaSource against DuckDB.
//
// Catalog is safe for concurrent use.
type Catalog struct {
	db     *sql.DB
	config Config
	mu     sync.Mutex
	closed bool
}

var _ model.OwnerLookup = (*Catalog)(nil)
var _ QuotaSource = (*Catalog)(nil)

// Open opens (creating if necessary) the catalog database.
func Open(cfg Config) (*Catalog, error) {
	db, err := sql.Open("duckdb", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping catalog: %w", err)
	}

	c := &Catalog{db: db, config: cfg}
	if err := c.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// ensureSchema creates the catalog tables when they do not exist yet.
func (c *Catalog) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS units (
			part  TEXT NOT NULL,
			unit  BIGINT NOT NULL,
			owner TEXT NOT NULL,
			PRIMARY KEY (part, unit)
		)`,
		`CREATE TABLE IF NOT EXISTS quotas (
			part  TEXT NOT NULL,
			owner TEXT NOT NULL,
			quota BIGINT NOT NULL,
			PRIMARY KEY (part, owner)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create catalog schema: %w", err)
		}
	}
	return nil
}

// Close closes the catalog.
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	return c.db.Close()
}

// Health checks catalog connectivity.
func (c *Catalog) Health(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// =============================================================================
// Read Path
// =============================================================================

// UnitOwner returns the owner of a storage unit, or an empty string when the
// unit is not registered yet. It is safe to call frequently; callers treat
// errors like "unknown".
func (c *Catalog) UnitOwner(ctx context.Context, partition string, unit model.UnitID) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.QueryTimeout)
	defer cancel()

	var owner string
	err := c.db.QueryRowContext(ctx,
		`SELECT owner FROM units WHERE part = ? AND unit = ?`,
		partition, int64(unit)).Scan(&owner)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: unit owner query: %v", qerrors.ErrCatalogUnavailable, err)
	}
	return owner, nil
}

// Quotas returns the quota assignments for a partition. A partition with no
// rows yields an empty slice, meaning "no quotas configured".
func (c *Catalog) Quotas(ctx context.Context, partition string) ([]QuotaAssignment, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.QueryTimeout)
	defer cancel()

	rows, err := c.db.QueryContext(ctx,
		`SELECT owner, quota FROM quotas WHERE part = ? ORDER BY owner`,
		partition)
	if err != nil {
		return nil, fmt.Errorf("%w: quota query: %v", qerrors.ErrCatalogUnavailable, err)
	}
	defer rows.Close()

	var out []QuotaAssignment
	for rows.Next() {
		var qa QuotaAssignment
		if err := rows.Scan(&qa.Owner, &qa.Quota); err != nil {
			return nil, fmt.Errorf("scan quota row: %w", err)
		}
		out = append(out, qa)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: quota rows: %v", qerrors.ErrCatalogUnavailable, err)
	}
	return out, nil
}

// =============================================================================
// Provisioning Helpers
// =============================================================================

// SetUnitOwner registers or replaces the owner of a storage unit.
func (c *Catalog) SetUnitOwner(ctx context.Context, partition string, unit model.UnitID, owner string) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.QueryTimeout)
	defer cancel()

	_, err := c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO units (part, unit, owner) VALUES (?, ?, ?)`,
		partition, int64(unit), owner)
	if err != nil {
		return fmt.Errorf("set unit owner: %w", err)
	}
	return nil
}

// SetQuota registers or replaces the quota for an owner within a partition.
// Use config.QuotaUnlimited to remove the limit while keeping the row.
func (c *Catalog) SetQuota(ctx context.Context, partition, owner string, quota int64) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.QueryTimeout)
	defer cancel()

	_, err := c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO quotas (part, owner, quota) VALUES (?, ?, ?)`,
		partition, owner, quota)
	if err != nil {
		return fmt.Errorf("set quota: %w", err)
	}
	return nil
}
