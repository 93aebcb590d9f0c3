// Package enforce provides the quota enforcement check.
//
// The check is the pure read path of the accounting engine: a call site that
// is about to let a storage unit grow resolves the unit's owner and consults
// the shared aggregate table. An unresolvable owner allows the operation,
// since an unattributable unit cannot be fairly blocked. Only growth is
// gated; reads and shrinking operations are not.
package enforce

import (
	"context"
	"strconv"

	"golang.org/x/sync/singleflight"

	"github.com/xtxerr/quotad/internal/errors"
	"github.com/xtxerr/quotad/internal/logging"
	"github.com/xtxerr/quotad/internal/model"
	"github.com/xtxerr/quotad/internal/registry"
)

var log = logging.Component("enforce")

// Checker answers "may this unit grow?" for arbitrary concurrent callers.
//
// Owner lookups for the same unit are deduplicated through singleflight:
// under a burst of checks against one hot unit, only one catalog query is in
// flight at a time and every caller shares its result.
//
// Checker is safe for concurrent use.
type Checker struct {
	reg    *registry.Registry
	lookup model.OwnerLookup

	group singleflight.Group
}

// NewChecker creates a Checker over the shared aggregate table and the
// external owner lookup.
func NewChecker(reg *registry.Registry, lookup model.OwnerLookup) *Checker {
	return &Checker{reg: reg, lookup: lookup}
}

// CheckGrowth decides whether a growth operation on the given unit may
// proceed. It returns nil to allow and errors.ErrQuotaExceeded to deny;
// those are the only two outcomes. Lookup failures and unknown owners
// resolve to allow.
func (c *Checker) CheckGrowth(ctx context.Context, partition string, unit model.UnitID) error {
	owner, err := c.resolveOwner(ctx, partition, unit)
	if err != nil {
		log.Debug("owner lookup failed, allowing",
			"partition", partition, "unit", unit, "error", err)
		return nil
	}
	if owner == "" {
		// No owner, huh?
		return nil
	}
	return c.CheckOwner(owner, partition)
}

// CheckOwner decides whether an already-resolved owner may grow within a
// partition. It returns nil to allow and errors.ErrQuotaExceeded to deny.
func (c *Checker) CheckOwner(owner, partition string) error {
	if c.reg.Check(owner, partition) {
		return nil
	}
	return errors.ErrQuotaExceeded
}

// resolveOwner looks up the unit's owner, collapsing concurrent lookups for
// the same unit into one catalog query.
//
// The shared flight runs on a context detached from the first caller's, so
// one cancelled caller cannot fail the lookup for every waiter behind it.
// The catalog bounds the query with its own timeout.
func (c *Checker) resolveOwner(ctx context.Context, partition string, unit model.UnitID) (string, error) {
	key := partition + "/" + strconv.FormatUint(uint64(unit), 10)

	lookupCtx := context.WithoutCancel(ctx)
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		return c.lookup.UnitOwner(lookupCtx, partition, unit)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
