// Package limit defines tag-scoped concurrency limits.
package limit

import (
	"fmt"

	"github.com/Strob0t/FlowForge/internal/domain"
)

// Limit is a named ceiling on simultaneously running units. A limit of zero
// is an explicit always-deny policy, not "unlimited": tags with no limit
// configured at all are the unlimited case.
type Limit struct {
	Tag      string `json:"tag"`
	MaxSlots int    `json:"max_slots"`
	// Active is the number of runs currently holding a slot. Maintained by
	// the limiter, not persisted.
	Active int `json:"active"`
}

// Validate rejects malformed limit configuration.
func (l *Limit) Validate() error {
	if l.Tag == "" {
		return fmt.Errorf("tag is required: %w", domain.ErrValidation)
	}
	if l.MaxSlots < 0 {
		return fmt.Errorf("max_slots must be non-negative: %w", domain.ErrValidation)
	}
	return nil
}
