// Package govern enforces the per-run rejected-row threshold.
package govern

import (
	"sync"

	"github.com/clinepi/cdipipe/internal/domain"
)

// Governor counts rejected rows and trips once the count exceeds the
// configured maximum. A maximum of zero means any rejection aborts the run;
// a negative maximum disables the threshold.
type Governor struct {
	entity domain.EntityType
	max    int

	mu       sync.Mutex
	rejected int
}

func New(entity domain.EntityType, max int) *Governor {
	return &Governor{entity: entity, max: max}
}

// RecordRejection counts one rejected row and returns MaxErrorCountError once
// the total exceeds the maximum. Exactly max rejections still pass; the
// max+1th trips.
func (g *Governor) RecordRejection() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rejected++
	if g.max >= 0 && g.rejected > g.max {
		return &domain.MaxErrorCountError{
			Entity:   g.entity,
			Rejected: g.rejected,
			Max:      g.max,
		}
	}
	return nil
}

// Rejected reports the rejection count so far.
func (g *Governor) Rejected() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rejected
}
