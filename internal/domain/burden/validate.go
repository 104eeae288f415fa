package burden

import (
	"errors"
	"fmt"
)

var (
	ErrNoVisits     = errors.New("no visits provided")
	ErrInvalidVisit = errors.New("invalid visit")
)

// ValidateVisits checks a schedule submitted from outside the service.
// Unknown procedure types are accepted (they score as "other"); preparation
// tags must be known and appear at most once per visit.
func ValidateVisits(visits []VisitInput) error {
	if len(visits) == 0 {
		return ErrNoVisits
	}
	for i, v := range visits {
		seen := make(map[PreparationType]bool, len(v.Preparations))
		for _, prep := range v.Preparations {
			if _, ok := PreparationWeights[prep]; !ok {
				return fmt.Errorf("%w: visit %d: unknown preparation %q", ErrInvalidVisit, i+1, prep)
			}
			if seen[prep] {
				return fmt.Errorf("%w: visit %d: duplicate preparation %q", ErrInvalidVisit, i+1, prep)
			}
			seen[prep] = true
		}
	}
	return nil
}
