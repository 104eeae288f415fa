package patient

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound   = errors.New("patient not found")
	ErrValidation = errors.New("validation failed")
)

type TrialPhase string

const (
	PhaseUnspecified TrialPhase = "unspecified"
	Phase1           TrialPhase = "phase_1"
	Phase2           TrialPhase = "phase_2"
	Phase3           TrialPhase = "phase_3"
	Phase4           TrialPhase = "phase_4"
)

var phaseLabels = map[TrialPhase]string{
	PhaseUnspecified: "Unspecified",
	Phase1:           "Phase 1",
	Phase2:           "Phase 2",
	Phase3:           "Phase 3",
	Phase4:           "Phase 4",
}

// Label is the display name of the phase.
func (p TrialPhase) Label() string {
	if l, ok := phaseLabels[p]; ok {
		return l
	}
	return phaseLabels[PhaseUnspecified]
}

func (p TrialPhase) Valid() bool {
	_, ok := phaseLabels[p]
	return ok
}

type Patient struct {
	ID                   uuid.UUID  `json:"id"`
	FirstName            string     `json:"first_name"`
	LastName             string     `json:"last_name"`
	Email                string     `json:"email"`
	Phone                *string    `json:"phone,omitempty"`
	TrialPhase           TrialPhase `json:"trial_phase"`
	EnrollmentDate       *time.Time `json:"enrollment_date,omitempty"`
	CompletionPercentage int        `json:"completion_percentage"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

func (p *Patient) FullName() string {
	return fmt.Sprintf("%s %s", p.FirstName, p.LastName)
}

// SearchParams filters a patient listing.
type SearchParams struct {
	Phase TrialPhase
	Name  string
	Sort  string
}
