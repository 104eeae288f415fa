package patient

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

type Service struct {
	patients Repository
}

func NewService(patients Repository) *Service {
	return &Service{patients: patients}
}

func validate(p *Patient) error {
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)
	p.Email = strings.TrimSpace(p.Email)

	if p.FirstName == "" || p.LastName == "" {
		return fmt.Errorf("%w: first_name and last_name are required", ErrValidation)
	}
	if p.Email == "" {
		return fmt.Errorf("%w: email is required", ErrValidation)
	}
	if !emailPattern.MatchString(p.Email) {
		return fmt.Errorf("%w: invalid email address %q", ErrValidation, p.Email)
	}
	if p.TrialPhase == "" {
		p.TrialPhase = PhaseUnspecified
	}
	if !p.TrialPhase.Valid() {
		return fmt.Errorf("%w: invalid trial_phase %q", ErrValidation, p.TrialPhase)
	}
	if p.CompletionPercentage < 0 || p.CompletionPercentage > 100 {
		return fmt.Errorf("%w: completion_percentage must be between 0 and 100", ErrValidation)
	}
	return nil
}

func (s *Service) CreatePatient(ctx context.Context, p *Patient) error {
	if err := validate(p); err != nil {
		return err
	}
	return s.patients.Create(ctx, p)
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

func (s *Service) UpdatePatient(ctx context.Context, p *Patient) error {
	if err := validate(p); err != nil {
		return err
	}
	return s.patients.Update(ctx, p)
}

func (s *Service) DeletePatient(ctx context.Context, id uuid.UUID) error {
	return s.patients.Delete(ctx, id)
}

func (s *Service) SearchPatients(ctx context.Context, params SearchParams, limit, offset int) ([]*Patient, int, error) {
	if params.Phase != "" && !params.Phase.Valid() {
		return nil, 0, fmt.Errorf("%w: invalid trial_phase %q", ErrValidation, params.Phase)
	}
	return s.patients.Search(ctx, params, limit, offset)
}

// Recipients returns the patients that should hear about a new time window:
// only the reserved patient when one is set, otherwise everyone with an
// email address.
func (s *Service) Recipients(ctx context.Context, reservedFor *uuid.UUID) ([]*Patient, error) {
	if reservedFor != nil {
		p, err := s.patients.GetByID(ctx, *reservedFor)
		if err != nil {
			return nil, err
		}
		if p.Email == "" {
			return []*Patient{}, nil
		}
		return []*Patient{p}, nil
	}
	return s.patients.ListContactable(ctx)
}
