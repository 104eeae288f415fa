package patient

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	Delete(ctx context.Context, id uuid.UUID) error
	Search(ctx context.Context, params SearchParams, limit, offset int) ([]*Patient, int, error)
	// ListContactable returns every patient with an email address.
	ListContactable(ctx context.Context) ([]*Patient, error)
}
