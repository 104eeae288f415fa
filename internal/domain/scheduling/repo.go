package scheduling

import (
	"context"

	"github.com/google/uuid"
)

type ProcedureRepository interface {
	Create(ctx context.Context, p *Procedure) error
	GetByID(ctx context.Context, id uuid.UUID) (*Procedure, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*Procedure, error)
	List(ctx context.Context, limit, offset int) ([]*Procedure, int, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type TimeWindowRepository interface {
	Create(ctx context.Context, w *TimeWindow) error
	GetByID(ctx context.Context, id uuid.UUID) (*TimeWindow, error)
	// GetForUpdate locks the row for the rest of the surrounding transaction.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*TimeWindow, error)
	List(ctx context.Context, f WindowFilter, limit, offset int) ([]*TimeWindow, int, error)
	UpdateBooking(ctx context.Context, id uuid.UUID, booked int, status WindowStatus) error
}

type AppointmentRepository interface {
	// LockPatient serializes booking for one patient until the surrounding
	// transaction ends.
	LockPatient(ctx context.Context, patientID uuid.UUID) error
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Appointment, error)
	// UpdateStatus moves an appointment from one status to another and fails
	// with ErrInvalidTransition when it is no longer in from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) error
	// CountActiveInWindow counts scheduled and completed appointments.
	CountActiveInWindow(ctx context.Context, windowID uuid.UUID) (int, error)
}
