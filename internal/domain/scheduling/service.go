package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/trialflow/trialflow/internal/domain/burden"
)

// TxFunc runs fn inside a database transaction.
type TxFunc func(ctx context.Context, fn func(ctx context.Context) error) error

// ChangeHook is called after a patient's appointments change.
type ChangeHook func(ctx context.Context, patientID uuid.UUID)

// WindowNotifier is told about every newly created time window.
type WindowNotifier interface {
	WindowCreated(ctx context.Context, w *TimeWindow, procedures []*Procedure)
}

type Service struct {
	procedures   ProcedureRepository
	windows      TimeWindowRepository
	appointments AppointmentRepository
	inTx         TxFunc
	onChange     ChangeHook
	notifier     WindowNotifier
	logger       zerolog.Logger
}

type Option func(*Service)

func WithTx(fn TxFunc) Option { return func(s *Service) { s.inTx = fn } }

func WithChangeHook(h ChangeHook) Option { return func(s *Service) { s.onChange = h } }

func WithWindowNotifier(n WindowNotifier) Option { return func(s *Service) { s.notifier = n } }

func NewService(procs ProcedureRepository, windows TimeWindowRepository, appts AppointmentRepository, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		procedures:   procs,
		windows:      windows,
		appointments: appts,
		logger:       logger.With().Str("component", "scheduling").Logger(),
		inTx: func(ctx context.Context, fn func(ctx context.Context) error) error {
			return fn(ctx)
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) changed(ctx context.Context, patientID uuid.UUID) {
	if s.onChange != nil {
		s.onChange(ctx, patientID)
	}
}

// -- Procedure --

func (s *Service) CreateProcedure(ctx context.Context, p *Procedure) error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return invalid("name is required")
	}
	if p.DurationMinutes <= 0 {
		return invalid("duration_minutes must be positive")
	}
	if p.BurdenType != nil {
		if _, ok := burden.ProcedureWeights[burden.ProcedureType(*p.BurdenType)]; !ok {
			return invalid("unknown burden_type %q", *p.BurdenType)
		}
	}
	if p.BloodVolumeML != nil && *p.BloodVolumeML < 0 {
		return invalid("blood_volume_ml must not be negative")
	}
	if p.InfusionHours != nil && *p.InfusionHours < 0 {
		return invalid("infusion_hours must not be negative")
	}
	return s.procedures.Create(ctx, p)
}

func (s *Service) GetProcedure(ctx context.Context, id uuid.UUID) (*Procedure, error) {
	return s.procedures.GetByID(ctx, id)
}

func (s *Service) ListProcedures(ctx context.Context, limit, offset int) ([]*Procedure, int, error) {
	return s.procedures.List(ctx, limit, offset)
}

func (s *Service) DeleteProcedure(ctx context.Context, id uuid.UUID) error {
	return s.procedures.Delete(ctx, id)
}

// resolveProcedures loads ids and fails when any of them is unknown.
func (s *Service) resolveProcedures(ctx context.Context, ids []uuid.UUID) ([]*Procedure, error) {
	procs, err := s.procedures.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load procedures: %w", err)
	}
	if len(procs) != len(uniqueIDs(ids)) {
		return nil, invalid("one or more procedure_ids do not exist")
	}
	return procs, nil
}

func uniqueIDs(ids []uuid.UUID) map[uuid.UUID]struct{} {
	m := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}

// -- Time Window --

func (s *Service) CreateTimeWindow(ctx context.Context, w *TimeWindow) error {
	if w.ClinicianID == uuid.Nil {
		return invalid("clinician_id is required")
	}
	if w.StartDate.IsZero() || w.EndDate.IsZero() {
		return invalid("start_date and end_date are required")
	}
	w.StartDate = calendarDate(w.StartDate)
	w.EndDate = calendarDate(w.EndDate)
	if w.EndDate.Before(w.StartDate) {
		return invalid("end_date must not be before start_date")
	}
	w.TimeZone = strings.TrimSpace(w.TimeZone)
	if w.TimeZone == "" {
		w.TimeZone = DefaultTimeZone
	}
	if _, err := time.LoadLocation(w.TimeZone); err != nil || w.TimeZone == "Local" {
		return invalid("unknown time_zone %q", w.TimeZone)
	}
	if len(w.TimeBlocks) == 0 {
		return invalid("at least one time block is required")
	}
	for i, b := range w.TimeBlocks {
		if err := validateBlock(b); err != nil {
			return invalid("time_blocks[%d]: %v", i, err)
		}
	}
	if w.Capacity == 0 {
		w.Capacity = 1
	}
	if w.Capacity < 0 {
		return invalid("capacity must be positive")
	}
	if w.ProcedureIDs == nil {
		w.ProcedureIDs = []uuid.UUID{}
	}

	procs, err := s.resolveProcedures(ctx, w.ProcedureIDs)
	if err != nil {
		return err
	}

	w.Booked = 0
	w.Status = WindowOpen
	if err := s.windows.Create(ctx, w); err != nil {
		return fmt.Errorf("create time window: %w", err)
	}

	s.logger.Info().
		Str("time_window_id", w.ID.String()).
		Str("clinician_id", w.ClinicianID.String()).
		Int("ranges", len(Ranges(w))).
		Msg("time window created")

	if s.notifier != nil {
		s.notifier.WindowCreated(ctx, w, procs)
	}
	return nil
}

func (s *Service) GetTimeWindow(ctx context.Context, id uuid.UUID) (*TimeWindow, error) {
	return s.windows.GetByID(ctx, id)
}

func (s *Service) ListTimeWindows(ctx context.Context, f WindowFilter, limit, offset int) ([]*TimeWindow, int, error) {
	return s.windows.List(ctx, f, limit, offset)
}

func (s *Service) CloseTimeWindow(ctx context.Context, id uuid.UUID) (*TimeWindow, error) {
	var w *TimeWindow
	err := s.inTx(ctx, func(ctx context.Context) error {
		var err error
		if w, err = s.windows.GetForUpdate(ctx, id); err != nil {
			return err
		}
		w.Status = WindowClosed
		return s.windows.UpdateBooking(ctx, w.ID, w.Booked, WindowClosed)
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

// -- Appointment --

// BookAppointment validates and stores a new appointment. When it references
// a time window the window must be bookable and the slot must fit one of its
// ranges. Empty procedure and clinician fields are taken from the window.
// The patient is locked first so concurrent bookings see each other.
func (s *Service) BookAppointment(ctx context.Context, a *Appointment) error {
	if a.PatientID == uuid.Nil {
		return invalid("patient_id is required")
	}
	if a.ScheduledAt.IsZero() {
		return invalid("scheduled_at is required")
	}
	if a.DurationMinutes == 0 {
		a.DurationMinutes = DefaultAppointmentMinutes
	}
	if a.DurationMinutes < 0 {
		return invalid("duration_minutes must be positive")
	}
	if a.TravelMinutes != nil && *a.TravelMinutes < 0 {
		return invalid("travel_minutes must not be negative")
	}
	if a.WindowDays != nil && *a.WindowDays < 0 {
		return invalid("window_days must not be negative")
	}
	a.Status = StatusScheduled

	err := s.inTx(ctx, func(ctx context.Context) error {
		if err := s.appointments.LockPatient(ctx, a.PatientID); err != nil {
			return err
		}

		var window *TimeWindow
		if a.TimeWindowID != nil {
			w, err := s.windows.GetForUpdate(ctx, *a.TimeWindowID)
			if err != nil {
				return err
			}
			if err := checkBookable(w, a); err != nil {
				return err
			}
			if len(a.ProcedureIDs) == 0 {
				a.ProcedureIDs = append([]uuid.UUID{}, w.ProcedureIDs...)
			}
			if a.ClinicianID == nil {
				id := w.ClinicianID
				a.ClinicianID = &id
			}
			window = w
		}
		if a.ProcedureIDs == nil {
			a.ProcedureIDs = []uuid.UUID{}
		}

		procs, err := s.resolveProcedures(ctx, a.ProcedureIDs)
		if err != nil {
			return err
		}
		a.Procedures = procs

		existing, err := s.appointments.ListByPatient(ctx, a.PatientID)
		if err != nil {
			return fmt.Errorf("load patient appointments: %w", err)
		}
		if conflicts := bookingConflicts(a, existing); len(conflicts) > 0 {
			return &ConflictError{Conflicts: conflicts}
		}

		if err := s.appointments.Create(ctx, a); err != nil {
			return fmt.Errorf("create appointment: %w", err)
		}
		if window != nil {
			return s.recomputeWindow(ctx, window)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info().
		Str("appointment_id", a.ID.String()).
		Str("patient_id", a.PatientID.String()).
		Time("scheduled_at", a.ScheduledAt).
		Msg("appointment booked")
	s.changed(ctx, a.PatientID)
	return nil
}

func checkBookable(w *TimeWindow, a *Appointment) error {
	switch {
	case w.Status == WindowClosed:
		return fmt.Errorf("%w: window is closed", ErrWindowUnavailable)
	case w.Status == WindowFullyBooked || w.Booked >= w.Capacity:
		return fmt.Errorf("%w: window is fully booked", ErrWindowUnavailable)
	case w.PatientID != nil && *w.PatientID != a.PatientID:
		return fmt.Errorf("%w: window is reserved for another patient", ErrWindowUnavailable)
	}
	if !fitsWindow(w, a.ScheduledAt, a.End()) {
		return invalid("scheduled time is outside the window's available time blocks")
	}
	return nil
}

// bookingConflicts reports conflicts that involve the new appointment.
func bookingConflicts(a *Appointment, existing []*Appointment) []Conflict {
	all := append([]*Appointment{a}, existing...)
	var out []Conflict
	for _, c := range DetectConflicts(all) {
		for _, id := range c.AppointmentIDs {
			if id == a.ID {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

func (s *Service) recomputeWindow(ctx context.Context, w *TimeWindow) error {
	n, err := s.appointments.CountActiveInWindow(ctx, w.ID)
	if err != nil {
		return fmt.Errorf("count window bookings: %w", err)
	}
	status := windowStatusFor(w.Status, n, w.Capacity)
	if err := s.windows.UpdateBooking(ctx, w.ID, n, status); err != nil {
		return fmt.Errorf("update window booking: %w", err)
	}
	w.Booked = n
	w.Status = status
	return nil
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.appointments.GetByID(ctx, id)
}

// ListPatientAppointments returns every appointment of a patient in
// chronological order with procedures resolved.
func (s *Service) ListPatientAppointments(ctx context.Context, patientID uuid.UUID) ([]*Appointment, error) {
	appts, err := s.appointments.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}

	var ids []uuid.UUID
	for _, a := range appts {
		ids = append(ids, a.ProcedureIDs...)
	}
	procs, err := s.procedures.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load procedures: %w", err)
	}
	byID := make(map[uuid.UUID]*Procedure, len(procs))
	for _, p := range procs {
		byID[p.ID] = p
	}
	for _, a := range appts {
		a.Procedures = make([]*Procedure, 0, len(a.ProcedureIDs))
		for _, id := range a.ProcedureIDs {
			if p, ok := byID[id]; ok {
				a.Procedures = append(a.Procedures, p)
			}
		}
	}
	return appts, nil
}

// PatientConflicts checks a patient's scheduled appointments against each
// other.
func (s *Service) PatientConflicts(ctx context.Context, patientID uuid.UUID) ([]Conflict, error) {
	appts, err := s.ListPatientAppointments(ctx, patientID)
	if err != nil {
		return nil, err
	}
	return DetectConflicts(appts), nil
}

func (s *Service) CancelAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusCancelled)
}

func (s *Service) CompleteAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusCompleted)
}

func (s *Service) MarkNoShow(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusNoShow)
}

// transition moves a scheduled appointment to a final status.
func (s *Service) transition(ctx context.Context, id uuid.UUID, to AppointmentStatus) (*Appointment, error) {
	var a *Appointment
	err := s.inTx(ctx, func(ctx context.Context) error {
		var err error
		if a, err = s.appointments.GetByID(ctx, id); err != nil {
			return err
		}
		if a.Status != StatusScheduled {
			return fmt.Errorf("%w: appointment is %s", ErrInvalidTransition, a.Status)
		}
		if err := s.appointments.UpdateStatus(ctx, id, StatusScheduled, to); err != nil {
			return err
		}
		a.Status = to
		if a.TimeWindowID == nil {
			return nil
		}
		w, err := s.windows.GetForUpdate(ctx, *a.TimeWindowID)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return s.recomputeWindow(ctx, w)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("appointment_id", id.String()).
		Str("status", string(to)).
		Msg("appointment status changed")
	s.changed(ctx, a.PatientID)
	return a, nil
}
