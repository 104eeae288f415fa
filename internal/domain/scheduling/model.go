package scheduling

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrConflict          = errors.New("scheduling conflict")
	ErrWindowUnavailable = errors.New("time window unavailable")
	ErrInvalidTransition = errors.New("invalid status transition")
)

type WindowStatus string

const (
	WindowOpen            WindowStatus = "open"
	WindowPartiallyBooked WindowStatus = "partially_booked"
	WindowFullyBooked     WindowStatus = "fully_booked"
	WindowClosed          WindowStatus = "closed"
)

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusNoShow    AppointmentStatus = "no_show"
)

const (
	DefaultAppointmentMinutes = 60
	DefaultTimeZone           = "UTC"
)

// Procedure is a catalog entry. BurdenType, when set, overrides keyword
// classification during burden scoring.
type Procedure struct {
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	Description     *string   `json:"description,omitempty"`
	DurationMinutes int       `json:"duration_minutes"`
	Phase           *string   `json:"phase,omitempty"`
	BurdenType      *string   `json:"burden_type,omitempty"`
	BloodVolumeML   *float64  `json:"blood_volume_ml,omitempty"`
	InfusionHours   *float64  `json:"infusion_hours,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TimeBlock is a recurring daily availability block. StartTime and EndTime
// are "HH:MM" in the window's TimeZone. An empty DayOfWeek applies to
// every day in the window.
type TimeBlock struct {
	DayOfWeek string `json:"day_of_week"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// TimeWindow offers a clinician's availability to patients. StartDate and
// EndDate are calendar dates; only their year, month and day are used.
// TimeZone is an IANA name such as "America/New_York".
type TimeWindow struct {
	ID           uuid.UUID    `json:"id"`
	ClinicianID  uuid.UUID    `json:"clinician_id"`
	PatientID    *uuid.UUID   `json:"patient_id,omitempty"`
	ProcedureIDs []uuid.UUID  `json:"procedure_ids"`
	StartDate    time.Time    `json:"start_date"`
	EndDate      time.Time    `json:"end_date"`
	TimeBlocks   []TimeBlock  `json:"time_blocks"`
	TimeZone     string       `json:"time_zone"`
	Capacity     int          `json:"capacity"`
	Booked       int          `json:"booked"`
	Status       WindowStatus `json:"status"`
	Notes        *string      `json:"notes,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Location returns the zone the window's blocks are expressed in. An empty
// or unknown zone falls back to UTC.
func (w *TimeWindow) Location() *time.Location {
	if w.TimeZone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(w.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// calendarDate keeps the date of t as UTC midnight, which is how a DATE
// column reads back.
func calendarDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

type Appointment struct {
	ID              uuid.UUID         `json:"id"`
	TimeWindowID    *uuid.UUID        `json:"time_window_id,omitempty"`
	PatientID       uuid.UUID         `json:"patient_id"`
	ClinicianID     *uuid.UUID        `json:"clinician_id,omitempty"`
	ProcedureIDs    []uuid.UUID       `json:"procedure_ids"`
	ScheduledAt     time.Time         `json:"scheduled_at"`
	DurationMinutes int               `json:"duration_minutes"`
	Location        *string           `json:"location,omitempty"`
	Status          AppointmentStatus `json:"status"`
	Notes           *string           `json:"notes,omitempty"`
	TravelMinutes   *float64          `json:"travel_minutes,omitempty"`
	WindowDays      *float64          `json:"window_days,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`

	Procedures []*Procedure `json:"procedures,omitempty"`
}

// End is the time the appointment is expected to finish.
func (a *Appointment) End() time.Time {
	d := a.DurationMinutes
	if d <= 0 {
		d = DefaultAppointmentMinutes
	}
	return a.ScheduledAt.Add(time.Duration(d) * time.Minute)
}

type ConflictType string

const (
	ConflictOverlap  ConflictType = "overlap"
	ConflictDuration ConflictType = "duration"
)

type Conflict struct {
	Type           ConflictType `json:"type"`
	AppointmentIDs []uuid.UUID  `json:"appointment_ids"`
	Message        string       `json:"message"`
}

// ConflictError is returned when a booking collides with the patient's
// existing schedule.
type ConflictError struct {
	Conflicts []Conflict
}

func (e *ConflictError) Error() string {
	msgs := make([]string, len(e.Conflicts))
	for i, c := range e.Conflicts {
		msgs[i] = c.Message
	}
	return fmt.Sprintf("%s: %s", ErrConflict, strings.Join(msgs, "; "))
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// WindowFilter narrows a time window listing. PatientID matches windows
// offered to that patient plus windows open to everyone.
type WindowFilter struct {
	ClinicianID *uuid.UUID
	PatientID   *uuid.UUID
	Status      WindowStatus
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
