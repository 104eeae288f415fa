package scheduling

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Mock Repositories --

type mockProcedureRepo struct {
	procs map[uuid.UUID]*Procedure
}

func newMockProcedureRepo() *mockProcedureRepo {
	return &mockProcedureRepo{procs: make(map[uuid.UUID]*Procedure)}
}

func (m *mockProcedureRepo) Create(_ context.Context, p *Procedure) error {
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	p.UpdatedAt = time.Now()
	m.procs[p.ID] = p
	return nil
}

func (m *mockProcedureRepo) GetByID(_ context.Context, id uuid.UUID) (*Procedure, error) {
	p, ok := m.procs[id]
	if !ok {
		return nil, fmt.Errorf("%w: procedure", ErrNotFound)
	}
	return p, nil
}

func (m *mockProcedureRepo) GetByIDs(_ context.Context, ids []uuid.UUID) ([]*Procedure, error) {
	result := []*Procedure{}
	for id := range uniqueIDs(ids) {
		if p, ok := m.procs[id]; ok {
			result = append(result, p)
		}
	}
	return result, nil
}

func (m *mockProcedureRepo) List(_ context.Context, limit, offset int) ([]*Procedure, int, error) {
	result := []*Procedure{}
	for _, p := range m.procs {
		result = append(result, p)
	}
	return result, len(result), nil
}

func (m *mockProcedureRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.procs[id]; !ok {
		return fmt.Errorf("%w: procedure", ErrNotFound)
	}
	delete(m.procs, id)
	return nil
}

type mockWindowRepo struct {
	windows map[uuid.UUID]*TimeWindow
	locked  int
}

func newMockWindowRepo() *mockWindowRepo {
	return &mockWindowRepo{windows: make(map[uuid.UUID]*TimeWindow)}
}

func (m *mockWindowRepo) Create(_ context.Context, w *TimeWindow) error {
	w.ID = uuid.New()
	w.CreatedAt = time.Now()
	w.UpdatedAt = time.Now()
	m.windows[w.ID] = w
	return nil
}

func (m *mockWindowRepo) GetByID(_ context.Context, id uuid.UUID) (*TimeWindow, error) {
	w, ok := m.windows[id]
	if !ok {
		return nil, fmt.Errorf("%w: time window", ErrNotFound)
	}
	return w, nil
}

func (m *mockWindowRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*TimeWindow, error) {
	m.locked++
	return m.GetByID(ctx, id)
}

func (m *mockWindowRepo) List(_ context.Context, f WindowFilter, limit, offset int) ([]*TimeWindow, int, error) {
	result := []*TimeWindow{}
	for _, w := range m.windows {
		if f.ClinicianID != nil && w.ClinicianID != *f.ClinicianID {
			continue
		}
		if f.PatientID != nil && w.PatientID != nil && *w.PatientID != *f.PatientID {
			continue
		}
		if f.Status != "" && w.Status != f.Status {
			continue
		}
		result = append(result, w)
	}
	return result, len(result), nil
}

func (m *mockWindowRepo) UpdateBooking(_ context.Context, id uuid.UUID, booked int, status WindowStatus) error {
	w, ok := m.windows[id]
	if !ok {
		return fmt.Errorf("%w: time window", ErrNotFound)
	}
	w.Booked = booked
	w.Status = status
	return nil
}

type mockAppointmentRepo struct {
	appts  map[uuid.UUID]*Appointment
	events []string
	// beforeUpdate runs between the service's read and its status write.
	beforeUpdate func(a *Appointment)
}

func newMockAppointmentRepo() *mockAppointmentRepo {
	return &mockAppointmentRepo{appts: make(map[uuid.UUID]*Appointment)}
}

func (m *mockAppointmentRepo) LockPatient(_ context.Context, patientID uuid.UUID) error {
	m.events = append(m.events, "lock "+patientID.String())
	return nil
}

func (m *mockAppointmentRepo) Create(_ context.Context, a *Appointment) error {
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	a.UpdatedAt = time.Now()
	m.appts[a.ID] = a
	return nil
}

func (m *mockAppointmentRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	a, ok := m.appts[id]
	if !ok {
		return nil, fmt.Errorf("%w: appointment", ErrNotFound)
	}
	return a, nil
}

func (m *mockAppointmentRepo) ListByPatient(_ context.Context, patientID uuid.UUID) ([]*Appointment, error) {
	m.events = append(m.events, "list "+patientID.String())
	result := []*Appointment{}
	for _, a := range m.appts {
		if a.PatientID == patientID {
			result = append(result, a)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ScheduledAt.Before(result[j].ScheduledAt) })
	return result, nil
}

func (m *mockAppointmentRepo) UpdateStatus(_ context.Context, id uuid.UUID, from, to AppointmentStatus) error {
	a, ok := m.appts[id]
	if !ok {
		return fmt.Errorf("%w: appointment", ErrNotFound)
	}
	if m.beforeUpdate != nil {
		m.beforeUpdate(a)
	}
	if a.Status != from {
		return fmt.Errorf("%w: appointment is no longer %s", ErrInvalidTransition, from)
	}
	a.Status = to
	return nil
}

func (m *mockAppointmentRepo) CountActiveInWindow(_ context.Context, windowID uuid.UUID) (int, error) {
	n := 0
	for _, a := range m.appts {
		if a.TimeWindowID != nil && *a.TimeWindowID == windowID &&
			(a.Status == StatusScheduled || a.Status == StatusCompleted) {
			n++
		}
	}
	return n, nil
}

type recordingNotifier struct {
	windows    []*TimeWindow
	procedures [][]*Procedure
}

func (r *recordingNotifier) WindowCreated(_ context.Context, w *TimeWindow, procs []*Procedure) {
	r.windows = append(r.windows, w)
	r.procedures = append(r.procedures, procs)
}

type fixture struct {
	svc      *Service
	procs    *mockProcedureRepo
	windows  *mockWindowRepo
	appts    *mockAppointmentRepo
	notifier *recordingNotifier
	changes  []uuid.UUID
	txs      int
}

func newFixture() *fixture {
	f := &fixture{
		procs:    newMockProcedureRepo(),
		windows:  newMockWindowRepo(),
		appts:    newMockAppointmentRepo(),
		notifier: &recordingNotifier{},
	}
	f.svc = NewService(f.procs, f.windows, f.appts, zerolog.Nop(),
		WithTx(func(ctx context.Context, fn func(ctx context.Context) error) error {
			f.txs++
			return fn(ctx)
		}),
		WithChangeHook(func(_ context.Context, patientID uuid.UUID) {
			f.changes = append(f.changes, patientID)
		}),
		WithWindowNotifier(f.notifier),
	)
	return f
}

func newTestService() *Service {
	return newFixture().svc
}

func (f *fixture) procedure(t *testing.T, name string, minutes int) *Procedure {
	t.Helper()
	p := &Procedure{Name: name, DurationMinutes: minutes}
	require.NoError(t, f.svc.CreateProcedure(context.Background(), p))
	return p
}

// mondayWindow is open 09:00-12:00 on Monday 2025-03-03.
func (f *fixture) mondayWindow(t *testing.T, capacity int, procs ...*Procedure) *TimeWindow {
	t.Helper()
	ids := []uuid.UUID{}
	for _, p := range procs {
		ids = append(ids, p.ID)
	}
	w := &TimeWindow{
		ClinicianID:  uuid.New(),
		ProcedureIDs: ids,
		StartDate:    day(3),
		EndDate:      day(3),
		TimeBlocks:   []TimeBlock{{DayOfWeek: "Monday", StartTime: "09:00", EndTime: "12:00"}},
		Capacity:     capacity,
	}
	require.NoError(t, f.svc.CreateTimeWindow(context.Background(), w))
	return w
}

// -- Procedure Tests --

func TestService_CreateProcedure(t *testing.T) {
	f := newFixture()
	p := &Procedure{Name: "  Blood Draw ", DurationMinutes: 15, BurdenType: strPtr("blood_draw")}

	require.NoError(t, f.svc.CreateProcedure(context.Background(), p))
	assert.NotEqual(t, uuid.Nil, p.ID)
	assert.Equal(t, "Blood Draw", p.Name)
}

func TestService_CreateProcedure_Validation(t *testing.T) {
	tests := []struct {
		name string
		p    Procedure
	}{
		{"missing name", Procedure{DurationMinutes: 15}},
		{"zero duration", Procedure{Name: "ECG"}},
		{"unknown burden type", Procedure{Name: "ECG", DurationMinutes: 15, BurdenType: strPtr("x-ray")}},
		{"negative blood volume", Procedure{Name: "Blood Draw", DurationMinutes: 15, BloodVolumeML: floatPtr(-1)}},
		{"negative infusion", Procedure{Name: "Infusion", DurationMinutes: 60, InfusionHours: floatPtr(-2)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.p
			err := newTestService().CreateProcedure(context.Background(), &p)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestService_DeleteProcedure_NotFound(t *testing.T) {
	err := newTestService().DeleteProcedure(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

// -- Time Window Tests --

func TestService_CreateTimeWindow(t *testing.T) {
	f := newFixture()
	ecg := f.procedure(t, "ECG", 15)

	w := f.mondayWindow(t, 0, ecg)

	assert.Equal(t, WindowOpen, w.Status)
	assert.Equal(t, 1, w.Capacity)
	assert.Equal(t, 0, w.Booked)
	require.Len(t, f.notifier.windows, 1)
	assert.Equal(t, w.ID, f.notifier.windows[0].ID)
	require.Len(t, f.notifier.procedures[0], 1)
	assert.Equal(t, "ECG", f.notifier.procedures[0][0].Name)
}

func TestService_CreateTimeWindow_NormalizesDatesAndZone(t *testing.T) {
	f := newFixture()
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	w := &TimeWindow{
		ClinicianID: uuid.New(),
		StartDate:   time.Date(2025, time.March, 3, 0, 0, 0, 0, ny),
		EndDate:     time.Date(2025, time.March, 4, 0, 0, 0, 0, ny),
		TimeBlocks:  []TimeBlock{{StartTime: "09:00", EndTime: "10:00"}},
		TimeZone:    " America/New_York ",
	}
	require.NoError(t, f.svc.CreateTimeWindow(context.Background(), w))
	assert.Equal(t, "America/New_York", w.TimeZone)
	assert.Equal(t, day(3), w.StartDate)
	assert.Equal(t, day(4), w.EndDate)

	utc := &TimeWindow{
		ClinicianID: uuid.New(),
		StartDate:   day(3),
		EndDate:     day(3),
		TimeBlocks:  []TimeBlock{{StartTime: "09:00", EndTime: "10:00"}},
	}
	require.NoError(t, f.svc.CreateTimeWindow(context.Background(), utc))
	assert.Equal(t, DefaultTimeZone, utc.TimeZone)
}

func TestService_CreateTimeWindow_Validation(t *testing.T) {
	valid := func() *TimeWindow {
		return &TimeWindow{
			ClinicianID: uuid.New(),
			StartDate:   day(3),
			EndDate:     day(4),
			TimeBlocks:  []TimeBlock{{StartTime: "09:00", EndTime: "10:00"}},
		}
	}
	tests := []struct {
		name   string
		mutate func(w *TimeWindow)
	}{
		{"missing clinician", func(w *TimeWindow) { w.ClinicianID = uuid.Nil }},
		{"missing dates", func(w *TimeWindow) { w.StartDate = time.Time{} }},
		{"end before start", func(w *TimeWindow) { w.EndDate = day(2) }},
		{"no blocks", func(w *TimeWindow) { w.TimeBlocks = nil }},
		{"inverted block", func(w *TimeWindow) { w.TimeBlocks[0].EndTime = "08:00" }},
		{"bad clock", func(w *TimeWindow) { w.TimeBlocks[0].StartTime = "nine" }},
		{"negative capacity", func(w *TimeWindow) { w.Capacity = -1 }},
		{"unknown time zone", func(w *TimeWindow) { w.TimeZone = "Mars/Olympus_Mons" }},
		{"host time zone", func(w *TimeWindow) { w.TimeZone = "Local" }},
		{"unknown procedure", func(w *TimeWindow) { w.ProcedureIDs = []uuid.UUID{uuid.New()} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			w := valid()
			tt.mutate(w)
			err := f.svc.CreateTimeWindow(context.Background(), w)
			assert.ErrorIs(t, err, ErrValidation)
			assert.Empty(t, f.notifier.windows)
		})
	}
}

func TestService_CloseTimeWindow(t *testing.T) {
	f := newFixture()
	w := f.mondayWindow(t, 2)

	closed, err := f.svc.CloseTimeWindow(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, WindowClosed, closed.Status)
	assert.Equal(t, WindowClosed, f.windows.windows[w.ID].Status)

	_, err = f.svc.CloseTimeWindow(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

// -- Appointment Tests --

func TestService_BookAppointment_InWindow(t *testing.T) {
	f := newFixture()
	ecg := f.procedure(t, "ECG", 15)
	w := f.mondayWindow(t, 1, ecg)
	patient := uuid.New()

	a := &Appointment{TimeWindowID: &w.ID, PatientID: patient, ScheduledAt: at(3, 10, 0)}
	require.NoError(t, f.svc.BookAppointment(context.Background(), a))

	assert.Equal(t, StatusScheduled, a.Status)
	assert.Equal(t, DefaultAppointmentMinutes, a.DurationMinutes)
	assert.Equal(t, []uuid.UUID{ecg.ID}, a.ProcedureIDs)
	require.NotNil(t, a.ClinicianID)
	assert.Equal(t, w.ClinicianID, *a.ClinicianID)
	assert.Equal(t, 1, f.windows.windows[w.ID].Booked)
	assert.Equal(t, WindowFullyBooked, f.windows.windows[w.ID].Status)
	assert.Equal(t, []uuid.UUID{patient}, f.changes)
	assert.Equal(t, 1, f.windows.locked)
	assert.Equal(t, 1, f.txs)
}

func TestService_BookAppointment_LocalWindowAfterStorage(t *testing.T) {
	f := newFixture()
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	w := &TimeWindow{
		ClinicianID: uuid.New(),
		StartDate:   time.Date(2025, time.March, 3, 0, 0, 0, 0, ny),
		EndDate:     time.Date(2025, time.March, 3, 0, 0, 0, 0, ny),
		TimeBlocks:  []TimeBlock{{DayOfWeek: "monday", StartTime: "13:00", EndTime: "17:00"}},
		TimeZone:    "America/New_York",
		Capacity:    2,
	}
	require.NoError(t, f.svc.CreateTimeWindow(context.Background(), w))

	// a DATE column reads back as UTC midnight
	stored := f.windows.windows[w.ID]
	stored.StartDate = time.Date(2025, time.March, 3, 0, 0, 0, 0, time.UTC)
	stored.EndDate = stored.StartDate

	ranges := Ranges(stored)
	require.Len(t, ranges, 1)
	assert.True(t, ranges[0].Start.Equal(at(3, 18, 0)), "start %s", ranges[0].Start)
	assert.True(t, ranges[0].End.Equal(at(3, 22, 0)), "end %s", ranges[0].End)

	local := &Appointment{TimeWindowID: &w.ID, PatientID: uuid.New(),
		ScheduledAt: time.Date(2025, time.March, 3, 14, 0, 0, 0, ny)}
	require.NoError(t, f.svc.BookAppointment(context.Background(), local))

	utcClock := &Appointment{TimeWindowID: &w.ID, PatientID: uuid.New(), ScheduledAt: at(3, 14, 0)}
	assert.ErrorIs(t, f.svc.BookAppointment(context.Background(), utcClock), ErrValidation)
}

func TestService_BookAppointment_LocksPatientBeforeChecking(t *testing.T) {
	f := newFixture()
	patient := uuid.New()
	require.NoError(t, f.svc.BookAppointment(context.Background(),
		&Appointment{PatientID: patient, ScheduledAt: at(3, 10, 0)}))

	assert.Equal(t, []string{"lock " + patient.String(), "list " + patient.String()}, f.appts.events)
}

func TestService_BookAppointment_PartiallyBooked(t *testing.T) {
	f := newFixture()
	w := f.mondayWindow(t, 2)

	a := &Appointment{TimeWindowID: &w.ID, PatientID: uuid.New(), ScheduledAt: at(3, 9, 0), DurationMinutes: 30}
	require.NoError(t, f.svc.BookAppointment(context.Background(), a))

	assert.Equal(t, WindowPartiallyBooked, f.windows.windows[w.ID].Status)
}

func TestService_BookAppointment_WithoutWindow(t *testing.T) {
	f := newFixture()
	a := &Appointment{PatientID: uuid.New(), ScheduledAt: at(5, 19, 0), DurationMinutes: 30}

	require.NoError(t, f.svc.BookAppointment(context.Background(), a))
	assert.Nil(t, a.ClinicianID)
	assert.Equal(t, []uuid.UUID{}, a.ProcedureIDs)
}

func TestService_BookAppointment_Validation(t *testing.T) {
	tests := []struct {
		name string
		a    Appointment
	}{
		{"missing patient", Appointment{ScheduledAt: at(3, 9, 0)}},
		{"missing time", Appointment{PatientID: uuid.New()}},
		{"negative duration", Appointment{PatientID: uuid.New(), ScheduledAt: at(3, 9, 0), DurationMinutes: -5}},
		{"negative travel", Appointment{PatientID: uuid.New(), ScheduledAt: at(3, 9, 0), TravelMinutes: floatPtr(-1)}},
		{"negative window", Appointment{PatientID: uuid.New(), ScheduledAt: at(3, 9, 0), WindowDays: floatPtr(-1)}},
		{"unknown procedure", Appointment{PatientID: uuid.New(), ScheduledAt: at(3, 9, 0), ProcedureIDs: []uuid.UUID{uuid.New()}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := tt.a
			err := newTestService().BookAppointment(context.Background(), &a)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestService_BookAppointment_OutsideRanges(t *testing.T) {
	f := newFixture()
	w := f.mondayWindow(t, 1)

	for _, start := range []time.Time{at(3, 8, 0), at(3, 11, 30), at(4, 10, 0)} {
		a := &Appointment{TimeWindowID: &w.ID, PatientID: uuid.New(), ScheduledAt: start}
		err := f.svc.BookAppointment(context.Background(), a)
		assert.ErrorIs(t, err, ErrValidation, "start %s", start)
	}
	assert.Empty(t, f.appts.appts)
	assert.Empty(t, f.changes)
}

func TestService_BookAppointment_WindowUnavailable(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(w *TimeWindow)
	}{
		{"closed", func(w *TimeWindow) { w.Status = WindowClosed }},
		{"full", func(w *TimeWindow) { w.Booked = 1; w.Status = WindowFullyBooked }},
		{"reserved", func(w *TimeWindow) { other := uuid.New(); w.PatientID = &other }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			w := f.mondayWindow(t, 1)
			tt.mutate(f.windows.windows[w.ID])

			a := &Appointment{TimeWindowID: &w.ID, PatientID: uuid.New(), ScheduledAt: at(3, 10, 0)}
			err := f.svc.BookAppointment(context.Background(), a)
			assert.ErrorIs(t, err, ErrWindowUnavailable)
		})
	}
}

func TestService_BookAppointment_UnknownWindow(t *testing.T) {
	id := uuid.New()
	a := &Appointment{TimeWindowID: &id, PatientID: uuid.New(), ScheduledAt: at(3, 10, 0)}
	err := newTestService().BookAppointment(context.Background(), a)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_BookAppointment_Overlap(t *testing.T) {
	f := newFixture()
	patient := uuid.New()
	first := &Appointment{PatientID: patient, ScheduledAt: at(3, 10, 0), DurationMinutes: 60}
	require.NoError(t, f.svc.BookAppointment(context.Background(), first))

	second := &Appointment{PatientID: patient, ScheduledAt: at(3, 10, 30), DurationMinutes: 30}
	err := f.svc.BookAppointment(context.Background(), second)

	require.ErrorIs(t, err, ErrConflict)
	var ce *ConflictError
	require.True(t, errors.As(err, &ce))
	require.Len(t, ce.Conflicts, 1)
	assert.Equal(t, ConflictOverlap, ce.Conflicts[0].Type)
	assert.Contains(t, ce.Conflicts[0].AppointmentIDs, first.ID)
	assert.Len(t, f.appts.appts, 1)
}

func TestService_BookAppointment_OtherPatientDoesNotConflict(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.svc.BookAppointment(context.Background(),
		&Appointment{PatientID: uuid.New(), ScheduledAt: at(3, 10, 0)}))
	require.NoError(t, f.svc.BookAppointment(context.Background(),
		&Appointment{PatientID: uuid.New(), ScheduledAt: at(3, 10, 0)}))
}

func TestService_BookAppointment_DurationConflict(t *testing.T) {
	f := newFixture()
	mri := f.procedure(t, "MRI Scan", 90)

	a := &Appointment{PatientID: uuid.New(), ScheduledAt: at(3, 10, 0), ProcedureIDs: []uuid.UUID{mri.ID}}
	err := f.svc.BookAppointment(context.Background(), a)

	var ce *ConflictError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, ConflictDuration, ce.Conflicts[0].Type)
}

func TestService_CancelAppointment(t *testing.T) {
	f := newFixture()
	w := f.mondayWindow(t, 1)
	patient := uuid.New()
	a := &Appointment{TimeWindowID: &w.ID, PatientID: patient, ScheduledAt: at(3, 9, 0)}
	require.NoError(t, f.svc.BookAppointment(context.Background(), a))
	require.Equal(t, WindowFullyBooked, f.windows.windows[w.ID].Status)

	got, err := f.svc.CancelAppointment(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Equal(t, 0, f.windows.windows[w.ID].Booked)
	assert.Equal(t, WindowOpen, f.windows.windows[w.ID].Status)
	assert.Equal(t, []uuid.UUID{patient, patient}, f.changes)

	_, err = f.svc.CancelAppointment(context.Background(), a.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestService_CancelAppointment_LosesToConcurrentChange(t *testing.T) {
	f := newFixture()
	w := f.mondayWindow(t, 1)
	a := &Appointment{TimeWindowID: &w.ID, PatientID: uuid.New(), ScheduledAt: at(3, 9, 0)}
	require.NoError(t, f.svc.BookAppointment(context.Background(), a))
	f.changes = nil

	f.appts.beforeUpdate = func(stored *Appointment) { stored.Status = StatusCompleted }
	_, err := f.svc.CancelAppointment(context.Background(), a.ID)

	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatusCompleted, f.appts.appts[a.ID].Status)
	assert.Equal(t, WindowFullyBooked, f.windows.windows[w.ID].Status)
	assert.Empty(t, f.changes)
}

func TestService_CompleteAppointment_KeepsWindowBooked(t *testing.T) {
	f := newFixture()
	w := f.mondayWindow(t, 1)
	a := &Appointment{TimeWindowID: &w.ID, PatientID: uuid.New(), ScheduledAt: at(3, 9, 0)}
	require.NoError(t, f.svc.BookAppointment(context.Background(), a))

	got, err := f.svc.CompleteAppointment(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, 1, f.windows.windows[w.ID].Booked)
	assert.Equal(t, WindowFullyBooked, f.windows.windows[w.ID].Status)
}

func TestService_MarkNoShow(t *testing.T) {
	f := newFixture()
	a := &Appointment{PatientID: uuid.New(), ScheduledAt: at(3, 9, 0)}
	require.NoError(t, f.svc.BookAppointment(context.Background(), a))

	got, err := f.svc.MarkNoShow(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusNoShow, got.Status)

	_, err = f.svc.CompleteAppointment(context.Background(), a.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.svc.MarkNoShow(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_ListPatientAppointments_ResolvesProcedures(t *testing.T) {
	f := newFixture()
	ecg := f.procedure(t, "ECG", 15)
	vitals := f.procedure(t, "Vital Signs", 10)
	patient := uuid.New()

	later := &Appointment{PatientID: patient, ScheduledAt: at(5, 9, 0), ProcedureIDs: []uuid.UUID{vitals.ID}}
	earlier := &Appointment{PatientID: patient, ScheduledAt: at(3, 9, 0), ProcedureIDs: []uuid.UUID{ecg.ID, vitals.ID}}
	require.NoError(t, f.svc.BookAppointment(context.Background(), later))
	require.NoError(t, f.svc.BookAppointment(context.Background(), earlier))

	appts, err := f.svc.ListPatientAppointments(context.Background(), patient)
	require.NoError(t, err)
	require.Len(t, appts, 2)
	assert.Equal(t, earlier.ID, appts[0].ID)
	require.Len(t, appts[0].Procedures, 2)
	assert.Equal(t, "ECG", appts[0].Procedures[0].Name)
	assert.Equal(t, "Vital Signs", appts[0].Procedures[1].Name)
	require.Len(t, appts[1].Procedures, 1)
}

func TestService_PatientConflicts(t *testing.T) {
	f := newFixture()
	patient := uuid.New()
	a := &Appointment{PatientID: patient, ScheduledAt: at(3, 9, 0), DurationMinutes: 60}
	require.NoError(t, f.svc.BookAppointment(context.Background(), a))

	// written directly to bypass the booking check
	b := &Appointment{PatientID: patient, ScheduledAt: at(3, 9, 30), DurationMinutes: 30, Status: StatusScheduled, ProcedureIDs: []uuid.UUID{}}
	require.NoError(t, f.appts.Create(context.Background(), b))

	conflicts, err := f.svc.PatientConflicts(context.Background(), patient)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, ConflictOverlap, conflicts[0].Type)
}

func strPtr(s string) *string { return &s }

func floatPtr(f float64) *float64 { return &f }
