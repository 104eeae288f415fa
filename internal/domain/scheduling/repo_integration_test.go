//go:build integration

package scheduling

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trialflow/trialflow/internal/platform/db"
	"github.com/trialflow/trialflow/internal/platform/db/dbtest"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	pool, cleanup, err := dbtest.Start(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres: %v\n", err)
		os.Exit(1)
	}
	testPool = pool
	code := m.Run()
	cleanup()
	os.Exit(code)
}

func newPGService() *Service {
	return NewService(
		NewProcedureRepoPG(testPool),
		NewTimeWindowRepoPG(testPool),
		NewAppointmentRepoPG(testPool),
		zerolog.Nop(),
		WithTx(func(ctx context.Context, fn func(ctx context.Context) error) error {
			return db.InTx(ctx, testPool, fn)
		}),
	)
}

func insertPatient(t *testing.T, ctx context.Context) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := db.Resolve(ctx, testPool).Exec(ctx,
		`INSERT INTO patient (id, first_name, last_name, email) VALUES ($1, 'Test', 'Patient', 'test@example.com')`, id)
	require.NoError(t, err)
	return id
}

func TestPG_BookingFlow(t *testing.T) {
	ctx := dbtest.Site(t, testPool)
	svc := newPGService()
	patientID := insertPatient(t, ctx)

	ecg := &Procedure{Name: "ECG", DurationMinutes: 30}
	require.NoError(t, svc.CreateProcedure(ctx, ecg))

	monday := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)
	w := &TimeWindow{
		ClinicianID:  uuid.New(),
		ProcedureIDs: []uuid.UUID{ecg.ID},
		StartDate:    monday,
		EndDate:      monday.AddDate(0, 0, 4),
		TimeBlocks:   []TimeBlock{{DayOfWeek: "monday", StartTime: "09:00", EndTime: "12:00"}},
		Capacity:     1,
	}
	require.NoError(t, svc.CreateTimeWindow(ctx, w))

	stored, err := svc.GetTimeWindow(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, w.TimeBlocks, stored.TimeBlocks)
	assert.Equal(t, []uuid.UUID{ecg.ID}, stored.ProcedureIDs)
	assert.Equal(t, WindowOpen, stored.Status)

	a := &Appointment{
		TimeWindowID:    &w.ID,
		PatientID:       patientID,
		ScheduledAt:     monday.Add(9 * time.Hour),
		DurationMinutes: 30,
	}
	require.NoError(t, svc.BookAppointment(ctx, a))

	full, err := svc.GetTimeWindow(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, full.Booked)
	assert.Equal(t, WindowFullyBooked, full.Status)

	second := &Appointment{
		TimeWindowID: &w.ID,
		PatientID:    patientID,
		ScheduledAt:  monday.Add(11 * time.Hour),
	}
	assert.ErrorIs(t, svc.BookAppointment(ctx, second), ErrWindowUnavailable)

	appts, err := svc.ListPatientAppointments(ctx, patientID)
	require.NoError(t, err)
	require.Len(t, appts, 1)
	require.Len(t, appts[0].Procedures, 1)
	assert.Equal(t, "ECG", appts[0].Procedures[0].Name)

	_, err = svc.CancelAppointment(ctx, a.ID)
	require.NoError(t, err)
	reopened, err := svc.GetTimeWindow(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, reopened.Booked)
	assert.Equal(t, WindowOpen, reopened.Status)
}

func TestPG_TxRollsBack(t *testing.T) {
	ctx := dbtest.Site(t, testPool)
	repo := NewProcedureRepoPG(testPool)

	boom := errors.New("boom")
	err := db.InTx(ctx, testPool, func(ctx context.Context) error {
		if err := repo.Create(ctx, &Procedure{Name: "MRI Scan", DurationMinutes: 60}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, total, err := repo.List(ctx, 10, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestPG_WindowFilter(t *testing.T) {
	ctx := dbtest.Site(t, testPool)
	svc := newPGService()
	patientID := insertPatient(t, ctx)
	other := insertPatient(t, ctx)

	start := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)
	block := []TimeBlock{{StartTime: "09:00", EndTime: "10:00"}}
	for _, reserved := range []*uuid.UUID{nil, &patientID, &other} {
		require.NoError(t, svc.CreateTimeWindow(ctx, &TimeWindow{
			ClinicianID: uuid.New(),
			PatientID:   reserved,
			StartDate:   start,
			EndDate:     start,
			TimeBlocks:  block,
		}))
	}

	items, total, err := svc.ListTimeWindows(ctx, WindowFilter{PatientID: &patientID}, 20, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	for _, w := range items {
		if w.PatientID != nil {
			assert.Equal(t, patientID, *w.PatientID)
		}
	}
}

func TestPG_LocalTimeWindowSurvivesStorage(t *testing.T) {
	ctx := dbtest.Site(t, testPool)
	svc := newPGService()
	patientID := insertPatient(t, ctx)

	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	monday := time.Date(2025, 3, 3, 0, 0, 0, 0, ny)
	w := &TimeWindow{
		ClinicianID: uuid.New(),
		StartDate:   monday,
		EndDate:     monday,
		TimeZone:    "America/New_York",
		TimeBlocks:  []TimeBlock{{DayOfWeek: "monday", StartTime: "13:00", EndTime: "17:00"}},
	}
	require.NoError(t, svc.CreateTimeWindow(ctx, w))

	stored, err := svc.GetTimeWindow(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", stored.TimeZone)
	ranges := Ranges(stored)
	require.Len(t, ranges, 1)
	assert.True(t, ranges[0].Start.Equal(monday.Add(13*time.Hour)), "start %s", ranges[0].Start)

	require.NoError(t, svc.BookAppointment(ctx, &Appointment{
		TimeWindowID: &w.ID,
		PatientID:    patientID,
		ScheduledAt:  monday.Add(14 * time.Hour),
	}))
}

func TestPG_ConcurrentBookingsForOnePatient(t *testing.T) {
	ctx := dbtest.Site(t, testPool)
	svc := newPGService()
	patientID := insertPatient(t, ctx)
	siteID := db.SiteFromContext(ctx)
	start := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)

	const n = 4
	errs := make([]error, n)
	ready := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wctx := dbtest.Pin(t, testPool, siteID)
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-ready
			errs[i] = svc.BookAppointment(wctx, &Appointment{
				PatientID:       patientID,
				ScheduledAt:     start.Add(time.Duration(i) * 10 * time.Minute),
				DurationMinutes: 60,
			})
		}(i)
	}
	close(ready)
	wg.Wait()

	booked := 0
	for _, err := range errs {
		if err == nil {
			booked++
			continue
		}
		assert.ErrorIs(t, err, ErrConflict)
	}
	assert.Equal(t, 1, booked)

	appts, err := svc.ListPatientAppointments(ctx, patientID)
	require.NoError(t, err)
	assert.Len(t, appts, 1)
}

func TestPG_ConcurrentStatusChanges(t *testing.T) {
	ctx := dbtest.Site(t, testPool)
	svc := newPGService()
	patientID := insertPatient(t, ctx)
	siteID := db.SiteFromContext(ctx)

	a := &Appointment{PatientID: patientID, ScheduledAt: time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)}
	require.NoError(t, svc.BookAppointment(ctx, a))

	changes := []func(context.Context, uuid.UUID) (*Appointment, error){
		svc.CancelAppointment,
		svc.CompleteAppointment,
		svc.MarkNoShow,
	}
	errs := make([]error, len(changes))
	ready := make(chan struct{})
	var wg sync.WaitGroup
	for i, change := range changes {
		wctx := dbtest.Pin(t, testPool, siteID)
		wg.Add(1)
		go func(i int, change func(context.Context, uuid.UUID) (*Appointment, error)) {
			defer wg.Done()
			<-ready
			_, errs[i] = change(wctx, a.ID)
		}(i, change)
	}
	close(ready)
	wg.Wait()

	won := 0
	for _, err := range errs {
		if err == nil {
			won++
			continue
		}
		assert.ErrorIs(t, err, ErrInvalidTransition)
	}
	assert.Equal(t, 1, won)

	final, err := svc.GetAppointment(ctx, a.ID)
	require.NoError(t, err)
	assert.NotEqual(t, StatusScheduled, final.Status)
}

func TestPG_BookingUnknownPatient(t *testing.T) {
	ctx := dbtest.Site(t, testPool)
	err := newPGService().BookAppointment(ctx, &Appointment{
		PatientID:   uuid.New(),
		ScheduledAt: time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC),
	})
	assert.ErrorIs(t, err, ErrNotFound)
}
