package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/trialflow/trialflow/internal/platform/db"
)

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	return err
}

// =========== Procedure Repository ===========

type procedureRepoPG struct{ pool db.Querier }

func NewProcedureRepoPG(pool db.Querier) ProcedureRepository { return &procedureRepoPG{pool: pool} }

func (r *procedureRepoPG) conn(ctx context.Context) db.Querier { return db.Resolve(ctx, r.pool) }

const procCols = `id, name, description, duration_minutes, phase, burden_type,
	blood_volume_ml, infusion_hours, created_at, updated_at`

func scanProcedure(row pgx.Row) (*Procedure, error) {
	var p Procedure
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.DurationMinutes, &p.Phase, &p.BurdenType,
		&p.BloodVolumeML, &p.InfusionHours, &p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

func (r *procedureRepoPG) Create(ctx context.Context, p *Procedure) error {
	p.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO procedure (id, name, description, duration_minutes, phase, burden_type,
			blood_volume_ml, infusion_hours)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at, updated_at`,
		p.ID, p.Name, p.Description, p.DurationMinutes, p.Phase, p.BurdenType,
		p.BloodVolumeML, p.InfusionHours).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *procedureRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Procedure, error) {
	p, err := scanProcedure(r.conn(ctx).QueryRow(ctx, `SELECT `+procCols+` FROM procedure WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "procedure")
	}
	return p, nil
}

func (r *procedureRepoPG) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*Procedure, error) {
	if len(ids) == 0 {
		return []*Procedure{}, nil
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+procCols+` FROM procedure WHERE id = ANY($1) ORDER BY name`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []*Procedure{}
	for rows.Next() {
		p, err := scanProcedure(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func (r *procedureRepoPG) List(ctx context.Context, limit, offset int) ([]*Procedure, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM procedure`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+procCols+` FROM procedure ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items := []*Procedure{}
	for rows.Next() {
		p, err := scanProcedure(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

func (r *procedureRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM procedure WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: procedure", ErrNotFound)
	}
	return nil
}

// =========== Time Window Repository ===========

type timeWindowRepoPG struct{ pool db.Querier }

func NewTimeWindowRepoPG(pool db.Querier) TimeWindowRepository { return &timeWindowRepoPG{pool: pool} }

func (r *timeWindowRepoPG) conn(ctx context.Context) db.Querier { return db.Resolve(ctx, r.pool) }

const windowCols = `id, clinician_id, patient_id, procedure_ids, start_date, end_date,
	time_blocks, time_zone, capacity, booked, status, notes, created_at, updated_at`

func scanWindow(row pgx.Row) (*TimeWindow, error) {
	var w TimeWindow
	var blocks []byte
	if err := row.Scan(&w.ID, &w.ClinicianID, &w.PatientID, &w.ProcedureIDs, &w.StartDate, &w.EndDate,
		&blocks, &w.TimeZone, &w.Capacity, &w.Booked, &w.Status, &w.Notes, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	if len(blocks) > 0 {
		if err := json.Unmarshal(blocks, &w.TimeBlocks); err != nil {
			return nil, fmt.Errorf("decode time blocks: %w", err)
		}
	}
	if w.ProcedureIDs == nil {
		w.ProcedureIDs = []uuid.UUID{}
	}
	return &w, nil
}

func (r *timeWindowRepoPG) Create(ctx context.Context, w *TimeWindow) error {
	w.ID = uuid.New()
	blocks, err := json.Marshal(w.TimeBlocks)
	if err != nil {
		return fmt.Errorf("encode time blocks: %w", err)
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO time_window (id, clinician_id, patient_id, procedure_ids, start_date, end_date,
			time_blocks, time_zone, capacity, booked, status, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING created_at, updated_at`,
		w.ID, w.ClinicianID, w.PatientID, w.ProcedureIDs, w.StartDate, w.EndDate,
		blocks, w.TimeZone, w.Capacity, w.Booked, w.Status, w.Notes).Scan(&w.CreatedAt, &w.UpdatedAt)
}

func (r *timeWindowRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*TimeWindow, error) {
	w, err := scanWindow(r.conn(ctx).QueryRow(ctx, `SELECT `+windowCols+` FROM time_window WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "time window")
	}
	return w, nil
}

func (r *timeWindowRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*TimeWindow, error) {
	w, err := scanWindow(r.conn(ctx).QueryRow(ctx, `SELECT `+windowCols+` FROM time_window WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, "time window")
	}
	return w, nil
}

func (r *timeWindowRepoPG) List(ctx context.Context, f WindowFilter, limit, offset int) ([]*TimeWindow, int, error) {
	q := db.NewListQuery("time_window", windowCols)
	if f.ClinicianID != nil {
		q.AddEq("clinician_id", *f.ClinicianID)
	}
	if f.PatientID != nil {
		q.Add(fmt.Sprintf("(patient_id = $%d OR patient_id IS NULL)", q.Idx()), *f.PatientID)
	}
	if f.Status != "" {
		q.AddEq("status", f.Status)
	}
	q.OrderBy("start_date, created_at")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, q.CountSQL(), q.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, q.DataSQL(limit, offset), q.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items := []*TimeWindow{}
	for rows.Next() {
		w, err := scanWindow(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, w)
	}
	return items, total, rows.Err()
}

func (r *timeWindowRepoPG) UpdateBooking(ctx context.Context, id uuid.UUID, booked int, status WindowStatus) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE time_window SET booked = $2, status = $3, updated_at = NOW()
		WHERE id = $1`, id, booked, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: time window", ErrNotFound)
	}
	return nil
}

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ pool db.Querier }

func NewAppointmentRepoPG(pool db.Querier) AppointmentRepository { return &appointmentRepoPG{pool: pool} }

func (r *appointmentRepoPG) conn(ctx context.Context) db.Querier { return db.Resolve(ctx, r.pool) }

const apptCols = `id, time_window_id, patient_id, clinician_id, procedure_ids, scheduled_at,
	duration_minutes, location, status, notes, travel_minutes, window_days, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.TimeWindowID, &a.PatientID, &a.ClinicianID, &a.ProcedureIDs, &a.ScheduledAt,
		&a.DurationMinutes, &a.Location, &a.Status, &a.Notes, &a.TravelMinutes, &a.WindowDays,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if a.ProcedureIDs == nil {
		a.ProcedureIDs = []uuid.UUID{}
	}
	return &a, nil
}

func (r *appointmentRepoPG) LockPatient(ctx context.Context, patientID uuid.UUID) error {
	var id uuid.UUID
	err := r.conn(ctx).QueryRow(ctx, `SELECT id FROM patient WHERE id = $1 FOR UPDATE`, patientID).Scan(&id)
	if err != nil {
		return notFound(err, "patient")
	}
	return nil
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointment (id, time_window_id, patient_id, clinician_id, procedure_ids, scheduled_at,
			duration_minutes, location, status, notes, travel_minutes, window_days)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING created_at, updated_at`,
		a.ID, a.TimeWindowID, a.PatientID, a.ClinicianID, a.ProcedureIDs, a.ScheduledAt,
		a.DurationMinutes, a.Location, a.Status, a.Notes, a.TravelMinutes, a.WindowDays).
		Scan(&a.CreatedAt, &a.UpdatedAt)
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := scanAppointment(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointment WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "appointment")
	}
	return a, nil
}

func (r *appointmentRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+apptCols+` FROM appointment WHERE patient_id = $1 ORDER BY scheduled_at`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []*Appointment{}
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *appointmentRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointment SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2`, id, from, to)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: appointment is no longer %s", ErrInvalidTransition, from)
	}
	return nil
}

func (r *appointmentRepoPG) CountActiveInWindow(ctx context.Context, windowID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM appointment
		WHERE time_window_id = $1 AND status IN ('scheduled', 'completed')`, windowID).Scan(&n)
	return n, err
}
