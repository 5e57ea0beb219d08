package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-scheduling/internal/interval"
)

const (
	pgExclusionViolation  = "23P01"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

// PgRepository implements both Repository and EntityStore on Postgres.
type PgRepository struct {
	pool *pgxpool.Pool
}

var (
	_ Repository  = (*PgRepository)(nil)
	_ EntityStore = (*PgRepository)(nil)
)

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

const appointmentInsertColumns = `id, patient_id, doctor_id, room_id, start_time, end_time, status, reason, created_at, updated_at`

const appointmentColumns = appointmentInsertColumns + `,
	ARRAY(SELECT s.service_id::text FROM appointment_services s WHERE s.appointment_id = appointments.id ORDER BY s.service_id)`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient

	err := row.Scan(&p.ID, &p.Name, &p.Email, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	return &p, nil
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	var specialties []string

	err := row.Scan(&d.ID, &d.Name, &d.Active, &d.CreatedAt, &d.UpdatedAt, &specialties)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	for _, s := range specialties {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("doctor %s specialty %q: %w", d.ID, s, err)
		}
		d.SpecialtyIDs = append(d.SpecialtyIDs, id)
	}

	return &d, nil
}

func scanRoom(row pgx.Row) (*Room, error) {
	var r Room

	err := row.Scan(&r.ID, &r.Name, &r.Capacity, &r.Available, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}

	return &r, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var services []string

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.RoomID,
		&a.StartTime,
		&a.EndTime,
		&a.Status,
		&a.Reason,
		&a.CreatedAt,
		&a.UpdatedAt,
		&services,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	for _, s := range services {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("appointment %s service %q: %w", a.ID, s, err)
		}
		a.ServiceIDs = append(a.ServiceIDs, id)
	}

	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// translateWriteError turns constraint violations into the package's error
// taxonomy so storage-level guards read like the in-process checks.
func translateWriteError(a *Appointment, err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case pgExclusionViolation:
		conflict := &SlotConflictError{
			Resource:   ResourceDoctor,
			ResourceID: a.DoctorID,
			Interval:   a.Interval(),
			Cause:      err,
		}
		if strings.Contains(pgErr.ConstraintName, "room") && a.RoomID != nil {
			conflict.Resource = ResourceRoom
			conflict.ResourceID = *a.RoomID
		}
		return conflict
	case pgForeignKeyViolation:
		return missingReference(a, pgErr.ConstraintName)
	case pgCheckViolation:
		if strings.Contains(pgErr.ConstraintName, "interval") {
			return invalidInterval(a.Interval())
		}
	}
	return err
}

// missingReference names the entity a foreign key violation points at.
func missingReference(a *Appointment, constraint string) error {
	switch {
	case strings.Contains(constraint, "patient_id"):
		return fmt.Errorf("%w: %s", ErrPatientNotFound, a.PatientID)
	case strings.Contains(constraint, "doctor_id"):
		return fmt.Errorf("%w: %s", ErrDoctorNotFound, a.DoctorID)
	case strings.Contains(constraint, "room_id") && a.RoomID != nil:
		return fmt.Errorf("%w: %s", ErrRoomNotFound, *a.RoomID)
	case strings.Contains(constraint, "service_id"):
		return fmt.Errorf("%w: %s", ErrServiceNotFound, constraint)
	}
	return fmt.Errorf("%w: %s", ErrNotFound, constraint)
}

// Entity store

func (r *PgRepository) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT d.id, d.name, d.active, d.created_at, d.updated_at,
		       COALESCE(array_agg(ds.specialty_id::text) FILTER (WHERE ds.specialty_id IS NOT NULL), '{}')
		FROM doctors d
		LEFT JOIN doctor_specialties ds ON ds.doctor_id = d.id
		WHERE d.id = $1
		GROUP BY d.id
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) GetRoom(ctx context.Context, id uuid.UUID) (*Room, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, capacity, available, created_at, updated_at
		FROM rooms
		WHERE id = $1
	`, id)
	return scanRoom(row)
}

func (r *PgRepository) IsDoctorActive(ctx context.Context, id uuid.UUID) (bool, error) {
	var active bool
	err := r.pool.QueryRow(ctx, `SELECT active FROM doctors WHERE id = $1`, id).Scan(&active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrDoctorNotFound
		}
		return false, err
	}
	return active, nil
}

func (r *PgRepository) GetMedicalService(ctx context.Context, id uuid.UUID) (*MedicalService, error) {
	var svc MedicalService
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, duration_minutes, active
		FROM services
		WHERE id = $1
	`, id).Scan(&svc.ID, &svc.Name, &svc.DurationMinutes, &svc.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrServiceNotFound
		}
		return nil, err
	}
	return &svc, nil
}

// Appointments

func (r *PgRepository) InsertAppointment(ctx context.Context, a *Appointment) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO appointments (`+appointmentInsertColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, a.ID, a.PatientID, a.DoctorID, a.RoomID, a.StartTime, a.EndTime, a.Status, a.Reason, a.CreatedAt, a.UpdatedAt)
		if err != nil {
			return err
		}

		for _, serviceID := range a.ServiceIDs {
			_, err := tx.Exec(ctx, `
				INSERT INTO appointment_services (appointment_id, service_id)
				VALUES ($1, $2)
				ON CONFLICT DO NOTHING
			`, a.ID, serviceID)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return translateWriteError(a, err)
	}
	return nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListAppointmentsByDoctor(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND ($2::timestamptz IS NULL OR end_time > $2)
		  AND ($3::timestamptz IS NULL OR start_time < $3)
		ORDER BY start_time
	`, doctorID, nullableTime(from), nullableTime(to))
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListAppointmentsByRoom(ctx context.Context, roomID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE room_id = $1
		  AND ($2::timestamptz IS NULL OR end_time > $2)
		  AND ($3::timestamptz IS NULL OR start_time < $3)
		ORDER BY start_time
	`, roomID, nullableTime(from), nullableTime(to))
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListActiveAppointments(ctx context.Context) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status <> 'cancelled'
		ORDER BY doctor_id, start_time
	`)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = $4
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns+`
	`, id, to, from, at)

	return scanAppointment(row)
}

func (r *PgRepository) UpdateAppointmentInterval(ctx context.Context, id uuid.UUID, status Status, iv interval.Interval, at time.Time) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET start_time = $3,
		    end_time = $4,
		    updated_at = $5
		WHERE id = $1
		  AND status = $2
		RETURNING `+appointmentColumns+`
	`, id, status, iv.Start, iv.End, at)

	a, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		moved := &Appointment{ID: id}
		if stored, getErr := r.GetAppointmentByID(ctx, id); getErr == nil {
			moved = stored
		}
		moved.StartTime, moved.EndTime = iv.Start, iv.End
		return nil, translateWriteError(moved, err)
	}
	return a, nil
}

func (r *PgRepository) FindOverdue(ctx context.Context, before time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status IN ('scheduled', 'confirmed')
		  AND end_time < $1
		ORDER BY end_time
	`, before)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
