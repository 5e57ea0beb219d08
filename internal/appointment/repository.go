package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/interval"
)

// EntityStore reads the reference data bookings point at. Reads take no
// scheduling locks.
type EntityStore interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetRoom(ctx context.Context, id uuid.UUID) (*Room, error)
	IsDoctorActive(ctx context.Context, id uuid.UUID) (bool, error)
	GetMedicalService(ctx context.Context, id uuid.UUID) (*MedicalService, error)
}

// Repository persists appointments. The interval index is rebuilt from it.
type Repository interface {
	// InsertAppointment stores a new appointment with its service links.
	InsertAppointment(ctx context.Context, a *Appointment) error
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// Zero from or to leaves that side of the range open.
	ListAppointmentsByDoctor(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Appointment, error)
	ListAppointmentsByRoom(ctx context.Context, roomID uuid.UUID, from, to time.Time) ([]Appointment, error)
	ListActiveAppointments(ctx context.Context) ([]Appointment, error)

	// UpdateAppointmentStatus moves id from -> to, failing with
	// ErrAppointmentNotFound when the stored status is no longer from.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) (*Appointment, error)

	// UpdateAppointmentInterval moves id to iv while its status is still
	// status, failing with ErrAppointmentNotFound otherwise.
	UpdateAppointmentInterval(ctx context.Context, id uuid.UUID, status Status, iv interval.Interval, at time.Time) (*Appointment, error)

	// No-show sweep
	FindOverdue(ctx context.Context, before time.Time) ([]Appointment, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}
