package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/interval"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no_show"
)

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// Open reports whether the appointment can still be moved or closed.
func (s Status) Open() bool {
	return s == StatusScheduled || s == StatusConfirmed
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

// Blocks reports whether an appointment in this status occupies its slot.
func (s Status) Blocks() bool {
	return s != StatusCancelled
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Doctor struct {
	ID           uuid.UUID
	Name         string
	Active       bool
	SpecialtyIDs []uuid.UUID
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Room struct {
	ID        uuid.UUID
	Name      string
	Capacity  int
	Available bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MedicalService is a billable procedure an appointment can include.
type MedicalService struct {
	ID              uuid.UUID
	Name            string
	DurationMinutes int
	Active          bool
}

type Appointment struct {
	ID         uuid.UUID
	PatientID  uuid.UUID
	DoctorID   uuid.UUID
	RoomID     *uuid.UUID
	ServiceIDs []uuid.UUID
	StartTime  time.Time
	EndTime    time.Time
	Status     Status
	Reason     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (a *Appointment) Interval() interval.Interval {
	return interval.New(a.StartTime, a.EndTime)
}

type BookRequest struct {
	PatientID  uuid.UUID
	DoctorID   uuid.UUID
	RoomID     *uuid.UUID
	ServiceIDs []uuid.UUID
	StartTime  time.Time
	EndTime    time.Time
	Reason     string
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// resourceKey names what a lock and an index entry are scoped to.
type resourceKey struct {
	kind string
	id   uuid.UUID
}

const (
	ResourceDoctor = "doctor"
	ResourceRoom   = "room"
)

func (k resourceKey) String() string {
	return k.kind + ":" + k.id.String()
}

func DoctorKey(id uuid.UUID) string { return resourceKey{ResourceDoctor, id}.String() }
func RoomKey(id uuid.UUID) string   { return resourceKey{ResourceRoom, id}.String() }

// keysFor lists the keys an appointment occupies, doctor first. Every caller
// takes locks in this order.
func keysFor(doctorID uuid.UUID, roomID *uuid.UUID) []resourceKey {
	keys := []resourceKey{{ResourceDoctor, doctorID}}
	if roomID != nil {
		keys = append(keys, resourceKey{ResourceRoom, *roomID})
	}
	return keys
}
