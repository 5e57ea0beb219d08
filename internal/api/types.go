package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
)

type BookAppointmentRequest struct {
	PatientID  string    `json:"patient_id" validate:"required,uuid"`
	DoctorID   string    `json:"doctor_id" validate:"required,uuid"`
	RoomID     *string   `json:"room_id,omitempty" validate:"omitempty,uuid"`
	ServiceIDs []string  `json:"service_ids,omitempty" validate:"omitempty,max=20,unique,dive,uuid"`
	StartTime  time.Time `json:"start_time" validate:"required"`
	EndTime    time.Time `json:"end_time" validate:"required"`
	Reason     string    `json:"reason" validate:"max=500"`
}

type RescheduleRequest struct {
	StartTime time.Time `json:"start_time" validate:"required"`
	EndTime   time.Time `json:"end_time" validate:"required"`
}

type AppointmentResponse struct {
	ID         uuid.UUID   `json:"id"`
	PatientID  uuid.UUID   `json:"patient_id"`
	DoctorID   uuid.UUID   `json:"doctor_id"`
	RoomID     *uuid.UUID  `json:"room_id,omitempty"`
	ServiceIDs []uuid.UUID `json:"service_ids"`
	StartTime  time.Time   `json:"start_time"`
	EndTime    time.Time   `json:"end_time"`
	Status     string      `json:"status"`
	Reason     string      `json:"reason,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

type ListAppointmentsResponse struct {
	Appointments []AppointmentResponse `json:"appointments"`
}

type ErrorResponse struct {
	Error         string            `json:"error"`
	Details       string            `json:"details,omitempty"`
	Fields        map[string]string `json:"fields,omitempty"`
	ConflictingID *uuid.UUID        `json:"conflicting_appointment_id,omitempty"`
}

func toResponse(a *appointment.Appointment) AppointmentResponse {
	services := a.ServiceIDs
	if services == nil {
		services = []uuid.UUID{}
	}
	return AppointmentResponse{
		ID:         a.ID,
		PatientID:  a.PatientID,
		DoctorID:   a.DoctorID,
		RoomID:     a.RoomID,
		ServiceIDs: services,
		StartTime:  a.StartTime.UTC(),
		EndTime:    a.EndTime.UTC(),
		Status:     string(a.Status),
		Reason:     a.Reason,
		CreatedAt:  a.CreatedAt.UTC(),
		UpdatedAt:  a.UpdatedAt.UTC(),
	}
}
