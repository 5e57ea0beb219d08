package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
)

type handler struct {
	svc      AppointmentService
	validate *validator.Validate
}

func (h *handler) book(w http.ResponseWriter, r *http.Request) {
	var req BookAppointmentRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	// validated as uuids above
	book := appointment.BookRequest{
		PatientID: uuid.MustParse(req.PatientID),
		DoctorID:  uuid.MustParse(req.DoctorID),
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Reason:    req.Reason,
	}
	if req.RoomID != nil {
		roomID := uuid.MustParse(*req.RoomID)
		book.RoomID = &roomID
	}
	for _, raw := range req.ServiceIDs {
		book.ServiceIDs = append(book.ServiceIDs, uuid.MustParse(raw))
	}

	appt, err := h.svc.Book(r.Context(), book)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toResponse(appt))
}

func (h *handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, chi.URLParam(r, "id"), "appointment_id")
	if !ok {
		return
	}

	appt, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(appt))
}

func (h *handler) reschedule(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, chi.URLParam(r, "id"), "appointment_id")
	if !ok {
		return
	}
	var req RescheduleRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	appt, err := h.svc.Reschedule(r.Context(), id, req.StartTime, req.EndTime)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(appt))
}

// statusHandler serves the body-less lifecycle endpoints.
func (h *handler) statusHandler(op func(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, chi.URLParam(r, "id"), "appointment_id")
		if !ok {
			return
		}

		appt, err := op(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toResponse(appt))
	}
}

func (h *handler) listByDoctor(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := parseID(w, chi.URLParam(r, "id"), "doctor_id")
	if !ok {
		return
	}

	var from, to time.Time
	if raw := r.URL.Query().Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_from", "from must be an RFC 3339 timestamp")
			return
		}
		from = t
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_to", "to must be an RFC 3339 timestamp")
			return
		}
		to = t
	}

	appts, err := h.svc.ListByDoctor(r.Context(), doctorID, from, to)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	resp := ListAppointmentsResponse{Appointments: make([]AppointmentResponse, 0, len(appts))}
	for i := range appts {
		resp.Appointments = append(resp.Appointments, toResponse(&appts[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}
