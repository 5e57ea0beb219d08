package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// decodeAndValidate reads a JSON body into dst and runs its validate tags.
// It writes the 400 response itself and reports false on failure.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, v *validator.Validate, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}

	if err := v.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return false
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:  "validation_failed",
			Fields: formatValidationErrors(verrs),
		})
		return false
	}
	return true
}

func formatValidationErrors(verrs validator.ValidationErrors) map[string]string {
	out := make(map[string]string, len(verrs))
	for _, e := range verrs {
		field := e.Field()
		switch e.Tag() {
		case "required":
			out[field] = field + " is required"
		case "uuid":
			out[field] = field + " must be a valid UUID"
		case "unique":
			out[field] = field + " must not repeat"
		case "max":
			out[field] = field + " must be at most " + e.Param() + " characters"
		default:
			out[field] = field + " is invalid"
		}
	}
	return out
}

// writeServiceError maps scheduling errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var conflict *appointment.SlotConflictError

	switch {
	case errors.As(err, &conflict):
		resp := ErrorResponse{Error: "slot_conflict", Details: conflict.Error()}
		if conflict.ConflictingID != uuid.Nil {
			id := conflict.ConflictingID
			resp.ConflictingID = &id
		} else {
			w.Header().Set("Retry-After", "1")
		}
		writeJSON(w, http.StatusConflict, resp)
	case errors.Is(err, appointment.ErrInvalidInterval):
		writeError(w, http.StatusBadRequest, "invalid_interval", err.Error())
	case errors.Is(err, appointment.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, appointment.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, appointment.ErrRoomNotFound):
		writeError(w, http.StatusNotFound, "room_not_found", err.Error())
	case errors.Is(err, appointment.ErrServiceNotFound):
		writeError(w, http.StatusNotFound, "service_not_found", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, appointment.ErrInactiveDoctor):
		writeError(w, http.StatusConflict, "doctor_inactive", err.Error())
	case errors.Is(err, appointment.ErrRoomUnavailable):
		writeError(w, http.StatusConflict, "room_unavailable", err.Error())
	case errors.Is(err, appointment.ErrServiceInactive):
		writeError(w, http.StatusConflict, "service_unavailable", err.Error())
	case errors.Is(err, appointment.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func parseID(w http.ResponseWriter, raw, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, fmt.Sprintf("%s must be a valid UUID", name))
		return uuid.Nil, false
	}
	return id, true
}
