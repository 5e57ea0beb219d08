package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/interval"
)

type fakeService struct {
	book     func(appointment.BookRequest) (*appointment.Appointment, error)
	status   func(op string, id uuid.UUID) (*appointment.Appointment, error)
	list     func(doctorID uuid.UUID, from, to time.Time) ([]appointment.Appointment, error)
	lastBook appointment.BookRequest
}

func (f *fakeService) Book(_ context.Context, req appointment.BookRequest) (*appointment.Appointment, error) {
	f.lastBook = req
	return f.book(req)
}

func (f *fakeService) Reschedule(_ context.Context, id uuid.UUID, start, end time.Time) (*appointment.Appointment, error) {
	a := sampleAppointment()
	a.ID, a.StartTime, a.EndTime = id, start, end
	return a, nil
}

func (f *fakeService) Cancel(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	return f.status("cancel", id)
}

func (f *fakeService) Confirm(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	return f.status("confirm", id)
}

func (f *fakeService) Complete(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	return f.status("complete", id)
}

func (f *fakeService) MarkNoShow(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	return f.status("no-show", id)
}

func (f *fakeService) Get(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	return f.status("get", id)
}

func (f *fakeService) ListByDoctor(_ context.Context, doctorID uuid.UUID, from, to time.Time) ([]appointment.Appointment, error) {
	return f.list(doctorID, from, to)
}

var start = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func sampleAppointment() *appointment.Appointment {
	return &appointment.Appointment{
		ID:        uuid.New(),
		PatientID: uuid.New(),
		DoctorID:  uuid.New(),
		StartTime: start,
		EndTime:   start.Add(30 * time.Minute),
		Status:    appointment.StatusScheduled,
	}
}

func newTestRouter(svc *fakeService) http.Handler {
	return NewRouter(RouterConfig{Service: svc, Logger: zerolog.New(io.Discard)})
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestBookHandler_Created(t *testing.T) {
	svc := &fakeService{book: func(req appointment.BookRequest) (*appointment.Appointment, error) {
		a := sampleAppointment()
		a.PatientID, a.DoctorID, a.RoomID = req.PatientID, req.DoctorID, req.RoomID
		return a, nil
	}}
	patient, doctor, room := uuid.New(), uuid.New(), uuid.New().String()

	rec := do(t, newTestRouter(svc), http.MethodPost, "/appointments", BookAppointmentRequest{
		PatientID: patient.String(),
		DoctorID:  doctor.String(),
		RoomID:    &room,
		StartTime: start,
		EndTime:   start.Add(30 * time.Minute),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, patient, resp.PatientID)
	assert.Equal(t, "scheduled", resp.Status)
	require.NotNil(t, resp.RoomID)
	assert.Equal(t, room, resp.RoomID.String())
	assert.Equal(t, start, svc.lastBook.StartTime)
	assert.Equal(t, []uuid.UUID{}, resp.ServiceIDs)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestBookHandler_ServiceIDs(t *testing.T) {
	svc := &fakeService{book: func(req appointment.BookRequest) (*appointment.Appointment, error) {
		a := sampleAppointment()
		a.ServiceIDs = req.ServiceIDs
		return a, nil
	}}
	h := newTestRouter(svc)
	first, second := uuid.New(), uuid.New()

	rec := do(t, h, http.MethodPost, "/appointments", BookAppointmentRequest{
		PatientID:  uuid.NewString(),
		DoctorID:   uuid.NewString(),
		ServiceIDs: []string{first.String(), second.String()},
		StartTime:  start,
		EndTime:    start.Add(30 * time.Minute),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, []uuid.UUID{first, second}, svc.lastBook.ServiceIDs)

	var resp AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []uuid.UUID{first, second}, resp.ServiceIDs)

	rec = do(t, h, http.MethodPost, "/appointments", BookAppointmentRequest{
		PatientID:  uuid.NewString(),
		DoctorID:   uuid.NewString(),
		ServiceIDs: []string{"nope"},
		StartTime:  start,
		EndTime:    start.Add(30 * time.Minute),
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_failed", decodeError(t, rec).Error)
}

func TestBookHandler_BadInput(t *testing.T) {
	svc := &fakeService{book: func(appointment.BookRequest) (*appointment.Appointment, error) {
		t.Fatal("service must not be called")
		return nil, nil
	}}
	h := newTestRouter(svc)

	rec := do(t, h, http.MethodPost, "/appointments", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request_body", decodeError(t, rec).Error)

	rec = do(t, h, http.MethodPost, "/appointments", map[string]any{
		"doctor_id":  "nope",
		"start_time": start,
		"end_time":   start.Add(time.Hour),
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "validation_failed", resp.Error)
	assert.Contains(t, resp.Fields, "PatientID")
	assert.Equal(t, "DoctorID must be a valid UUID", resp.Fields["DoctorID"])
}

func TestBookHandler_ErrorMapping(t *testing.T) {
	other := uuid.New()
	iv := interval.New(start, start.Add(time.Hour))

	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"conflict", &appointment.SlotConflictError{Resource: appointment.ResourceDoctor, ConflictingID: other, Interval: iv}, http.StatusConflict, "slot_conflict"},
		{"interval", fmt.Errorf("%w: start=x end=y", appointment.ErrInvalidInterval), http.StatusBadRequest, "invalid_interval"},
		{"patient", fmt.Errorf("%w: %s", appointment.ErrPatientNotFound, other), http.StatusNotFound, "patient_not_found"},
		{"doctor", appointment.ErrDoctorNotFound, http.StatusNotFound, "doctor_not_found"},
		{"room", appointment.ErrRoomNotFound, http.StatusNotFound, "room_not_found"},
		{"service", appointment.ErrServiceNotFound, http.StatusNotFound, "service_not_found"},
		{"unnamed reference", fmt.Errorf("%w: some_fkey", appointment.ErrNotFound), http.StatusNotFound, "not_found"},
		{"retired service", appointment.ErrServiceInactive, http.StatusConflict, "service_unavailable"},
		{"inactive", appointment.ErrInactiveDoctor, http.StatusConflict, "doctor_inactive"},
		{"unavailable", appointment.ErrRoomUnavailable, http.StatusConflict, "room_unavailable"},
		{"infra", errors.New("connection refused"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &fakeService{book: func(appointment.BookRequest) (*appointment.Appointment, error) { return nil, tc.err }}
			rec := do(t, newTestRouter(svc), http.MethodPost, "/appointments", BookAppointmentRequest{
				PatientID: uuid.NewString(),
				DoctorID:  uuid.NewString(),
				StartTime: start,
				EndTime:   start.Add(time.Hour),
			})
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.code, decodeError(t, rec).Error)
		})
	}
}

func TestBookHandler_ConflictBody(t *testing.T) {
	other := uuid.New()
	h := newTestRouter(&fakeService{book: func(appointment.BookRequest) (*appointment.Appointment, error) {
		return nil, &appointment.SlotConflictError{ConflictingID: other}
	}})
	body := BookAppointmentRequest{PatientID: uuid.NewString(), DoctorID: uuid.NewString(), StartTime: start, EndTime: start.Add(time.Hour)}

	rec := do(t, h, http.MethodPost, "/appointments", body)
	resp := decodeError(t, rec)
	require.NotNil(t, resp.ConflictingID)
	assert.Equal(t, other, *resp.ConflictingID)
	assert.Empty(t, rec.Header().Get("Retry-After"))

	busy := newTestRouter(&fakeService{book: func(appointment.BookRequest) (*appointment.Appointment, error) {
		return nil, &appointment.SlotConflictError{}
	}})
	rec = do(t, busy, http.MethodPost, "/appointments", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Nil(t, decodeError(t, rec).ConflictingID)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestStatusHandlers(t *testing.T) {
	var calls []string
	svc := &fakeService{status: func(op string, id uuid.UUID) (*appointment.Appointment, error) {
		calls = append(calls, op)
		if op == "complete" {
			return nil, &appointment.TransitionError{AppointmentID: id, From: appointment.StatusScheduled, To: appointment.StatusCompleted}
		}
		a := sampleAppointment()
		a.ID = id
		return a, nil
	}}
	h := newTestRouter(svc)
	id := uuid.New()

	for _, op := range []string{"cancel", "confirm", "no-show"} {
		rec := do(t, h, http.MethodPost, "/appointments/"+id.String()+"/"+op, nil)
		assert.Equal(t, http.StatusOK, rec.Code, op)
	}

	rec := do(t, h, http.MethodPost, "/appointments/"+id.String()+"/complete", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_status_transition", decodeError(t, rec).Error)

	rec = do(t, h, http.MethodGet, "/appointments/"+id.String(), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, []string{"cancel", "confirm", "no-show", "complete", "get"}, calls)

	rec = do(t, h, http.MethodPost, "/appointments/not-a-uuid/cancel", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_appointment_id", decodeError(t, rec).Error)
}

func TestGetHandler_NotFound(t *testing.T) {
	h := newTestRouter(&fakeService{status: func(string, uuid.UUID) (*appointment.Appointment, error) {
		return nil, appointment.ErrAppointmentNotFound
	}})

	rec := do(t, h, http.MethodGet, "/appointments/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "appointment_not_found", decodeError(t, rec).Error)
}

func TestRescheduleHandler(t *testing.T) {
	h := newTestRouter(&fakeService{})
	id := uuid.New()

	rec := do(t, h, http.MethodPost, "/appointments/"+id.String()+"/reschedule", RescheduleRequest{
		StartTime: start.Add(2 * time.Hour),
		EndTime:   start.Add(3 * time.Hour),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, start.Add(2*time.Hour), resp.StartTime)

	rec = do(t, h, http.MethodPost, "/appointments/"+id.String()+"/reschedule", map[string]any{"start_time": start})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeError(t, rec).Fields, "EndTime")
}

func TestListByDoctorHandler(t *testing.T) {
	doctor := uuid.New()
	var gotFrom, gotTo time.Time
	h := newTestRouter(&fakeService{list: func(id uuid.UUID, from, to time.Time) ([]appointment.Appointment, error) {
		assert.Equal(t, doctor, id)
		gotFrom, gotTo = from, to
		return []appointment.Appointment{*sampleAppointment(), *sampleAppointment()}, nil
	}})

	rec := do(t, h, http.MethodGet, "/doctors/"+doctor.String()+"/appointments?from=2026-03-02T08:00:00Z&to=2026-03-02T18:00:00Z", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ListAppointmentsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Appointments, 2)
	assert.Equal(t, time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC), gotFrom)
	assert.Equal(t, time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC), gotTo)

	rec = do(t, h, http.MethodGet, "/doctors/"+doctor.String()+"/appointments", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, gotFrom.IsZero())
	assert.True(t, gotTo.IsZero())

	rec = do(t, h, http.MethodGet, "/doctors/"+doctor.String()+"/appointments?from=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_from", decodeError(t, rec).Error)
}

func TestRecoveryMiddleware(t *testing.T) {
	h := newTestRouter(&fakeService{status: func(string, uuid.UUID) (*appointment.Appointment, error) {
		panic("boom")
	}})

	rec := do(t, h, http.MethodGet, "/appointments/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequestIDIsEchoed(t *testing.T) {
	h := newTestRouter(&fakeService{})
	req := httptest.NewRequest(http.MethodGet, "/appointments/bad", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}
