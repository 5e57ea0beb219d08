package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
)

// AppointmentService is the scheduling surface the HTTP layer drives.
type AppointmentService interface {
	Book(ctx context.Context, req appointment.BookRequest) (*appointment.Appointment, error)
	Reschedule(ctx context.Context, id uuid.UUID, start, end time.Time) (*appointment.Appointment, error)
	Cancel(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	Confirm(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	Complete(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	MarkNoShow(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	Get(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]appointment.Appointment, error)
}

var _ AppointmentService = (*appointment.Service)(nil)

type RouterConfig struct {
	Service AppointmentService
	Health  *HealthHandler
	Logger  zerolog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(RecoveryMiddleware)

	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}

	h := &handler{svc: cfg.Service, validate: validator.New(validator.WithRequiredStructEnabled())}

	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", h.book)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.get)
			r.Post("/reschedule", h.reschedule)
			r.Post("/cancel", h.statusHandler(cfg.Service.Cancel))
			r.Post("/confirm", h.statusHandler(cfg.Service.Confirm))
			r.Post("/complete", h.statusHandler(cfg.Service.Complete))
			r.Post("/no-show", h.statusHandler(cfg.Service.MarkNoShow))
		})
	})
	r.Get("/doctors/{id}/appointments", h.listByDoctor)

	return r
}
