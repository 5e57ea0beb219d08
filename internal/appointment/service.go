package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/conflict"
	"github.com/hackgods/clinic-scheduling/internal/interval"
	"github.com/hackgods/clinic-scheduling/internal/lock"
)

const (
	EventAppointmentBooked      = "APPOINTMENT_BOOKED"
	EventAppointmentRescheduled = "APPOINTMENT_RESCHEDULED"
	EventAppointmentCancelled   = "APPOINTMENT_CANCELLED"
	EventAppointmentConfirmed   = "APPOINTMENT_CONFIRMED"
	EventAppointmentCompleted   = "APPOINTMENT_COMPLETED"
	EventAppointmentNoShow      = "APPOINTMENT_NO_SHOW"
)

var statusEvents = map[Status]string{
	StatusCancelled: EventAppointmentCancelled,
	StatusConfirmed: EventAppointmentConfirmed,
	StatusCompleted: EventAppointmentCompleted,
	StatusNoShow:    EventAppointmentNoShow,
}

type Service struct {
	repo     Repository
	entities EntityStore
	locker   lock.Locker
	resolver conflict.Resolver
	index    *interval.Index
	log      zerolog.Logger
	now      func() time.Time

	// resync reloads a key's index entries from the repository after its
	// lock is taken, for deployments where other processes also commit.
	resync bool
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithIndex(index *interval.Index) Option {
	return func(s *Service) { s.index = index }
}

func WithResync(enabled bool) Option {
	return func(s *Service) { s.resync = enabled }
}

func NewService(repo Repository, entities EntityStore, locker lock.Locker, cfg config.Config, log zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		entities: entities,
		locker:   locker,
		resolver: conflict.NewResolver(cfg.RetryAttempts, cfg.RetryBackoff, cfg.RetryMaxBackoff),
		index:    interval.NewIndex(),
		log:      log.With().Str("component", "scheduler").Logger(),
		now:      time.Now,
		resync:   cfg.LockBackend == config.LockBackendRedis,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Index exposes the in-process interval index, mostly for diagnostics.
func (s *Service) Index() *interval.Index {
	return s.index
}

// Book reserves the interval for the doctor, and the room when one is given,
// and stores a new appointment in the scheduled state.
func (s *Service) Book(ctx context.Context, req BookRequest) (*Appointment, error) {
	iv := interval.New(req.StartTime, req.EndTime)
	if !iv.Valid() {
		return nil, invalidInterval(iv)
	}

	if _, err := s.entities.GetPatient(ctx, req.PatientID); err != nil {
		return nil, lookupError(err, ErrPatientNotFound, req.PatientID)
	}

	doctor, err := s.entities.GetDoctor(ctx, req.DoctorID)
	if err != nil {
		return nil, lookupError(err, ErrDoctorNotFound, req.DoctorID)
	}
	if !doctor.Active {
		return nil, fmt.Errorf("%w: %s", ErrInactiveDoctor, doctor.ID)
	}

	if req.RoomID != nil {
		room, err := s.entities.GetRoom(ctx, *req.RoomID)
		if err != nil {
			return nil, lookupError(err, ErrRoomNotFound, *req.RoomID)
		}
		if !room.Available {
			return nil, fmt.Errorf("%w: %s", ErrRoomUnavailable, room.ID)
		}
	}

	services, err := s.checkServices(ctx, req.ServiceIDs)
	if err != nil {
		return nil, err
	}

	now := s.now()
	appt := &Appointment{
		ID:         uuid.New(),
		PatientID:  req.PatientID,
		DoctorID:   req.DoctorID,
		RoomID:     req.RoomID,
		ServiceIDs: services,
		StartTime:  iv.Start,
		EndTime:    iv.End,
		Status:     StatusScheduled,
		Reason:     req.Reason,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	keys := keysFor(appt.DoctorID, appt.RoomID)

	err = s.withKeys(ctx, keys, iv, func(lockCtx context.Context) error {
		if err := s.checkFree(lockCtx, keys, iv, uuid.Nil); err != nil {
			return err
		}
		if err := s.repo.InsertAppointment(lockCtx, appt); err != nil {
			return fmt.Errorf("save appointment: %w", err)
		}
		s.place(keys, appt.ID, iv)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, appt.ID, EventAppointmentBooked, map[string]any{
		"patient_id":  appt.PatientID.String(),
		"doctor_id":   appt.DoctorID.String(),
		"room_id":     appt.RoomID,
		"service_ids": appt.ServiceIDs,
		"start_time":  appt.StartTime,
		"end_time":    appt.EndTime,
	})
	s.log.Info().
		Str("appointment_id", appt.ID.String()).
		Str("doctor_id", appt.DoctorID.String()).
		Stringer("interval", iv).
		Msg("appointment booked")

	return appt, nil
}

// Reschedule moves an open appointment to a new interval. On failure the
// stored appointment and the index keep the old interval.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, start, end time.Time) (*Appointment, error) {
	iv := interval.New(start, end)
	if !iv.Valid() {
		return nil, invalidInterval(iv)
	}

	appt, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	keys := keysFor(appt.DoctorID, appt.RoomID)

	var result *Appointment
	var previous interval.Interval
	err = s.withKeys(ctx, keys, iv, func(lockCtx context.Context) error {
		// reload under the lock, the appointment may have changed meanwhile
		current, err := s.load(lockCtx, id)
		if err != nil {
			return err
		}
		if !current.Status.Open() {
			return &TransitionError{AppointmentID: id, From: current.Status}
		}
		previous = current.Interval()
		if previous.Equal(iv) {
			result = current
			return nil
		}

		active, err := s.entities.IsDoctorActive(lockCtx, current.DoctorID)
		if err != nil {
			return lookupError(err, ErrDoctorNotFound, current.DoctorID)
		}
		if !active {
			return fmt.Errorf("%w: %s", ErrInactiveDoctor, current.DoctorID)
		}

		if err := s.checkFree(lockCtx, keys, iv, id); err != nil {
			return err
		}

		// the status guard catches a transition committed by a process that
		// holds a different locker
		updated, err := s.repo.UpdateAppointmentInterval(lockCtx, id, current.Status, iv, s.now())
		if err != nil {
			if errors.Is(err, ErrAppointmentNotFound) {
				return &TransitionError{AppointmentID: id, From: current.Status, Reason: "status changed concurrently"}
			}
			return fmt.Errorf("update appointment interval: %w", err)
		}

		for _, k := range keys {
			s.index.Remove(k.String(), id)
		}
		s.place(keys, id, iv)
		result = updated
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !previous.Equal(iv) {
		s.logEvent(ctx, id, EventAppointmentRescheduled, map[string]any{
			"from_start": previous.Start,
			"from_end":   previous.End,
			"start_time": iv.Start,
			"end_time":   iv.End,
		})
	}

	return result, nil
}

// Cancel frees the appointment's slot. The record stays, with status cancelled.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusCancelled)
}

func (s *Service) Confirm(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusConfirmed)
}

func (s *Service) Complete(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusCompleted)
}

// MarkNoShow is only allowed once the appointment has started.
func (s *Service) MarkNoShow(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusNoShow)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, to Status) (*Appointment, error) {
	appt, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	keys := keysFor(appt.DoctorID, appt.RoomID)

	var updated *Appointment
	var from Status
	err = s.withKeys(ctx, keys, appt.Interval(), func(lockCtx context.Context) error {
		current, err := s.load(lockCtx, id)
		if err != nil {
			return err
		}
		from = current.Status

		if !CanTransition(from, to) {
			return &TransitionError{AppointmentID: id, From: from, To: to}
		}
		if to == StatusNoShow && s.now().Before(current.StartTime) {
			return &TransitionError{AppointmentID: id, From: from, To: to, Reason: "appointment has not started yet"}
		}

		updated, err = s.repo.UpdateAppointmentStatus(lockCtx, id, from, to, s.now())
		if err != nil {
			if errors.Is(err, ErrAppointmentNotFound) {
				// status moved under us, report what the caller asked for
				return &TransitionError{AppointmentID: id, From: from, To: to, Reason: "status changed concurrently"}
			}
			return fmt.Errorf("update appointment status: %w", err)
		}

		if !to.Blocks() {
			for _, k := range keys {
				s.index.Remove(k.String(), id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, id, statusEvents[to], map[string]any{"from": from})
	s.log.Info().
		Str("appointment_id", id.String()).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("appointment status changed")

	return updated, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.load(ctx, id)
}

// ListByDoctor returns the doctor's appointments overlapping [from, to),
// any status. Zero bounds are open.
func (s *Service) ListByDoctor(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	if !from.IsZero() && !to.IsZero() && !to.After(from) {
		return nil, invalidInterval(interval.New(from, to))
	}
	appts, err := s.repo.ListAppointmentsByDoctor(ctx, doctorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list appointments by doctor: %w", err)
	}
	return appts, nil
}

// RebuildIndex discards the index and reloads it from every appointment
// that still occupies its slot. It returns how many appointments were indexed.
func (s *Service) RebuildIndex(ctx context.Context) (int, error) {
	appts, err := s.repo.ListActiveAppointments(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active appointments: %w", err)
	}

	s.index.Reset()
	indexed := 0
	for i := range appts {
		a := &appts[i]
		if !a.Status.Blocks() {
			continue
		}
		ok := true
		for _, k := range keysFor(a.DoctorID, a.RoomID) {
			if err := s.index.Insert(k.String(), a.ID, a.Interval()); err != nil {
				ok = false
				s.log.Error().Err(err).
					Str("appointment_id", a.ID.String()).
					Str("key", k.String()).
					Msg("stored appointment collides with the index")
			}
		}
		if ok {
			indexed++
		}
	}

	s.log.Info().Int("appointments", indexed).Msg("interval index rebuilt")
	return indexed, nil
}

// SweepNoShows marks open appointments that ended more than grace ago as
// no-shows. It returns how many were marked.
func (s *Service) SweepNoShows(ctx context.Context, grace time.Duration) (int, error) {
	overdue, err := s.repo.FindOverdue(ctx, s.now().Add(-grace))
	if err != nil {
		return 0, fmt.Errorf("find overdue appointments: %w", err)
	}

	marked := 0
	for _, appt := range overdue {
		if ctx.Err() != nil {
			return marked, ctx.Err()
		}
		if _, err := s.MarkNoShow(ctx, appt.ID); err != nil {
			if errors.Is(err, ErrInvalidTransition) {
				continue
			}
			s.log.Warn().Err(err).Str("appointment_id", appt.ID.String()).Msg("failed to mark no-show")
			continue
		}
		marked++
	}

	return marked, nil
}

// checkServices dedupes ids and rejects unknown or retired services.
func (s *Service) checkServices(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		svc, err := s.entities.GetMedicalService(ctx, id)
		if err != nil {
			return nil, lookupError(err, ErrServiceNotFound, id)
		}
		if !svc.Active {
			return nil, fmt.Errorf("%w: %s", ErrServiceInactive, svc.ID)
		}
		out = append(out, id)
	}
	return out, nil
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, ErrAppointmentNotFound, id)
	}
	return appt, nil
}

// withKeys runs fn holding every key, doctor first, retrying the whole
// acquisition while another caller holds one of them.
func (s *Service) withKeys(ctx context.Context, keys []resourceKey, iv interval.Interval, fn func(ctx context.Context) error) error {
	err := s.resolver.Do(ctx, func(ctx context.Context) error {
		return s.lockAll(ctx, keys, fn)
	})
	if errors.Is(err, conflict.ErrContention) {
		busy := keys[0]
		var be *busyError
		if errors.As(err, &be) {
			busy = be.key
		}
		s.log.Warn().Str("key", busy.String()).Msg("gave up waiting for lock")
		return &SlotConflictError{
			Resource:   busy.kind,
			ResourceID: busy.id,
			Interval:   iv,
			Cause:      err,
		}
	}
	return err
}

func (s *Service) lockAll(ctx context.Context, keys []resourceKey, fn func(ctx context.Context) error) error {
	if len(keys) == 0 {
		return fn(ctx)
	}

	k := keys[0]
	entered := false
	err := s.locker.WithLock(ctx, k.String(), func(lockCtx context.Context) error {
		entered = true
		return s.lockAll(lockCtx, keys[1:], fn)
	})
	if !entered && errors.Is(err, lock.ErrNotAcquired) {
		return &busyError{key: k, err: err}
	}
	return err
}

// checkFree must run while holding every key.
func (s *Service) checkFree(ctx context.Context, keys []resourceKey, iv interval.Interval, exclude uuid.UUID) error {
	for _, k := range keys {
		if s.resync {
			if err := s.resyncKey(ctx, k, iv); err != nil {
				return err
			}
		}
		if e, ok := s.index.Conflict(k.String(), iv, exclude); ok {
			return &SlotConflictError{
				Resource:      k.kind,
				ResourceID:    k.id,
				ConflictingID: e.ID,
				Interval:      iv,
			}
		}
	}
	return nil
}

// resyncKey refreshes the key's entries overlapping iv from the repository.
// Entries outside iv are left alone since they cannot collide with it.
func (s *Service) resyncKey(ctx context.Context, k resourceKey, iv interval.Interval) error {
	var appts []Appointment
	var err error
	switch k.kind {
	case ResourceRoom:
		appts, err = s.repo.ListAppointmentsByRoom(ctx, k.id, iv.Start, iv.End)
	default:
		appts, err = s.repo.ListAppointmentsByDoctor(ctx, k.id, iv.Start, iv.End)
	}
	if err != nil {
		return fmt.Errorf("resync %s: %w", k, err)
	}

	entries := make([]interval.Entry, 0, len(appts))
	for i := range appts {
		if appts[i].Status.Blocks() {
			entries = append(entries, interval.Entry{ID: appts[i].ID, Interval: appts[i].Interval()})
		}
	}
	if err := s.index.Sync(k.String(), iv, entries); err != nil {
		return fmt.Errorf("resync %s: %w", k, err)
	}
	return nil
}

// place records a committed interval. The caller holds every key and has
// already checked the slot, so an insert failure means the index and the
// repository disagree.
func (s *Service) place(keys []resourceKey, id uuid.UUID, iv interval.Interval) {
	for _, k := range keys {
		if err := s.index.Insert(k.String(), id, iv); err != nil {
			s.log.Error().Err(err).
				Str("appointment_id", id.String()).
				Str("key", k.String()).
				Msg("index insert failed after commit")
		}
	}
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn().Err(err).Str("event", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Warn().Err(err).
			Str("event", eventType).
			Str("appointment_id", appointmentID.String()).
			Msg("failed to insert event log")
	}
}

// lookupError names the missing id when err is the expected not-found
// sentinel and wraps anything else as an infrastructure failure.
func lookupError(err, notFound error, id uuid.UUID) error {
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: %s", notFound, id)
	}
	return fmt.Errorf("load %s: %w", id, err)
}
