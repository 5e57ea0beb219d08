package appointment

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/interval"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInactiveDoctor    = errors.New("doctor is not active")
	ErrRoomUnavailable   = errors.New("room is not available")
	ErrServiceInactive   = errors.New("service is not offered")
	ErrInvalidInterval   = errors.New("end must be after start")
	ErrSlotConflict      = errors.New("slot conflict")
	ErrInvalidTransition = errors.New("invalid status transition")
)

var (
	ErrPatientNotFound     = fmt.Errorf("patient %w", ErrNotFound)
	ErrDoctorNotFound      = fmt.Errorf("doctor %w", ErrNotFound)
	ErrRoomNotFound        = fmt.Errorf("room %w", ErrNotFound)
	ErrServiceNotFound     = fmt.Errorf("service %w", ErrNotFound)
	ErrAppointmentNotFound = fmt.Errorf("appointment %w", ErrNotFound)
)

// SlotConflictError names the resource whose slot was taken. ConflictingID is
// uuid.Nil when the slot could not be checked because the resource stayed
// locked by another booking.
type SlotConflictError struct {
	Resource      string
	ResourceID    uuid.UUID
	ConflictingID uuid.UUID
	Interval      interval.Interval
	Cause         error
}

func (e *SlotConflictError) Error() string {
	if e.ConflictingID == uuid.Nil {
		return fmt.Sprintf("slot conflict: %s %s is busy for %s, retry later", e.Resource, e.ResourceID, e.Interval)
	}
	return fmt.Sprintf("slot conflict: %s %s already has appointment %s overlapping %s",
		e.Resource, e.ResourceID, e.ConflictingID, e.Interval)
}

func (e *SlotConflictError) Is(target error) bool { return target == ErrSlotConflict }

func (e *SlotConflictError) Unwrap() error { return e.Cause }

type TransitionError struct {
	AppointmentID uuid.UUID
	From          Status
	To            Status
	Reason        string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("appointment %s cannot go from %s to %s", e.AppointmentID, e.From, e.To)
	if e.To == "" {
		msg = fmt.Sprintf("appointment %s cannot be rescheduled in status %s", e.AppointmentID, e.From)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

func invalidInterval(iv interval.Interval) error {
	return fmt.Errorf("%w: start=%s end=%s", ErrInvalidInterval, iv.Start.Format(time.RFC3339), iv.End.Format(time.RFC3339))
}

// busyError marks a key whose lock could not be taken. It unwraps to the
// locker's error so the resolver recognises it as contention.
type busyError struct {
	key resourceKey
	err error
}

func (e *busyError) Error() string { return fmt.Sprintf("%s: %v", e.key, e.err) }

func (e *busyError) Unwrap() error { return e.err }
