package appointment

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/interval"
)

// memStore is an in-memory Repository and EntityStore.
type memStore struct {
	mu       sync.Mutex
	patients map[uuid.UUID]*Patient
	doctors  map[uuid.UUID]*Doctor
	rooms    map[uuid.UUID]*Room
	services map[uuid.UUID]*MedicalService
	appts    map[uuid.UUID]Appointment
	events   []EventLog

	// ranges records the bounds of every per-resource list call.
	ranges []interval.Interval

	failLookup error

	// beforeIntervalUpdate runs once, unlocked, when an interval update starts.
	beforeIntervalUpdate func()
}

func newMemStore() *memStore {
	return &memStore{
		patients: make(map[uuid.UUID]*Patient),
		doctors:  make(map[uuid.UUID]*Doctor),
		rooms:    make(map[uuid.UUID]*Room),
		services: make(map[uuid.UUID]*MedicalService),
		appts:    make(map[uuid.UUID]Appointment),
	}
}

func (m *memStore) addPatient() uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.patients[id] = &Patient{ID: id, Name: "patient"}
	return id
}

func (m *memStore) addDoctor(active bool) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.doctors[id] = &Doctor{ID: id, Name: "doctor", Active: active}
	return id
}

func (m *memStore) addRoom(available bool) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.rooms[id] = &Room{ID: id, Name: "room", Capacity: 1, Available: available}
	return id
}

func (m *memStore) addService(active bool) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.services[id] = &MedicalService{ID: id, Name: "consultation", DurationMinutes: 30, Active: active}
	return id
}

func (m *memStore) listRanges() []interval.Interval {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]interval.Interval(nil), m.ranges...)
}

func (m *memStore) setDoctorActive(id uuid.UUID, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doctors[id].Active = active
}

func (m *memStore) eventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.events))
	for _, ev := range m.events {
		out = append(out, ev.EventType)
	}
	return out
}

func (m *memStore) GetPatient(_ context.Context, id uuid.UUID) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failLookup != nil {
		return nil, m.failLookup
	}
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) GetDoctor(_ context.Context, id uuid.UUID) (*Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *memStore) GetRoom(_ context.Context, id uuid.UUID) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	if !ok {
		return nil, ErrRoomNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) IsDoctorActive(ctx context.Context, id uuid.UUID) (bool, error) {
	d, err := m.GetDoctor(ctx, id)
	if err != nil {
		return false, err
	}
	return d.Active, nil
}

func (m *memStore) GetMedicalService(_ context.Context, id uuid.UUID) (*MedicalService, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	svc, ok := m.services[id]
	if !ok {
		return nil, ErrServiceNotFound
	}
	cp := *svc
	return &cp, nil
}

func (m *memStore) InsertAppointment(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.appts[a.ID]; ok {
		return fmt.Errorf("appointment %s already stored", a.ID)
	}
	m.appts[a.ID] = *a
	return nil
}

func (m *memStore) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (m *memStore) list(match func(Appointment) bool) []Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Appointment
	for _, a := range m.appts {
		if match(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

func inRange(a Appointment, from, to time.Time) bool {
	if !from.IsZero() && !a.EndTime.After(from) {
		return false
	}
	if !to.IsZero() && !a.StartTime.Before(to) {
		return false
	}
	return true
}

func (m *memStore) recordRange(from, to time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ranges = append(m.ranges, interval.New(from, to))
}

func (m *memStore) ListAppointmentsByDoctor(_ context.Context, doctorID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	m.recordRange(from, to)
	return m.list(func(a Appointment) bool { return a.DoctorID == doctorID && inRange(a, from, to) }), nil
}

func (m *memStore) ListAppointmentsByRoom(_ context.Context, roomID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	m.recordRange(from, to)
	return m.list(func(a Appointment) bool {
		return a.RoomID != nil && *a.RoomID == roomID && inRange(a, from, to)
	}), nil
}

func (m *memStore) ListActiveAppointments(_ context.Context) ([]Appointment, error) {
	return m.list(func(a Appointment) bool { return a.Status != StatusCancelled }), nil
}

func (m *memStore) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to Status, at time.Time) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	a.UpdatedAt = at
	m.appts[id] = a
	return &a, nil
}

func (m *memStore) UpdateAppointmentInterval(_ context.Context, id uuid.UUID, status Status, iv interval.Interval, at time.Time) (*Appointment, error) {
	m.mu.Lock()
	hook := m.beforeIntervalUpdate
	m.beforeIntervalUpdate = nil
	m.mu.Unlock()
	if hook != nil {
		hook()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok || a.Status != status {
		return nil, ErrAppointmentNotFound
	}
	a.StartTime = iv.Start
	a.EndTime = iv.End
	a.UpdatedAt = at
	m.appts[id] = a
	return &a, nil
}

func (m *memStore) FindOverdue(_ context.Context, before time.Time) ([]Appointment, error) {
	return m.list(func(a Appointment) bool { return a.Status.Open() && a.EndTime.Before(before) }), nil
}

func (m *memStore) InsertEvent(_ context.Context, ev EventLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

// busyLocker never grants a key.
type busyLocker struct {
	mu    sync.Mutex
	tries int
}

func (l *busyLocker) WithLock(_ context.Context, _ string, _ func(ctx context.Context) error) error {
	l.mu.Lock()
	l.tries++
	l.mu.Unlock()
	return errLockBusy
}

// fakeClock is a settable clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
