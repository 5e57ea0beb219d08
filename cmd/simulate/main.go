package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logging"
)

type SimConfig struct {
	APIBaseURL     string
	Duration       time.Duration
	Workers        int
	DoctorLimit    int
	PatientLimit   int
	SlotMinutes    int
	RoomRatio      float64
	DayStartHour   int
	DayEndHour     int
	ScheduleOffset time.Duration
}

// DataPool holds the ids workers pick from. Doctors are kept few on purpose so
// that workers collide on the same slots.
type DataPool struct {
	Patients []uuid.UUID
	Doctors  []uuid.UUID
	Rooms    []uuid.UUID

	mu           sync.RWMutex
	appointments []uuid.UUID
}

func (dp *DataPool) AddAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) RandomAppointment(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	day     time.Time
	metrics Metrics
	log     zerolog.Logger
}

func main() {
	base, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("config load error")
	}
	logger := logging.New(base.Env, base.LogLevel).With().Str("service", "simulate").Logger()

	cfg := loadConfig()
	if cfg.Workers <= 0 || cfg.Duration <= 0 || cfg.SlotMinutes <= 0 || cfg.DayEndHour <= cfg.DayStartHour {
		logger.Fatal().Interface("config", cfg).Msg("invalid simulation config")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, base.PostgresDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("load data pool")
	}
	logger.Info().
		Int("patients", len(dataPool.Patients)).
		Int("doctors", len(dataPool.Doctors)).
		Int("rooms", len(dataPool.Rooms)).
		Msg("data pool loaded")

	day := time.Now().UTC().Add(cfg.ScheduleOffset).Truncate(24 * time.Hour)
	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		day:    day,
		log:    logger,
	}

	sim.Run()
	sim.metrics.Print(cfg.Duration, cfg.Workers)

	verifyCtx, cancelVerify := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelVerify()
	overlaps, err := countOverlaps(verifyCtx, pgPool)
	if err != nil {
		logger.Fatal().Err(err).Msg("overlap verification failed")
	}
	if overlaps > 0 {
		logger.Error().Int("pairs", overlaps).Msg("overlapping appointments found")
		os.Exit(1)
	}
	logger.Info().Msg("no overlapping appointments")
}

func loadConfig() SimConfig {
	return SimConfig{
		APIBaseURL:     getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:       getDuration("SIM_DURATION", 30*time.Second),
		Workers:        getInt("SIM_WORKERS", 10),
		DoctorLimit:    getInt("SIM_DOCTOR_LIMIT", 5),
		PatientLimit:   getInt("SIM_PATIENT_LIMIT", 4000),
		SlotMinutes:    getInt("SIM_SLOT_MINUTES", 15),
		RoomRatio:      getFloat("SIM_ROOM_RATIO", 0.3),
		DayStartHour:   getInt("SIM_DAY_START_HOUR", 8),
		DayEndHour:     getInt("SIM_DAY_END_HOUR", 18),
		ScheduleOffset: getDuration("SIM_SCHEDULE_OFFSET", 48*time.Hour),
	}
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dp := &DataPool{}
	var err error

	if dp.Patients, err = loadIDs(ctx, pool, `SELECT id FROM patients LIMIT $1`, cfg.PatientLimit); err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	if dp.Doctors, err = loadIDs(ctx, pool, `SELECT id FROM doctors WHERE active LIMIT $1`, cfg.DoctorLimit); err != nil {
		return nil, fmt.Errorf("load doctors: %w", err)
	}
	if dp.Rooms, err = loadIDs(ctx, pool, `SELECT id FROM rooms WHERE available LIMIT $1`, cfg.DoctorLimit); err != nil {
		return nil, fmt.Errorf("load rooms: %w", err)
	}

	if len(dp.Patients) == 0 || len(dp.Doctors) == 0 {
		return nil, fmt.Errorf("no patients or doctors, run the seed tool first")
	}
	return dp, nil
}

func loadIDs(ctx context.Context, pool *pgxpool.Pool, query string, limit int) ([]uuid.UUID, error) {
	rows, err := pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// countOverlaps returns the number of live appointment pairs sharing a doctor
// or a room with intersecting intervals. Anything above zero is a bug.
func countOverlaps(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	var n int
	err := pool.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments a
		JOIN appointments b
		  ON a.id < b.id
		 AND (a.doctor_id = b.doctor_id OR (a.room_id IS NOT NULL AND a.room_id = b.room_id))
		 AND a.start_time < b.end_time
		 AND b.start_time < a.end_time
		WHERE a.status <> 'cancelled' AND b.status <> 'cancelled'
	`).Scan(&n)
	return n, err
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting simulation")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}
	wg.Wait()

	s.log.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for ctx.Err() == nil {
		switch r := rng.Float64(); {
		case r < 0.45:
			s.doBook(ctx, rng)
		case r < 0.55:
			s.doReschedule(ctx, rng)
		case r < 0.65:
			s.doStatus(ctx, rng, "cancel", &s.metrics.Cancel)
		case r < 0.75:
			s.doStatus(ctx, rng, "confirm", &s.metrics.Confirm)
		case r < 0.9:
			s.doReadByID(ctx, rng)
		default:
			s.doListByDoctor(ctx, rng)
		}
	}
}

// randomSlot picks a grid-aligned interval one to three slots long.
func (s *Simulator) randomSlot(rng *rand.Rand) (time.Time, time.Time) {
	slot := time.Duration(s.config.SlotMinutes) * time.Minute
	slots := (s.config.DayEndHour - s.config.DayStartHour) * 60 / s.config.SlotMinutes
	start := s.day.Add(time.Duration(s.config.DayStartHour)*time.Hour + time.Duration(rng.Intn(slots))*slot)
	return start, start.Add(time.Duration(1+rng.Intn(3)) * slot)
}

func (s *Simulator) doBook(ctx context.Context, rng *rand.Rand) {
	start, end := s.randomSlot(rng)
	body := map[string]any{
		"patient_id": s.pool.Patients[rng.Intn(len(s.pool.Patients))],
		"doctor_id":  s.pool.Doctors[rng.Intn(len(s.pool.Doctors))],
		"start_time": start,
		"end_time":   end,
		"reason":     "simulated visit",
	}
	if len(s.pool.Rooms) > 0 && rng.Float64() < s.config.RoomRatio {
		body["room_id"] = s.pool.Rooms[rng.Intn(len(s.pool.Rooms))]
	}

	status, respBody := s.call(ctx, http.MethodPost, "/appointments", body, &s.metrics.Book)
	if status != http.StatusCreated {
		return
	}
	var appt struct {
		ID uuid.UUID `json:"id"`
	}
	if err := json.Unmarshal(respBody, &appt); err == nil && appt.ID != uuid.Nil {
		s.pool.AddAppointment(appt.ID)
	}
}

func (s *Simulator) doReschedule(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	start, end := s.randomSlot(rng)
	s.call(ctx, http.MethodPost, "/appointments/"+id.String()+"/reschedule",
		map[string]any{"start_time": start, "end_time": end}, &s.metrics.Reschedule)
}

func (s *Simulator) doStatus(ctx context.Context, rng *rand.Rand, op string, om *OperationMetrics) {
	id, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	s.call(ctx, http.MethodPost, "/appointments/"+id.String()+"/"+op, nil, om)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	s.call(ctx, http.MethodGet, "/appointments/"+id.String(), nil, &s.metrics.ReadByID)
}

func (s *Simulator) doListByDoctor(ctx context.Context, rng *rand.Rand) {
	doctor := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]
	from := s.day.Format(time.RFC3339)
	to := s.day.Add(24 * time.Hour).Format(time.RFC3339)
	s.call(ctx, http.MethodGet, fmt.Sprintf("/doctors/%s/appointments?from=%s&to=%s", doctor, from, to), nil, &s.metrics.ListByDoctor)
}

// call performs one request and records it. Requests cut off by the end of
// the run are not recorded.
func (s *Simulator) call(ctx context.Context, method, path string, body any, om *OperationMetrics) (int, []byte) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return 0, nil
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, reader)
	if err != nil {
		return 0, nil
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		if ctx.Err() == nil {
			om.Record(latency, 0)
		}
		return 0, nil
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	om.Record(latency, resp.StatusCode)
	return resp.StatusCode, respBody
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
