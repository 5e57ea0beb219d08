package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logging"
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

// services maps each offered service to its usual length in minutes.
var services = map[string]int{
	"Consultation":      30,
	"Follow-up":         15,
	"Blood panel":       15,
	"ECG":               20,
	"Vaccination":       10,
	"Minor procedure":   60,
	"Physical therapy":  45,
	"Allergy screening": 30,
}

func main() {
	rootCmd := &cobra.Command{
		Use:           "seed",
		Short:         "Clinic database tooling",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func connect(ctx context.Context) (*pgxpool.Pool, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	logger := logging.New(cfg.Env, cfg.LogLevel)

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := db.ConnectPostgres(connCtx, cfg.PostgresDSN)
	if err != nil {
		return nil, logger, err
	}
	return pool, logger, nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, logger, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			applied, err := db.Migrate(cmd.Context(), pool)
			if err != nil {
				return err
			}
			logger.Info().Int("applied", applied).Msg("migrations up to date")
			return nil
		},
	}
}

func seedCmd() *cobra.Command {
	var doctors, rooms, patients int
	var seed int64

	cmd := &cobra.Command{
		Use:     "data",
		Aliases: []string{"seed"},
		Short:   "Insert fake specialties, doctors, rooms and patients",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, logger, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			if _, err := db.Migrate(ctx, pool); err != nil {
				return err
			}

			if seed == 0 {
				seed = time.Now().UnixNano()
			}
			faker := gofakeit.New(uint64(seed))

			specIDs, err := seedSpecialties(ctx, pool)
			if err != nil {
				return fmt.Errorf("seed specialties: %w", err)
			}
			if err := seedDoctors(ctx, pool, faker, specIDs, doctors); err != nil {
				return fmt.Errorf("seed doctors: %w", err)
			}
			if err := seedRooms(ctx, pool, rooms); err != nil {
				return fmt.Errorf("seed rooms: %w", err)
			}
			if err := seedServices(ctx, pool); err != nil {
				return fmt.Errorf("seed services: %w", err)
			}
			if err := seedPatients(ctx, pool, faker, patients, logger); err != nil {
				return fmt.Errorf("seed patients: %w", err)
			}

			logger.Info().
				Int("doctors", doctors).
				Int("rooms", rooms).
				Int("services", len(services)).
				Int("patients", patients).
				Msg("seed complete")
			return nil
		},
	}

	cmd.Flags().IntVar(&doctors, "doctors", 100, "number of doctors to create")
	cmd.Flags().IntVar(&rooms, "rooms", 20, "number of rooms to create")
	cmd.Flags().IntVar(&patients, "patients", 9000, "number of patients to create")
	cmd.Flags().Int64Var(&seed, "seed", 0, "faker seed, 0 picks one from the clock")
	return cmd
}

// seedSpecialties upserts the fixed specialty list and returns every id.
func seedSpecialties(ctx context.Context, pool *pgxpool.Pool) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(specialties))
	for _, name := range specialties {
		var id uuid.UUID
		err := pool.QueryRow(ctx, `
			INSERT INTO specialties (id, name)
			VALUES ($1, $2)
			ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
			RETURNING id
		`, uuid.New(), name).Scan(&id)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, specIDs []uuid.UUID, count int) error {
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for i := 0; i < count; i++ {
			id := uuid.New()
			// roughly one in twenty doctors is on leave
			active := faker.Number(1, 20) != 1

			_, err := tx.Exec(ctx, `
				INSERT INTO doctors (id, name, active, created_at, updated_at)
				VALUES ($1, $2, $3, now(), now())
			`, id, "Dr. "+faker.Name(), active)
			if err != nil {
				return err
			}

			first, n := faker.Number(0, len(specIDs)-1), faker.Number(1, 2)
			for k := 0; k < n; k++ {
				specID := specIDs[(first+k)%len(specIDs)]
				_, err := tx.Exec(ctx, `
					INSERT INTO doctor_specialties (doctor_id, specialty_id)
					VALUES ($1, $2)
					ON CONFLICT DO NOTHING
				`, id, specID)
				if err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func seedRooms(ctx context.Context, pool *pgxpool.Pool, count int) error {
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for i := 1; i <= count; i++ {
			_, err := tx.Exec(ctx, `
				INSERT INTO rooms (id, name, capacity, available, created_at, updated_at)
				VALUES ($1, $2, 1, TRUE, now(), now())
				ON CONFLICT (name) DO NOTHING
			`, uuid.New(), fmt.Sprintf("Room %03d", i))
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func seedServices(ctx context.Context, pool *pgxpool.Pool) error {
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for name, minutes := range services {
			_, err := tx.Exec(ctx, `
				INSERT INTO services (id, name, duration_minutes, active, created_at, updated_at)
				VALUES ($1, $2, $3, TRUE, now(), now())
				ON CONFLICT (name) DO UPDATE SET duration_minutes = EXCLUDED.duration_minutes
			`, uuid.New(), name, minutes)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, count int, logger zerolog.Logger) error {
	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			for i := offset; i < end; i++ {
				_, err := tx.Exec(ctx, `
					INSERT INTO patients (id, name, email, created_at, updated_at)
					VALUES ($1, $2, $3, now(), now())
					ON CONFLICT (email) DO NOTHING
				`, uuid.New(), faker.Name(), faker.Email())
				if err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}

		logger.Info().Int("done", end).Int("total", count).Msg("patients seeded")
	}
	return nil
}
