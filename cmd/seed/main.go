package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/careloop/clinic-inbox/internal/config"
	"github.com/careloop/clinic-inbox/internal/db"
	"github.com/careloop/clinic-inbox/internal/logging"
)

var facilityNames = []string{
	"King Hospital",
	"St. Mary Medical Center",
	"Riverside Clinic",
	"Northgate Family Practice",
	"Sunrise Children's Hospital",
	"Lakeview Diagnostic Center",
	"Central City Hospital",
	"Hillcrest Orthopedic Clinic",
}

var services = []string{
	"General Consultation",
	"Dermatology",
	"Cardiology",
	"Orthopedics",
	"Pediatrics",
	"Radiology",
	"Physiotherapy",
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Init("seed", "dev")
		log.Fatal().Err(err).Msg("config load error")
	}

	logging.Init("seed", cfg.Env)
	log.Info().Msg("seed starting")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, cfg.PgMaxConns)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	facilityIDs, err := seedFacilities(context.Background(), pool)
	if err != nil {
		log.Fatal().Err(err).Msg("seed facilities")
	}

	patientIDs, err := seedPatients(context.Background(), pool, 500)
	if err != nil {
		log.Fatal().Err(err).Msg("seed patients")
	}

	if err := seedAppointments(context.Background(), pool, patientIDs, 2000); err != nil {
		log.Fatal().Err(err).Msg("seed appointments")
	}

	log.Info().
		Int("facilities", len(facilityIDs)).
		Int("patients", len(patientIDs)).
		Msg("seed complete")
}

func seedFacilities(ctx context.Context, pool *pgxpool.Pool) ([]uuid.UUID, error) {
	log.Info().Int("count", len(facilityNames)).Msg("seeding facilities")

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, len(facilityNames))
	for _, name := range facilityNames {
		id := uuid.New()

		_, err := tx.Exec(ctx, `
			INSERT INTO facilities (id, display_name, created_at, updated_at)
			VALUES ($1, $2, now(), now())
		`, id, name)
		if err != nil {
			return nil, err
		}

		// Aliases cover the spellings booking imports actually contain:
		// a lowercase variant and an abbreviated one.
		aliases := []string{
			strings.ToLower(name),
			strings.ReplaceAll(name, "Hospital", "Hosp."),
		}
		for _, alias := range aliases {
			if alias == name {
				continue
			}
			_, err := tx.Exec(ctx, `
				INSERT INTO facility_aliases (facility_id, alias)
				VALUES ($1, $2)
				ON CONFLICT DO NOTHING
			`, id, alias)
			if err != nil {
				return nil, err
			}
		}

		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Info().Msg("facilities seeded")
	return ids, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Info().Int("count", count).Msg("seeding patients")

	const batchSize = 250
	ids := make([]uuid.UUID, 0, count)

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return nil, err
		}

		for i := offset; i < end; i++ {
			id := uuid.New()

			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, email, created_at, updated_at)
				VALUES ($1, $2, $3, now(), now())
			`, id, gofakeit.Name(), gofakeit.Email())
			if err != nil {
				_ = tx.Rollback(ctx)
				return nil, err
			}
			ids = append(ids, id)
		}

		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
	}

	log.Info().Msg("patients seeded")
	return ids, nil
}

func seedAppointments(ctx context.Context, pool *pgxpool.Pool, patientIDs []uuid.UUID, count int) error {
	log.Info().Int("count", count).Msg("seeding appointments")

	statuses := []string{"pending", "pending", "confirmed", "confirmed", "confirmed", "cancelled", "completed"}

	const batchSize = 250
	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			patientID := patientIDs[gofakeit.Number(0, len(patientIDs)-1)]
			var patientName string
			if err := tx.QueryRow(ctx, `SELECT name FROM patients WHERE id = $1`, patientID).Scan(&patientName); err != nil {
				_ = tx.Rollback(ctx)
				return err
			}

			_, err := tx.Exec(ctx, `
				INSERT INTO appointments (
					id, patient_id, patient_name, facility_name_raw, service,
					scheduled_at, status, created_at, updated_at
				)
				VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
			`,
				uuid.New(),
				patientID,
				patientName,
				rawFacilityName(),
				services[gofakeit.Number(0, len(services)-1)],
				gofakeit.DateRange(time.Now(), time.Now().AddDate(0, 2, 0)),
				statuses[gofakeit.Number(0, len(statuses)-1)],
			)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Info().Int("done", end).Int("total", count).Msg("appointments seeded")
	}

	return nil
}

// rawFacilityName produces the messy spellings real booking data has: mixed
// case, padded whitespace, trailing punctuation, and occasionally a name
// that won't resolve at all so skip-and-report paths get exercised.
func rawFacilityName() string {
	name := facilityNames[gofakeit.Number(0, len(facilityNames)-1)]

	switch gofakeit.Number(0, 9) {
	case 0:
		return strings.ToLower(name)
	case 1:
		return strings.ToUpper(name)
	case 2:
		return "  " + name + "  "
	case 3:
		return name + "."
	case 4:
		return fmt.Sprintf("%s %s", gofakeit.Word(), "Wellness Centre") // unresolvable
	default:
		return name
	}
}
