package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careloop/clinic-inbox/internal/appointment"
	"github.com/careloop/clinic-inbox/internal/directory"
)

// FacilitySource and AppointmentSource are the two external inputs a sweep
// reads from.
type FacilitySource interface {
	ListFacilities(ctx context.Context) ([]directory.Facility, error)
}

type AppointmentSource interface {
	// ListUpdatedSince pages in (updated_at, id) order, strictly after the
	// (since, sinceID) cursor; uuid.Nil for sinceID starts at the since
	// timestamp inclusively.
	ListUpdatedSince(ctx context.Context, since time.Time, sinceID uuid.UUID, limit int) ([]appointment.Appointment, error)
}

// WatermarkStore persists the sweep watermark across restarts. Load returns
// the zero time when no watermark has been saved yet.
type WatermarkStore interface {
	Load(ctx context.Context) (time.Time, error)
	Save(ctx context.Context, sweptTo time.Time) error
}

// SweepSummary is the operator-facing result of one reconciliation sweep.
type SweepSummary struct {
	Scanned          int                `json:"scanned"`
	Created          int                `json:"created"`
	Existing         int                `json:"existing"`
	MessagesAppended int                `json:"messages_appended"`
	Skipped          map[SkipReason]int `json:"skipped"`
	Failed           int                `json:"failed"`
	Collisions       int                `json:"directory_collisions"`
	Duration         time.Duration      `json:"duration"`
}

const (
	defaultBatchSize = 2000
	maxWriteAttempts = 3
	retryBaseDelay   = 100 * time.Millisecond
)

// Sweeper drives reconciliation over the appointment stream. Each run
// rebuilds the facility index, walks appointments updated since the last
// successful run and fans them out to a bounded worker pool. Appointments
// are independent, so ordering across them doesn't matter; the store's
// atomic operations handle the one contended case (two appointments for the
// same patient/facility pair).
type Sweeper struct {
	facilities   FacilitySource
	appointments AppointmentSource
	rec          *Reconciler
	marks        WatermarkStore
	workers      int
	batchSize    int
	log          zerolog.Logger

	mu        sync.Mutex
	loaded    bool
	watermark time.Time
}

// NewSweeper builds a sweep driver. marks may be nil, in which case the
// watermark lives only in memory and a restart replays the full history.
func NewSweeper(facilities FacilitySource, appointments AppointmentSource, rec *Reconciler, marks WatermarkStore, workers int, log zerolog.Logger) *Sweeper {
	if workers <= 0 {
		workers = 1
	}
	return &Sweeper{
		facilities:   facilities,
		appointments: appointments,
		rec:          rec,
		marks:        marks,
		workers:      workers,
		batchSize:    defaultBatchSize,
		log:          log.With().Str("component", "sweeper").Logger(),
	}
}

// Watermark returns the updated-at cutoff the next run will start from.
func (s *Sweeper) Watermark() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watermark
}

func (s *Sweeper) setWatermark(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.After(s.watermark) {
		s.watermark = t
	}
}

// resumeWatermark returns the cutoff for this run, reading the stored
// watermark once per process so a restarted worker picks up where the
// previous one left off.
func (s *Sweeper) resumeWatermark(ctx context.Context) (time.Time, error) {
	s.mu.Lock()
	if s.loaded || s.marks == nil {
		w := s.watermark
		s.mu.Unlock()
		return w, nil
	}
	s.mu.Unlock()

	stored, err := s.marks.Load(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("load sweep watermark: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = true
	if stored.After(s.watermark) {
		s.watermark = stored
	}
	return s.watermark, nil
}

// persistWatermark is best effort; a lost save only means the next restart
// replays a window that idempotency already makes safe to replay.
func (s *Sweeper) persistWatermark(ctx context.Context) {
	if s.marks == nil {
		return
	}
	if err := s.marks.Save(ctx, s.Watermark()); err != nil {
		s.log.Warn().Err(err).Msg("failed to persist sweep watermark")
	}
}

// Run executes one sweep. Per-appointment failures are counted, not fatal;
// an unavailable store aborts the run with the watermark untouched, so the
// next run replays the same window. Replays are harmless by idempotency.
func (s *Sweeper) Run(ctx context.Context) (SweepSummary, error) {
	start := time.Now()
	summary := SweepSummary{Skipped: make(map[SkipReason]int)}

	facs, err := s.facilities.ListFacilities(ctx)
	if err != nil {
		return summary, fmt.Errorf("load facility directory: %w", err)
	}

	idx, collisions := directory.BuildIndex(facs)
	summary.Collisions = len(collisions)
	for _, c := range collisions {
		s.log.Error().
			Str("key", c.Key).
			Str("kept_facility_id", c.KeptID.String()).
			Str("dropped_facility_id", c.DroppedID.String()).
			Msg("facility directory collision")
	}

	since, err := s.resumeWatermark(ctx)
	if err != nil {
		return summary, err
	}
	sinceID := uuid.Nil
	maxUpdated := since

	for {
		appts, err := s.appointments.ListUpdatedSince(ctx, since, sinceID, s.batchSize)
		if err != nil {
			return summary, fmt.Errorf("list appointments: %w", err)
		}
		if len(appts) == 0 {
			break
		}

		if err := s.processBatch(ctx, idx, appts, &summary); err != nil {
			return summary, err
		}

		last := appts[len(appts)-1]
		if last.UpdatedAt.After(maxUpdated) {
			maxUpdated = last.UpdatedAt
		}

		if len(appts) < s.batchSize {
			break
		}
		// Advance on the full (updated_at, id) key. The id tiebreak is what
		// moves the cursor through a run of rows sharing one timestamp, e.g.
		// a bulk import stamped by a single transaction.
		since, sinceID = last.UpdatedAt, last.ID
	}

	s.setWatermark(maxUpdated)
	s.persistWatermark(ctx)
	summary.Duration = time.Since(start)

	s.log.Info().
		Int("scanned", summary.Scanned).
		Int("created", summary.Created).
		Int("existing", summary.Existing).
		Int("messages_appended", summary.MessagesAppended).
		Int("failed", summary.Failed).
		Interface("skipped", summary.Skipped).
		Dur("duration", summary.Duration).
		Msg("sweep complete")

	return summary, nil
}

func (s *Sweeper) processBatch(ctx context.Context, idx *directory.Index, appts []appointment.Appointment, summary *SweepSummary) error {
	batchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan appointment.Appointment)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		fatalErr error
	)

	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for appt := range jobs {
				outcome, err := s.reconcileWithRetry(batchCtx, appt, idx)

				mu.Lock()
				summary.Scanned++
				switch {
				case err == nil:
					switch outcome.Status {
					case OutcomeCreated:
						summary.Created++
					case OutcomeExists:
						summary.Existing++
					case OutcomeSkipped:
						summary.Skipped[outcome.SkipReason]++
					}
					summary.MessagesAppended += outcome.MessagesAppended
				case errors.Is(err, ErrStoreUnavailable):
					if fatalErr == nil {
						fatalErr = err
						cancel()
					}
				case batchCtx.Err() != nil:
					// Aborted mid-batch; don't count as a record failure.
				default:
					summary.Failed++
					s.log.Error().
						Err(err).
						Str("appointment_id", appt.ID.String()).
						Msg("reconcile failed")
				}
				mu.Unlock()
			}
		}()
	}

	for _, appt := range appts {
		select {
		case <-batchCtx.Done():
		case jobs <- appt:
			continue
		}
		break
	}
	close(jobs)
	wg.Wait()

	if fatalErr != nil {
		return fmt.Errorf("sweep aborted: %w", fatalErr)
	}
	return ctx.Err()
}

// reconcileWithRetry retries transient write conflicts with the same inputs,
// which idempotency makes safe.
func (s *Sweeper) reconcileWithRetry(ctx context.Context, appt appointment.Appointment, idx *directory.Index) (Outcome, error) {
	var (
		outcome Outcome
		err     error
	)

	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		outcome, err = s.rec.Reconcile(ctx, appt, idx)
		if err == nil || !errors.Is(err, ErrWriteConflict) {
			return outcome, err
		}

		select {
		case <-ctx.Done():
			return outcome, ctx.Err()
		case <-time.After(time.Duration(attempt) * retryBaseDelay):
		}
	}

	return outcome, err
}
