package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/careloop/clinic-inbox/internal/config"
	"github.com/careloop/clinic-inbox/internal/db"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	MessageRatio float64
	OpenRatio    float64
	BadgeRatio   float64
	PostgresDSN  string
}

type ConversationRef struct {
	ID         uuid.UUID
	PatientID  uuid.UUID
	FacilityID uuid.UUID
}

type DataPool struct {
	Conversations []ConversationRef
}

func (dp *DataPool) Random() ConversationRef {
	return dp.Conversations[rand.Intn(len(dp.Conversations))]
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	avg = sum / time.Duration(len(latencies))

	idx := func(pct int) int {
		i := len(latencies) * pct / 100
		if i >= len(latencies) {
			i = len(latencies) - 1
		}
		return i
	}
	return avg, latencies[idx(50)], latencies[idx(95)]
}

type Metrics struct {
	SendMessage OperationMetrics
	OpenThread  OperationMetrics
	ReadBadge   OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	log.Printf("config: duration=%s workers=%d message=%.2f open=%.2f badge=%.2f",
		cfg.Duration, cfg.Workers, cfg.MessageRatio, cfg.OpenRatio, cfg.BadgeRatio)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, getInt("PG_MAX_CONNS", 10))
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool)
	if err != nil {
		log.Fatalf("load data pool: %v", err)
	}
	if len(dataPool.Conversations) == 0 {
		log.Fatal("no conversations found; run the seed and a sweep first")
	}

	log.Printf("loaded: %d conversations", len(dataPool.Conversations))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
	}

	sim.Run()
	sim.PrintReport()
}

func loadConfig() SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load base config: %v", err)
	}

	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		MessageRatio: getFloat("SIM_MESSAGE_RATIO", 0.4),
		OpenRatio:    getFloat("SIM_OPEN_RATIO", 0.2),
		BadgeRatio:   getFloat("SIM_BADGE_RATIO", 0.4),
		PostgresDSN:  baseCfg.PostgresDSN,
	}

	total := cfg.MessageRatio + cfg.OpenRatio + cfg.BadgeRatio
	if total > 0 {
		cfg.MessageRatio /= total
		cfg.OpenRatio /= total
		cfg.BadgeRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool) (*DataPool, error) {
	rows, err := pool.Query(ctx, `
		SELECT id, patient_id, facility_id FROM conversations LIMIT 5000
	`)
	if err != nil {
		return nil, fmt.Errorf("load conversations: %w", err)
	}
	defer rows.Close()

	dataPool := &DataPool{}
	for rows.Next() {
		var ref ConversationRef
		if err := rows.Scan(&ref.ID, &ref.PatientID, &ref.FacilityID); err != nil {
			return nil, err
		}
		dataPool.Conversations = append(dataPool.Conversations, ref)
	}

	return dataPool, rows.Err()
}

func (s *Simulator) Run() {
	deadline := time.Now().Add(s.config.Duration)
	var wg sync.WaitGroup

	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(deadline) {
				s.step()
			}
		}()
	}

	wg.Wait()
}

func (s *Simulator) step() {
	ref := s.pool.Random()

	roll := rand.Float64()
	switch {
	case roll < s.config.MessageRatio:
		s.sendMessage(ref)
	case roll < s.config.MessageRatio+s.config.OpenRatio:
		s.openThread(ref)
	default:
		s.readBadge(ref)
	}
}

func randomViewer(ref ConversationRef) (uuid.UUID, string) {
	if rand.Intn(2) == 0 {
		return ref.PatientID, "patient"
	}
	return ref.FacilityID, "facility"
}

func (s *Simulator) sendMessage(ref ConversationRef) {
	senderID, role := randomViewer(ref)
	body, _ := json.Marshal(map[string]string{
		"sender_id":   senderID.String(),
		"sender_role": role,
		"body":        gofakeit.Sentence(8),
	})

	start := time.Now()
	resp, err := s.client.Post(
		fmt.Sprintf("%s/conversations/%s/messages", s.config.APIBaseURL, ref.ID),
		"application/json",
		bytes.NewReader(body),
	)
	s.metrics.SendMessage.Record(time.Since(start), err == nil && resp != nil && resp.StatusCode == http.StatusCreated)
	drain(resp)
}

func (s *Simulator) openThread(ref ConversationRef) {
	_, role := randomViewer(ref)
	body, _ := json.Marshal(map[string]string{"viewer_role": role})

	start := time.Now()
	resp, err := s.client.Post(
		fmt.Sprintf("%s/conversations/%s/open", s.config.APIBaseURL, ref.ID),
		"application/json",
		bytes.NewReader(body),
	)
	s.metrics.OpenThread.Record(time.Since(start), err == nil && resp != nil && resp.StatusCode == http.StatusNoContent)
	drain(resp)
}

func (s *Simulator) readBadge(ref ConversationRef) {
	viewerID, role := randomViewer(ref)

	start := time.Now()
	resp, err := s.client.Get(
		fmt.Sprintf("%s/unread?viewer_id=%s&role=%s", s.config.APIBaseURL, viewerID, role),
	)
	s.metrics.ReadBadge.Record(time.Since(start), err == nil && resp != nil && resp.StatusCode == http.StatusOK)
	drain(resp)
}

func drain(resp *http.Response) {
	if resp == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

func (s *Simulator) PrintReport() {
	report := func(name string, om *OperationMetrics) {
		avg, p50, p95 := om.Stats()
		log.Printf("%-12s total=%d success=%d error=%d avg=%s p50=%s p95=%s",
			name,
			atomic.LoadInt64(&om.Total),
			atomic.LoadInt64(&om.Success),
			atomic.LoadInt64(&om.Error),
			avg, p50, p95,
		)
	}

	log.Println("=== simulation report ===")
	report("send", &s.metrics.SendMessage)
	report("open", &s.metrics.OpenThread)
	report("badge", &s.metrics.ReadBadge)
}

// env helpers local to the simulator; the shared config only covers the
// service processes.

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
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

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
