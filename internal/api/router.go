package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/careloop/clinic-inbox/internal/conversation"
)

type RouterConfig struct {
	Store   conversation.Store
	Counter *conversation.Counter
	Runner  *conversation.LockedRunner
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Conversation endpoints
	r.Get("/conversations", listConversationsHandler(cfg.Store))
	r.Get("/conversations/{id}/messages", listMessagesHandler(cfg.Store))
	r.Post("/conversations/{id}/messages", postMessageHandler(cfg.Store, cfg.Counter))
	r.Post("/conversations/{id}/open", openConversationHandler(cfg.Counter))

	// Unread badge
	r.Get("/unread", unreadHandler(cfg.Counter))

	// Manual reconciliation trigger
	r.Post("/sync/run", syncRunHandler(cfg.Runner))

	return r
}
