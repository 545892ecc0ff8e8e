package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/clinigo/agenda-service/internal/booking"
	"github.com/clinigo/agenda-service/internal/config"
)

type RouterConfig struct {
	Service *booking.Service
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Log     *zap.Logger
	Cfg     config.Config
	Version string
}

func NewRouter(rc RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(rc.Log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   rc.Cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(httprate.LimitByIP(rc.Cfg.RateLimit, time.Second))

	// Health endpoints
	health := NewHealthHandler(rc.PgPool, rc.Redis, rc.Cfg.Env, rc.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	h := NewHandlers(rc.Service, rc.Service, rc.Log)

	// Booking endpoints, all behind the identity collaborator's tokens
	r.Route("/agendamentos", func(r chi.Router) {
		r.Use(AuthMiddleware(rc.Cfg.JWTSecret))

		r.Post("/", h.createAppointment)
		r.Get("/me", h.listMine)
		r.Get("/calendar", h.calendar)
		r.Get("/paginated", h.listPaginated)
		r.Get("/profissional/{id}", h.listByProfessional)
		r.Get("/{id}", h.getAppointment)
		r.Patch("/{id}", h.updateAppointment)
		r.Delete("/{id}", h.deleteAppointment)
	})

	return r
}
