package http

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/thedusen/booksphere-web-sub002/internal/config"
	"github.com/thedusen/booksphere-web-sub002/internal/http/middleware"
	"github.com/thedusen/booksphere-web-sub002/internal/metrics"
	"github.com/thedusen/booksphere-web-sub002/internal/repository"
)

type Server struct{ e *echo.Echo }

// NewServer wires the operational surface: pipeline aggregates for
// alerting, and the management operations (cursor, prune, dead-letter)
// invoked by tooling. Delivery itself runs in the worker processes.
func NewServer(cfg config.Config, mysqlDB *sqlx.DB, rds *redis.Client) *Server {
	// repos (MySQL)
	outboxRepo := repository.NewOutboxRepository(mysqlDB)
	cursorRepo := repository.NewCursorRepository(mysqlDB)
	dlRepo := repository.NewDeadLetterRepository(mysqlDB)

	// echo
	e := echo.New()
	e.HideBanner = true
	e.Use(echoMid.Recover(), echoMid.Logger())

	metrics.MustRegister(prometheus.DefaultRegisterer)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// middlewares
	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          rds,
		RPS:            cfg.RateLimit.RPS,
		KeyPrefix:      "rl:ops:",
		Window:         time.Second,
		RetryAfterHint: true,
	})

	// routes
	v1 := e.Group("/v1", rlMW)
	v1.GET("/stats/pipeline", pipelineStatsHandler(outboxRepo, dlRepo))
	v1.GET("/deadletters", listDeadLettersHandler(dlRepo))
	v1.POST("/admin/prune", pruneHandler(outboxRepo, dlRepo, cfg.Retention))
	v1.POST("/admin/deadletter/migrate", migrateDeadLettersHandler(dlRepo, cfg.Retry))
	v1.POST("/admin/cursors", getOrCreateCursorHandler(cursorRepo))
	v1.PUT("/admin/cursors", advanceCursorHandler(cursorRepo))

	return &Server{e: e}
}

func (s *Server) Start(addr string) error {
	log.Printf("http: listening on %s", addr)
	return s.e.Start(addr)
}
func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
