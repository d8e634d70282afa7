package http

import (
	"net/http"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/thedusen/booksphere-web-sub002/internal/repository"
)

// tenantStats is one tenant's row in the pipeline stats response.
type tenantStats struct {
	OrganizationID   int64   `json:"organization_id"`
	Undelivered      int64   `json:"undelivered"`
	OldestAgeSeconds float64 `json:"oldest_age_seconds,omitempty"`
}

// pipelineStatsHandler serves the read-only aggregates an operator or
// alerting system polls: per-tenant undelivered counts, oldest undelivered
// age, mean delivery latency, and recent dead-letter count.
func pipelineStatsHandler(outbox repository.OutboxRepository, dl repository.DeadLetterRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		window := time.Hour
		if v := c.QueryParam("window_seconds"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				window = time.Duration(n) * time.Second
			}
		}

		counts, err := outbox.UndeliveredCounts(ctx)
		if err != nil {
			log.Errorf("undelivered counts: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}
		oldest, err := outbox.OldestUndelivered(ctx)
		if err != nil {
			log.Errorf("oldest undelivered: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		now := time.Now()
		oldestByOrg := make(map[int64]time.Time, len(oldest))
		for _, o := range oldest {
			oldestByOrg[o.OrganizationID] = o.OldestCreated
		}

		tenants := make([]tenantStats, 0, len(counts))
		for _, tc := range counts {
			ts := tenantStats{OrganizationID: tc.OrganizationID, Undelivered: tc.Count}
			if t, ok := oldestByOrg[tc.OrganizationID]; ok {
				ts.OldestAgeSeconds = now.Sub(t).Seconds()
			}
			tenants = append(tenants, ts)
		}

		latency, hasLatency, err := outbox.AvgDeliveryLatency(ctx, window)
		if err != nil {
			log.Errorf("delivery latency: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		dlCount, err := dl.CountSince(ctx, window)
		if err != nil {
			log.Errorf("dead-letter count: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		resp := map[string]any{
			"window_seconds": int64(window.Seconds()),
			"tenants":        tenants,
			"dead_letters":   dlCount,
		}
		if hasLatency {
			resp["avg_delivery_latency_seconds"] = latency.Seconds()
		}
		return c.JSON(http.StatusOK, resp)
	}
}

func listDeadLettersHandler(dl repository.DeadLetterRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		orgID, err := strconv.ParseInt(c.QueryParam("organization_id"), 10, 64)
		if err != nil || orgID <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid organization_id"})
		}

		limit := 50
		if v := c.QueryParam("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
				limit = n
			}
		}

		rows, err := dl.List(c.Request().Context(), orgID, limit)
		if err != nil {
			log.Errorf("list dead letters: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"organization_id": orgID,
			"count":           len(rows),
			"results":         rows,
		})
	}
}
