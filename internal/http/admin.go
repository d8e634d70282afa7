package http

import (
	"errors"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/thedusen/booksphere-web-sub002/internal/config"
	"github.com/thedusen/booksphere-web-sub002/internal/repository"
	"github.com/thedusen/booksphere-web-sub002/internal/util"
)

type pruneReq struct {
	RetentionHours int `json:"retention_hours"`
	MaxBatch       int `json:"max_batch"`
}

// pruneHandler runs one bounded prune pass on demand. Config supplies the
// defaults; the request may tighten or loosen them per invocation.
func pruneHandler(outbox repository.OutboxRepository, dl repository.DeadLetterRepository, defaults config.RetentionConfig) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req pruneReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		retention := defaults.Window
		if req.RetentionHours > 0 {
			retention = time.Duration(req.RetentionHours) * time.Hour
		}
		maxBatch := defaults.MaxBatch
		if req.MaxBatch > 0 {
			maxBatch = req.MaxBatch
		}
		if maxBatch <= 0 {
			maxBatch = 5000
		}

		start := time.Now()
		deleted, err := outbox.PruneDelivered(c.Request().Context(), retention, maxBatch)
		if err != nil {
			log.Errorf("prune delivered: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		dlDeleted, err := dl.PruneOld(c.Request().Context(), defaults.DeadLetterWindow, maxBatch)
		if err != nil {
			log.Errorf("prune dead letters: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"events_deleted":       deleted,
			"dead_letters_deleted": dlDeleted,
			"elapsed_ms":           time.Since(start).Milliseconds(),
		})
	}
}

type migrateReq struct {
	MaxAttempts int `json:"max_attempts"`
	MaxBatch    int `json:"max_batch"`
}

func migrateDeadLettersHandler(dl repository.DeadLetterRepository, defaults config.RetryConfig) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req migrateReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		maxAttempts := defaults.MaxAttempts
		if req.MaxAttempts > 0 {
			maxAttempts = req.MaxAttempts
		}
		if maxAttempts <= 0 {
			maxAttempts = 3
		}
		maxBatch := defaults.MigrateBatch
		if req.MaxBatch > 0 {
			maxBatch = req.MaxBatch
		}

		moved, err := dl.Migrate(c.Request().Context(), maxAttempts, maxBatch)
		if err != nil {
			log.Errorf("dead-letter migrate: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"moved":        moved,
			"max_attempts": maxAttempts,
		})
	}
}

type cursorReq struct {
	ProcessorName  string `json:"processor_name"`
	OrganizationID int64  `json:"organization_id"`
	EventID        string `json:"event_id"`
}

func getOrCreateCursorHandler(cursors repository.CursorRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req cursorReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		if req.ProcessorName == "" || req.OrganizationID <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		}

		cur, err := cursors.GetOrCreate(c.Request().Context(), req.ProcessorName, req.OrganizationID)
		if err != nil {
			log.Errorf("cursor get_or_create: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"processor_name":          cur.ProcessorName,
			"organization_id":         cur.OrganizationID,
			"last_processed_event_id": cur.LastProcessedEventID,
			"last_processed_at":       cur.LastProcessedAt,
		})
	}
}

// advanceCursorHandler force-advances a cursor, e.g. to hop over a range an
// operator has decided to abandon. It refuses to move backwards.
func advanceCursorHandler(cursors repository.CursorRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req cursorReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		if req.ProcessorName == "" || req.OrganizationID <= 0 || !util.ValidULID(req.EventID) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		}

		err := cursors.Advance(c.Request().Context(), req.ProcessorName, req.OrganizationID, req.EventID)
		if errors.Is(err, repository.ErrStaleCursor) {
			return c.JSON(http.StatusConflict, map[string]string{"error": "cursor would move backwards"})
		}
		if err != nil {
			log.Errorf("cursor advance: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"advanced": true,
			"event_id": req.EventID,
		})
	}
}
