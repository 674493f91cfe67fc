package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/PratikDhanave/event-pipeline/internal/auth"
	"github.com/PratikDhanave/event-pipeline/internal/ingest"
	"github.com/PratikDhanave/event-pipeline/internal/model"
	"github.com/PratikDhanave/event-pipeline/internal/store"
)

// maxIngestBody caps the raw ingestion payload: 1000 events with 10 KB
// props each plus envelope overhead fits comfortably.
const maxIngestBody = 16 << 20

// ingestRequest is the POST /v1/events payload. The project_id field is
// read again by the signature verifier; both reads come from the same
// body capture.
type ingestRequest struct {
	ProjectID string             `json:"project_id"`
	Events    []ingest.EventSpec `json:"events"`
}

// RegisterIngestRoutes registers the ingestion-path endpoint.
//
// POST /v1/events
// - HMAC-signed (X-Api-Key-Id / X-Api-Timestamp / X-Api-Signature)
// - Durable: returns success only after the bulk insert commits
// - Idempotent: duplicates suppressed via (project_id, idempotency_key)
func RegisterIngestRoutes(r gin.IRoutes, verifier *auth.HMACVerifier, pipeline *ingest.Pipeline, log *slog.Logger) {
	r.POST("/v1/events", func(c *gin.Context) {
		// Capture the body once; it feeds both signature verification
		// and JSON decoding. Request bodies are not re-readable.
		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxIngestBody))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
			return
		}

		projectID, err := verifier.Verify(c.Request.Context(), c.Request.Method, c.Request.URL.Path, c.Request.Header, body)
		if err != nil {
			var authErr *auth.Error
			if errors.As(err, &authErr) {
				// The reason stays in the logs; callers get one opaque
				// 401 no matter which check failed.
				log.Warn("ingest rejected", "reason", string(authErr.Reason))
				c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
				return
			}
			log.Error("credential lookup failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		var req ingestRequest
		if err := json.Unmarshal(body, &req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
			return
		}

		accepted, err := pipeline.Ingest(c.Request.Context(), projectID, req.Events)
		if err != nil {
			var verr *ingest.ValidationError
			if errors.As(err, &verr) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": verr.Fields})
				return
			}
			log.Error("ingest failed", "project_id", projectID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db insert failed"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"accepted": accepted})
	})
}

// RegisterQueryRoutes registers the serving-path event listing.
//
// GET /v1/events
// - Bearer-token protected
// - Filters: name (repeatable), user_id, since/until, props containment
// - Exactly one pagination mode: limit+offset or limit+after_ts+after_id
func RegisterQueryRoutes(r gin.IRoutes, st store.EventStore, log *slog.Logger) {
	r.GET("/v1/events", func(c *gin.Context) {
		projectID, err := uuid.Parse(c.Query("project_id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "project_id must be a UUID"})
			return
		}

		filter := store.EventFilter{
			ProjectID: projectID,
			Names:     c.QueryArray("name"),
		}
		if v := c.Query("user_id"); v != "" {
			filter.UserID = &v
		}
		if v := c.Query("since"); v != "" {
			ts, err := time.Parse(time.RFC3339, v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "since must be ISO8601"})
				return
			}
			ts = ts.UTC()
			filter.Since = &ts
		}
		if v := c.Query("until"); v != "" {
			ts, err := time.Parse(time.RFC3339, v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "until must be ISO8601"})
				return
			}
			ts = ts.UTC()
			filter.Until = &ts
		}
		if v := c.Query("props"); v != "" {
			var contains map[string]any
			if err := json.Unmarshal([]byte(v), &contains); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "props must be a JSON object"})
				return
			}
			filter.PropsContains = contains
		}

		limit := 50
		if v := c.Query("limit"); v != "" {
			limit, err = strconv.Atoi(v)
			if err != nil || limit < store.MinPageLimit || limit > store.MaxPageLimit {
				c.JSON(http.StatusBadRequest, gin.H{
					"error": "limit must be an integer between 1 and 200",
				})
				return
			}
		}

		offsetParam := c.Query("offset")
		afterTS, afterID := c.Query("after_ts"), c.Query("after_id")

		// The two pagination modes are mutually exclusive.
		if offsetParam != "" && (afterTS != "" || afterID != "") {
			c.JSON(http.StatusBadRequest, gin.H{"error": "use either offset or keyset params, not both"})
			return
		}

		if afterTS != "" || afterID != "" {
			if afterTS == "" || afterID == "" {
				c.JSON(http.StatusBadRequest, gin.H{"error": "keyset pagination needs both after_ts and after_id"})
				return
			}
			cursorTS, err := time.Parse(time.RFC3339, afterTS)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "after_ts must be ISO8601"})
				return
			}
			cursorID, err := uuid.Parse(afterID)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "after_id must be a UUID"})
				return
			}

			items, next, err := st.ListKeyset(c.Request.Context(), filter, limit,
				store.Cursor{AfterTS: cursorTS.UTC(), AfterID: cursorID})
			if err != nil {
				log.Error("keyset query failed", "project_id", projectID, "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "db query failed"})
				return
			}
			if items == nil {
				items = []model.Event{}
			}

			resp := gin.H{"items": items, "next_cursor": nil}
			if next != nil {
				resp["next_cursor"] = gin.H{
					"after_ts": next.AfterTS.UTC().Format(time.RFC3339Nano),
					"after_id": next.AfterID.String(),
				}
			}
			c.JSON(http.StatusOK, resp)
			return
		}

		offset := 0
		if offsetParam != "" {
			offset, err = strconv.Atoi(offsetParam)
			if err != nil || offset < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "offset must be a non-negative integer"})
				return
			}
		}

		items, total, err := st.ListOffset(c.Request.Context(), filter, limit, offset)
		if err != nil {
			log.Error("offset query failed", "project_id", projectID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db query failed"})
			return
		}
		if items == nil {
			items = []model.Event{}
		}
		c.JSON(http.StatusOK, gin.H{"items": items, "count": total, "limit": limit, "offset": offset})
	})
}
