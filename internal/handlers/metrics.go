package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/PratikDhanave/event-pipeline/internal/model"
	"github.com/PratikDhanave/event-pipeline/internal/store"
)

// RegisterMetricRoutes registers the aggregate-series endpoint.
//
// GET /v1/metrics?project_id=...&limit=24
// - Bearer-token protected
// - Returns hourly event counts, oldest bucket first
func RegisterMetricRoutes(r gin.IRoutes, st store.EventStore, log *slog.Logger) {
	r.GET("/v1/metrics", func(c *gin.Context) {
		projectID, err := uuid.Parse(c.Query("project_id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "project_id must be a UUID"})
			return
		}

		limit := 24
		if v := c.Query("limit"); v != "" {
			limit, err = strconv.Atoi(v)
			if err != nil || limit < 1 || limit > 1000 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer between 1 and 1000"})
				return
			}
		}

		series, err := st.CountSeries(c.Request.Context(), projectID, limit)
		if err != nil {
			log.Error("series query failed", "project_id", projectID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db query failed"})
			return
		}
		if series == nil {
			series = []model.SeriesPoint{}
		}

		c.JSON(http.StatusOK, gin.H{
			"metric": "events.count",
			"bucket": "1h",
			"series": series,
		})
	})
}
