package handler

import (
	"net/http"
	"strconv"
	"strings"

	"ml-feature-reconciler/internal/domain"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

const (
	defaultFeatureLimit = 24
	maxFeatureLimit     = 500
)

// GetFeatures godoc
// @Summary      Get materialized feature rows
// @Description  Returns hourly rows of ml_features_materialized, newest first
// @Tags         features
// @Produce      json
// @Param        symbol      path   string  true   "Asset symbol (e.g., BTC, ETH)"
// @Param        start_date  query  string  false  "First day (YYYY-MM-DD), default yesterday"
// @Param        end_date    query  string  false  "Last day (YYYY-MM-DD), default today"
// @Param        limit       query  int     false  "Number of rows (default 24, max 500)"  default(24)
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string
// @Router       /api/features/{symbol} [get]
func (h *Handler) GetFeatures(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-features")
	defer span.End()

	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	span.SetAttributes(attribute.String("symbol", symbol))

	today := domain.StartOfDay(h.now())
	start, err := parseDate("start_date", c.Query("start_date"), today.AddDate(0, 0, -1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	end, err := parseDate("end_date", c.Query("end_date"), today)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if end.Before(start) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start_date is after end_date"})
		return
	}

	limit := defaultFeatureLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	if limit > maxFeatureLimit {
		limit = maxFeatureLimit
	}

	rows, err := h.features.ListRows(ctx, symbol, start, end, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"symbol": symbol,
		"count":  len(rows),
		"rows":   rows,
	})
}

// GetCompleteness godoc
// @Summary      Feature coverage report
// @Description  Per symbol: expected hours, rows present, rows with data and average quality score
// @Tags         features
// @Produce      json
// @Param        start_date  query  string  false  "First day (YYYY-MM-DD), default today"
// @Param        end_date    query  string  false  "Last day (YYYY-MM-DD), default today"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string
// @Router       /api/completeness [get]
func (h *Handler) GetCompleteness(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-completeness")
	defer span.End()

	today := domain.StartOfDay(h.now())
	start, err := parseDate("start_date", c.Query("start_date"), today)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	end, err := parseDate("end_date", c.Query("end_date"), today)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reports, err := h.completeness.Completeness(ctx, start, end)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"start_date": domain.DayKey(start),
		"end_date":   domain.DayKey(end),
		"symbols":    reports,
	})
}
