package handler

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"ml-feature-reconciler/internal/domain"
	"ml-feature-reconciler/internal/reconciler"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

const dateLayout = "2006-01-02"

// RunRequest scopes a manual run. Every field is optional.
type RunRequest struct {
	Symbols    []string `json:"symbols"`
	StartDate  string   `json:"start_date" example:"2024-01-01"`
	EndDate    string   `json:"end_date" example:"2024-01-02"`
	InsertOnly bool     `json:"insert_only"`
}

// Run godoc
// @Summary      Trigger a reconcile run
// @Description  Starts a reconcile run in the background. Returns 409 while another run is active.
// @Tags         reconcile
// @Accept       json
// @Produce      json
// @Param        request  body      RunRequest  false  "Run scope"
// @Success      202  {object}  map[string]string
// @Failure      400  {object}  map[string]string
// @Failure      409  {object}  map[string]interface{}
// @Security     ApiKeyAuth
// @Router       /run [post]
func (h *Handler) Run(c *gin.Context) {
	_, span := h.tracer.Start(c.Request.Context(), "handler.run")
	defer span.End()

	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	opts, err := req.options()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	span.SetAttributes(attribute.Int("symbols", len(opts.Symbols)), attribute.Bool("insert_only", opts.InsertOnly))

	runID, err := h.runner.Trigger(opts)
	if errors.Is(err, reconciler.ErrRunInProgress) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "status": h.runner.Status()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "started", "run_id": runID})
}

func (r RunRequest) options() (reconciler.RunOptions, error) {
	opts := reconciler.RunOptions{InsertOnly: r.InsertOnly}
	for _, s := range r.Symbols {
		if s = strings.TrimSpace(s); s != "" {
			opts.Symbols = append(opts.Symbols, s)
		}
	}

	var err error
	if opts.StartDate, err = parseDate("start_date", r.StartDate, time.Time{}); err != nil {
		return opts, err
	}
	if opts.EndDate, err = parseDate("end_date", r.EndDate, time.Time{}); err != nil {
		return opts, err
	}
	if !opts.StartDate.IsZero() && !opts.EndDate.IsZero() && opts.EndDate.Before(opts.StartDate) {
		return opts, reconciler.ErrInvalidWindow
	}
	return opts, nil
}

// Status godoc
// @Summary      Reconciler status
// @Description  Reports the active run, the last finished run and cumulative inserted/updated counters
// @Tags         reconcile
// @Produce      json
// @Success      200  {object}  reconciler.Status
// @Router       /status [get]
func (h *Handler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.runner.Status())
}

func parseDate(name, value string, fallback time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback, nil
	}
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, errors.New(name + " must be YYYY-MM-DD")
	}
	return domain.StartOfDay(t), nil
}
