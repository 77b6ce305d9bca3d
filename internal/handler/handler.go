package handler

import (
	"context"
	"time"

	"ml-feature-reconciler/internal/domain"
	"ml-feature-reconciler/internal/metrics"
	"ml-feature-reconciler/internal/reconciler"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

type RunController interface {
	Trigger(opts reconciler.RunOptions) (string, error)
	Status() reconciler.Status
}

type FeatureReader interface {
	ListRows(ctx context.Context, symbol string, startDate, endDate time.Time, limit int) ([]domain.FeatureRow, error)
}

type CompletenessReporter interface {
	Completeness(ctx context.Context, start, end time.Time) ([]domain.CompletenessReport, error)
}

// ReadinessCheck reports whether a dependency is reachable.
type ReadinessCheck func(ctx context.Context) error

type Handler struct {
	tracer       trace.Tracer
	runner       RunController
	features     FeatureReader
	completeness CompletenessReporter
	checks       map[string]ReadinessCheck
	now          func() time.Time
}

func New(
	tracer trace.Tracer,
	runner RunController,
	features FeatureReader,
	completeness CompletenessReporter,
	checks map[string]ReadinessCheck,
) *Handler {
	return &Handler{
		tracer:       tracer,
		runner:       runner,
		features:     features,
		completeness: completeness,
		checks:       checks,
		now:          time.Now,
	}
}

// RegisterRoutes mounts the control surface. POST /run requires apiKey when set.
func (h *Handler) RegisterRoutes(r *gin.Engine, apiKey string) {
	r.GET("/health", h.Health)
	r.GET("/ready", h.Ready)
	r.GET("/status", h.Status)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.POST("/run", APIKeyAuth(apiKey), h.Run)

	api := r.Group("/api")
	api.GET("/features/:symbol", h.GetFeatures)
	api.GET("/completeness", h.GetCompleteness)
}
