package api

import (
	"context"
	stderrors "errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rohankatakam/osspulse/internal/errors"
	"github.com/rohankatakam/osspulse/internal/models"
	"github.com/rohankatakam/osspulse/internal/pipeline"
	"github.com/rohankatakam/osspulse/internal/query"
	"github.com/sirupsen/logrus"
)

const internalErrorMessage = "Internal server error."

// PipelineRunner runs the ingestion pipeline for one git link.
type PipelineRunner interface {
	Run(ctx context.Context, gitLink string) (*pipeline.Result, error)
}

type Handler struct {
	query    *query.Service
	pipeline PipelineRunner
	families []models.Family
	logger   logrus.FieldLogger
}

// NewHandler builds the route handlers. runner may be nil, in which case
// uploads answer 503.
func NewHandler(svc *query.Service, runner PipelineRunner, logger logrus.FieldLogger) *Handler {
	return &Handler{
		query:    svc,
		pipeline: runner,
		families: query.SliceFamilies,
		logger:   logger.WithField("component", "api"),
	}
}

type uploadRequest struct {
	GitLink string `json:"git_link"`
}

// UploadGitLink validates the link and runs the pipeline synchronously.
func (h *Handler) UploadGitLink(c *gin.Context) {
	var req uploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.WithError(err).Warn("invalid upload payload")
	}
	if err := pipeline.ValidateGitLink(req.GitLink); err != nil {
		h.respondError(c, err)
		return
	}
	if h.pipeline == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Pipeline not configured."})
		return
	}

	h.logger.WithField("git_link", req.GitLink).Info("received git link")
	result, err := h.pipeline.Run(c.Request.Context(), req.GitLink)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.query.Invalidate(c.Request.Context(), result.ProjectID)
	c.JSON(http.StatusOK, result)
}

func (h *Handler) MonthSlice(foundation models.Foundation, family models.Family) gin.HandlerFunc {
	return func(c *gin.Context) {
		month, ok := monthParam(c)
		if !ok {
			return
		}
		slice, err := h.query.MonthSlice(c.Request.Context(), foundation, family, c.Param("project_id"), month)
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, slice)
	}
}

func (h *Handler) ForecastMonth(foundation models.Foundation) gin.HandlerFunc {
	return func(c *gin.Context) {
		month, ok := monthParam(c)
		if !ok {
			return
		}
		slice, err := h.query.ForecastMonth(c.Request.Context(), foundation, c.Param("project_id"), month)
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, slice)
	}
}

func (h *Handler) GradForecast(foundation models.Foundation) gin.HandlerFunc {
	return func(c *gin.Context) {
		out, err := h.query.GradForecast(c.Request.Context(), foundation, c.Param("project_id"))
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

func (h *Handler) Predictions(foundation models.Foundation) gin.HandlerFunc {
	return func(c *gin.Context) {
		month, ok := monthParam(c)
		if !ok {
			return
		}
		out, err := h.query.Predictions(c.Request.Context(), foundation, c.Param("project_id"), month)
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

func (h *Handler) Projects(foundation models.Foundation) gin.HandlerFunc {
	return func(c *gin.Context) {
		projects, err := h.query.Projects(c.Request.Context(), foundation)
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"projects": projects})
	}
}

// Repositories answers with the stored organization listing under key.
func (h *Handler) Repositories(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		repos, err := h.query.Repositories(c.Request.Context())
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{key: repos})
	}
}

func (h *Handler) Project(foundation models.Foundation) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := h.query.Project(c.Request.Context(), foundation, c.Param("project_id"))
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

func (h *Handler) MonthlyRanges(foundation models.Foundation) gin.HandlerFunc {
	return func(c *gin.Context) {
		ranges, err := h.query.MonthlyRanges(c.Request.Context(), foundation)
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"project_ranges": ranges})
	}
}

func (h *Handler) Sankey(foundation models.Foundation) gin.HandlerFunc {
	return func(c *gin.Context) {
		g, err := h.query.Sankey(c.Request.Context(), foundation, c.Param("repo"))
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, g)
	}
}

// React runs the extractor over every month of the feature table.
func (h *Handler) React(c *gin.Context) {
	items, err := h.query.ReactAll(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	out := make(map[string]interface{}, len(items))
	for month, list := range items {
		out[strconv.Itoa(month)] = list
	}
	c.JSON(http.StatusOK, out)
}

// monthParam parses :month. Non-integers do not match a route.
func monthParam(c *gin.Context) (int, bool) {
	month, err := strconv.Atoi(c.Param("month"))
	if err != nil || month < 0 {
		invalidEndpoint(c)
		return 0, false
	}
	return month, true
}

func invalidEndpoint(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "Invalid API endpoint"})
}

// respondError maps error types to status codes. Only not-found and
// malformed input messages reach the client.
func (h *Handler) respondError(c *gin.Context, err error) {
	var e *errors.Error
	message := err.Error()
	if stderrors.As(err, &e) {
		message = e.Message
	}

	switch errors.GetType(err) {
	case errors.ErrorTypeNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": message})
	case errors.ErrorTypeMalformedInput:
		c.JSON(http.StatusBadRequest, gin.H{"error": message})
	default:
		h.logger.WithError(err).WithFields(logrus.Fields(errors.ContextOf(err))).
			WithField("path", c.Request.URL.Path).Error("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": internalErrorMessage})
	}
}
