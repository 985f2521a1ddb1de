// Package api serves the dashboard's HTTP routes on gin.
package api

import (
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rohankatakam/osspulse/internal/models"
	"github.com/sirupsen/logrus"
)

// LandingText is served at the root path.
const LandingText = "Welcome to the Repository Fetcher for Apache and Eclipse foundations!"

// NewRouter wires every route group onto a fresh engine.
func NewRouter(h *Handler, logger logrus.FieldLogger) *gin.Engine {
	router := gin.New()
	router.Use(RecoveryMiddleware(logger))
	router.Use(LoggerMiddleware(logger))
	router.Use(CORSMiddleware())
	router.RedirectTrailingSlash = false

	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, LandingText)
	})

	apiGroup := router.Group("/api")
	{
		h.registerReads(apiGroup, models.FoundationApache)
		apiGroup.POST("/upload_git_link", h.UploadGitLink)
		apiGroup.GET("/sankey/:repo", h.Sankey(models.FoundationApache))
		apiGroup.GET("/react", h.React)
		apiGroup.GET("/projects", h.Repositories("projects"))
		apiGroup.GET("/github_stars", h.Repositories("repositories"))
		apiGroup.GET("/github_repositories", h.Repositories("repositories"))
		apiGroup.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "healthy"})
		})
	}

	eclipse := router.Group("/eclipse")
	{
		h.registerReads(eclipse, models.FoundationEclipse)
		eclipse.GET("/sankey/:repo", h.Sankey(models.FoundationEclipse))
		eclipse.GET("/"+string(models.FamilyIssueMeasure)+"/:project_id/:month", h.MonthSlice(models.FoundationEclipse, models.FamilyIssueMeasure))
	}

	router.NoRoute(func(c *gin.Context) {
		path := strings.TrimPrefix(c.Request.URL.Path, "/")
		if strings.HasPrefix(path, "api/") || strings.HasPrefix(path, "eclipse/") {
			invalidEndpoint(c)
			return
		}
		c.Redirect(http.StatusFound, "/")
	})

	return router
}

func (h *Handler) registerReads(g *gin.RouterGroup, foundation models.Foundation) {
	for _, family := range h.families {
		g.GET("/"+string(family)+"/:project_id/:month", h.MonthSlice(foundation, family))
	}
	g.GET("/forecast/:project_id/:month", h.ForecastMonth(foundation))
	g.GET("/grad_forecast/:project_id", h.GradForecast(foundation))
	g.GET("/predictions/:project_id/:month", h.Predictions(foundation))
	g.GET("/project_info", h.Projects(foundation))
	g.GET("/project_info/:project_id", h.Project(foundation))
	g.GET("/monthly_ranges", h.MonthlyRanges(foundation))
}

func LoggerMiddleware(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.WithFields(logrus.Fields{
			"method":    c.Request.Method,
			"path":      c.Request.URL.Path,
			"status":    c.Writer.Status(),
			"client_ip": c.ClientIP(),
			"duration":  time.Since(start).String(),
		}).Info("HTTP request")
	}
}

func RecoveryMiddleware(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.WithFields(logrus.Fields{
					"error":  err,
					"stack":  string(debug.Stack()),
					"path":   c.Request.URL.Path,
					"method": c.Request.Method,
				}).Error("panic recovered")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": internalErrorMessage})
			}
		}()
		c.Next()
	}
}

// CORSMiddleware allows any origin, as the dashboard is served separately.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
