// Package query answers the read side of the API: month slices, forecasts,
// predictions, project info, Sankey graphs and ReACT items.
package query

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io/fs"
	"sort"
	"strconv"

	"github.com/rohankatakam/osspulse/internal/cache"
	"github.com/rohankatakam/osspulse/internal/errors"
	"github.com/rohankatakam/osspulse/internal/forecast"
	"github.com/rohankatakam/osspulse/internal/github"
	"github.com/rohankatakam/osspulse/internal/graph"
	"github.com/rohankatakam/osspulse/internal/models"
	"github.com/rohankatakam/osspulse/internal/react"
	"github.com/rohankatakam/osspulse/internal/storage"
	"github.com/sirupsen/logrus"
)

// SliceFamilies are the families served month by month.
var SliceFamilies = []models.Family{
	models.FamilyTechNet,
	models.FamilySocialNet,
	models.FamilyCommitLinks,
	models.FamilyIssueLinks,
	models.FamilyEmailLinks,
	models.FamilyCommitMeasure,
	models.FamilyEmailMeasure,
}

// ReactRunner extracts ReACT items for every month of the feature table.
type ReactRunner interface {
	RunAll(ctx context.Context) (map[int][]react.Item, error)
}

// GradForecast is a project's whole graduation forecast.
type GradForecast struct {
	ProjectID   string                          `json:"project_id"`
	ProjectName string                          `json:"project_name"`
	Forecast    map[string]models.ForecastPoint `json:"forecast"`
}

// Prediction is the adjusted forecast after a base month.
type Prediction struct {
	ProjectID        string                          `json:"project_id"`
	Month            int                             `json:"month"`
	AdjustedForecast map[string]models.ForecastPoint `json:"adjusted_forecast"`
}

// ProjectRange is a project's month interval table.
type ProjectRange struct {
	ProjectID      string          `json:"project_id"`
	ProjectName    string          `json:"project_name"`
	MonthIntervals json.RawMessage `json:"month_intervals"`
}

// Options configures the non-store sources.
type Options struct {
	Cache       cache.Cache // nil disables caching
	ActivityDir string      // GitHub fetch output root
	React       ReactRunner
}

type Service struct {
	store       storage.Store
	cache       cache.Cache
	activityDir string
	react       ReactRunner
	logger      logrus.FieldLogger
}

func NewService(store storage.Store, opts Options, logger logrus.FieldLogger) *Service {
	return &Service{
		store:       store,
		cache:       opts.Cache,
		activityDir: opts.ActivityDir,
		react:       opts.React,
		logger:      logger.WithField("component", "query"),
	}
}

// MonthSlice returns one month of a family. Network families are
// sanitized. Results are cached when a cache is configured.
func (s *Service) MonthSlice(ctx context.Context, foundation models.Foundation, family models.Family, rawProjectID string, month int) (*models.MonthSlice, error) {
	key := cache.SliceKey(string(foundation), string(family), models.NormalizeProjectID(rawProjectID), month)
	if s.cache != nil {
		var cached models.MonthSlice
		hit, err := s.cache.Get(ctx, key, &cached)
		if err != nil {
			s.logger.WithError(err).WithField("key", key).Warn("cache read failed")
		} else if hit {
			return &cached, nil
		}
	}

	slice, err := storage.LookupMonth(ctx, s.store, foundation.Collection(family), rawProjectID, month)
	if err != nil {
		return nil, err
	}

	var clean []interface{}
	switch family {
	case models.FamilyTechNet:
		clean, err = sanitizeTechNet(slice.Data)
	case models.FamilySocialNet:
		clean, err = sanitizeSocialNet(slice.Data, s.logger)
	}
	if err != nil {
		return nil, err
	}
	if clean != nil {
		data, err := json.Marshal(clean)
		if err != nil {
			return nil, errors.InternalErrorf("encode sanitized %s month: %v", family, err)
		}
		slice.Data = data
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, slice); err != nil {
			s.logger.WithError(err).WithField("key", key).Warn("cache write failed")
		}
	}
	return slice, nil
}

// Invalidate drops every cached slice of a project, or all slices when
// projectID is empty.
func (s *Service) Invalidate(ctx context.Context, projectID string) {
	if s.cache == nil {
		return
	}
	pattern := cache.AllSlices
	if projectID != "" {
		pattern = cache.ProjectPattern(models.NormalizeProjectID(projectID))
	}
	if _, err := s.cache.DeletePattern(ctx, pattern); err != nil {
		s.logger.WithError(err).WithField("pattern", pattern).Warn("cache invalidation failed")
	}
}

// ForecastMonth is the grad_forecast month slice, data {date, close}.
func (s *Service) ForecastMonth(ctx context.Context, foundation models.Foundation, rawProjectID string, month int) (*models.MonthSlice, error) {
	return s.MonthSlice(ctx, foundation, models.FamilyGradForecast, rawProjectID, month)
}

func (s *Service) forecastSeries(ctx context.Context, foundation models.Foundation, rawProjectID string) (*models.MonthDocument, models.ForecastSeries, error) {
	doc, err := s.store.GetDocument(ctx, foundation.Collection(models.FamilyGradForecast), models.NormalizeProjectID(rawProjectID))
	if err != nil {
		return nil, nil, err
	}
	series, err := models.ForecastSeriesFromDocument(doc)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrorTypeInternal, errors.SeverityMedium, "decode forecast")
	}
	return doc, series, nil
}

// GradForecast returns the stored forecast of a project.
func (s *Service) GradForecast(ctx context.Context, foundation models.Foundation, rawProjectID string) (*GradForecast, error) {
	doc, series, err := s.forecastSeries(ctx, foundation, rawProjectID)
	if errors.GetType(err) == errors.ErrorTypeNotFound {
		return nil, errors.NotFoundf("Forecast data for project '%s' not found.", rawProjectID)
	}
	if err != nil {
		return nil, err
	}
	out := &GradForecast{
		ProjectID:   doc.ProjectID,
		ProjectName: doc.ProjectName,
		Forecast:    make(map[string]models.ForecastPoint, len(series)),
	}
	for m, p := range series {
		out.Forecast[strconv.Itoa(m)] = p
	}
	return out, nil
}

// Predictions adjusts the three months after month.
func (s *Service) Predictions(ctx context.Context, foundation models.Foundation, rawProjectID string, month int) (*Prediction, error) {
	_, series, err := s.forecastSeries(ctx, foundation, rawProjectID)
	if errors.GetType(err) == errors.ErrorTypeNotFound {
		return nil, errors.NotFoundf("Project '%s' not found.", rawProjectID)
	}
	if err != nil {
		return nil, err
	}
	if _, ok := series[month]; !ok {
		return nil, errors.NotFoundf("Forecast data for month '%d' not found for project '%s'.", month, rawProjectID)
	}
	adjusted, err := forecast.Adjust(series, month)
	if err != nil {
		return nil, err
	}
	out := &Prediction{
		ProjectID:        rawProjectID,
		Month:            month,
		AdjustedForecast: make(map[string]models.ForecastPoint, len(adjusted)),
	}
	for m, p := range adjusted {
		out.AdjustedForecast[strconv.Itoa(m)] = p
	}
	return out, nil
}

// Projects lists project info sorted by id.
func (s *Service) Projects(ctx context.Context, foundation models.Foundation) ([]*models.Project, error) {
	projects, err := s.store.ListProjects(ctx, foundation.ProjectCollection())
	if err != nil {
		return nil, err
	}
	sort.Slice(projects, func(i, j int) bool { return projects[i].ProjectID < projects[j].ProjectID })
	if projects == nil {
		projects = []*models.Project{}
	}
	return projects, nil
}

// Project returns one project's info.
func (s *Service) Project(ctx context.Context, foundation models.Foundation, rawProjectID string) (*models.Project, error) {
	p, err := s.store.GetProject(ctx, foundation.ProjectCollection(), models.NormalizeProjectID(rawProjectID))
	if errors.GetType(err) == errors.ErrorTypeNotFound {
		return nil, errors.NotFoundf("Project '%s' not found.", rawProjectID)
	}
	return p, err
}

// MonthlyRanges lists every project's month intervals.
func (s *Service) MonthlyRanges(ctx context.Context, foundation models.Foundation) ([]ProjectRange, error) {
	projects, err := s.Projects(ctx, foundation)
	if err != nil {
		return nil, err
	}
	out := make([]ProjectRange, 0, len(projects))
	for _, p := range projects {
		intervals := p.MonthIntervals
		if len(intervals) == 0 {
			intervals = json.RawMessage("null")
		}
		out = append(out, ProjectRange{ProjectID: p.ProjectID, ProjectName: p.ProjectName, MonthIntervals: intervals})
	}
	return out, nil
}

// Repositories lists the organization repositories with their star, fork
// and watcher counts, sorted by name.
func (s *Service) Repositories(ctx context.Context) ([]*models.OrgRepo, error) {
	repos, err := s.store.ListRepositories(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(repos, func(i, j int) bool { return repos[i].Name < repos[j].Name })
	if repos == nil {
		repos = []*models.OrgRepo{}
	}
	return repos, nil
}

// Sankey builds the committer to extension graph of a fetched repository.
func (s *Service) Sankey(ctx context.Context, foundation models.Foundation, repoName string) (*graph.Sankey, error) {
	path := github.ActivityPath(s.activityDir, foundation, repoName)
	file, err := github.LoadActivityFile(path)
	if stderrors.Is(err, fs.ErrNotExist) {
		return nil, errors.NotFoundf("Project '%s' not found.", repoName)
	}
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeInternal, errors.SeverityMedium, "load activity for %s", repoName)
	}
	return graph.BuildSankey(file.Data), nil
}

// ReactAll runs the extractor for every month of the feature table.
func (s *Service) ReactAll(ctx context.Context) (map[int][]react.Item, error) {
	if s.react == nil {
		return nil, errors.ConfigErrorf("react extractor not configured")
	}
	return s.react.RunAll(ctx)
}
