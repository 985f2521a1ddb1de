package query

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rohankatakam/osspulse/internal/cache"
	"github.com/rohankatakam/osspulse/internal/errors"
	"github.com/rohankatakam/osspulse/internal/github"
	"github.com/rohankatakam/osspulse/internal/logging"
	"github.com/rohankatakam/osspulse/internal/models"
	"github.com/rohankatakam/osspulse/internal/react"
	"github.com/rohankatakam/osspulse/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReact struct{ calls int }

func (f *fakeReact) RunAll(ctx context.Context) (map[int][]react.Item, error) {
	f.calls++
	return map[int][]react.Item{1: {{Title: "x", Importance: 3, Priority: react.PriorityHigh, Refs: []react.Ref{}}}}, nil
}

func seed(t *testing.T, store storage.Store, foundation models.Foundation, family models.Family, pid, name string, months map[string]string) {
	t.Helper()
	raw := make(map[string]json.RawMessage, len(months))
	for k, v := range months {
		raw[k] = json.RawMessage(v)
	}
	up := storage.NewUpserter(store, storage.ModeReplace, logging.Discard())
	_, err := up.Upsert(context.Background(), foundation.Collection(family), pid, name, raw)
	require.NoError(t, err)
}

func newTestService(t *testing.T) (*Service, *storage.MemoryStore, cache.Cache) {
	t.Helper()
	store := storage.NewMemoryStore()
	c := cache.NewMemory(time.Minute, logging.Discard())
	svc := NewService(store, Options{Cache: c, ActivityDir: t.TempDir(), React: &fakeReact{}}, logging.Discard())
	return svc, store, c
}

func TestMonthSliceTechNetSanitized(t *testing.T) {
	svc, store, _ := newTestService(t)
	seed(t, store, models.FoundationApache, models.FamilyTechNet, "kafka", "Kafka", map[string]string{
		"3": `[["Alice","java",4],["Bob",7,"x"],"junk",["only","two"]]`,
	})

	slice, err := svc.MonthSlice(context.Background(), models.FoundationApache, models.FamilyTechNet, " Kafka", 3)
	require.NoError(t, err)
	assert.Equal(t, "kafka", slice.ProjectID)
	assert.Equal(t, "Kafka", slice.ProjectName)
	assert.Equal(t, 3, slice.Month)
	assert.JSONEq(t, `[["Alice","java",4],["Bob","",0],["","",0],["","",0]]`, string(slice.Data))
}

func TestMonthSliceSocialNetSanitized(t *testing.T) {
	svc, store, _ := newTestService(t)
	seed(t, store, models.FoundationEclipse, models.FamilySocialNet, "jetty", "Jetty", map[string]string{
		"1": `[["a","b",2],["c","d","12"],["e","f","1.5"],["g","h","lots"],["too","short"],[1,"i",3]]`,
	})

	slice, err := svc.MonthSlice(context.Background(), models.FoundationEclipse, models.FamilySocialNet, "jetty", 1)
	require.NoError(t, err)
	assert.JSONEq(t, `[["a","b",2],["c","d",12],["e","f",1.5],["","i",3]]`, string(slice.Data))
}

func TestMonthSliceNotFound(t *testing.T) {
	svc, store, _ := newTestService(t)
	seed(t, store, models.FoundationApache, models.FamilyCommitLinks, "kafka", "Kafka", map[string]string{"1": `[]`})
	ctx := context.Background()

	_, err := svc.MonthSlice(ctx, models.FoundationApache, models.FamilyCommitLinks, "Nope", 1)
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeNotFound, errors.GetType(err))
	assert.Equal(t, "Project 'Nope' not found.", err.Error())

	_, err = svc.MonthSlice(ctx, models.FoundationApache, models.FamilyCommitLinks, "Kafka", 9)
	require.Error(t, err)
	assert.Equal(t, "Month '9' data not found for project 'Kafka'.", err.Error())

	// eclipse namespace is separate
	_, err = svc.MonthSlice(ctx, models.FoundationEclipse, models.FamilyCommitLinks, "kafka", 1)
	assert.Equal(t, errors.ErrorTypeNotFound, errors.GetType(err))
}

func TestMonthSliceReadThroughCache(t *testing.T) {
	svc, store, c := newTestService(t)
	ctx := context.Background()
	seed(t, store, models.FoundationApache, models.FamilyCommitMeasure, "kafka", "Kafka", map[string]string{"2": `{"commits":5}`})

	first, err := svc.MonthSlice(ctx, models.FoundationApache, models.FamilyCommitMeasure, "kafka", 2)
	require.NoError(t, err)

	var cached models.MonthSlice
	hit, err := c.Get(ctx, cache.SliceKey("apache", "commit_measure", "kafka", 2), &cached)
	require.NoError(t, err)
	require.True(t, hit)
	assert.JSONEq(t, string(first.Data), string(cached.Data))

	// a stale cache answers until invalidated
	seed(t, store, models.FoundationApache, models.FamilyCommitMeasure, "kafka", "Kafka", map[string]string{"2": `{"commits":6}`})
	again, err := svc.MonthSlice(ctx, models.FoundationApache, models.FamilyCommitMeasure, "kafka", 2)
	require.NoError(t, err)
	assert.JSONEq(t, `{"commits":5}`, string(again.Data))

	svc.Invalidate(ctx, "Kafka")
	fresh, err := svc.MonthSlice(ctx, models.FoundationApache, models.FamilyCommitMeasure, "kafka", 2)
	require.NoError(t, err)
	assert.JSONEq(t, `{"commits":6}`, string(fresh.Data))
}

func seedForecast(t *testing.T, store storage.Store) {
	seed(t, store, models.FoundationApache, models.FamilyGradForecast, "kafka", "Kafka", map[string]string{
		"5": `{"date":5,"close":0.8}`,
		"6": `{"date":6,"close":0.5}`,
		"7": `{"date":7,"close":0.99}`,
		"8": `{"date":8,"close":0.2}`,
	})
}

func TestPredictions(t *testing.T) {
	svc, store, _ := newTestService(t)
	seedForecast(t, store)
	ctx := context.Background()

	p, err := svc.Predictions(ctx, models.FoundationApache, "Kafka", 5)
	require.NoError(t, err)
	assert.Equal(t, "Kafka", p.ProjectID)
	assert.Equal(t, 5, p.Month)
	assert.Equal(t, map[string]models.ForecastPoint{
		"6": {Date: 6, Close: 0.515},
		"7": {Date: 7, Close: 1},
		"8": {Date: 8, Close: 0.206},
	}, p.AdjustedForecast)

	_, err = svc.Predictions(ctx, models.FoundationApache, "ghost", 5)
	assert.Equal(t, "Project 'ghost' not found.", err.Error())

	_, err = svc.Predictions(ctx, models.FoundationApache, "Kafka", 40)
	assert.Equal(t, "Forecast data for month '40' not found for project 'Kafka'.", err.Error())
}

func TestGradForecastAndForecastMonth(t *testing.T) {
	svc, store, _ := newTestService(t)
	seedForecast(t, store)
	ctx := context.Background()

	g, err := svc.GradForecast(ctx, models.FoundationApache, "kafka")
	require.NoError(t, err)
	assert.Len(t, g.Forecast, 4)
	assert.Equal(t, 0.99, g.Forecast["7"].Close)

	_, err = svc.GradForecast(ctx, models.FoundationApache, "ghost")
	assert.Equal(t, "Forecast data for project 'ghost' not found.", err.Error())

	m, err := svc.ForecastMonth(ctx, models.FoundationApache, "kafka", 6)
	require.NoError(t, err)
	assert.JSONEq(t, `{"date":6,"close":0.5}`, string(m.Data))
}

func TestProjectsAndRanges(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, store.SaveProject(ctx, "project_info", &models.Project{ProjectID: "zeta", ProjectName: "Zeta"}))
	require.NoError(t, store.SaveProject(ctx, "project_info", &models.Project{ProjectID: "alpha", ProjectName: "Alpha", MonthIntervals: json.RawMessage(`[[1,"2019-01"]]`)}))

	projects, err := svc.Projects(ctx, models.FoundationApache)
	require.NoError(t, err)
	require.Len(t, projects, 2)
	assert.Equal(t, "alpha", projects[0].ProjectID)

	eclipse, err := svc.Projects(ctx, models.FoundationEclipse)
	require.NoError(t, err)
	assert.Empty(t, eclipse)

	p, err := svc.Project(ctx, models.FoundationApache, "ALPHA")
	require.NoError(t, err)
	assert.Equal(t, "Alpha", p.ProjectName)
	_, err = svc.Project(ctx, models.FoundationApache, "beta")
	assert.Equal(t, "Project 'beta' not found.", err.Error())

	ranges, err := svc.MonthlyRanges(ctx, models.FoundationApache)
	require.NoError(t, err)
	assert.JSONEq(t, `[[1,"2019-01"]]`, string(ranges[0].MonthIntervals))
	assert.Equal(t, "null", string(ranges[1].MonthIntervals))
}

func TestSankey(t *testing.T) {
	svc, _, _ := newTestService(t)
	activity := models.CommitActivity{}
	for i := 0; i < 10; i++ {
		activity.Record("2020", "March", "Alice")
	}
	activity.AddExtension("2020", "March", "Alice", "py")
	activity.AddExtension("2020", "March", "Alice", "js")
	data, err := json.Marshal(models.ActivityFile{Data: activity})
	require.NoError(t, err)

	path := github.ActivityPath(svc.activityDir, models.FoundationApache, "kafka")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, data, 0644))

	g, err := svc.Sankey(context.Background(), models.FoundationApache, "kafka")
	require.NoError(t, err)
	assert.Len(t, g.Nodes, 3)
	require.Len(t, g.Links, 2)
	assert.Equal(t, 5.0, g.Links[0].Value)

	_, err = svc.Sankey(context.Background(), models.FoundationApache, "ghost")
	assert.Equal(t, errors.ErrorTypeNotFound, errors.GetType(err))
}

func TestReactAll(t *testing.T) {
	svc, _, _ := newTestService(t)
	items, err := svc.ReactAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, items[1], 1)

	bare := NewService(storage.NewMemoryStore(), Options{}, logging.Discard())
	_, err = bare.ReactAll(context.Background())
	assert.Equal(t, errors.ErrorTypeConfig, errors.GetType(err))
}
