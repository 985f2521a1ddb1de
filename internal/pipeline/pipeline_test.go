package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/rohankatakam/osspulse/internal/config"
	"github.com/rohankatakam/osspulse/internal/errors"
	"github.com/rohankatakam/osspulse/internal/forecast"
	"github.com/rohankatakam/osspulse/internal/ingestion"
	"github.com/rohankatakam/osspulse/internal/logging"
	"github.com/rohankatakam/osspulse/internal/models"
	"github.com/rohankatakam/osspulse/internal/react"
	"github.com/rohankatakam/osspulse/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	gitLink = "https://github.com/apache/kafka.git"

	commitTable = `commit_sha,date,name,commit_url
a1,2016-01-15 10:00:00,Alice,https://github.com/apache/kafka/commit/a1
a2,2016-03-02 09:30:00,Bob,https://github.com/apache/kafka/commit/a2
`
	issueTable = `issue_url,created_at,user_login
https://github.com/apache/kafka/issues/1,2017-06-01T00:00:00Z,alice
https://github.com/apache/kafka/issues/2,2017-07-04T12:00:00Z,bob
`
	netVis = `{"tech": {"nodes": [], "links": []}, "social": {"nodes": ["a"]}}`
)

type fakeMetadata struct{ err error }

func (f *fakeMetadata) FetchMetadata(ctx context.Context, repo models.Repo) (*models.RepoMetadata, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.RepoMetadata{Owner: repo.Owner, Name: repo.Name, Stars: 7}, nil
}

// fakeMiner writes its tables into dir when tables is set.
type fakeMiner struct {
	dir    string
	tables map[string]string
	err    error
}

func (f *fakeMiner) OutputDir() string { return f.dir }

func (f *fakeMiner) Mine(ctx context.Context, link string) (*MinerOutput, error) {
	for name, body := range f.tables {
		if err := os.MkdirAll(f.dir, 0755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(filepath.Join(f.dir, name), []byte(body), 0644); err != nil {
			return nil, err
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &MinerOutput{Issues: "ok", Commits: "ok"}, nil
}

type fakeForecaster struct {
	req *forecast.Request
	err error
}

func (f *fakeForecaster) Forecast(ctx context.Context, req *forecast.Request) ([]forecast.Record, error) {
	f.req = req
	if f.err != nil {
		return nil, f.err
	}
	return []forecast.Record{{"date": 1, "close": 0.5}}, nil
}

type fakeReact struct{ err error }

func (f *fakeReact) RunLatest(ctx context.Context) ([]react.Item, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []react.Item{{Title: "Add a CONTRIBUTING file", Importance: 5, Priority: react.PriorityCritical, Refs: []react.Ref{}}}, nil
}

type fakeLedger struct {
	stages   []string
	metadata []map[string]interface{}
}

func (f *fakeLedger) RecordFailure(ctx context.Context, runID, projectID, stage string, cause error, metadata map[string]interface{}) error {
	f.stages = append(f.stages, stage)
	f.metadata = append(f.metadata, metadata)
	return nil
}

type harness struct {
	orch       *Orchestrator
	store      *storage.MemoryStore
	miner      *fakeMiner
	forecaster *fakeForecaster
	ledger     *fakeLedger
	pex        string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	root := t.TempDir()
	logger := logging.Discard()
	store := storage.NewMemoryStore()
	h := &harness{
		store: store,
		miner: &fakeMiner{
			dir: filepath.Join(root, "scraper", "output"),
			tables: map[string]string{
				"kafka-commit-file-dev.csv": commitTable,
				"kafka_issues.csv":          issueTable,
			},
		},
		forecaster: &fakeForecaster{},
		ledger:     &fakeLedger{},
		pex:        filepath.Join(root, "pex"),
	}
	require.NoError(t, os.MkdirAll(filepath.Join(h.pex, "net-vis"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(h.pex, "net-vis", "kafka.json"), []byte(netVis), 0644))

	ingester := ingestion.NewIngester(storage.NewUpserter(store, storage.ModeReplace, logger), models.FoundationApache, filepath.Join(root, "archive"), logger)
	h.orch = New(Options{
		Metadata:   &fakeMetadata{},
		Miner:      h.miner,
		Ingester:   ingester,
		Forecaster: h.forecaster,
		React:      &fakeReact{},
		Ledger:     h.ledger,
		PexDir:     h.pex,
		Tasks:      []string{"ALL"},
		MonthRange: []int{0, -1},
	}, logger)
	h.orch.newID = func() string { return "run-1" }
	return h
}

func TestRunHappyPath(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.orch.Run(ctx, gitLink)
	require.NoError(t, err)

	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, "kafka", res.ProjectID)
	assert.Equal(t, "kafka", res.ProjectName)
	assert.Equal(t, StateDone, res.State)
	assert.Empty(t, res.Error)
	assert.Empty(t, res.Failed())
	assert.Empty(t, h.ledger.stages)

	var states []State
	for _, s := range res.Stages {
		states = append(states, s.State)
	}
	assert.Equal(t, []State{
		StateMetadataFetched, StateMinerRun, StateOutputLocated, StateDBIngested,
		StateForecastRun, StateExtractionRun, StateNetVisLoaded,
	}, states)

	meta, ok := res.Metadata.(*models.RepoMetadata)
	require.True(t, ok)
	assert.Equal(t, "apache", meta.Owner)

	summary, ok := res.Ingest.(IngestSummary)
	require.True(t, ok)
	assert.Equal(t, 2, summary.CommitRows)
	assert.Equal(t, 2, summary.IssueRows)
	assert.Len(t, summary.Archived, 2)

	doc, err := h.store.GetDocument(ctx, "commit_links", "kafka")
	require.NoError(t, err)
	assert.Len(t, doc.Months, 2)
	_, err = h.store.GetDocument(ctx, "issue_links", "kafka")
	require.NoError(t, err)

	require.NotNil(t, h.forecaster.req)
	assert.Equal(t, "kafka", h.forecaster.req.ProjectName)
	assert.Len(t, h.forecaster.req.TechData, 2)
	assert.Len(t, h.forecaster.req.SocialData, 2)
	assert.Equal(t, []string{"ALL"}, h.forecaster.req.Tasks)
	assert.FileExists(t, filepath.Join(h.pex, "forecasts", "kafka.json"))

	tech, ok := res.TechNet.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "kafka", tech["project_id"])
	assert.Equal(t, "kafka", tech["project_name"])
	social, ok := res.SocialNet.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, []interface{}{"a"}, social["nodes"])
}

func TestRunContinuesAfterStageFailures(t *testing.T) {
	h := newHarness(t)
	h.miner.err = errors.SourceUnavailablef("miner crashed").WithContext("exit_code", 3)
	h.forecaster.err = errors.SourceUnavailablef("forecaster crashed")
	require.NoError(t, os.Remove(filepath.Join(h.pex, "net-vis", "kafka.json")))

	res, err := h.orch.Run(context.Background(), gitLink)
	require.NoError(t, err)

	assert.Equal(t, StateDone, res.State)
	assert.Empty(t, res.Error)
	assert.Equal(t, []State{StateMinerRun, StateForecastRun, StateNetVisLoaded}, res.Failed())
	assert.Equal(t, []string{"MINER_RUN", "FORECAST_RUN", "NET_VIS_LOADED"}, h.ledger.stages)
	assert.Equal(t, map[string]interface{}{"exit_code": 3}, h.ledger.metadata[0])

	assert.Equal(t, StageError{Error: "miner crashed"}, res.RustResult)
	assert.Equal(t, StageError{Error: "forecaster crashed"}, res.ForecastJSON)
	assert.IsType(t, StageError{}, res.TechNet)
	assert.IsType(t, IngestSummary{}, res.Ingest)

	raw, err := json.Marshal(res)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"rust_result":{"error":"miner crashed"}`)
}

func TestRunHardStopsWithoutOutputDir(t *testing.T) {
	h := newHarness(t)
	h.miner.tables = nil

	res, err := h.orch.Run(context.Background(), gitLink)
	require.NoError(t, err)

	assert.NotEmpty(t, res.Error)
	assert.Equal(t, StateMinerRun, res.State)
	assert.Len(t, res.Stages, 3)
	assert.Equal(t, []string{"OUTPUT_LOCATED"}, h.ledger.stages)
	assert.Nil(t, h.forecaster.req)
}

func TestRunHardStopsWithoutTables(t *testing.T) {
	h := newHarness(t)
	h.miner.tables = map[string]string{"notes.csv": "foo,bar\n1,2\n"}

	res, err := h.orch.Run(context.Background(), gitLink)
	require.NoError(t, err)
	assert.Contains(t, res.Error, "no commit or issue CSV")
	assert.Equal(t, StateMinerRun, res.State)
}

func TestRunSingleTable(t *testing.T) {
	h := newHarness(t)
	h.miner.tables = map[string]string{"kafka_issues.csv": issueTable}

	res, err := h.orch.Run(context.Background(), gitLink)
	require.NoError(t, err)
	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, StageError{Error: "commit CSV not found"}, res.TechCSV)
	assert.Empty(t, h.forecaster.req.TechData)
	assert.Len(t, h.forecaster.req.SocialData, 2)
}

func TestRunRejectsInvalidLink(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.Run(context.Background(), "https://github.com/apache/kafka")
	assert.Equal(t, errors.ErrorTypeMalformedInput, errors.GetType(err))
}

func TestRunCancelled(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := h.orch.Run(ctx, gitLink)
	require.NoError(t, err)
	assert.Contains(t, res.Error, "cancelled")
	assert.Equal(t, StateStart, res.State)
}

func TestNaming(t *testing.T) {
	assert.Equal(t, "kafka", ExtractProjectName("https://github.com/apache/kafka.git"))
	assert.Equal(t, "Incubator-Pony", ExtractProjectName("https://github.com/apache/Incubator-Pony.git"))
	assert.Equal(t, "incubatorpony", ProjectID("https://github.com/apache/Incubator-Pony.git"))
	assert.Equal(t, "kafka", ExtractProjectName("/kafka/"))

	assert.NoError(t, ValidateGitLink("https://github.com/apache/kafka.git"))
	assert.Equal(t, errors.ErrorTypeMalformedInput, errors.GetType(ValidateGitLink("")))
	assert.Equal(t, errors.ErrorTypeMalformedInput, errors.GetType(ValidateGitLink("   ")))
	assert.Equal(t, errors.ErrorTypeMalformedInput, errors.GetType(ValidateGitLink("https://github.com/apache/kafka")))
	assert.Equal(t, errors.ErrorTypeMalformedInput, errors.GetType(ValidateGitLink(".git")))
}

func TestExecMiner(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs /bin/sh")
	}
	scraper := t.TempDir()
	script := "#!/bin/sh\n" +
		"mkdir -p output\n" +
		"case \"$1\" in\n" +
		"--fetch-github-issues) printf 'issue_url,created_at,user_login\\n' > output/kafka_issues.csv; echo issues done ;;\n" +
		"--commit-devs-files) echo \"$5\" ;;\n" +
		"esac\n"
	require.NoError(t, os.WriteFile(filepath.Join(scraper, "miner"), []byte(script), 0755))

	m := NewExecMiner(config.PipelineConfig{ScraperDir: scraper, MinerBinary: "miner", OutputDir: "output"}, logging.Discard())
	assert.Equal(t, filepath.Join(scraper, "output"), m.OutputDir())

	out, err := m.Mine(context.Background(), gitLink)
	require.NoError(t, err)
	assert.Contains(t, out.Issues, "issues done")
	assert.Contains(t, out.Commits, "--git-online-url="+gitLink)
	assert.FileExists(t, filepath.Join(scraper, "output", "kafka_issues.csv"))

	failing := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(failing, "miner"), []byte("#!/bin/sh\necho broken\nexit 2\n"), 0755))
	_, err = NewExecMiner(config.PipelineConfig{ScraperDir: failing, MinerBinary: "miner", OutputDir: "output"}, logging.Discard()).Mine(context.Background(), gitLink)
	assert.Equal(t, errors.ErrorTypeSourceUnavailable, errors.GetType(err))
	assert.Contains(t, err.Error(), "broken")

	_, err = NewExecMiner(config.PipelineConfig{ScraperDir: t.TempDir(), MinerBinary: "missing", OutputDir: "output"}, logging.Discard()).Mine(context.Background(), gitLink)
	assert.Equal(t, errors.ErrorTypeFileSystem, errors.GetType(err))
}
