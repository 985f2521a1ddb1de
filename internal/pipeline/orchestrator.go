// Package pipeline runs the post-submission analysis of a repository:
// metadata, miner, ingestion, forecast, ReACT extraction and network
// visualization loading.
package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rohankatakam/osspulse/internal/errors"
	"github.com/rohankatakam/osspulse/internal/forecast"
	"github.com/rohankatakam/osspulse/internal/ingestion"
	"github.com/rohankatakam/osspulse/internal/models"
	"github.com/rohankatakam/osspulse/internal/react"
	"github.com/sirupsen/logrus"
)

// State is a step of a pipeline run. A run moves through the states in
// declaration order.
type State string

const (
	StateStart           State = "START"
	StateMetadataFetched State = "METADATA_FETCHED"
	StateMinerRun        State = "MINER_RUN"
	StateOutputLocated   State = "OUTPUT_LOCATED"
	StateDBIngested      State = "DB_INGESTED"
	StateForecastRun     State = "FORECAST_RUN"
	StateExtractionRun   State = "EXTRACTION_RUN"
	StateNetVisLoaded    State = "NET_VIS_LOADED"
	StateDone            State = "DONE"
)

// StageError replaces a stage's output when the stage failed.
type StageError struct {
	Error string `json:"error"`
}

// StageResult records how one transition went.
type StageResult struct {
	State    State  `json:"state"`
	OK       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration"`
}

// IngestSummary is the outcome of storing the miner tables.
type IngestSummary struct {
	CommitRows  int      `json:"commit_rows"`
	IssueRows   int      `json:"issue_rows"`
	CommitError string   `json:"commit_error,omitempty"`
	IssueError  string   `json:"issue_error,omitempty"`
	Archived    []string `json:"archived"`
	Warnings    []string `json:"warnings"`
}

// Result is the response of one run. Stage outputs hold either the stage's
// value or a StageError.
type Result struct {
	RunID        string        `json:"run_id"`
	GitLink      string        `json:"git_link"`
	ProjectID    string        `json:"project_id"`
	ProjectName  string        `json:"project_name"`
	State        State         `json:"state"`
	Metadata     interface{}   `json:"metadata,omitempty"`
	RustResult   interface{}   `json:"rust_result,omitempty"`
	TechCSV      interface{}   `json:"tech_csv,omitempty"`
	SocialCSV    interface{}   `json:"social_csv,omitempty"`
	Ingest       interface{}   `json:"ingest,omitempty"`
	ForecastJSON interface{}   `json:"forecast_json,omitempty"`
	React        interface{}   `json:"react,omitempty"`
	TechNet      interface{}   `json:"tech_net,omitempty"`
	SocialNet    interface{}   `json:"social_net,omitempty"`
	Stages       []StageResult `json:"stages"`
	Error        string        `json:"error,omitempty"`
}

// Failed lists the states whose transition failed.
func (r *Result) Failed() []State {
	var out []State
	for _, s := range r.Stages {
		if !s.OK {
			out = append(out, s.State)
		}
	}
	return out
}

type MetadataFetcher interface {
	FetchMetadata(ctx context.Context, repo models.Repo) (*models.RepoMetadata, error)
}

type FolderIngester interface {
	ProcessFolder(ctx context.Context, dir, projectID, projectName string) (*ingestion.FolderResult, error)
}

type ReactRunner interface {
	RunLatest(ctx context.Context) ([]react.Item, error)
}

// FailureRecorder persists stage failures. *ledger.Ledger implements it.
type FailureRecorder interface {
	RecordFailure(ctx context.Context, runID, projectID, stage string, cause error, metadata map[string]interface{}) error
}

// Options wires the orchestrator. Nil collaborators make their stage fail
// with a config error; Ledger may be nil.
type Options struct {
	Metadata   MetadataFetcher
	Miner      Miner
	Ingester   FolderIngester
	Forecaster forecast.Forecaster
	React      ReactRunner
	Ledger     FailureRecorder
	PexDir     string
	Tasks      []string
	MonthRange []int
}

// Orchestrator drives pipeline runs.
type Orchestrator struct {
	opts   Options
	logger logrus.FieldLogger
	newID  func() string
}

func New(opts Options, logger logrus.FieldLogger) *Orchestrator {
	return &Orchestrator{
		opts:   opts,
		logger: logger.WithField("component", "pipeline"),
		newID:  uuid.NewString,
	}
}

// run carries state between stages of one run.
type run struct {
	res     *Result
	logger  logrus.FieldLogger
	outDir  string
	outputs *ingestion.Outputs
	tech    []forecast.Record
	social  []forecast.Record
	readErr error
}

// Run executes every stage for gitLink. Stage failures are recorded on
// the result and the run continues; a missing miner output directory or
// a directory without any table stops the run with Result.Error set.
// The returned error is non-nil only for an invalid link.
func (o *Orchestrator) Run(ctx context.Context, gitLink string) (*Result, error) {
	if err := ValidateGitLink(gitLink); err != nil {
		return nil, err
	}
	name := ExtractProjectName(gitLink)
	r := &run{
		res: &Result{
			RunID:       o.newID(),
			GitLink:     gitLink,
			ProjectID:   models.NormalizeProjectID(name),
			ProjectName: name,
			State:       StateStart,
			Stages:      []StageResult{},
		},
	}
	r.logger = o.logger.WithFields(logrus.Fields{
		"run_id":     r.res.RunID,
		"project_id": r.res.ProjectID,
	})
	r.logger.WithField("git_link", gitLink).Info("pipeline started")
	start := time.Now()

	steps := []struct {
		state State
		fn    func(context.Context, *run) error
		hard  bool
	}{
		{StateMetadataFetched, o.fetchMetadata, false},
		{StateMinerRun, o.runMiner, false},
		{StateOutputLocated, o.locateOutputs, true},
		{StateDBIngested, o.ingest, false},
		{StateForecastRun, o.runForecast, false},
		{StateExtractionRun, o.runExtraction, false},
		{StateNetVisLoaded, o.loadNetVis, false},
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			o.stop(ctx, r, step.state, errors.Wrap(err, errors.ErrorTypeInternal, errors.SeverityHigh, "pipeline cancelled"))
			return r.res, nil
		}
		stageStart := time.Now()
		err := step.fn(ctx, r)
		sr := StageResult{State: step.state, OK: err == nil, Duration: time.Since(stageStart).String()}
		if err != nil {
			sr.Error = err.Error()
		}
		r.res.Stages = append(r.res.Stages, sr)
		if err != nil {
			if step.hard {
				o.stop(ctx, r, step.state, err)
				return r.res, nil
			}
			o.record(ctx, r, step.state, err)
		}
		r.res.State = step.state
	}
	r.res.State = StateDone

	fields := logrus.Fields{"duration": time.Since(start).String()}
	if failed := r.res.Failed(); len(failed) > 0 {
		fields["failed"] = failed
		r.logger.WithFields(fields).Warn("pipeline finished with failed stages")
	} else {
		r.logger.WithFields(fields).Info("pipeline finished")
	}
	return r.res, nil
}

func (o *Orchestrator) stop(ctx context.Context, r *run, state State, err error) {
	r.res.Error = err.Error()
	o.record(ctx, r, state, err)
	r.logger.WithError(err).WithField("stage", state).Error("pipeline stopped")
}

func (o *Orchestrator) record(ctx context.Context, r *run, state State, err error) {
	details := errors.ContextOf(err)
	r.logger.WithError(err).WithFields(logrus.Fields(details)).WithField("stage", state).Warn("stage failed")
	if o.opts.Ledger == nil {
		return
	}
	if lerr := o.opts.Ledger.RecordFailure(ctx, r.res.RunID, r.res.ProjectID, string(state), err, details); lerr != nil {
		r.logger.WithError(lerr).Warn("could not record stage failure")
	}
}

func (o *Orchestrator) fetchMetadata(ctx context.Context, r *run) error {
	if o.opts.Metadata == nil {
		r.res.Metadata = StageError{Error: "github client not configured"}
		return errors.ConfigErrorf("github client not configured")
	}
	repo, err := models.ParseRepo(r.res.GitLink)
	if err != nil {
		wrapped := errors.Wrap(err, errors.ErrorTypeMalformedInput, errors.SeverityMedium, "parse git link")
		r.res.Metadata = StageError{Error: wrapped.Error()}
		return wrapped
	}
	meta, err := o.opts.Metadata.FetchMetadata(ctx, repo)
	if err != nil {
		r.res.Metadata = StageError{Error: err.Error()}
		return err
	}
	r.res.Metadata = meta
	return nil
}

func (o *Orchestrator) runMiner(ctx context.Context, r *run) error {
	if o.opts.Miner == nil {
		r.res.RustResult = StageError{Error: "miner not configured"}
		return errors.ConfigErrorf("miner not configured")
	}
	r.outDir = o.opts.Miner.OutputDir()
	out, err := o.opts.Miner.Mine(ctx, r.res.GitLink)
	if err != nil {
		r.res.RustResult = StageError{Error: err.Error()}
		return err
	}
	r.res.RustResult = out
	return nil
}

func (o *Orchestrator) locateOutputs(ctx context.Context, r *run) error {
	if r.outDir == "" {
		return errors.ConfigErrorf("miner output directory unknown")
	}
	outputs, err := ingestion.LocateOutputs(r.outDir)
	if err != nil {
		return err
	}
	r.outputs = outputs

	// Read the tables for the forecaster now; ingestion archives them.
	if outputs.CommitCSV != "" {
		r.res.TechCSV = outputs.CommitCSV
		if r.tech, err = forecast.ReadRecords(outputs.CommitCSV); err != nil {
			r.readErr = err
		}
	} else {
		r.res.TechCSV = StageError{Error: "commit CSV not found"}
	}
	if outputs.IssueCSV != "" {
		r.res.SocialCSV = outputs.IssueCSV
		if r.social, err = forecast.ReadRecords(outputs.IssueCSV); err != nil && r.readErr == nil {
			r.readErr = err
		}
	} else {
		r.res.SocialCSV = StageError{Error: "issue CSV not found"}
	}
	return nil
}

func (o *Orchestrator) ingest(ctx context.Context, r *run) error {
	if o.opts.Ingester == nil {
		r.res.Ingest = StageError{Error: "ingester not configured"}
		return errors.ConfigErrorf("ingester not configured")
	}
	fr, err := o.opts.Ingester.ProcessFolder(ctx, r.outDir, r.res.ProjectID, r.res.ProjectName)
	if err != nil {
		r.res.Ingest = StageError{Error: err.Error()}
		return err
	}

	summary := IngestSummary{Archived: fr.Archived, Warnings: fr.Warnings()}
	if summary.Archived == nil {
		summary.Archived = []string{}
	}
	if summary.Warnings == nil {
		summary.Warnings = []string{}
	}
	if fr.Commit != nil {
		summary.CommitRows = fr.Commit.Rows
	}
	if fr.Issue != nil {
		summary.IssueRows = fr.Issue.Rows
	}
	if fr.CommitErr != nil {
		summary.CommitError = fr.CommitErr.Error()
	}
	if fr.IssueErr != nil {
		summary.IssueError = fr.IssueErr.Error()
	}
	r.res.Ingest = summary

	switch {
	case fr.CommitErr != nil && fr.IssueErr != nil:
		return errors.Newf(errors.ErrorTypePartialPipeline, errors.SeverityHigh, "commit and issue ingestion failed: %v; %v", fr.CommitErr, fr.IssueErr)
	case fr.CommitErr != nil:
		return errors.Wrap(fr.CommitErr, errors.ErrorTypePartialPipeline, errors.SeverityMedium, "commit ingestion failed")
	case fr.IssueErr != nil:
		return errors.Wrap(fr.IssueErr, errors.ErrorTypePartialPipeline, errors.SeverityMedium, "issue ingestion failed")
	}
	return nil
}

func (o *Orchestrator) runForecast(ctx context.Context, r *run) error {
	fail := func(err error) error {
		r.res.ForecastJSON = StageError{Error: err.Error()}
		return err
	}
	if o.opts.Forecaster == nil {
		return fail(errors.ConfigErrorf("forecaster not configured"))
	}
	if r.readErr != nil {
		return fail(r.readErr)
	}

	req := &forecast.Request{
		ProjectName: r.res.ProjectName,
		TechData:    nonNil(r.tech),
		SocialData:  nonNil(r.social),
		Tasks:       o.opts.Tasks,
		MonthRange:  o.opts.MonthRange,
	}
	records, err := o.opts.Forecaster.Forecast(ctx, req)
	if err != nil {
		return fail(err)
	}
	if o.opts.PexDir != "" {
		path := filepath.Join(o.opts.PexDir, "forecasts", r.res.ProjectName+".json")
		if err := writeJSON(path, records); err != nil {
			return fail(err)
		}
	}
	r.res.ForecastJSON = records
	return nil
}

func (o *Orchestrator) runExtraction(ctx context.Context, r *run) error {
	if o.opts.React == nil {
		r.res.React = StageError{Error: "react extractor not configured"}
		return errors.ConfigErrorf("react extractor not configured")
	}
	items, err := o.opts.React.RunLatest(ctx)
	if err != nil {
		r.res.React = StageError{Error: err.Error()}
		return err
	}
	r.res.React = items
	return nil
}

func (o *Orchestrator) loadNetVis(ctx context.Context, r *run) error {
	path := filepath.Join(o.opts.PexDir, "net-vis", r.res.ProjectName+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		ferr := errors.FileSystemErrorf(err, "read net-vis file %s", path)
		r.res.TechNet = StageError{Error: ferr.Error()}
		r.res.SocialNet = StageError{Error: ferr.Error()}
		return ferr
	}
	var doc struct {
		Tech   json.RawMessage `json:"tech"`
		Social json.RawMessage `json:"social"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		merr := errors.Wrapf(err, errors.ErrorTypeMalformedInput, errors.SeverityMedium, "decode net-vis file %s", path)
		r.res.TechNet = StageError{Error: merr.Error()}
		r.res.SocialNet = StageError{Error: merr.Error()}
		return merr
	}

	var firstErr error
	for _, part := range []struct {
		key string
		raw json.RawMessage
		dst *interface{}
	}{
		{"tech", doc.Tech, &r.res.TechNet},
		{"social", doc.Social, &r.res.SocialNet},
	} {
		graph, err := tagProject(part.raw, r.res.ProjectName, r.res.ProjectID)
		if err != nil {
			err = errors.Wrapf(err, errors.ErrorTypeMalformedInput, errors.SeverityMedium, "net-vis %s graph", part.key)
			*part.dst = StageError{Error: err.Error()}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		*part.dst = graph
	}
	return firstErr
}

// tagProject decodes a graph object and stamps the project onto it.
func tagProject(raw json.RawMessage, name, id string) (map[string]interface{}, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, errors.MalformedInputf("graph missing")
	}
	var graph map[string]interface{}
	if err := json.Unmarshal(raw, &graph); err != nil {
		return nil, err
	}
	graph["project_name"] = name
	graph["project_id"] = id
	return graph, nil
}

func nonNil(rows []forecast.Record) []forecast.Record {
	if rows == nil {
		return []forecast.Record{}
	}
	return rows
}

func writeJSON(path string, v interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.FileSystemErrorf(err, "create %s", filepath.Dir(path))
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.InternalErrorf("encode %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.FileSystemErrorf(err, "write %s", path)
	}
	return nil
}
