package github

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rohankatakam/osspulse/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// HistorySource pages through a repository's commit history.
type HistorySource interface {
	CommitHistoryPage(ctx context.Context, repo models.Repo, cursor string) (Page[CommitNode], error)
}

// ExtensionSource looks up the file extensions touched by one commit.
type ExtensionSource interface {
	FetchCommitExtensions(ctx context.Context, repo models.Repo, sha string) ([]string, error)
}

// commitRef keys one detail lookup back into the activity map
type commitRef struct {
	sha, committer, year, month string
}

// Fetcher collects per-month committer activity for a repository and
// writes it under OutDir/<foundation>/.
type Fetcher struct {
	history    HistorySource
	details    ExtensionSource
	outDir     string
	foundation models.Foundation
	logger     logrus.FieldLogger

	// DetailConcurrency caps in-flight commit detail requests.
	DetailConcurrency int
	MaxRetries        int

	// clock and sleeper hooks for the pager
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() time.Duration
	now    func() time.Time
}

// FetchStats tracks fetching statistics
type FetchStats struct {
	Commits        int
	Pages          int
	APICalls       int
	DetailFailures int
	Duration       time.Duration
}

// NewFetcher creates a commit activity fetcher
func NewFetcher(history HistorySource, details ExtensionSource, outDir string, foundation models.Foundation, logger logrus.FieldLogger) *Fetcher {
	return &Fetcher{
		history:           history,
		details:           details,
		outDir:            outDir,
		foundation:        foundation,
		logger:            logger.WithField("component", "fetcher"),
		DetailConcurrency: 10,
		sleep:             SleepContext,
		jitter:            RandomBackoff,
		now:               time.Now,
	}
}

// FetchActivity pages through the history, snapshotting after every page,
// then enriches each commit with its file extensions. On a pagination
// error the activity gathered so far is still returned and written.
func (f *Fetcher) FetchActivity(ctx context.Context, repo models.Repo) (*models.ActivityFile, *FetchStats, error) {
	start := f.now()
	stats := &FetchStats{}
	activity := models.CommitActivity{}
	var refs []commitRef

	f.logger.WithField("repo", repo.FullName()).Info("fetching commit history")

	recorded := 0
	pager := &PagedFetcher[CommitNode]{
		Fetch: func(ctx context.Context, cursor string) (Page[CommitNode], error) {
			return f.history.CommitHistoryPage(ctx, repo, cursor)
		},
		Snapshot: func(items []CommitNode, apiCalls int) error {
			for _, n := range items[recorded:] {
				when := n.CommittedDate.UTC()
				year := fmt.Sprintf("%d", when.Year())
				month := when.Month().String()
				activity.Record(year, month, n.Author)
				refs = append(refs, commitRef{sha: n.OID, committer: n.Author, year: year, month: month})
			}
			recorded = len(items)
			return f.write(f.partialPath(repo), &models.ActivityFile{
				FetchTimeSeconds: f.now().Sub(start).Seconds(),
				APICallsMade:     apiCalls,
				Data:             activity,
			})
		},
		MaxRetries: f.MaxRetries,
		Logger:     f.logger,
		Sleep:      f.sleep,
		Now:        f.now,
		Jitter:     f.jitter,
	}

	result, fetchErr := pager.Run(ctx)
	stats.Commits = len(refs)
	stats.Pages = result.Pages
	stats.APICalls = result.APICalls
	if fetchErr != nil {
		f.logger.WithError(fetchErr).WithField("commits", len(refs)).Error("commit history fetch stopped early")
	}

	if len(refs) > 0 {
		calls, failures := f.fetchDetails(ctx, repo, refs, activity)
		stats.APICalls += calls
		stats.DetailFailures = failures
	} else {
		f.logger.WithField("repo", repo.FullName()).Warn("no commits found")
	}

	stats.Duration = f.now().Sub(start)
	out := &models.ActivityFile{
		FetchTimeSeconds: stats.Duration.Seconds(),
		APICallsMade:     stats.APICalls,
		Data:             activity,
	}
	if err := f.write(f.FinalPath(repo.Name), out); err != nil {
		return out, stats, err
	}

	f.logger.WithFields(logrus.Fields{
		"repo":            repo.FullName(),
		"commits":         stats.Commits,
		"api_calls":       stats.APICalls,
		"detail_failures": stats.DetailFailures,
	}).Info("commit activity fetched")
	return out, stats, fetchErr
}

// fetchDetails runs the bounded fan-out. Results are merged by key so
// completion order does not matter; a failed lookup is logged and skipped.
func (f *Fetcher) fetchDetails(ctx context.Context, repo models.Repo, refs []commitRef, activity models.CommitActivity) (int, int) {
	limit := f.DetailConcurrency
	if limit <= 0 {
		limit = 10
	}
	sem := semaphore.NewWeighted(int64(limit))
	var mu sync.Mutex
	var calls, failures int64

	g := new(errgroup.Group)
	for _, ref := range refs {
		ref := ref
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			atomic.AddInt64(&calls, 1)
			exts, err := f.details.FetchCommitExtensions(ctx, repo, ref.sha)
			if err != nil {
				atomic.AddInt64(&failures, 1)
				f.logger.WithError(err).WithField("sha", ref.sha).Warn("failed to fetch commit details")
				return nil
			}
			mu.Lock()
			for _, ext := range exts {
				activity.AddExtension(ref.year, ref.month, ref.committer, ext)
			}
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return int(calls), int(failures)
}

// ListOrgRepos pages through an organization's repositories and writes
// OutDir/<foundation>/<org>_repos.json.
func ListOrgRepos(ctx context.Context, client *GraphQLClient, org, outDir string, foundation models.Foundation, logger logrus.FieldLogger) ([]models.OrgRepo, error) {
	partial := filepath.Join(outDir, string(foundation), "partial", org+"_repos_partial.json")
	start := time.Now()

	pager := NewPagedFetcher(func(ctx context.Context, cursor string) (Page[models.OrgRepo], error) {
		return client.OrgReposPage(ctx, org, cursor)
	}, logger)
	pager.Snapshot = func(items []models.OrgRepo, apiCalls int) error {
		return writeJSON(partial, map[string]interface{}{
			"fetch_time_seconds": time.Since(start).Seconds(),
			"api_calls_made":     apiCalls,
			"repos":              items,
		})
	}

	result, err := pager.Run(ctx)
	repos := result.Items
	if repos == nil {
		repos = []models.OrgRepo{}
	}
	if werr := writeJSON(filepath.Join(outDir, string(foundation), org+"_repos.json"), repos); werr != nil && err == nil {
		err = werr
	}
	return repos, err
}

// FinalPath is where the finished activity file for a repository lives.
func (f *Fetcher) FinalPath(repoName string) string {
	return ActivityPath(f.outDir, f.foundation, repoName)
}

// ActivityPath is the activity file location under an output directory.
func ActivityPath(outDir string, foundation models.Foundation, repoName string) string {
	return filepath.Join(outDir, string(foundation), "github_data_"+repoName+".json")
}

func (f *Fetcher) partialPath(repo models.Repo) string {
	return filepath.Join(f.outDir, string(f.foundation), "partial", "github_data_partial_"+repo.Name+".json")
}

func (f *Fetcher) write(path string, v *models.ActivityFile) error {
	return writeJSON(path, v)
}

// LoadActivityFile reads an activity file written by FetchActivity.
func LoadActivityFile(path string) (*models.ActivityFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file models.ActivityFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &file, nil
}

func writeJSON(path string, v interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
