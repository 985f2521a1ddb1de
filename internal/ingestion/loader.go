package ingestion

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/rohankatakam/osspulse/internal/errors"
	"github.com/rohankatakam/osspulse/internal/models"
	"github.com/rohankatakam/osspulse/internal/storage"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Loader copies precomputed family data from a RecordSource into the store.
type Loader struct {
	source     RecordSource
	store      storage.Store
	upserter   *storage.Upserter
	foundation models.Foundation
	logger     logrus.FieldLogger
}

func NewLoader(source RecordSource, store storage.Store, upserter *storage.Upserter, foundation models.Foundation, logger logrus.FieldLogger) *Loader {
	return &Loader{
		source:     source,
		store:      store,
		upserter:   upserter,
		foundation: foundation,
		logger:     logger.WithField("component", "loader"),
	}
}

// LoadResult summarizes one family load.
type LoadResult struct {
	Family   string        `json:"family"`
	Loaded   []string      `json:"loaded"`
	Skipped  []string      `json:"skipped,omitempty"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

// ErrorMessage returns the failure message, or "" on success
func (r *LoadResult) ErrorMessage() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// LoadProjectInfo stores every project description from the source. It
// must run before family loads, which resolve names from stored projects.
func (l *Loader) LoadProjectInfo(ctx context.Context) *LoadResult {
	start := time.Now()
	res := &LoadResult{Family: "project_info"}
	defer func() { res.Duration = time.Since(start) }()

	projects, err := l.source.ProjectInfos(ctx)
	if err != nil {
		res.Err = err
		return res
	}
	collection := l.foundation.ProjectCollection()
	for _, p := range projects {
		if p.ProjectID == "" {
			continue
		}
		if err := l.store.SaveProject(ctx, collection, p); err != nil {
			res.Err = err
			return res
		}
		res.Loaded = append(res.Loaded, p.ProjectID)
	}
	l.logger.WithField("projects", len(res.Loaded)).Info("project info loaded")
	return res
}

// LoadFamily upserts one document per project of family.
func (l *Loader) LoadFamily(ctx context.Context, family models.Family) *LoadResult {
	start := time.Now()
	res := &LoadResult{Family: string(family)}
	defer func() { res.Duration = time.Since(start) }()
	log := l.logger.WithField("family", family)

	ids, err := l.source.Projects(ctx, family)
	if err != nil {
		res.Err = err
		return res
	}

	collection := l.foundation.Collection(family)
	for _, id := range ids {
		project, err := l.store.GetProject(ctx, l.foundation.ProjectCollection(), id)
		if err != nil {
			if errors.GetType(err) != errors.ErrorTypeNotFound {
				res.Err = err
				return res
			}
			log.WithField("project_id", id).Warn("skipping project without project info")
			res.Skipped = append(res.Skipped, id)
			continue
		}

		records, err := l.source.Fetch(ctx, family, id)
		if err != nil {
			res.Err = err
			return res
		}
		months, err := l.assemble(family, id, records)
		if err != nil {
			res.Err = err
			return res
		}
		if _, err := l.upserter.Upsert(ctx, collection, project.ProjectID, project.ProjectName, months); err != nil {
			res.Err = err
			return res
		}
		res.Loaded = append(res.Loaded, project.ProjectID)
	}
	log.WithFields(logrus.Fields{"loaded": len(res.Loaded), "skipped": len(res.Skipped)}).Info("family loaded")
	return res
}

// assemble folds records into the months map. Link families collect
// entries per month and drop incomplete ones; other families keep the
// last record seen for a month.
func (l *Loader) assemble(family models.Family, projectID string, records []Record) (map[string]json.RawMessage, error) {
	if !IsLinkFamily(family) {
		buckets := make(map[int]json.RawMessage, len(records))
		for _, r := range records {
			buckets[r.Month] = r.Data
		}
		return storage.EncodeBuckets(buckets)
	}

	buckets := make(map[int][]models.LinkEntry)
	dropped := 0
	for _, r := range records {
		var entry models.LinkEntry
		if err := json.Unmarshal(r.Data, &entry); err != nil ||
			entry.HumanDateTime == "" || entry.Link == "" || entry.Author == "" {
			dropped++
			continue
		}
		buckets[r.Month] = append(buckets[r.Month], entry)
	}
	if dropped > 0 {
		l.logger.WithFields(logrus.Fields{
			"family":     family,
			"project_id": projectID,
			"dropped":    dropped,
		}).Warn("skipped link rows with missing fields")
	}
	return storage.EncodeBuckets(buckets)
}

// LoadAll loads project info, then every family concurrently. A failing
// family is reported in its result and does not stop the others.
func (l *Loader) LoadAll(ctx context.Context, families []models.Family) []*LoadResult {
	results := []*LoadResult{l.LoadProjectInfo(ctx)}
	if results[0].Err != nil {
		l.logger.WithError(results[0].Err).Error("project info load failed, family loads will skip unknown projects")
	}

	var mu sync.Mutex
	var g errgroup.Group
	for _, family := range families {
		family := family
		g.Go(func() error {
			res := l.LoadFamily(ctx, family)
			if res.Err != nil {
				l.logger.WithError(res.Err).WithField("family", family).Error("family load failed")
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	order := map[string]int{"project_info": -1}
	for i, f := range models.Families() {
		order[string(f)] = i
	}
	sort.SliceStable(results, func(i, j int) bool {
		return order[results[i].Family] < order[results[j].Family]
	})
	return results
}
