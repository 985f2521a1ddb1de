package storage

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/rohankatakam/osspulse/internal/errors"
	"github.com/rohankatakam/osspulse/internal/models"
	"github.com/sirupsen/logrus"
)

// Upserter writes canonical month documents. It stamps last_fetched and
// applies the configured replace or merge mode.
type Upserter struct {
	store  Store
	mode   UpsertMode
	logger logrus.FieldLogger
	now    func() time.Time
}

// NewUpserter creates an upserter over store
func NewUpserter(store Store, mode UpsertMode, logger logrus.FieldLogger) *Upserter {
	if mode == "" {
		mode = ModeReplace
	}
	return &Upserter{
		store:  store,
		mode:   mode,
		logger: logger.WithField("component", "upserter"),
		now:    time.Now,
	}
}

// Mode reports the configured upsert mode
func (u *Upserter) Mode() UpsertMode {
	return u.mode
}

// Upsert stores months for projectID in collection. Callers pass the full
// dataset in replace mode.
func (u *Upserter) Upsert(ctx context.Context, collection, projectID, projectName string, months map[string]json.RawMessage) (*models.MonthDocument, error) {
	if projectID == "" {
		return nil, errors.MalformedInputf("empty project_id for %s", collection)
	}
	doc := &models.MonthDocument{
		ProjectID:   projectID,
		ProjectName: projectName,
		Months:      months,
		LastFetched: u.now().UTC().Format(models.HumanTimeLayout),
	}
	if err := u.store.UpsertDocument(ctx, collection, doc, u.mode); err != nil {
		return nil, err
	}
	u.logger.WithFields(logrus.Fields{
		"collection": collection,
		"project_id": projectID,
		"months":     len(months),
		"mode":       u.mode,
	}).Info("document upserted")
	return doc, nil
}

// UpsertLinks encodes link buckets keyed by month index and stores them.
func (u *Upserter) UpsertLinks(ctx context.Context, collection, projectID, projectName string, buckets map[int][]models.LinkEntry) (*models.MonthDocument, error) {
	months, err := EncodeBuckets(buckets)
	if err != nil {
		return nil, err
	}
	return u.Upsert(ctx, collection, projectID, projectName, months)
}

// EncodeBuckets turns typed month buckets into the stored months map.
func EncodeBuckets[T any](buckets map[int]T) (map[string]json.RawMessage, error) {
	months := make(map[string]json.RawMessage, len(buckets))
	for month, v := range buckets {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, errors.InternalErrorf("encode month %d: %v", month, err)
		}
		months[strconv.Itoa(month)] = raw
	}
	return months, nil
}

// UpsertRepositories stores an organization listing by repository name.
// Repositories absent from repos are left in place.
func (u *Upserter) UpsertRepositories(ctx context.Context, repos []models.OrgRepo) (int, error) {
	for i := range repos {
		if repos[i].Name == "" {
			return i, errors.MalformedInputf("repository with url %q has no name", repos[i].URL)
		}
		if err := u.store.SaveRepository(ctx, &repos[i]); err != nil {
			return i, err
		}
	}
	u.logger.WithFields(logrus.Fields{
		"collection":   models.RepositoryCollection,
		"repositories": len(repos),
	}).Info("repositories upserted")
	return len(repos), nil
}

// LookupMonth returns one month of a document, with the user-facing
// not-found messages for a missing project or month.
func LookupMonth(ctx context.Context, store Store, collection, rawProjectID string, month int) (*models.MonthSlice, error) {
	projectID := models.NormalizeProjectID(rawProjectID)
	doc, err := store.GetDocument(ctx, collection, projectID)
	if err != nil {
		if errors.GetType(err) == errors.ErrorTypeNotFound {
			return nil, errors.NotFoundf("Project '%s' not found.", rawProjectID)
		}
		return nil, err
	}
	key := strconv.Itoa(month)
	data, ok := doc.Months[key]
	if !ok {
		return nil, errors.NotFoundf("Month '%d' data not found for project '%s'.", month, rawProjectID)
	}
	return &models.MonthSlice{
		ProjectID:   doc.ProjectID,
		ProjectName: doc.ProjectName,
		Month:       month,
		Data:        data,
	}, nil
}
