package ingestion

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rohankatakam/osspulse/internal/errors"
	"github.com/rohankatakam/osspulse/internal/models"
	"github.com/rohankatakam/osspulse/internal/months"
	"github.com/rohankatakam/osspulse/internal/storage"
	"github.com/sirupsen/logrus"
)

// UnknownProject is stored when neither the caller nor the table names a
// project. It is already in normalized form so reads can resolve it.
const UnknownProject = "unknownproject"

// Ingester turns miner CSVs into month-bucketed link documents.
type Ingester struct {
	upserter   *storage.Upserter
	foundation models.Foundation
	archiveDir string
	logger     logrus.FieldLogger
	now        func() time.Time
}

// NewIngester creates an ingester writing through upserter. Raw files are
// moved under archiveDir after a successful ingest; an empty archiveDir
// leaves them in place.
func NewIngester(upserter *storage.Upserter, foundation models.Foundation, archiveDir string, logger logrus.FieldLogger) *Ingester {
	return &Ingester{
		upserter:   upserter,
		foundation: foundation,
		archiveDir: archiveDir,
		logger:     logger.WithField("component", "ingestion"),
		now:        time.Now,
	}
}

// CSVResult describes one ingested table
type CSVResult struct {
	Path        string
	Kind        RecordKind
	Family      models.Family
	Collection  string
	ProjectID   string
	ProjectName string
	Earliest    time.Time
	Rows        int
	Dropped     int
	Months      map[int][]models.LinkEntry
	Warnings    []string
}

// table is a CSV with case-insensitive column lookup.
type table struct {
	header  []string
	columns map[string]int
	rows    [][]string
}

func readTable(path string) (*table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.FileSystemErrorf(err, "open %s", path)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err == io.EOF {
		return nil, errors.MalformedInputf("%s: empty file", path)
	}
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeMalformedInput, errors.SeverityMedium, "%s: read header", path)
	}

	t := &table{header: header, columns: make(map[string]int, len(header))}
	for i, h := range header {
		name := normalizeHeader(h)
		if _, dup := t.columns[name]; !dup {
			t.columns[name] = i
		}
	}
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrorTypeMalformedInput, errors.SeverityMedium, "%s: read row", path)
		}
		t.rows = append(t.rows, row)
	}
	return t, nil
}

func (t *table) get(row []string, column string) string {
	i, ok := t.columns[column]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// first returns the first non-empty column value in order.
func (t *table) first(row []string, columns ...string) string {
	for _, c := range columns {
		if v := t.get(row, c); v != "" {
			return v
		}
	}
	return ""
}

// BucketCSV reads and classifies one table and groups its rows by month
// index. It does not write anything.
func (in *Ingester) BucketCSV(path, projectID, projectName string) (*CSVResult, error) {
	t, err := readTable(path)
	if err != nil {
		return nil, err
	}
	if len(t.rows) == 0 {
		return nil, errors.MalformedInputf("%s: no data rows", path)
	}

	class := Classify(t.header)
	res := &CSVResult{
		Path:       path,
		Kind:       class.Kind,
		Family:     class.Family,
		Collection: in.foundation.Collection(class.Family),
		Rows:       len(t.rows),
		Months:     make(map[int][]models.LinkEntry),
	}
	log := in.logger.WithField("file", filepath.Base(path))
	if class.Defaulted {
		msg := fmt.Sprintf("%s: no commit or issue headers, treating as commit data", filepath.Base(path))
		log.WithField("header", t.header).Warn("could not determine record type, defaulting to commit")
		res.Warnings = append(res.Warnings, msg)
	}

	res.ProjectID = models.NormalizeProjectID(projectID)
	if res.ProjectID == "" {
		res.ProjectID = models.NormalizeProjectID(t.first(t.rows[0], "project", "repo_name"))
	}
	if res.ProjectID == "" {
		res.ProjectID = UnknownProject
	}
	res.ProjectName = projectName
	if res.ProjectName == "" {
		res.ProjectName = models.ProjectNameFromID(res.ProjectID)
	}

	parsed := make([]time.Time, len(t.rows))
	valid := make([]bool, len(t.rows))
	var stamps []time.Time
	for i, row := range t.rows {
		ts, ok := months.Parse(t.get(row, class.DateField), class.Layouts)
		if !ok {
			res.Dropped++
			continue
		}
		parsed[i], valid[i] = ts, true
		stamps = append(stamps, ts)
	}
	if res.Dropped > 0 {
		log.WithFields(logrus.Fields{
			"dropped":    res.Dropped,
			"date_field": class.DateField,
		}).Warn("dropped rows with missing or unparseable dates")
	}

	earliest, ok := months.Earliest(stamps)
	if !ok {
		return nil, errors.MalformedInputf("%s: no valid %s timestamps in %q", path, class.Kind, class.DateField)
	}
	res.Earliest = earliest

	for i, row := range t.rows {
		if !valid[i] {
			continue
		}
		idx := months.Index(earliest, parsed[i])
		res.Months[idx] = append(res.Months[idx], models.LinkEntry{
			HumanDateTime: parsed[i].Format(models.HumanTimeLayout),
			Link:          t.first(row, "commit_url", "issue_url"),
			Author:        models.NormalizeAuthorName(t.first(row, "name", "user_name", "user_login")),
		})
	}
	return res, nil
}

// IngestCSV buckets one table and upserts it into its family collection.
func (in *Ingester) IngestCSV(ctx context.Context, path, projectID, projectName string) (*CSVResult, error) {
	res, err := in.BucketCSV(path, projectID, projectName)
	if err != nil {
		return nil, err
	}
	if _, err := in.upserter.UpsertLinks(ctx, res.Collection, res.ProjectID, res.ProjectName, res.Months); err != nil {
		return res, err
	}

	in.logger.WithFields(logrus.Fields{
		"file":       filepath.Base(path),
		"kind":       res.Kind,
		"project_id": res.ProjectID,
		"rows":       res.Rows,
		"dropped":    res.Dropped,
		"months":     len(res.Months),
	}).Info("csv ingested")
	return res, nil
}
