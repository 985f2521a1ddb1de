// Package export writes stored link families to Parquet files using
// github.com/parquet-go/parquet-go.
package export

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"strconv"

	"github.com/parquet-go/parquet-go"
	"github.com/rohankatakam/osspulse/internal/errors"
	"github.com/rohankatakam/osspulse/internal/models"
	"github.com/rohankatakam/osspulse/internal/storage"
	"github.com/sirupsen/logrus"
)

// LinkRow is one link entry flattened with its project and month.
type LinkRow struct {
	ProjectID     string `parquet:"project_id,snappy"`
	ProjectName   string `parquet:"project_name,snappy"`
	Family        string `parquet:"family,snappy,dict"`
	Month         int32  `parquet:"month,snappy"`
	HumanDateTime string `parquet:"human_date_time,snappy"`
	Link          string `parquet:"link,snappy"`
	Author        string `parquet:"author,snappy,dict"`
}

// LinkFamilies are the families that can be exported.
var LinkFamilies = []models.Family{
	models.FamilyCommitLinks,
	models.FamilyIssueLinks,
	models.FamilyEmailLinks,
}

func isLinkFamily(f models.Family) bool {
	for _, lf := range LinkFamilies {
		if lf == f {
			return true
		}
	}
	return false
}

// LinkRows flattens a link document, months ascending.
func LinkRows(doc *models.MonthDocument, family models.Family) ([]LinkRow, error) {
	months := make([]int, 0, len(doc.Months))
	for key := range doc.Months {
		m, err := strconv.Atoi(key)
		if err != nil {
			return nil, errors.MalformedInputf("month key %q of %s is not an integer", key, doc.ProjectID)
		}
		months = append(months, m)
	}
	sort.Ints(months)

	var rows []LinkRow
	for _, m := range months {
		var entries []models.LinkEntry
		if err := json.Unmarshal(doc.Months[strconv.Itoa(m)], &entries); err != nil {
			return nil, errors.MalformedInputf("month %d of %s is not a link list: %v", m, doc.ProjectID, err)
		}
		for _, e := range entries {
			rows = append(rows, LinkRow{
				ProjectID:     doc.ProjectID,
				ProjectName:   doc.ProjectName,
				Family:        string(family),
				Month:         int32(m),
				HumanDateTime: e.HumanDateTime,
				Link:          e.Link,
				Author:        e.Author,
			})
		}
	}
	return rows, nil
}

// WriteLinkRows writes rows to outputPath, replacing any existing file.
func WriteLinkRows(rows []LinkRow, outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return errors.FileSystemErrorf(err, "create %s", outputPath)
	}
	defer func() { _ = file.Close() }()

	writer := parquet.NewGenericWriter[LinkRow](file)
	if _, err := writer.Write(rows); err != nil {
		return errors.FileSystemErrorf(err, "write parquet rows to %s", outputPath)
	}
	if err := writer.Close(); err != nil {
		return errors.FileSystemErrorf(err, "finish parquet file %s", outputPath)
	}
	return nil
}

// Exporter reads link documents from a store.
type Exporter struct {
	store  storage.Store
	logger logrus.FieldLogger
}

func NewExporter(store storage.Store, logger logrus.FieldLogger) *Exporter {
	return &Exporter{store: store, logger: logger.WithField("component", "export")}
}

// ExportLinks writes one project's link family, or every project's when
// rawProjectID is empty. It returns the number of rows written.
func (e *Exporter) ExportLinks(ctx context.Context, foundation models.Foundation, family models.Family, rawProjectID, outputPath string) (int, error) {
	if !isLinkFamily(family) {
		return 0, errors.MalformedInputf("family %s has no link entries", family)
	}
	collection := foundation.Collection(family)

	var ids []string
	if rawProjectID != "" {
		ids = []string{models.NormalizeProjectID(rawProjectID)}
	} else {
		var err error
		if ids, err = e.store.ListDocumentIDs(ctx, collection); err != nil {
			return 0, err
		}
	}

	var rows []LinkRow
	for _, id := range ids {
		doc, err := e.store.GetDocument(ctx, collection, id)
		if errors.GetType(err) == errors.ErrorTypeNotFound {
			return 0, errors.NotFoundf("Project '%s' not found.", id)
		}
		if err != nil {
			return 0, err
		}
		docRows, err := LinkRows(doc, family)
		if err != nil {
			return 0, err
		}
		rows = append(rows, docRows...)
	}

	if err := WriteLinkRows(rows, outputPath); err != nil {
		return 0, err
	}
	e.logger.WithFields(logrus.Fields{
		"collection": collection,
		"projects":   len(ids),
		"rows":       len(rows),
		"path":       outputPath,
	}).Info("exported link rows")
	return len(rows), nil
}
