package export

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/parquet-go/parquet-go"
	"github.com/rohankatakam/osspulse/internal/errors"
	"github.com/rohankatakam/osspulse/internal/logging"
	"github.com/rohankatakam/osspulse/internal/models"
	"github.com/rohankatakam/osspulse/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readRows(t *testing.T, path string) []LinkRow {
	t.Helper()
	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	reader := parquet.NewGenericReader[LinkRow](file)
	defer reader.Close()
	rows := make([]LinkRow, reader.NumRows())
	n, err := reader.Read(rows)
	if err != nil && err != io.EOF {
		require.NoError(t, err)
	}
	return rows[:n]
}

func TestLinkRowSchema(t *testing.T) {
	schema := parquet.SchemaOf(new(LinkRow))
	for _, col := range []string{"project_id", "project_name", "family", "month", "human_date_time", "link", "author"} {
		_, ok := schema.Lookup(col)
		assert.True(t, ok, "column %s", col)
	}
}

func TestExportLinks(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	up := storage.NewUpserter(store, storage.ModeReplace, logging.Discard())
	coll := models.FoundationApache.Collection(models.FamilyCommitLinks)

	_, err := up.Upsert(ctx, coll, "kafka", "Kafka", map[string]json.RawMessage{
		"10": json.RawMessage(`[{"human_date_time":"2020-03-01","link":"https://x/c3","dealiased_author_full_name":"Carol"}]`),
		"2": json.RawMessage(`[
			{"human_date_time":"2019-05-01","link":"https://x/c1","dealiased_author_full_name":"Alice"},
			{"human_date_time":"2019-05-02","link":"https://x/c2","dealiased_author_full_name":"Bob"}
		]`),
	})
	require.NoError(t, err)
	_, err = up.Upsert(ctx, coll, "zookeeper", "ZooKeeper", map[string]json.RawMessage{"1": json.RawMessage(`[]`)})
	require.NoError(t, err)

	exp := NewExporter(store, logging.Discard())
	out := filepath.Join(t.TempDir(), "links.parquet")

	n, err := exp.ExportLinks(ctx, models.FoundationApache, models.FamilyCommitLinks, "Kafka", out)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	rows := readRows(t, out)
	require.Len(t, rows, 3)
	assert.Equal(t, LinkRow{
		ProjectID: "kafka", ProjectName: "Kafka", Family: "commit_links", Month: 2,
		HumanDateTime: "2019-05-01", Link: "https://x/c1", Author: "Alice",
	}, rows[0])
	assert.Equal(t, int32(10), rows[2].Month)

	// every project
	n, err = exp.ExportLinks(ctx, models.FoundationApache, models.FamilyCommitLinks, "", out)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestExportLinksErrors(t *testing.T) {
	ctx := context.Background()
	exp := NewExporter(storage.NewMemoryStore(), logging.Discard())
	out := filepath.Join(t.TempDir(), "x.parquet")

	_, err := exp.ExportLinks(ctx, models.FoundationApache, models.FamilyTechNet, "kafka", out)
	assert.Equal(t, errors.ErrorTypeMalformedInput, errors.GetType(err))

	_, err = exp.ExportLinks(ctx, models.FoundationApache, models.FamilyIssueLinks, "ghost", out)
	assert.Equal(t, errors.ErrorTypeNotFound, errors.GetType(err))
}

func TestLinkRowsRejectsBadMonths(t *testing.T) {
	doc := &models.MonthDocument{ProjectID: "p", Months: map[string]json.RawMessage{"x": json.RawMessage(`[]`)}}
	_, err := LinkRows(doc, models.FamilyCommitLinks)
	assert.Error(t, err)

	doc = &models.MonthDocument{ProjectID: "p", Months: map[string]json.RawMessage{"1": json.RawMessage(`{"a":1}`)}}
	_, err = LinkRows(doc, models.FamilyCommitLinks)
	assert.Error(t, err)
}
