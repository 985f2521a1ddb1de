package ingestion

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/rohankatakam/osspulse/internal/logging"
	"github.com/rohankatakam/osspulse/internal/models"
	"github.com/rohankatakam/osspulse/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLoader(source RecordSource, store storage.Store) *Loader {
	logger := logging.Discard()
	return NewLoader(source, store, storage.NewUpserter(store, storage.ModeReplace, logger), models.FoundationApache, logger)
}

func link(t *testing.T, when, url, author string) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(models.LinkEntry{HumanDateTime: when, Link: url, Author: author})
	require.NoError(t, err)
	return data
}

func TestLoaderMemorySource(t *testing.T) {
	ctx := context.Background()
	src := NewMemorySource()
	src.AddProject(&models.Project{ProjectID: "abdera", ProjectName: "Abdera", Status: "retired"})
	src.Add(models.FamilyTechNet, "Abdera",
		Record{Month: 1, Data: json.RawMessage(`[["Elias Torres","html",1]]`)},
		Record{Month: 2, Data: json.RawMessage(`[["James Snell","css",3]]`)},
	)
	src.Add(models.FamilyTechNet, "ghost", Record{Month: 1, Data: json.RawMessage(`[]`)})
	src.Add(models.FamilyCommitLinks, "abdera",
		Record{Month: 4, Data: link(t, "Mon Jan 04 10:00:00 2010", "https://x/1", "Elias")},
		Record{Month: 4, Data: link(t, "Mon Jan 04 11:00:00 2010", "", "Elias")},
		Record{Month: 5, Data: link(t, "Mon Feb 01 10:00:00 2010", "https://x/2", "James")},
	)

	store := storage.NewMemoryStore()
	results := newTestLoader(src, store).LoadAll(ctx, []models.Family{models.FamilyTechNet, models.FamilyCommitLinks})
	require.Len(t, results, 3)
	assert.Equal(t, "project_info", results[0].Family)
	assert.Equal(t, "commit_links", results[1].Family)
	assert.Equal(t, "tech_net", results[2].Family)

	tech := results[2]
	assert.NoError(t, tech.Err)
	assert.Equal(t, []string{"abdera"}, tech.Loaded)
	assert.Equal(t, []string{"ghost"}, tech.Skipped)

	doc, err := store.GetDocument(ctx, "tech_net", "abdera")
	require.NoError(t, err)
	assert.Equal(t, "Abdera", doc.ProjectName)
	assert.JSONEq(t, `[["James Snell","css",3]]`, string(doc.Months["2"]))

	links, err := store.GetDocument(ctx, "commit_links", "abdera")
	require.NoError(t, err)
	var month4 []models.LinkEntry
	require.NoError(t, json.Unmarshal(links.Months["4"], &month4))
	assert.Len(t, month4, 1, "entry without a link is dropped")
	assert.Contains(t, links.Months, "5")

	p, err := store.GetProject(ctx, "project_info", "abdera")
	require.NoError(t, err)
	assert.Equal(t, "retired", p.Status)
}

func TestLoaderFailingFamilyDoesNotStopOthers(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "new", "project_info", "new_about_data", "kafka.json"), `{"status":"graduated"}`)
	writeFile(t, filepath.Join(dir, "new", "project_info", "new_month_intervals", "kafka.json"), `{"1":"2011-08"}`)
	writeFile(t, filepath.Join(dir, "new", "commit_measure", "kafka_1.json"), `{"commits":3}`)

	store := storage.NewMemoryStore()
	src := NewFileSource(dir, logging.Discard())
	results := newTestLoader(src, store).LoadAll(ctx, []models.Family{models.FamilyCommitMeasure, models.FamilyTechNet})

	byFamily := map[string]*LoadResult{}
	for _, r := range results {
		byFamily[r.Family] = r
	}
	assert.Error(t, byFamily["tech_net"].Err, "tech_net directory is missing")
	assert.NotEmpty(t, byFamily["tech_net"].ErrorMessage())
	assert.NoError(t, byFamily["commit_measure"].Err)
	assert.Equal(t, []string{"kafka"}, byFamily["commit_measure"].Loaded)

	doc, err := store.GetDocument(ctx, "commit_measure", "kafka")
	require.NoError(t, err)
	assert.Equal(t, "Kafka", doc.ProjectName)
	assert.JSONEq(t, `{"commits":3}`, string(doc.Months["1"]))
}
