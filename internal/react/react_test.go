package react

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/rohankatakam/osspulse/internal/errors"
	"github.com/rohankatakam/osspulse/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriority(t *testing.T) {
	tests := []struct {
		importance float64
		want       string
	}{
		{9, PriorityCritical},
		{5, PriorityCritical},
		{4, PriorityHigh},
		{3, PriorityHigh},
		{2, PriorityMedium},
		{1, PriorityMedium},
		{0, PriorityUnknown},
		{-2, PriorityUnknown},
		{4.5, PriorityUnknown},
		{2.5, PriorityUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Priority(tt.importance), "importance %v", tt.importance)
	}
}

func doi(s string) *string { return &s }

func TestFormat(t *testing.T) {
	raw := []RawItem{
		{Title: "low", Importance: 1},
		{Title: "first three", Importance: 3, Articles: []Article{{DOI: doi("10.1/abc")}, {}, {DOI: doi("")}}},
		{Title: "top", Importance: 5},
		{Title: "second three", Importance: 3},
		{Title: "none", Importance: 0},
	}

	got := Format(raw)
	require.Len(t, got, 5)
	titles := make([]string, len(got))
	for i, it := range got {
		titles[i] = it.Title
	}
	assert.Equal(t, []string{"top", "first three", "second three", "low", "none"}, titles)
	assert.Equal(t, PriorityCritical, got[0].Priority)
	assert.Equal(t, PriorityHigh, got[1].Priority)
	assert.Equal(t, PriorityMedium, got[3].Priority)
	assert.Equal(t, PriorityUnknown, got[4].Priority)
	// only a missing doi falls back to "#"
	assert.Equal(t, []Ref{{Text: "[REF]", Link: "10.1/abc"}, {Text: "[REF]", Link: "#"}, {Text: "[REF]", Link: ""}}, got[1].Refs)
	assert.Equal(t, []Ref{}, got[0].Refs)

	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].Importance, got[i].Importance)
	}
}

func TestDecodeRawItems(t *testing.T) {
	items, err := DecodeRawItems([]byte(`[{"ReACT_title":"A","Importance":4,"articles":[{"doi":"x"}]}]`))
	require.NoError(t, err)
	assert.Equal(t, []RawItem{{Title: "A", Importance: 4, Articles: []Article{{DOI: doi("x")}}}}, items)

	items, err = DecodeRawItems([]byte(`[{"ReACT_title":"C","articles":[{},{"doi":""}]}]`))
	require.NoError(t, err)
	assert.Equal(t, []Ref{{Text: "[REF]", Link: "#"}, {Text: "[REF]", Link: ""}}, Format(items)[0].Refs)

	items, err = DecodeRawItems([]byte(` {"ReACT_title":"B"} `))
	require.NoError(t, err)
	assert.Equal(t, "B", items[0].Title)
	assert.Equal(t, 0.0, items[0].Importance)

	items, err = DecodeRawItems([]byte("null"))
	require.NoError(t, err)
	assert.Empty(t, items)

	_, err = DecodeRawItems([]byte("not json"))
	assert.Error(t, err)
}

type fakeExtractor struct {
	months []int
	fail   int
}

func (f *fakeExtractor) Extract(ctx context.Context, reactSetPath, featureTablePath string, month int) ([]RawItem, error) {
	f.months = append(f.months, month)
	if f.fail != 0 && month == f.fail {
		return nil, errors.SourceUnavailablef("extractor crashed")
	}
	return []RawItem{
		{Title: fmt.Sprintf("m%d-low", month), Importance: 1},
		{Title: fmt.Sprintf("m%d-high", month), Importance: 6},
	}, nil
}

func pexTree(t *testing.T, table string) (reactSet, pexDir string) {
	t.Helper()
	root := t.TempDir()
	reactSet = filepath.Join(root, "ReACT-API", "react_extractor", "react_set.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(reactSet), 0755))
	require.NoError(t, os.WriteFile(reactSet, []byte(`{}`), 0644))

	pexDir = filepath.Join(root, "pex")
	require.NoError(t, os.MkdirAll(filepath.Join(pexDir, "net-caches"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(pexDir, "net-caches", "features.csv"), []byte(table), 0644))
	return reactSet, pexDir
}

const featureTable = `proj_name,month,num_commits
kafka,3,10
kafka,1,4
kafka,3.0,2
kafka,2,7
`

func TestReadFeatureTable(t *testing.T) {
	_, pex := pexTree(t, featureTable)
	path, err := LocateFeatureTable(pex)
	require.NoError(t, err)

	table, err := ReadFeatureTable(path)
	require.NoError(t, err)
	assert.Equal(t, 4, table.Rows)
	assert.Equal(t, []int{1, 2, 3}, table.Months)
}

func TestRunnerRunAll(t *testing.T) {
	reactSet, pex := pexTree(t, featureTable)
	fake := &fakeExtractor{}
	r := NewRunner(fake, reactSet, pex, logging.Discard())

	out, err := r.RunAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, fake.months)
	require.Len(t, out, 3)
	assert.Equal(t, "m2-high", out[2][0].Title)
	assert.Equal(t, PriorityCritical, out[2][0].Priority)
}

func TestRunnerRunAllFailure(t *testing.T) {
	reactSet, pex := pexTree(t, featureTable)
	r := NewRunner(&fakeExtractor{fail: 2}, reactSet, pex, logging.Discard())

	_, err := r.RunAll(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeSourceUnavailable, errors.GetType(err))
	assert.Contains(t, err.Error(), "month 2")
}

func TestRunnerRunLatestUsesRowCount(t *testing.T) {
	reactSet, pex := pexTree(t, featureTable)
	fake := &fakeExtractor{}
	r := NewRunner(fake, reactSet, pex, logging.Discard())

	items, err := r.RunLatest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{4}, fake.months)
	assert.Equal(t, "m4-high", items[0].Title)
}

func TestRunnerMissingInputs(t *testing.T) {
	_, pex := pexTree(t, featureTable)
	r := NewRunner(&fakeExtractor{}, filepath.Join(t.TempDir(), "nope.json"), pex, logging.Discard())
	_, err := r.RunLatest(context.Background())
	assert.Equal(t, errors.ErrorTypeFileSystem, errors.GetType(err))

	reactSet, _ := pexTree(t, featureTable)
	r = NewRunner(&fakeExtractor{}, reactSet, t.TempDir(), logging.Discard())
	_, err = r.RunAll(context.Background())
	assert.Equal(t, errors.ErrorTypeFileSystem, errors.GetType(err))
}

func TestExecExtractor(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs /bin/sh")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "extract.sh")
	body := "#!/bin/sh\n" +
		"echo '[{\"ReACT_title\":\"args\",\"Importance\":2,\"articles\":[{\"doi\":\"'\"$6\"'\"}]}]'\n"
	require.NoError(t, os.WriteFile(script, []byte(body), 0755))

	ex := NewExecExtractor([]string{"sh", script}, dir, logging.Discard())
	items, err := ex.Extract(context.Background(), "set.json", "features.csv", 7)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.NotNil(t, items[0].Articles[0].DOI)
	assert.Equal(t, "7", *items[0].Articles[0].DOI)

	failing := NewExecExtractor([]string{"sh", "-c", "echo boom >&2; exit 3"}, dir, logging.Discard())
	_, err = failing.Extract(context.Background(), "set.json", "features.csv", 1)
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeSourceUnavailable, errors.GetType(err))
	assert.Contains(t, err.Error(), "boom")

	_, err = NewExecExtractor(nil, dir, logging.Discard()).Extract(context.Background(), "a", "b", 1)
	assert.Equal(t, errors.ErrorTypeConfig, errors.GetType(err))
}
