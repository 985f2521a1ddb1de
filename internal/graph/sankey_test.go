package graph

import (
	"context"
	"os"
	"testing"

	"github.com/rohankatakam/osspulse/internal/logging"
	"github.com/rohankatakam/osspulse/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func activity(entries ...func(models.CommitActivity)) models.CommitActivity {
	a := models.CommitActivity{}
	for _, e := range entries {
		e(a)
	}
	return a
}

func commits(year, month, who string, n int, exts ...string) func(models.CommitActivity) {
	return func(a models.CommitActivity) {
		for i := 0; i < n; i++ {
			a.Record(year, month, who)
		}
		for _, e := range exts {
			a.AddExtension(year, month, who, e)
		}
	}
}

func TestBuildSankeyEvenSplit(t *testing.T) {
	g := BuildSankey(activity(commits("2016", "March", "Alice", 10, "py", "js")))

	assert.Equal(t, []Node{{Name: "Alice"}, {Name: "js"}, {Name: "py"}}, g.Nodes)
	assert.Equal(t, []Link{
		{Source: 0, Target: 1, Value: 5, Date: "2016-March"},
		{Source: 0, Target: 2, Value: 5, Date: "2016-March"},
	}, g.Links)
	assert.Equal(t, []string{"2016-March"}, g.Dates)
}

func TestBuildSankeyDeterministicOrder(t *testing.T) {
	a := activity(
		commits("2017", "January", "Bob", 3, "go"),
		commits("2016", "December", "Carol", 2, "go", "md"),
		commits("2016", "February", "Bob", 1, "md"),
		commits("2016", "February", "Alice", 4),
	)

	g := BuildSankey(a)
	assert.Equal(t, []string{"2016-February", "2016-December", "2017-January"}, g.Dates)
	assert.Equal(t, []Node{{Name: "Alice"}, {Name: "Bob"}, {Name: "md"}, {Name: "Carol"}, {Name: "go"}}, g.Nodes)

	// Alice touched no extensions: node but no link.
	require.Len(t, g.Links, 4)
	assert.Equal(t, Link{Source: 1, Target: 2, Value: 1, Date: "2016-February"}, g.Links[0])
	assert.Equal(t, Link{Source: 3, Target: 4, Value: 1, Date: "2016-December"}, g.Links[1])
	assert.Equal(t, Link{Source: 3, Target: 2, Value: 1, Date: "2016-December"}, g.Links[2])
	assert.Equal(t, Link{Source: 1, Target: 4, Value: 3, Date: "2017-January"}, g.Links[3])

	for i := 0; i < 5; i++ {
		assert.Equal(t, g, BuildSankey(a))
	}
}

func TestBuildSankeyNodesUnique(t *testing.T) {
	g := BuildSankey(activity(
		commits("2020", "May", "dev", 2, "go", "dev"),
		commits("2020", "June", "dev", 1, "go"),
	))
	seen := map[string]bool{}
	for _, n := range g.Nodes {
		assert.False(t, seen[n.Name], "duplicate node %q", n.Name)
		seen[n.Name] = true
	}
	for _, l := range g.Links {
		assert.Greater(t, l.Value, 0.0)
	}
}

func TestBuildSankeyEmpty(t *testing.T) {
	g := BuildSankey(nil)
	assert.Empty(t, g.Nodes)
	assert.Empty(t, g.Links)
	assert.NotNil(t, g.Dates)
}

func TestSinkRows(t *testing.T) {
	g := BuildSankey(activity(commits("2016", "March", "Alice", 10, "py", "js")))
	g.Links = append(g.Links, Link{Source: 0, Target: 99})

	rows := sinkRows(g)
	require.Len(t, rows, 2)
	assert.Equal(t, "Alice", rows[0]["committer"])
	assert.Equal(t, "js", rows[0]["extension"])
	assert.Equal(t, 5.0, rows[0]["value"])
	assert.Equal(t, "2016-March", rows[0]["date"])
}

func TestNeo4jSinkWrite(t *testing.T) {
	uri := os.Getenv("NEO4J_URI")
	if uri == "" {
		t.Skip("NEO4J_URI not set")
	}
	ctx := context.Background()
	sink, err := NewNeo4jSink(ctx, uri, os.Getenv("NEO4J_USER"), os.Getenv("NEO4J_PASSWORD"), "neo4j", logging.Discard())
	require.NoError(t, err)
	defer sink.Close(ctx)

	g := BuildSankey(activity(commits("2016", "March", "Alice", 10, "py", "js")))
	require.NoError(t, sink.Write(ctx, "pulse-test", g))
	require.NoError(t, sink.Write(ctx, "pulse-test", g))
}
