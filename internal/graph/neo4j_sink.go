package graph

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/rohankatakam/osspulse/internal/errors"
	"github.com/sirupsen/logrus"
)

// DefaultEdgeBatchSize bounds the rows sent per UNWIND statement.
const DefaultEdgeBatchSize = 1000

// Neo4jSink persists Sankey graphs as
// (:Committer)-[:TOUCHED {date, value}]->(:Extension).
type Neo4jSink struct {
	driver    neo4j.DriverWithContext
	database  string
	batchSize int
	logger    logrus.FieldLogger
}

// NewNeo4jSink connects and verifies connectivity.
func NewNeo4jSink(ctx context.Context, uri, username, password, database string, logger logrus.FieldLogger) (*Neo4jSink, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, errors.DatabaseError(err, "create neo4j driver")
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, errors.DatabaseError(err, "connect to neo4j")
	}
	return &Neo4jSink{
		driver:    driver,
		database:  database,
		batchSize: DefaultEdgeBatchSize,
		logger:    logger.WithField("component", "neo4j_sink"),
	}, nil
}

// Close closes the driver
func (s *Neo4jSink) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

const touchedQuery = `
	UNWIND $rows AS row
	MERGE (c:Committer {name: row.committer, project: $project})
	MERGE (e:Extension {name: row.extension})
	MERGE (c)-[r:TOUCHED {date: row.date}]->(e)
	SET r.value = row.value
`

// Write merges every link of g under project. Re-writing the same graph
// is idempotent.
func (s *Neo4jSink) Write(ctx context.Context, project string, g *Sankey) error {
	rows := sinkRows(g)
	for i := 0; i < len(rows); i += s.batchSize {
		end := i + s.batchSize
		if end > len(rows) {
			end = len(rows)
		}
		_, err := neo4j.ExecuteQuery(ctx, s.driver, touchedQuery,
			map[string]any{"rows": rows[i:end], "project": project},
			neo4j.EagerResultTransformer,
			neo4j.ExecuteQueryWithDatabase(s.database))
		if err != nil {
			return errors.DatabaseErrorf(err, "write sankey batch %d-%d for %s", i, end, project)
		}
	}
	s.logger.WithFields(logrus.Fields{"project": project, "links": len(rows)}).Info("sankey graph written")
	return nil
}

// sinkRows resolves link indices back to node names.
func sinkRows(g *Sankey) []map[string]any {
	rows := make([]map[string]any, 0, len(g.Links))
	for _, l := range g.Links {
		if l.Source < 0 || l.Source >= len(g.Nodes) || l.Target < 0 || l.Target >= len(g.Nodes) {
			continue
		}
		rows = append(rows, map[string]any{
			"committer": g.Nodes[l.Source].Name,
			"extension": g.Nodes[l.Target].Name,
			"date":      l.Date,
			"value":     l.Value,
		})
	}
	return rows
}
