package storage

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rohankatakam/osspulse/internal/errors"
	"github.com/rohankatakam/osspulse/internal/models"
	"github.com/sirupsen/logrus"
)

// PostgresStore implements storage using PostgreSQL JSONB documents
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger logrus.FieldLogger
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS month_documents (
	collection   TEXT NOT NULL,
	project_id   TEXT NOT NULL,
	project_name TEXT NOT NULL,
	months       JSONB NOT NULL DEFAULT '{}'::jsonb,
	last_fetched TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (collection, project_id)
);

CREATE TABLE IF NOT EXISTS projects (
	collection TEXT NOT NULL,
	project_id TEXT NOT NULL,
	body       JSONB NOT NULL,
	PRIMARY KEY (collection, project_id)
);
`

// NewPostgresStore creates a new PostgreSQL storage
func NewPostgresStore(ctx context.Context, dsn string, logger logrus.FieldLogger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.DatabaseError(err, "create postgres pool")
	}

	// Verify connectivity (fail fast on startup)
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.DatabaseError(err, "connect to postgres")
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, errors.DatabaseError(err, "init schema")
	}

	log := logger.WithField("component", "postgres")
	log.Info("postgres store connected")

	return &PostgresStore{
		pool:   pool,
		logger: log,
	}, nil
}

// Close closes the PostgreSQL connection pool
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// UpsertDocument is a single INSERT .. ON CONFLICT statement in both modes;
// merge concatenates the stored and incoming months with jsonb ||.
func (s *PostgresStore) UpsertDocument(ctx context.Context, collection string, doc *models.MonthDocument, mode UpsertMode) error {
	months, err := encodeMonths(doc.Months)
	if err != nil {
		return errors.InternalErrorf("encode months: %v", err)
	}

	monthsExpr := "EXCLUDED.months"
	if mode == ModeMerge {
		monthsExpr = "month_documents.months || EXCLUDED.months"
	}

	query := `
		INSERT INTO month_documents (collection, project_id, project_name, months, last_fetched)
		VALUES ($1, $2, $3, $4::jsonb, $5)
		ON CONFLICT (collection, project_id) DO UPDATE SET
			project_name = EXCLUDED.project_name,
			months = ` + monthsExpr + `,
			last_fetched = EXCLUDED.last_fetched
	`
	if _, err := s.pool.Exec(ctx, query, collection, doc.ProjectID, doc.ProjectName, string(months), doc.LastFetched); err != nil {
		return errors.DatabaseErrorf(err, "upsert %s/%s", collection, doc.ProjectID)
	}
	return nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, collection, projectID string) (*models.MonthDocument, error) {
	var row documentRow
	query := `SELECT project_id, project_name, months, last_fetched FROM month_documents WHERE collection = $1 AND project_id = $2`

	err := s.pool.QueryRow(ctx, query, collection, projectID).
		Scan(&row.ProjectID, &row.ProjectName, &row.Months, &row.LastFetched)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.DatabaseErrorf(err, "get %s/%s", collection, projectID)
	}
	return row.toDocument()
}

func (s *PostgresStore) ListDocumentIDs(ctx context.Context, collection string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT project_id FROM month_documents WHERE collection = $1 ORDER BY project_id`, collection)
	if err != nil {
		return nil, errors.DatabaseErrorf(err, "list %s", collection)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, errors.DatabaseErrorf(err, "list %s", collection)
	}
	return ids, nil
}

// Project operations

func (s *PostgresStore) SaveProject(ctx context.Context, collection string, project *models.Project) error {
	body, err := json.Marshal(project)
	if err != nil {
		return errors.InternalErrorf("encode project: %v", err)
	}
	query := `
		INSERT INTO projects (collection, project_id, body) VALUES ($1, $2, $3::jsonb)
		ON CONFLICT (collection, project_id) DO UPDATE SET body = EXCLUDED.body
	`
	if _, err := s.pool.Exec(ctx, query, collection, project.ProjectID, string(body)); err != nil {
		return errors.DatabaseErrorf(err, "save project %s", project.ProjectID)
	}
	return nil
}

func (s *PostgresStore) GetProject(ctx context.Context, collection, projectID string) (*models.Project, error) {
	var body []byte
	err := s.pool.QueryRow(ctx, `SELECT body FROM projects WHERE collection = $1 AND project_id = $2`, collection, projectID).Scan(&body)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.DatabaseErrorf(err, "get project %s", projectID)
	}
	var p models.Project
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, errors.DatabaseErrorf(err, "decode project %s", projectID)
	}
	return &p, nil
}

func (s *PostgresStore) ListProjects(ctx context.Context, collection string) ([]*models.Project, error) {
	rows, err := s.pool.Query(ctx, `SELECT body FROM projects WHERE collection = $1 ORDER BY project_id`, collection)
	if err != nil {
		return nil, errors.DatabaseErrorf(err, "list projects in %s", collection)
	}
	defer rows.Close()

	out := []*models.Project{}
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, errors.DatabaseErrorf(err, "scan project row")
		}
		var p models.Project
		if err := json.Unmarshal(body, &p); err != nil {
			s.logger.WithError(err).Warn("skipping undecodable project row")
			continue
		}
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.DatabaseErrorf(err, "list projects in %s", collection)
	}
	return out, nil
}

// Repositories share the projects table under RepositoryCollection.
func (s *PostgresStore) SaveRepository(ctx context.Context, repo *models.OrgRepo) error {
	body, err := json.Marshal(repo)
	if err != nil {
		return errors.InternalErrorf("encode repository: %v", err)
	}
	query := `
		INSERT INTO projects (collection, project_id, body) VALUES ($1, $2, $3::jsonb)
		ON CONFLICT (collection, project_id) DO UPDATE SET body = EXCLUDED.body
	`
	if _, err := s.pool.Exec(ctx, query, models.RepositoryCollection, repo.Name, string(body)); err != nil {
		return errors.DatabaseErrorf(err, "save repository %s", repo.Name)
	}
	return nil
}

func (s *PostgresStore) ListRepositories(ctx context.Context) ([]*models.OrgRepo, error) {
	rows, err := s.pool.Query(ctx, `SELECT body FROM projects WHERE collection = $1 ORDER BY project_id`, models.RepositoryCollection)
	if err != nil {
		return nil, errors.DatabaseErrorf(err, "list repositories")
	}
	defer rows.Close()

	out := []*models.OrgRepo{}
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, errors.DatabaseErrorf(err, "scan repository row")
		}
		var r models.OrgRepo
		if err := json.Unmarshal(body, &r); err != nil {
			s.logger.WithError(err).Warn("skipping undecodable repository row")
			continue
		}
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.DatabaseErrorf(err, "list repositories")
	}
	return out, nil
}
