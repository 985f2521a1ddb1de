package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rohankatakam/osspulse/internal/errors"
	"github.com/rohankatakam/osspulse/internal/models"
	"github.com/sirupsen/logrus"
)

// SQLiteStore implements storage using SQLite (for local/development)
type SQLiteStore struct {
	db     *sqlx.DB
	logger logrus.FieldLogger
}

type documentRow struct {
	ProjectID   string `db:"project_id"`
	ProjectName string `db:"project_name"`
	Months      []byte `db:"months"`
	LastFetched string `db:"last_fetched"`
}

// NewSQLiteStore creates a new SQLite storage
func NewSQLiteStore(path string, logger logrus.FieldLogger) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Write transactions take the RESERVED lock up front so two merges of
	// the same key cannot interleave their read and write.
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=5000", path)
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, errors.DatabaseError(err, "connect to sqlite")
	}

	db.Exec("PRAGMA journal_mode = WAL")

	store := &SQLiteStore{
		db:     db,
		logger: logger.WithField("component", "sqlite"),
	}

	// Initialize schema
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS month_documents (
		collection TEXT NOT NULL,
		project_id TEXT NOT NULL,
		project_name TEXT NOT NULL,
		months TEXT NOT NULL,
		last_fetched TEXT,
		PRIMARY KEY (collection, project_id)
	);

	CREATE TABLE IF NOT EXISTS projects (
		collection TEXT NOT NULL,
		project_id TEXT NOT NULL,
		body TEXT NOT NULL,
		PRIMARY KEY (collection, project_id)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertDocument writes inside one immediate transaction
func (s *SQLiteStore) UpsertDocument(ctx context.Context, collection string, doc *models.MonthDocument, mode UpsertMode) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.DatabaseError(err, "begin transaction")
	}
	defer tx.Rollback()

	var existing *models.MonthDocument
	if mode == ModeMerge {
		var row documentRow
		err := tx.GetContext(ctx, &row,
			`SELECT project_id, project_name, months, last_fetched FROM month_documents WHERE collection = ? AND project_id = ?`,
			collection, doc.ProjectID)
		switch {
		case err == sql.ErrNoRows:
		case err != nil:
			return errors.DatabaseErrorf(err, "read %s/%s", collection, doc.ProjectID)
		default:
			if existing, err = row.toDocument(); err != nil {
				return errors.DatabaseErrorf(err, "decode %s/%s", collection, doc.ProjectID)
			}
		}
	}

	next := applyUpsert(existing, doc, mode)
	months, err := encodeMonths(next.Months)
	if err != nil {
		return errors.InternalErrorf("encode months: %v", err)
	}

	query := `
		INSERT INTO month_documents (collection, project_id, project_name, months, last_fetched)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (collection, project_id) DO UPDATE SET
			project_name = excluded.project_name,
			months = excluded.months,
			last_fetched = excluded.last_fetched
	`
	if _, err := tx.ExecContext(ctx, query, collection, next.ProjectID, next.ProjectName, string(months), next.LastFetched); err != nil {
		return errors.DatabaseErrorf(err, "upsert %s/%s", collection, doc.ProjectID)
	}

	return tx.Commit()
}

func (s *SQLiteStore) GetDocument(ctx context.Context, collection, projectID string) (*models.MonthDocument, error) {
	var row documentRow
	query := `SELECT project_id, project_name, months, last_fetched FROM month_documents WHERE collection = ? AND project_id = ?`

	err := s.db.GetContext(ctx, &row, query, collection, projectID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, errors.DatabaseErrorf(err, "get %s/%s", collection, projectID)
	}
	return row.toDocument()
}

func (s *SQLiteStore) ListDocumentIDs(ctx context.Context, collection string) ([]string, error) {
	ids := []string{}
	err := s.db.SelectContext(ctx, &ids,
		`SELECT project_id FROM month_documents WHERE collection = ? ORDER BY project_id`, collection)
	if err != nil {
		return nil, errors.DatabaseErrorf(err, "list %s", collection)
	}
	return ids, nil
}

// Project operations
func (s *SQLiteStore) SaveProject(ctx context.Context, collection string, project *models.Project) error {
	body, err := json.Marshal(project)
	if err != nil {
		return errors.InternalErrorf("encode project: %v", err)
	}
	query := `INSERT OR REPLACE INTO projects (collection, project_id, body) VALUES (?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, collection, project.ProjectID, string(body)); err != nil {
		return errors.DatabaseErrorf(err, "save project %s", project.ProjectID)
	}
	return nil
}

func (s *SQLiteStore) GetProject(ctx context.Context, collection, projectID string) (*models.Project, error) {
	var body string
	err := s.db.GetContext(ctx, &body, `SELECT body FROM projects WHERE collection = ? AND project_id = ?`, collection, projectID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, errors.DatabaseErrorf(err, "get project %s", projectID)
	}
	var p models.Project
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return nil, errors.DatabaseErrorf(err, "decode project %s", projectID)
	}
	return &p, nil
}

func (s *SQLiteStore) ListProjects(ctx context.Context, collection string) ([]*models.Project, error) {
	var bodies []string
	err := s.db.SelectContext(ctx, &bodies, `SELECT body FROM projects WHERE collection = ? ORDER BY project_id`, collection)
	if err != nil {
		return nil, errors.DatabaseErrorf(err, "list projects in %s", collection)
	}
	out := make([]*models.Project, 0, len(bodies))
	for _, body := range bodies {
		var p models.Project
		if err := json.Unmarshal([]byte(body), &p); err != nil {
			s.logger.WithError(err).Warn("skipping undecodable project row")
			continue
		}
		out = append(out, &p)
	}
	return out, nil
}

// Repositories share the projects table under RepositoryCollection.
func (s *SQLiteStore) SaveRepository(ctx context.Context, repo *models.OrgRepo) error {
	body, err := json.Marshal(repo)
	if err != nil {
		return errors.InternalErrorf("encode repository: %v", err)
	}
	query := `INSERT OR REPLACE INTO projects (collection, project_id, body) VALUES (?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, models.RepositoryCollection, repo.Name, string(body)); err != nil {
		return errors.DatabaseErrorf(err, "save repository %s", repo.Name)
	}
	return nil
}

func (s *SQLiteStore) ListRepositories(ctx context.Context) ([]*models.OrgRepo, error) {
	var bodies []string
	err := s.db.SelectContext(ctx, &bodies, `SELECT body FROM projects WHERE collection = ? ORDER BY project_id`, models.RepositoryCollection)
	if err != nil {
		return nil, errors.DatabaseErrorf(err, "list repositories")
	}
	out := make([]*models.OrgRepo, 0, len(bodies))
	for _, body := range bodies {
		var r models.OrgRepo
		if err := json.Unmarshal([]byte(body), &r); err != nil {
			s.logger.WithError(err).Warn("skipping undecodable repository row")
			continue
		}
		out = append(out, &r)
	}
	return out, nil
}

func (r documentRow) toDocument() (*models.MonthDocument, error) {
	months, err := decodeMonths(r.Months)
	if err != nil {
		return nil, err
	}
	return &models.MonthDocument{
		ProjectID:   r.ProjectID,
		ProjectName: r.ProjectName,
		Months:      months,
		LastFetched: r.LastFetched,
	}, nil
}
