package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rohankatakam/osspulse/internal/errors"
	"github.com/rohankatakam/osspulse/internal/models"
	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

const projectBucketPrefix = "projects:"

// BoltStore keeps one bucket per collection in an embedded bbolt file.
// Every upsert is one Update transaction, which bbolt serializes.
type BoltStore struct {
	db     *bolt.DB
	logger logrus.FieldLogger
}

// NewBoltStore opens (or creates) the bbolt file at path
func NewBoltStore(path string, logger logrus.FieldLogger) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errors.DatabaseErrorf(err, "open bbolt file %s", path)
	}
	return &BoltStore{db: db, logger: logger.WithField("component", "bolt")}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) UpsertDocument(ctx context.Context, collection string, doc *models.MonthDocument, mode UpsertMode) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(collection))
		if err != nil {
			return err
		}

		var existing *models.MonthDocument
		if mode == ModeMerge {
			if data := bucket.Get([]byte(doc.ProjectID)); data != nil {
				existing = &models.MonthDocument{}
				if err := json.Unmarshal(data, existing); err != nil {
					return err
				}
			}
		}

		data, err := json.Marshal(applyUpsert(existing, doc, mode))
		if err != nil {
			return err
		}
		return bucket.Put([]byte(doc.ProjectID), data)
	})
	if err != nil {
		return errors.DatabaseErrorf(err, "upsert %s/%s", collection, doc.ProjectID)
	}
	return nil
}

func (s *BoltStore) GetDocument(ctx context.Context, collection, projectID string) (*models.MonthDocument, error) {
	var doc *models.MonthDocument
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(collection))
		if bucket == nil {
			return nil
		}
		data := bucket.Get([]byte(projectID))
		if data == nil {
			return nil
		}
		doc = &models.MonthDocument{}
		return json.Unmarshal(data, doc)
	})
	if err != nil {
		return nil, errors.DatabaseErrorf(err, "get %s/%s", collection, projectID)
	}
	if doc == nil {
		return nil, ErrNotFound
	}
	if doc.Months == nil {
		doc.Months = map[string]json.RawMessage{}
	}
	return doc, nil
}

func (s *BoltStore) ListDocumentIDs(ctx context.Context, collection string) ([]string, error) {
	ids := []string{}
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(collection))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, errors.DatabaseErrorf(err, "list %s", collection)
	}
	return ids, nil
}

func (s *BoltStore) SaveProject(ctx context.Context, collection string, project *models.Project) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(projectBucketPrefix + collection))
		if err != nil {
			return err
		}
		data, err := json.Marshal(project)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(project.ProjectID), data)
	})
	if err != nil {
		return errors.DatabaseErrorf(err, "save project %s", project.ProjectID)
	}
	return nil
}

func (s *BoltStore) GetProject(ctx context.Context, collection, projectID string) (*models.Project, error) {
	var p *models.Project
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(projectBucketPrefix + collection))
		if bucket == nil {
			return nil
		}
		data := bucket.Get([]byte(projectID))
		if data == nil {
			return nil
		}
		p = &models.Project{}
		return json.Unmarshal(data, p)
	})
	if err != nil {
		return nil, errors.DatabaseErrorf(err, "get project %s", projectID)
	}
	if p == nil {
		return nil, ErrNotFound
	}
	return p, nil
}

func (s *BoltStore) ListProjects(ctx context.Context, collection string) ([]*models.Project, error) {
	out := []*models.Project{}
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(projectBucketPrefix + collection))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			var p models.Project
			if err := json.Unmarshal(v, &p); err != nil {
				s.logger.WithError(err).WithField("project_id", string(k)).Warn("skipping undecodable project")
				return nil
			}
			out = append(out, &p)
			return nil
		})
	})
	if err != nil {
		return nil, errors.DatabaseErrorf(err, "list projects in %s", collection)
	}
	return out, nil
}

func (s *BoltStore) SaveRepository(ctx context.Context, repo *models.OrgRepo) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(models.RepositoryCollection))
		if err != nil {
			return err
		}
		data, err := json.Marshal(repo)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(repo.Name), data)
	})
	if err != nil {
		return errors.DatabaseErrorf(err, "save repository %s", repo.Name)
	}
	return nil
}

// ListRepositories returns repositories in key (name) order.
func (s *BoltStore) ListRepositories(ctx context.Context) ([]*models.OrgRepo, error) {
	out := []*models.OrgRepo{}
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(models.RepositoryCollection))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			var r models.OrgRepo
			if err := json.Unmarshal(v, &r); err != nil {
				s.logger.WithError(err).WithField("name", string(k)).Warn("skipping undecodable repository")
				return nil
			}
			out = append(out, &r)
			return nil
		})
	})
	if err != nil {
		return nil, errors.DatabaseErrorf(err, "list repositories")
	}
	return out, nil
}
