package storage

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/rohankatakam/osspulse/internal/models"
)

// MemoryStore keeps documents in process. Used by tests and dry runs.
type MemoryStore struct {
	mu       sync.Mutex
	docs     map[string]map[string]*models.MonthDocument
	projects map[string]map[string]*models.Project
	repos    map[string]*models.OrgRepo
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:     make(map[string]map[string]*models.MonthDocument),
		projects: make(map[string]map[string]*models.Project),
		repos:    make(map[string]*models.OrgRepo),
	}
}

func (s *MemoryStore) UpsertDocument(ctx context.Context, collection string, doc *models.MonthDocument, mode UpsertMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	coll, ok := s.docs[collection]
	if !ok {
		coll = make(map[string]*models.MonthDocument)
		s.docs[collection] = coll
	}
	coll[doc.ProjectID] = applyUpsert(coll[doc.ProjectID], doc, mode)
	return nil
}

func (s *MemoryStore) GetDocument(ctx context.Context, collection, projectID string) (*models.MonthDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[collection][projectID]
	if !ok {
		return nil, ErrNotFound
	}
	return doc.Clone(), nil
}

func (s *MemoryStore) ListDocumentIDs(ctx context.Context, collection string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.docs[collection]))
	for id := range s.docs[collection] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) SaveProject(ctx context.Context, collection string, project *models.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	coll, ok := s.projects[collection]
	if !ok {
		coll = make(map[string]*models.Project)
		s.projects[collection] = coll
	}
	cp := *project
	coll[project.ProjectID] = &cp
	return nil
}

func (s *MemoryStore) GetProject(ctx context.Context, collection, projectID string) (*models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[collection][projectID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListProjects(ctx context.Context, collection string) ([]*models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Project, 0, len(s.projects[collection]))
	for _, p := range s.projects[collection] {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProjectID < out[j].ProjectID })
	return out, nil
}

func (s *MemoryStore) SaveRepository(ctx context.Context, repo *models.OrgRepo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *repo
	s.repos[repo.Name] = &cp
	return nil
}

func (s *MemoryStore) ListRepositories(ctx context.Context) ([]*models.OrgRepo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.OrgRepo, 0, len(s.repos))
	for _, r := range s.repos {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}

// encodeMonths and decodeMonths move the months map through text columns.
func encodeMonths(months map[string]json.RawMessage) ([]byte, error) {
	if months == nil {
		months = map[string]json.RawMessage{}
	}
	return json.Marshal(months)
}

func decodeMonths(data []byte) (map[string]json.RawMessage, error) {
	months := map[string]json.RawMessage{}
	if len(data) == 0 {
		return months, nil
	}
	if err := json.Unmarshal(data, &months); err != nil {
		return nil, err
	}
	return months, nil
}
