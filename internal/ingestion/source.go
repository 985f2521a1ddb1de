package ingestion

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/rohankatakam/osspulse/internal/models"
)

// Record is one precomputed item of a family for a project. Month is the
// month index the item belongs to.
type Record struct {
	Month int
	Data  json.RawMessage
}

// RecordSource hands out precomputed family data independently of where
// it is kept.
type RecordSource interface {
	// Projects lists the normalized project ids that have data for family.
	Projects(ctx context.Context, family models.Family) ([]string, error)
	// Fetch returns every record of family for projectID. Link families
	// yield one record per link entry.
	Fetch(ctx context.Context, family models.Family, projectID string) ([]Record, error)
	// ProjectInfos returns the project descriptions known to the source.
	ProjectInfos(ctx context.Context) ([]*models.Project, error)
}

// IsLinkFamily reports whether a family stores lists of link entries.
func IsLinkFamily(f models.Family) bool {
	switch f {
	case models.FamilyCommitLinks, models.FamilyIssueLinks, models.FamilyEmailLinks:
		return true
	}
	return false
}

// MemorySource is a RecordSource held in memory.
type MemorySource struct {
	mu       sync.RWMutex
	records  map[models.Family]map[string][]Record
	projects map[string]*models.Project
}

func NewMemorySource() *MemorySource {
	return &MemorySource{
		records:  make(map[models.Family]map[string][]Record),
		projects: make(map[string]*models.Project),
	}
}

// Add appends records for a project.
func (m *MemorySource) Add(family models.Family, projectID string, records ...Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byProject, ok := m.records[family]
	if !ok {
		byProject = make(map[string][]Record)
		m.records[family] = byProject
	}
	id := models.NormalizeProjectID(projectID)
	byProject[id] = append(byProject[id], records...)
}

// AddProject registers a project description.
func (m *MemorySource) AddProject(p *models.Project) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects[p.ProjectID] = p
}

func (m *MemorySource) Projects(ctx context.Context, family models.Family) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.records[family]))
	for id := range m.records[family] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemorySource) Fetch(ctx context.Context, family models.Family, projectID string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs := m.records[family][models.NormalizeProjectID(projectID)]
	return append([]Record(nil), recs...), nil
}

func (m *MemorySource) ProjectInfos(ctx context.Context) ([]*models.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Project, 0, len(m.projects))
	for _, p := range m.projects {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProjectID < out[j].ProjectID })
	return out, nil
}
