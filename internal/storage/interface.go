package storage

import (
	"context"
	"encoding/json"

	"github.com/rohankatakam/osspulse/internal/errors"
	"github.com/rohankatakam/osspulse/internal/models"
)

// Common errors
var (
	ErrNotFound = errors.ErrNotFound
)

// UpsertMode selects how an upsert treats the months already stored.
type UpsertMode string

const (
	// ModeReplace overwrites the months map wholesale.
	ModeReplace UpsertMode = "replace"
	// ModeMerge replaces incoming month keys and keeps the rest.
	ModeMerge UpsertMode = "merge"
)

// ParseUpsertMode validates a configured mode; empty means replace.
func ParseUpsertMode(s string) (UpsertMode, error) {
	switch UpsertMode(s) {
	case "", ModeReplace:
		return ModeReplace, nil
	case ModeMerge:
		return ModeMerge, nil
	default:
		return "", errors.ConfigErrorf("unknown upsert mode %q", s)
	}
}

// Store is the document store keyed by collection and project_id.
// Concurrent upserts to the same key are serialized by the backend's
// own atomic write.
type Store interface {
	// Month documents
	UpsertDocument(ctx context.Context, collection string, doc *models.MonthDocument, mode UpsertMode) error
	GetDocument(ctx context.Context, collection, projectID string) (*models.MonthDocument, error)
	ListDocumentIDs(ctx context.Context, collection string) ([]string, error)

	// Project info
	SaveProject(ctx context.Context, collection string, project *models.Project) error
	GetProject(ctx context.Context, collection, projectID string) (*models.Project, error)
	ListProjects(ctx context.Context, collection string) ([]*models.Project, error)

	// Organization repositories, keyed by name
	SaveRepository(ctx context.Context, repo *models.OrgRepo) error
	ListRepositories(ctx context.Context) ([]*models.OrgRepo, error)

	// Close connection
	Close() error
}

// mergeMonths overlays incoming months on stored ones.
func mergeMonths(stored, incoming map[string]json.RawMessage) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(stored)+len(incoming))
	for k, v := range stored {
		out[k] = v
	}
	for k, v := range incoming {
		out[k] = v
	}
	return out
}

// applyUpsert computes the document to store given what is there now.
func applyUpsert(existing, doc *models.MonthDocument, mode UpsertMode) *models.MonthDocument {
	next := doc.Clone()
	if next.Months == nil {
		next.Months = map[string]json.RawMessage{}
	}
	if mode == ModeMerge && existing != nil {
		next.Months = mergeMonths(existing.Months, next.Months)
	}
	return next
}
