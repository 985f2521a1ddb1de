package ingestion

import (
	"strings"

	"github.com/rohankatakam/osspulse/internal/models"
	"github.com/rohankatakam/osspulse/internal/months"
)

// RecordKind is the shape of a miner CSV
type RecordKind string

const (
	KindCommit RecordKind = "commit"
	KindIssue  RecordKind = "issue"
)

// Classification drives how a table is read and where it is stored.
type Classification struct {
	Kind      RecordKind
	DateField string
	Layouts   []string
	Family    models.Family

	// Defaulted is set when no known header was present and the table
	// fell back to commit. Callers must surface it.
	Defaulted bool
}

// Classify inspects header names only. Matching is case-insensitive and
// commit headers win over issue headers.
func Classify(header []string) Classification {
	seen := make(map[string]bool, len(header))
	for _, h := range header {
		seen[normalizeHeader(h)] = true
	}

	switch {
	case seen["commit_sha"] || seen["commit_url"]:
		return commitClassification(false)
	case seen["issue_url"]:
		return Classification{
			Kind:      KindIssue,
			DateField: "created_at",
			Layouts:   months.IssueLayouts,
			Family:    models.FamilyIssueLinks,
		}
	default:
		return commitClassification(true)
	}
}

func commitClassification(defaulted bool) Classification {
	return Classification{
		Kind:      KindCommit,
		DateField: "date",
		Layouts:   months.CommitLayouts,
		Family:    models.FamilyCommitLinks,
		Defaulted: defaulted,
	}
}

// normalizeHeader lowercases and strips a UTF-8 byte order mark.
func normalizeHeader(h string) string {
	return strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF")))
}
