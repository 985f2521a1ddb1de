package ingestion

import (
	"testing"

	"github.com/rohankatakam/osspulse/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		header    []string
		kind      RecordKind
		dateField string
		family    models.Family
		defaulted bool
	}{
		{"commit sha", []string{"commit_sha", "date", "name"}, KindCommit, "date", models.FamilyCommitLinks, false},
		{"commit url", []string{"commit_url", "date"}, KindCommit, "date", models.FamilyCommitLinks, false},
		{"issue", []string{"issue_url", "created_at", "user_login"}, KindIssue, "created_at", models.FamilyIssueLinks, false},
		{"upper case", []string{"ISSUE_URL", "Created_At"}, KindIssue, "created_at", models.FamilyIssueLinks, false},
		{"commit wins over issue", []string{"issue_url", "Commit_SHA"}, KindCommit, "date", models.FamilyCommitLinks, false},
		{"bom on first header", []string{"\uFEFFcommit_sha", "date"}, KindCommit, "date", models.FamilyCommitLinks, false},
		{"unknown defaults to commit", []string{"foo", "bar"}, KindCommit, "date", models.FamilyCommitLinks, true},
		{"empty header", nil, KindCommit, "date", models.FamilyCommitLinks, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.header)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.dateField, got.DateField)
			assert.Equal(t, tt.family, got.Family)
			assert.Equal(t, tt.defaulted, got.Defaulted)
			assert.NotEmpty(t, got.Layouts)
		})
	}
}

func TestClassifyIgnoresRowContent(t *testing.T) {
	header := []string{"Issue_Url", "created_at"}
	first := Classify(header)
	second := Classify(append([]string(nil), header...))
	assert.Equal(t, first, second)
}
