package pipeline

import (
	"strings"

	"github.com/rohankatakam/osspulse/internal/errors"
	"github.com/rohankatakam/osspulse/internal/models"
)

// ExtractProjectName returns the last path segment of a git link without
// its .git suffix.
func ExtractProjectName(gitLink string) string {
	s := strings.TrimSpace(gitLink)
	if strings.HasSuffix(strings.ToLower(s), ".git") {
		s = s[:len(s)-len(".git")]
	}
	s = strings.Trim(s, "/")
	if i := strings.LastIndex(s, "/"); i >= 0 {
		s = s[i+1:]
	}
	return s
}

// ProjectID derives the canonical project id from a git link.
func ProjectID(gitLink string) string {
	return models.NormalizeProjectID(ExtractProjectName(gitLink))
}

// ValidateGitLink accepts non-empty links ending in .git, in any case.
func ValidateGitLink(gitLink string) error {
	link := strings.TrimSpace(gitLink)
	if link == "" {
		return errors.MalformedInputf("No git link provided.")
	}
	if !strings.HasSuffix(strings.ToLower(link), ".git") || ExtractProjectName(link) == "" {
		return errors.MalformedInputf("Provided URL is not a valid .git link.")
	}
	return nil
}
