package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/rohankatakam/osspulse/internal/errors"
)

// ValidationResult holds validation results
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// AddError adds an error to the validation result
func (vr *ValidationResult) AddError(format string, args ...interface{}) {
	vr.Valid = false
	vr.Errors = append(vr.Errors, fmt.Sprintf(format, args...))
}

// AddWarning adds a warning to the validation result
func (vr *ValidationResult) AddWarning(format string, args ...interface{}) {
	vr.Warnings = append(vr.Warnings, fmt.Sprintf(format, args...))
}

// HasErrors returns true if there are any errors
func (vr *ValidationResult) HasErrors() bool {
	return !vr.Valid || len(vr.Errors) > 0
}

// Error returns a formatted error message
func (vr *ValidationResult) Error() string {
	if !vr.HasErrors() {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Configuration validation failed:\n")
	for _, err := range vr.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err))
	}
	if len(vr.Warnings) > 0 {
		sb.WriteString("\nWarnings:\n")
		for _, warn := range vr.Warnings {
			sb.WriteString(fmt.Sprintf("  - %s\n", warn))
		}
	}
	return sb.String()
}

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{Valid: true}
	c.validateStorage(result)
	c.validateGitHub(result)
	c.validateGraph(result)
	c.validatePipeline(result)
	return result
}

// ValidateOrError wraps Validate into a config error.
func (c *Config) ValidateOrError() error {
	result := c.Validate()
	if result.HasErrors() {
		return errors.ConfigErrorf("%s", result.Error())
	}
	return nil
}

func (c *Config) validateStorage(result *ValidationResult) {
	switch c.Storage.Backend {
	case "memory":
		result.AddWarning("storage backend is memory; data is lost on exit")
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			result.AddError("storage.sqlite_path is required for the sqlite backend")
		}
	case "bolt":
		if c.Storage.BoltPath == "" {
			result.AddError("storage.bolt_path is required for the bolt backend")
		}
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			result.AddError("POSTGRES_DSN is required for the postgres backend")
		}
	case "mongo":
		if c.Storage.MongoURI == "" {
			result.AddError("MONGODB_URI is required for the mongo backend")
		}
		if c.Storage.MongoDatabase == "" {
			result.AddError("storage.mongo_database is required for the mongo backend")
		}
	default:
		result.AddError("unknown storage backend %q", c.Storage.Backend)
	}

	switch c.Storage.UpsertMode {
	case "replace", "merge":
	default:
		result.AddError("storage.upsert_mode must be replace or merge, got %q", c.Storage.UpsertMode)
	}
}

func (c *Config) validateGitHub(result *ValidationResult) {
	if len(c.GitHub.Tokens) == 0 {
		result.AddWarning("no GitHub tokens configured (set GITHUB_TOKEN_1..N); GitHub fetches will fail")
	}
	if c.GitHub.DetailConcurrency <= 0 {
		result.AddError("github.detail_concurrency must be positive")
	}
	if c.GitHub.RateLimit <= 0 {
		result.AddError("github.rate_limit must be positive")
	}
	if c.GitHub.MaxRetries < 0 {
		result.AddError("github.max_retries cannot be negative")
	}
	if _, err := url.Parse(c.GitHub.GraphQLURL); err != nil {
		result.AddError("github.graphql_url is invalid: %v", err)
	}
}

func (c *Config) validateGraph(result *ValidationResult) {
	if c.Graph.Neo4jURI == "" {
		return
	}
	if _, err := url.Parse(c.Graph.Neo4jURI); err != nil {
		result.AddError("NEO4J_URI is invalid: %v", err)
	}
	if c.Graph.Neo4jPassword == "" {
		result.AddWarning("NEO4J_PASSWORD is not set")
	}
}

func (c *Config) validatePipeline(result *ValidationResult) {
	if len(c.Pipeline.MonthRange) != 2 {
		result.AddError("pipeline.month_range must have exactly two values")
	}
	if len(c.Pipeline.ForecastCommand) == 0 {
		result.AddWarning("pipeline.forecast_command is empty; forecast stage will fail")
	}
	if len(c.Pipeline.ReactCommand) == 0 {
		result.AddWarning("pipeline.react_command is empty; extraction stage will fail")
	}
}
