package github

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rohankatakam/osspulse/internal/errors"
	"github.com/rohankatakam/osspulse/internal/logging"
	"github.com/rohankatakam/osspulse/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGraphQL(t *testing.T, handler http.HandlerFunc, tokens ...string) *GraphQLClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	if len(tokens) == 0 {
		tokens = []string{"t1"}
	}
	rotator, err := NewTokenRotator(tokens)
	require.NoError(t, err)
	return NewGraphQLClient(srv.URL, rotator, 1000, logging.Discard())
}

const historyPayload = `{"data":{"repository":{"defaultBranchRef":{"target":{"history":{
  "pageInfo":{"hasNextPage":true,"endCursor":"abc"},
  "edges":[
    {"node":{"committedDate":"2016-03-02T10:00:00Z","author":{"name":"Alice"},"oid":"s1"}},
    {"node":{"committedDate":"2016-03-05T10:00:00Z","author":null,"oid":"s2"}},
    {"node":{"committedDate":"not a date","author":{"name":"Bob"},"oid":"s3"}}
  ]}}}}}}`

func TestCommitHistoryPage(t *testing.T) {
	var gotAuth string
	var gotVars map[string]interface{}
	c := newTestGraphQL(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var body struct {
			Variables map[string]interface{} `json:"variables"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotVars = body.Variables
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Reset", "1700000000")
		w.Write([]byte(historyPayload))
	})

	page, err := c.CommitHistoryPage(context.Background(), models.Repo{Owner: "apache", Name: "kafka"}, "")
	require.NoError(t, err)

	assert.Equal(t, "Bearer t1", gotAuth)
	assert.Equal(t, "apache", gotVars["owner"])
	assert.Nil(t, gotVars["cursor"])

	require.Len(t, page.Items, 2)
	assert.Equal(t, "Alice", page.Items[0].Author)
	assert.Equal(t, "Unknown", page.Items[1].Author)
	assert.Equal(t, "s2", page.Items[1].OID)
	assert.True(t, page.HasMore)
	assert.Equal(t, "abc", page.NextCursor)
	assert.True(t, page.RateLimit.Known)
	assert.Equal(t, 0, page.RateLimit.Remaining)
	assert.Equal(t, time.Unix(1700000000, 0), page.RateLimit.Reset)
}

func TestGraphQLRotatesOnForbidden(t *testing.T) {
	var auths []string
	c := newTestGraphQL(t, func(w http.ResponseWriter, r *http.Request) {
		auths = append(auths, r.Header.Get("Authorization"))
		if r.Header.Get("Authorization") == "Bearer bad" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Write([]byte(`{"data":{"organization":{"repositories":{"pageInfo":{"hasNextPage":false,"endCursor":""},"nodes":[{"name":"kafka","url":"https://github.com/apache/kafka"}]}}}}`))
	}, "bad", "good")

	page, err := c.OrgReposPage(context.Background(), "apache", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"Bearer bad", "Bearer good"}, auths)
	assert.Equal(t, []models.OrgRepo{{Name: "kafka", URL: "https://github.com/apache/kafka"}}, page.Items)
	assert.False(t, page.HasMore)
}

func TestOrgReposPageCounts(t *testing.T) {
	c := newTestGraphQL(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"organization":{"repositories":{"pageInfo":{"hasNextPage":true,"endCursor":"c1"},"nodes":[
			{"name":"kafka","url":"https://github.com/apache/kafka","stargazerCount":28000,"forkCount":13000,"watchers":{"totalCount":1100}},
			{"name":"","url":"https://github.com/apache/ghost"},
			{"name":"hudi","url":"https://github.com/apache/hudi","stargazerCount":5000}
		]}}}}`))
	})

	page, err := c.OrgReposPage(context.Background(), "apache", "")
	require.NoError(t, err)
	assert.Equal(t, []models.OrgRepo{
		{Name: "kafka", URL: "https://github.com/apache/kafka", StargazerCount: 28000, ForkCount: 13000, WatchCount: 1100},
		{Name: "hudi", URL: "https://github.com/apache/hudi", StargazerCount: 5000},
	}, page.Items)
	assert.True(t, page.HasMore)
	assert.Equal(t, "c1", page.NextCursor)
}

func TestGraphQLAllCredentialsRefused(t *testing.T) {
	c := newTestGraphQL(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}, "a", "b")

	_, err := c.OrgReposPage(context.Background(), "apache", "")
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrRateLimitExhausted))
}

func TestGraphQLErrorsArray(t *testing.T) {
	c := newTestGraphQL(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"errors":[{"message":"Could not resolve to a Repository"}]}`))
	})

	_, err := c.CommitHistoryPage(context.Background(), models.Repo{Owner: "x", Name: "y"}, "")
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeSourceUnavailable, errors.GetType(err))
	assert.False(t, errors.IsTransient(err))
	assert.Contains(t, err.Error(), "Could not resolve")
}

func TestGraphQLServerErrorIsNotTransient(t *testing.T) {
	c := newTestGraphQL(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.OrgReposPage(context.Background(), "apache", "")
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeSourceUnavailable, errors.GetType(err))
}

func TestParseRateLimit(t *testing.T) {
	h := http.Header{}
	assert.False(t, parseRateLimit(h).Known)

	h.Set("X-RateLimit-Remaining", "42")
	h.Set("X-RateLimit-Reset", "1600000000")
	info := parseRateLimit(h)
	assert.True(t, info.Known)
	assert.Equal(t, 42, info.Remaining)
	assert.Equal(t, time.Unix(1600000000, 0), info.Reset)
}
