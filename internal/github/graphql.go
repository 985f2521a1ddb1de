package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rohankatakam/osspulse/internal/errors"
	"github.com/rohankatakam/osspulse/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const commitHistoryQuery = `
query($owner: String!, $name: String!, $cursor: String) {
  repository(owner: $owner, name: $name) {
    defaultBranchRef {
      target {
        ... on Commit {
          history(first: 100, after: $cursor) {
            pageInfo { hasNextPage endCursor }
            edges { node { committedDate author { name } oid } }
          }
        }
      }
    }
  }
}`

const orgReposQuery = `
query($org: String!, $cursor: String) {
  organization(login: $org) {
    repositories(first: 100, after: $cursor, privacy: PUBLIC, orderBy: {field: NAME, direction: ASC}) {
      pageInfo { hasNextPage endCursor }
      nodes {
        name
        url
        stargazerCount
        forkCount
        watchers { totalCount }
      }
    }
  }
}`

// CommitNode is one commit of the default branch history.
type CommitNode struct {
	OID           string
	CommittedDate time.Time
	Author        string
}

type pageInfo struct {
	HasNextPage bool   `json:"hasNextPage"`
	EndCursor   string `json:"endCursor"`
}

// GraphQLClient posts queries to the GitHub GraphQL endpoint, rotating
// credentials on 401/403.
type GraphQLClient struct {
	httpClient  *http.Client
	endpoint    string
	rotator     *TokenRotator
	rateLimiter *rate.Limiter
	logger      logrus.FieldLogger
}

// NewGraphQLClient creates a client; rateLimit is requests per second.
func NewGraphQLClient(endpoint string, rotator *TokenRotator, rateLimit int, logger logrus.FieldLogger) *GraphQLClient {
	if rateLimit <= 0 {
		rateLimit = 10
	}
	return &GraphQLClient{
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		endpoint:    endpoint,
		rotator:     rotator,
		rateLimiter: rate.NewLimiter(rate.Limit(rateLimit), 1),
		logger:      logger.WithField("component", "graphql"),
	}
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Query posts one query and decodes its data field into out.
func (c *GraphQLClient) Query(ctx context.Context, query string, variables map[string]interface{}, out interface{}) (RateLimitInfo, error) {
	body, err := json.Marshal(map[string]interface{}{"query": query, "variables": variables})
	if err != nil {
		return RateLimitInfo{}, errors.InternalErrorf("encode graphql request: %v", err)
	}

	var info RateLimitInfo
	err = c.rotator.Do(ctx, func(ctx context.Context, token string) error {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return errors.InternalErrorf("build graphql request: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return errors.NetworkError(err, "graphql request failed")
		}
		defer resp.Body.Close()

		payload, err := io.ReadAll(resp.Body)
		if err != nil {
			return errors.NetworkError(err, "read graphql response")
		}
		info = parseRateLimit(resp.Header)

		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			c.logger.WithField("status", resp.StatusCode).Warn("credential refused, rotating to the next token")
			return &StatusError{StatusCode: resp.StatusCode}
		}
		if resp.StatusCode != http.StatusOK {
			return errors.SourceUnavailable(&StatusError{StatusCode: resp.StatusCode, Body: truncate(string(payload), 200)}, "graphql request rejected")
		}

		var gr graphQLResponse
		if err := json.Unmarshal(payload, &gr); err != nil {
			return errors.SourceUnavailable(err, "decode graphql response")
		}
		if len(gr.Errors) > 0 {
			msgs := make([]string, 0, len(gr.Errors))
			for _, e := range gr.Errors {
				msgs = append(msgs, e.Message)
			}
			return errors.SourceUnavailablef("graphql errors: %s", strings.Join(msgs, "; "))
		}
		if err := json.Unmarshal(gr.Data, out); err != nil {
			return errors.SourceUnavailable(err, "decode graphql data")
		}
		return nil
	})
	return info, err
}

// CommitHistoryPage fetches one page of the default branch history.
func (c *GraphQLClient) CommitHistoryPage(ctx context.Context, repo models.Repo, cursor string) (Page[CommitNode], error) {
	vars := map[string]interface{}{"owner": repo.Owner, "name": repo.Name, "cursor": nil}
	if cursor != "" {
		vars["cursor"] = cursor
	}

	var data struct {
		Repository *struct {
			DefaultBranchRef *struct {
				Target struct {
					History struct {
						PageInfo pageInfo `json:"pageInfo"`
						Edges    []struct {
							Node struct {
								CommittedDate string `json:"committedDate"`
								Author        *struct {
									Name string `json:"name"`
								} `json:"author"`
								OID string `json:"oid"`
							} `json:"node"`
						} `json:"edges"`
					} `json:"history"`
				} `json:"target"`
			} `json:"defaultBranchRef"`
		} `json:"repository"`
	}

	info, err := c.Query(ctx, commitHistoryQuery, vars, &data)
	if err != nil {
		return Page[CommitNode]{RateLimit: info}, err
	}
	if data.Repository == nil || data.Repository.DefaultBranchRef == nil {
		return Page[CommitNode]{RateLimit: info}, errors.SourceUnavailablef("no repository data returned for %s", repo)
	}

	history := data.Repository.DefaultBranchRef.Target.History
	page := Page[CommitNode]{
		NextCursor: history.PageInfo.EndCursor,
		HasMore:    history.PageInfo.HasNextPage,
		RateLimit:  info,
	}
	for _, edge := range history.Edges {
		committed, err := time.Parse(time.RFC3339, edge.Node.CommittedDate)
		if err != nil {
			c.logger.WithField("oid", edge.Node.OID).Warn("skipping commit with unparseable date")
			continue
		}
		author := "Unknown"
		if edge.Node.Author != nil && edge.Node.Author.Name != "" {
			author = edge.Node.Author.Name
		}
		page.Items = append(page.Items, CommitNode{
			OID:           edge.Node.OID,
			CommittedDate: committed,
			Author:        author,
		})
	}
	return page, nil
}

type orgRepoNode struct {
	Name           string `json:"name"`
	URL            string `json:"url"`
	StargazerCount int    `json:"stargazerCount"`
	ForkCount      int    `json:"forkCount"`
	Watchers       *struct {
		TotalCount int `json:"totalCount"`
	} `json:"watchers"`
}

// OrgReposPage fetches one page of an organization's repositories with their
// star, fork and watcher counts. Nodes without a name or url are skipped.
func (c *GraphQLClient) OrgReposPage(ctx context.Context, org, cursor string) (Page[models.OrgRepo], error) {
	vars := map[string]interface{}{"org": org, "cursor": nil}
	if cursor != "" {
		vars["cursor"] = cursor
	}

	var data struct {
		Organization *struct {
			Repositories struct {
				PageInfo pageInfo      `json:"pageInfo"`
				Nodes    []orgRepoNode `json:"nodes"`
			} `json:"repositories"`
		} `json:"organization"`
	}

	info, err := c.Query(ctx, orgReposQuery, vars, &data)
	if err != nil {
		return Page[models.OrgRepo]{RateLimit: info}, err
	}
	if data.Organization == nil {
		return Page[models.OrgRepo]{RateLimit: info}, errors.SourceUnavailablef("organization %s not found", org)
	}

	repos := data.Organization.Repositories
	page := Page[models.OrgRepo]{
		Items:      make([]models.OrgRepo, 0, len(repos.Nodes)),
		NextCursor: repos.PageInfo.EndCursor,
		HasMore:    repos.PageInfo.HasNextPage,
		RateLimit:  info,
	}
	for _, n := range repos.Nodes {
		if n.Name == "" || n.URL == "" {
			c.logger.WithField("node", n).Warn("repository missing name or url")
			continue
		}
		repo := models.OrgRepo{Name: n.Name, URL: n.URL, StargazerCount: n.StargazerCount, ForkCount: n.ForkCount}
		if n.Watchers != nil {
			repo.WatchCount = n.Watchers.TotalCount
		}
		page.Items = append(page.Items, repo)
	}
	return page, nil
}

// parseRateLimit reads X-RateLimit-Remaining / X-RateLimit-Reset (unix seconds).
func parseRateLimit(h http.Header) RateLimitInfo {
	remaining, err := strconv.Atoi(h.Get("X-RateLimit-Remaining"))
	if err != nil {
		return RateLimitInfo{}
	}
	info := RateLimitInfo{Known: true, Remaining: remaining, Reset: time.Now().Add(time.Minute)}
	if reset, err := strconv.ParseInt(h.Get("X-RateLimit-Reset"), 10, 64); err == nil {
		info.Reset = time.Unix(reset, 0)
	}
	return info
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
