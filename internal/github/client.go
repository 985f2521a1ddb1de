package github

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/rohankatakam/osspulse/internal/errors"
	"github.com/rohankatakam/osspulse/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Client wraps the GitHub REST API with credential rotation and rate limiting
type Client struct {
	baseURL     *url.URL
	rotator     *TokenRotator
	rateLimiter *rate.Limiter
	logger      logrus.FieldLogger

	mu      sync.Mutex
	clients map[string]*github.Client
}

// NewClient creates a REST client. baseURL may be empty for api.github.com.
func NewClient(baseURL string, rotator *TokenRotator, rateLimit int, logger logrus.FieldLogger) (*Client, error) {
	if rateLimit <= 0 {
		rateLimit = 10
	}
	c := &Client{
		rotator:     rotator,
		rateLimiter: rate.NewLimiter(rate.Limit(rateLimit), 1),
		logger:      logger.WithField("component", "github"),
		clients:     make(map[string]*github.Client),
	}
	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, errors.ConfigErrorf("invalid github api url %q: %v", baseURL, err)
		}
		c.baseURL = u
	}
	return c, nil
}

// clientFor returns a go-github client authenticated with token
func (c *Client) clientFor(token string) *github.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gc, ok := c.clients[token]; ok {
		return gc
	}
	gc := github.NewClient(&http.Client{Timeout: 60 * time.Second}).WithAuthToken(token)
	if c.baseURL != nil {
		gc.BaseURL = c.baseURL
	}
	c.clients[token] = gc
	return gc
}

// do runs one REST call under rotation and the rate limiter
func (c *Client) do(ctx context.Context, call func(ctx context.Context, gc *github.Client) (*github.Response, error)) error {
	return c.rotator.Do(ctx, func(ctx context.Context, token string) error {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
		resp, err := call(ctx, c.clientFor(token))
		c.logRateLimit(resp)
		if err == nil {
			return nil
		}
		if IsAuthFailure(err) {
			c.logger.WithField("status", statusCode(err)).Warn("credential refused, rotating to the next token")
			return err
		}
		var er *github.ErrorResponse
		if stderrors.As(err, &er) {
			return errors.SourceUnavailable(err, "github request rejected")
		}
		return errors.NetworkError(err, "github request failed")
	})
}

// FetchMetadata gets repository metadata, languages and latest release
func (c *Client) FetchMetadata(ctx context.Context, repo models.Repo) (*models.RepoMetadata, error) {
	var r *github.Repository
	err := c.do(ctx, func(ctx context.Context, gc *github.Client) (*github.Response, error) {
		var resp *github.Response
		var err error
		r, resp, err = gc.Repositories.Get(ctx, repo.Owner, repo.Name)
		return resp, err
	})
	if err != nil {
		return nil, err
	}

	meta := &models.RepoMetadata{
		Name:          r.GetName(),
		Owner:         r.GetOwner().GetLogin(),
		Description:   r.GetDescription(),
		Stars:         r.GetStargazersCount(),
		Watchers:      r.GetWatchersCount(),
		Forks:         r.GetForksCount(),
		License:       "No license",
		CreatedAt:     r.GetCreatedAt().Format(time.RFC3339),
		UpdatedAt:     r.GetUpdatedAt().Format(time.RFC3339),
		OpenIssues:    r.GetOpenIssuesCount(),
		Languages:     []string{},
		LatestRelease: models.NoReleases,
	}
	if meta.Description == "" {
		meta.Description = "No description provided"
	}
	if r.License != nil && r.License.GetName() != "" {
		meta.License = r.License.GetName()
	}

	var languages map[string]int
	err = c.do(ctx, func(ctx context.Context, gc *github.Client) (*github.Response, error) {
		var resp *github.Response
		var err error
		languages, resp, err = gc.Repositories.ListLanguages(ctx, repo.Owner, repo.Name)
		return resp, err
	})
	if err != nil {
		c.logger.WithError(err).WithField("repo", repo.FullName()).Warn("failed to fetch languages")
	}
	for lang := range languages {
		meta.Languages = append(meta.Languages, lang)
	}
	sort.Strings(meta.Languages)

	var release *github.RepositoryRelease
	err = c.do(ctx, func(ctx context.Context, gc *github.Client) (*github.Response, error) {
		var resp *github.Response
		var err error
		release, resp, err = gc.Repositories.GetLatestRelease(ctx, repo.Owner, repo.Name)
		return resp, err
	})
	if err == nil && release != nil {
		meta.LatestRelease = &models.Release{
			Tag:         release.GetTagName(),
			Name:        release.GetName(),
			PublishedAt: release.GetPublishedAt().Format(time.RFC3339),
		}
	}

	return meta, nil
}

// FetchCommitExtensions returns the distinct file extensions touched by a commit
func (c *Client) FetchCommitExtensions(ctx context.Context, repo models.Repo, sha string) ([]string, error) {
	var commit *github.RepositoryCommit
	err := c.do(ctx, func(ctx context.Context, gc *github.Client) (*github.Response, error) {
		var resp *github.Response
		var err error
		commit, resp, err = gc.Repositories.GetCommit(ctx, repo.Owner, repo.Name, sha, nil)
		return resp, err
	})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var exts []string
	for _, f := range commit.Files {
		ext := FileExtension(f.GetFilename())
		if !seen[ext] {
			seen[ext] = true
			exts = append(exts, ext)
		}
	}
	return exts, nil
}

// FileExtension is the lowercased suffix after the last '.', or "" when
// the name has no dot.
func FileExtension(filename string) string {
	i := strings.LastIndex(filename, ".")
	if i < 0 {
		return ""
	}
	return strings.ToLower(filename[i+1:])
}

// logRateLimit logs GitHub API rate limit info
func (c *Client) logRateLimit(resp *github.Response) {
	if resp == nil {
		return
	}
	if resp.Rate.Limit > 0 && resp.Rate.Remaining < 100 {
		c.logger.WithFields(logrus.Fields{
			"remaining": resp.Rate.Remaining,
			"limit":     resp.Rate.Limit,
		}).Warn("rate limit low")
	}
}
