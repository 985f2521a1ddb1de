package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// HumanTimeLayout is the display layout for link timestamps and last_fetched.
const HumanTimeLayout = "Mon Jan 02 15:04:05 2006"

// Family is one of the parallel per-type data tracks. Each family keeps
// its own month axis per project.
type Family string

const (
	FamilyCommitLinks   Family = "commit_links"
	FamilyIssueLinks    Family = "issue_links"
	FamilyEmailLinks    Family = "email_links"
	FamilyTechNet       Family = "tech_net"
	FamilySocialNet     Family = "social_net"
	FamilyCommitMeasure Family = "commit_measure"
	FamilyEmailMeasure  Family = "email_measure"
	FamilyIssueMeasure  Family = "issue_measure"
	FamilyGradForecast  Family = "grad_forecast"
)

// Families lists every family in a stable order.
func Families() []Family {
	return []Family{
		FamilyCommitLinks, FamilyIssueLinks, FamilyEmailLinks,
		FamilyTechNet, FamilySocialNet,
		FamilyCommitMeasure, FamilyEmailMeasure, FamilyIssueMeasure,
		FamilyGradForecast,
	}
}

// ParseFamily validates a family name.
func ParseFamily(s string) (Family, error) {
	for _, f := range Families() {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown family %q", s)
}

// Foundation selects the collection namespace.
type Foundation string

const (
	FoundationApache  Foundation = "apache"
	FoundationEclipse Foundation = "eclipse"
)

// ParseFoundation validates a foundation name, defaulting to apache.
func ParseFoundation(s string) (Foundation, error) {
	switch Foundation(strings.ToLower(strings.TrimSpace(s))) {
	case "", FoundationApache:
		return FoundationApache, nil
	case FoundationEclipse:
		return FoundationEclipse, nil
	default:
		return "", fmt.Errorf("unknown foundation %q", s)
	}
}

// Collection returns the store collection for a family in this namespace.
func (f Foundation) Collection(family Family) string {
	if f == FoundationEclipse {
		return "eclipse_" + string(family)
	}
	return string(family)
}

// ProjectCollection returns the project info collection in this namespace.
func (f Foundation) ProjectCollection() string {
	if f == FoundationEclipse {
		return "eclipse_project_info"
	}
	return "project_info"
}

// Repo identifies a GitHub repository. It is a value type; copies are
// independent.
type Repo struct {
	Owner string `json:"owner"`
	Name  string `json:"name"`
}

// ParseRepo accepts "https://github.com/owner/name(.git)", "git@github.com:owner/name.git"
// and "owner/name".
func ParseRepo(link string) (Repo, error) {
	s := strings.TrimSpace(link)
	s = strings.TrimSuffix(s, "/")
	s = strings.TrimSuffix(s, ".git")
	s = strings.TrimPrefix(s, "git@github.com:")
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
		if j := strings.Index(s, "/"); j >= 0 {
			s = s[j+1:]
		} else {
			s = ""
		}
	}

	parts := strings.Split(s, "/")
	if len(parts) < 2 {
		return Repo{}, fmt.Errorf("cannot parse repository from %q", link)
	}
	owner, name := parts[len(parts)-2], parts[len(parts)-1]
	if owner == "" || name == "" {
		return Repo{}, fmt.Errorf("cannot parse repository from %q", link)
	}
	return Repo{Owner: owner, Name: name}, nil
}

// FullName returns "owner/name".
func (r Repo) FullName() string {
	return r.Owner + "/" + r.Name
}

func (r Repo) String() string {
	return r.FullName()
}

// Project is the identity anchor joined on ProjectID across all families.
type Project struct {
	ProjectID      string          `json:"project_id"`
	ProjectName    string          `json:"project_name"`
	Status         string          `json:"status,omitempty"`
	Alias          string          `json:"alias,omitempty"`
	Description    string          `json:"description,omitempty"`
	Sponsor        string          `json:"sponsor,omitempty"`
	Mentor         json.RawMessage `json:"mentor,omitempty"`
	StartDate      string          `json:"start_date,omitempty"`
	EndDate        string          `json:"end_date,omitempty"`
	IncubationTime json.RawMessage `json:"incubation_time,omitempty"`
	MonthIntervals json.RawMessage `json:"month_intervals,omitempty"`
}

// LinkEntry is one activity record inside a month bucket.
type LinkEntry struct {
	HumanDateTime string `json:"human_date_time" parquet:"human_date_time"`
	Link          string `json:"link" parquet:"link"`
	Author        string `json:"dealiased_author_full_name" parquet:"dealiased_author_full_name"`
}

// MonthDocument is the canonical per-project document of one family.
// Months is keyed by the decimal month index.
type MonthDocument struct {
	ProjectID   string                     `json:"project_id"`
	ProjectName string                     `json:"project_name"`
	Months      map[string]json.RawMessage `json:"months"`
	LastFetched string                     `json:"last_fetched,omitempty"`
}

// Clone returns a deep copy.
func (d *MonthDocument) Clone() *MonthDocument {
	out := *d
	out.Months = make(map[string]json.RawMessage, len(d.Months))
	for k, v := range d.Months {
		out.Months[k] = append(json.RawMessage(nil), v...)
	}
	return &out
}

// MonthSlice is one month of one family for one project.
type MonthSlice struct {
	ProjectID   string          `json:"project_id"`
	ProjectName string          `json:"project_name"`
	Month       int             `json:"month"`
	Data        json.RawMessage `json:"data"`
}

// ForecastPoint is one month of a graduation forecast.
type ForecastPoint struct {
	Date  int     `json:"date"`
	Close float64 `json:"close"`
}

// ForecastSeries maps month index to forecast point.
type ForecastSeries map[int]ForecastPoint

// ForecastSeriesFromDocument decodes the grad_forecast months map.
func ForecastSeriesFromDocument(doc *MonthDocument) (ForecastSeries, error) {
	series := make(ForecastSeries, len(doc.Months))
	for key, raw := range doc.Months {
		var month int
		if _, err := fmt.Sscanf(key, "%d", &month); err != nil {
			return nil, fmt.Errorf("forecast month key %q: %w", key, err)
		}
		var point ForecastPoint
		if err := json.Unmarshal(raw, &point); err != nil {
			return nil, fmt.Errorf("forecast month %d: %w", month, err)
		}
		series[month] = point
	}
	return series, nil
}

// CommitterActivity is one committer's activity within a month.
type CommitterActivity struct {
	Commits    int      `json:"commits"`
	Extensions []string `json:"extensions"`
}

// MonthActivity is the commit activity of a calendar month.
type MonthActivity struct {
	Commits    int                           `json:"commits"`
	Committers map[string]*CommitterActivity `json:"committers"`
}

// CommitActivity is keyed by year ("2016") then English month name ("March").
type CommitActivity map[string]map[string]*MonthActivity

// Record adds one commit for a committer.
func (a CommitActivity) Record(year, month, committer string) {
	months, ok := a[year]
	if !ok {
		months = make(map[string]*MonthActivity)
		a[year] = months
	}
	ma, ok := months[month]
	if !ok {
		ma = &MonthActivity{Committers: make(map[string]*CommitterActivity)}
		months[month] = ma
	}
	ma.Commits++
	ca, ok := ma.Committers[committer]
	if !ok {
		ca = &CommitterActivity{Extensions: []string{}}
		ma.Committers[committer] = ca
	}
	ca.Commits++
}

// AddExtension records a touched extension once per committer-month.
func (a CommitActivity) AddExtension(year, month, committer, ext string) {
	ma, ok := a[year][month]
	if !ok {
		return
	}
	ca, ok := ma.Committers[committer]
	if !ok {
		return
	}
	for _, e := range ca.Extensions {
		if e == ext {
			return
		}
	}
	ca.Extensions = append(ca.Extensions, ext)
}

// ActivityFile is the on-disk GitHub fetch output.
type ActivityFile struct {
	FetchTimeSeconds float64        `json:"fetch_time_seconds"`
	APICallsMade     int            `json:"api_calls_made"`
	Data             CommitActivity `json:"data"`
}

// RepoMetadata is the GitHub metadata captured at pipeline start.
type RepoMetadata struct {
	Name          string      `json:"name"`
	Owner         string      `json:"owner"`
	Description   string      `json:"description"`
	Stars         int         `json:"stars"`
	Watchers      int         `json:"watchers"`
	Forks         int         `json:"forks"`
	License       string      `json:"license"`
	CreatedAt     string      `json:"created_at"`
	UpdatedAt     string      `json:"updated_at"`
	OpenIssues    int         `json:"open_issues"`
	Languages     []string    `json:"languages"`
	LatestRelease interface{} `json:"latest_release"` // *Release or NoReleases
}

// NoReleases is reported when a repository has never published a release.
const NoReleases = "No releases available"

// Release is the latest published release of a repository.
type Release struct {
	Tag         string `json:"tag"`
	Name        string `json:"name"`
	PublishedAt string `json:"published_at"`
}

// RepositoryCollection holds the organization listing with popularity counts.
const RepositoryCollection = "github_repositories"

// OrgRepo is one repository of an organization listing. Name is the key.
type OrgRepo struct {
	Name           string `json:"name"`
	URL            string `json:"url"`
	StargazerCount int    `json:"stargazer_count"`
	ForkCount      int    `json:"fork_count"`
	WatchCount     int    `json:"watch_count"`
}
