package graph

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rohankatakam/osspulse/internal/models"
)

// Node is one Sankey node. Committers and extensions share one namespace.
type Node struct {
	Name string `json:"name"`
}

// Link connects a committer node to an extension node for one month.
type Link struct {
	Source int     `json:"source"`
	Target int     `json:"target"`
	Value  float64 `json:"value"`
	Date   string  `json:"date"`
}

// Sankey is the committer to file extension flow of a repository.
type Sankey struct {
	Nodes []Node   `json:"nodes"`
	Links []Link   `json:"links"`
	Dates []string `json:"dates"`
}

// BuildSankey walks activity in a fixed order (years ascending, months in
// calendar order, committers and extensions sorted) and assigns node
// indices by first appearance. A committer-month's commits are split evenly
// over the extensions it touched. Node indices are only meaningful within
// the returned graph.
func BuildSankey(activity models.CommitActivity) *Sankey {
	g := &Sankey{Nodes: []Node{}, Links: []Link{}, Dates: []string{}}
	index := make(map[string]int)
	node := func(name string) int {
		if i, ok := index[name]; ok {
			return i
		}
		index[name] = len(g.Nodes)
		g.Nodes = append(g.Nodes, Node{Name: name})
		return index[name]
	}

	type dated struct {
		label string
		at    time.Time
	}
	var dates []dated
	seenDate := make(map[string]bool)

	for _, year := range sortedYears(activity) {
		monthsOfYear := activity[year]
		for _, month := range sortedMonths(monthsOfYear) {
			ma := monthsOfYear[month]
			if ma == nil {
				continue
			}
			date := year + "-" + month
			if !seenDate[date] {
				seenDate[date] = true
				dates = append(dates, dated{label: date, at: monthStart(year, month)})
			}

			committers := make([]string, 0, len(ma.Committers))
			for name := range ma.Committers {
				committers = append(committers, name)
			}
			sort.Strings(committers)

			for _, name := range committers {
				ca := ma.Committers[name]
				if ca == nil {
					continue
				}
				exts := uniqueSorted(ca.Extensions)
				source := node(strings.TrimSpace(name))
				divisor := len(exts)
				if divisor == 0 {
					divisor = 1
				}
				weight := float64(ca.Commits) / float64(divisor)
				for _, ext := range exts {
					g.Links = append(g.Links, Link{
						Source: source,
						Target: node(ext),
						Value:  weight,
						Date:   date,
					})
				}
			}
		}
	}

	sort.SliceStable(dates, func(i, j int) bool { return dates[i].at.Before(dates[j].at) })
	for _, d := range dates {
		g.Dates = append(g.Dates, d.label)
	}
	return g
}

func sortedYears(activity models.CommitActivity) []string {
	years := make([]string, 0, len(activity))
	for y := range activity {
		years = append(years, y)
	}
	sort.Slice(years, func(i, j int) bool {
		a, errA := strconv.Atoi(years[i])
		b, errB := strconv.Atoi(years[j])
		if errA == nil && errB == nil {
			return a < b
		}
		return years[i] < years[j]
	})
	return years
}

// monthNumber returns 1..12 for an English month name, 13 otherwise.
func monthNumber(name string) int {
	t, err := time.Parse("January", strings.TrimSpace(name))
	if err != nil {
		return 13
	}
	return int(t.Month())
}

func sortedMonths(byName map[string]*models.MonthActivity) []string {
	names := make([]string, 0, len(byName))
	for m := range byName {
		names = append(names, m)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := monthNumber(names[i]), monthNumber(names[j])
		if a != b {
			return a < b
		}
		return names[i] < names[j]
	})
	return names
}

// monthStart orders "<year>-<Month>" labels; unparseable parts sort last.
func monthStart(year, month string) time.Time {
	y, err := strconv.Atoi(year)
	if err != nil {
		y = 9999
	}
	return time.Date(y, time.Month(monthNumber(month)), 1, 0, 0, 0, 0, time.UTC)
}

func uniqueSorted(exts []string) []string {
	seen := make(map[string]bool, len(exts))
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.TrimSpace(e)
		if seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}
