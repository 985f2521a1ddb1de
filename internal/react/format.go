// Package react runs the external ReACT extractor over a project's feature
// table and shapes its output for the dashboard.
package react

import (
	"encoding/json"
	"sort"
	"strings"
)

// Priority labels
const (
	PriorityCritical = "critical"
	PriorityHigh     = "high"
	PriorityMedium   = "medium"
	PriorityUnknown  = "unknown"
)

// Article is one literature reference of a raw item. DOI is nil when the
// extractor omitted the key.
type Article struct {
	DOI *string `json:"doi"`
}

// RawItem is one extractor result.
type RawItem struct {
	Title      string    `json:"ReACT_title"`
	Importance float64   `json:"Importance"`
	Articles   []Article `json:"articles"`
}

// Ref is a rendered reference link
type Ref struct {
	Text string `json:"text"`
	Link string `json:"link"`
}

// Item is a formatted ReACT entry
type Item struct {
	Title      string  `json:"title"`
	Importance float64 `json:"importance"`
	Priority   string  `json:"priority"`
	Refs       []Ref   `json:"refs"`
}

// Priority maps an importance score to its label. Scores between the
// integer bands (2.5, 4.5) fall through to unknown.
func Priority(importance float64) string {
	switch {
	case importance >= 5:
		return PriorityCritical
	case importance >= 3 && importance <= 4:
		return PriorityHigh
	case importance >= 1 && importance <= 2:
		return PriorityMedium
	default:
		return PriorityUnknown
	}
}

// Format labels every item and sorts by importance, highest first. Items
// with equal importance keep their input order.
func Format(raw []RawItem) []Item {
	out := make([]Item, 0, len(raw))
	for _, r := range raw {
		refs := make([]Ref, 0, len(r.Articles))
		for _, a := range r.Articles {
			link := "#"
			if a.DOI != nil {
				link = *a.DOI
			}
			refs = append(refs, Ref{Text: "[REF]", Link: link})
		}
		out = append(out, Item{
			Title:      r.Title,
			Importance: r.Importance,
			Priority:   Priority(r.Importance),
			Refs:       refs,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Importance > out[j].Importance })
	return out
}

// DecodeRawItems parses extractor output. A bare object is accepted as a
// single item.
func DecodeRawItems(data []byte) ([]RawItem, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		return []RawItem{}, nil
	}
	if strings.HasPrefix(trimmed, "{") {
		var one RawItem
		if err := json.Unmarshal([]byte(trimmed), &one); err != nil {
			return nil, err
		}
		return []RawItem{one}, nil
	}
	var items []RawItem
	if err := json.Unmarshal([]byte(trimmed), &items); err != nil {
		return nil, err
	}
	return items, nil
}
