// Package search indexes the reconciled governance data and answers lookups
// over git trees and domains.
package search

import "context"

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultTree   ResultType = "tree"
	ResultDomain ResultType = "domain"
)

// ParseResultType accepts "", "tree" and "domain".
func ParseResultType(s string) (ResultType, bool) {
	switch ResultType(s) {
	case "", ResultTree, ResultDomain:
		return ResultType(s), true
	}
	return "", false
}

// Result is a single search hit returned to the caller.
type Result struct {
	Type      ResultType `json:"type"`
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Snippet   string     `json:"snippet"`
	Domain    string     `json:"domain"`
	Subdomain string     `json:"subdomain,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text         string
	FilterType   ResultType // empty = all types
	FilterDomain string
	Limit        int
	Offset       int
}

func (q Query) limit() int {
	if q.Limit <= 0 {
		return 20
	}
	return q.Limit
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Index is a Searcher whose content is replaced wholesale after each import.
type Index interface {
	Searcher
	Replace(ctx context.Context, trees []TreeRecord, domains []DomainRecord) error
}

// TreeRecord is the data we index for a git tree.
type TreeRecord struct {
	ID        string   `json:"id"`
	Path      string   `json:"path"`
	Domain    string   `json:"domain"`
	Subdomain string   `json:"subdomain"`
	Licenses  []string `json:"licenses"`
	People    []string `json:"people"`
}

// DomainRecord is the data we index for a domain.
type DomainRecord struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Subdomains []string `json:"subdomains"`
}
