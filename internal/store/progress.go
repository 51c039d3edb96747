package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Facet names one of the four independently-fetched data categories that
// together materialize a page.
type Facet string

// The four facets of a page bundle.
const (
	FacetMetadata Facet = "metadata"
	FacetHistory  Facet = "history"
	FacetVotes    Facet = "votes"
	FacetComments Facet = "comments"
)

// Facets lists every facet in a bundle.
var Facets = []Facet{FacetMetadata, FacetHistory, FacetVotes, FacetComments}

// FacetSet records which facets of a URL have been durably written, plus
// the terminal failure reason if the page was given up on.
type FacetSet struct {
	Metadata     bool
	History      bool
	Votes        bool
	Comments     bool
	FailedReason string
}

// Has reports whether the given facet is already stored.
func (f FacetSet) Has(facet Facet) bool {
	switch facet {
	case FacetMetadata:
		return f.Metadata
	case FacetHistory:
		return f.History
	case FacetVotes:
		return f.Votes
	case FacetComments:
		return f.Comments
	}
	return false
}

// Complete reports whether every facet is stored.
func (f FacetSet) Complete() bool {
	return f.Metadata && f.History && f.Votes && f.Comments
}

func facetColumn(facet Facet) (string, error) {
	switch facet {
	case FacetMetadata:
		return "meta_done", nil
	case FacetHistory:
		return "history_done", nil
	case FacetVotes:
		return "votes_done", nil
	case FacetComments:
		return "comments_done", nil
	}
	return "", fmt.Errorf("unknown facet %q", facet)
}

// MarkFacet records that one facet of url has been durably written.
func (s *Store) MarkFacet(ctx context.Context, url string, facet Facet) error {
	col, err := facetColumn(facet)
	if err != nil {
		return storageErr("mark facet", err)
	}
	query := fmt.Sprintf(`
	INSERT INTO crawl_progress (url, %[1]s) VALUES (?, 1)
	ON CONFLICT(url) DO UPDATE SET %[1]s = 1
	`, col)
	if _, err := s.db.ExecContext(ctx, query, url); err != nil {
		return storageErr("mark facet", err)
	}
	return nil
}

// MarkFailed records a terminal failure reason for url.
func (s *Store) MarkFailed(ctx context.Context, url, reason string) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO crawl_progress (url, failed_reason) VALUES (?, ?)
	ON CONFLICT(url) DO UPDATE SET failed_reason = excluded.failed_reason
	`, url, reason)
	return storageErr("mark failed", err)
}

// Progress returns the facet completion state of url. A URL never seen
// before returns a zero FacetSet, not an error.
func (s *Store) Progress(ctx context.Context, url string) (FacetSet, error) {
	row := s.db.QueryRowContext(ctx, `
	SELECT meta_done, history_done, votes_done, comments_done, failed_reason
	FROM crawl_progress WHERE url = ?`, url)
	var f FacetSet
	err := row.Scan(&f.Metadata, &f.History, &f.Votes, &f.Comments, &f.FailedReason)
	if err == sql.ErrNoRows {
		return FacetSet{}, nil
	}
	if err != nil {
		return FacetSet{}, storageErr("progress", err)
	}
	return f, nil
}

// AllProgress returns the progress table keyed by URL, used by the
// orchestrator to resume a prior interrupted run in one query.
func (s *Store) AllProgress(ctx context.Context) (map[string]FacetSet, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT url, meta_done, history_done, votes_done, comments_done, failed_reason
	FROM crawl_progress`)
	if err != nil {
		return nil, storageErr("all progress", err)
	}
	defer rows.Close()

	out := make(map[string]FacetSet)
	for rows.Next() {
		var (
			url string
			f   FacetSet
		)
		if err := rows.Scan(&url, &f.Metadata, &f.History, &f.Votes, &f.Comments, &f.FailedReason); err != nil {
			return nil, storageErr("all progress", err)
		}
		out[url] = f
	}
	return out, rows.Err()
}

// ClearFailure erases a recorded failure so the next run retries the page.
func (s *Store) ClearFailure(ctx context.Context, url string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE crawl_progress SET failed_reason = '' WHERE url = ?`, url)
	return storageErr("clear failure", err)
}
