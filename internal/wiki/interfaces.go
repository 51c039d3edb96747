package wiki

import (
	"context"
	"time"
)

// ListFilter restricts page listings. Zero-value fields are ignored; set
// fields combine with logical AND.
type ListFilter struct {
	Author        string
	Tag           string
	CreatedBefore time.Time
	CreatedAfter  time.Time
}

// Matches reports whether the page satisfies every set field.
func (f ListFilter) Matches(p Page) bool {
	if f.Author != "" && p.Author != f.Author {
		return false
	}
	if f.Tag != "" && !p.HasTag(f.Tag) {
		return false
	}
	if !f.CreatedBefore.IsZero() && !p.Created.Before(f.CreatedBefore) {
		return false
	}
	if !f.CreatedAfter.IsZero() && !p.Created.After(f.CreatedAfter) {
		return false
	}
	return true
}

// URLPage is one page of a paginated URL listing. Token carries whatever
// the remote side needs to continue; an empty Next means the listing is
// exhausted.
type URLPage struct {
	URLs []string
	Next string
}

// Client is the facet-level remote capability the crawler is built on.
// Every call performs exactly one logical remote operation and fails with
// a *RemoteError.
type Client interface {
	// ListURLs returns one page of site URLs. Pass an empty token to
	// start; follow URLPage.Next until it comes back empty.
	ListURLs(ctx context.Context, filter ListFilter, token string) (URLPage, error)

	// CountPages returns the total number of pages the site reports,
	// used to confirm enumeration completeness.
	CountPages(ctx context.Context) (int, error)

	FetchPage(ctx context.Context, url string) (Page, error)
	FetchHistory(ctx context.Context, url string) ([]Revision, error)
	FetchVotes(ctx context.Context, url string) ([]Vote, error)
	FetchComments(ctx context.Context, url string) ([]Post, error)

	// Forum access, used only when the crawl includes standalone threads.
	ListCategories(ctx context.Context) ([]Category, error)
	ListThreads(ctx context.Context, categoryID int64) ([]Thread, error)
	FetchThreadPosts(ctx context.Context, threadID int64) ([]Post, error)
}

// Browser is the read contract shared by the live client and the snapshot
// reader. Callers holding a Browser cannot tell whether their data comes
// over the network or from a local snapshot file.
type Browser interface {
	LoadPage(ctx context.Context, url string) (Page, error)
	ListPages(ctx context.Context, filter ListFilter) ([]Page, error)
	GetHistory(ctx context.Context, url string) ([]Revision, error)
	GetVotes(ctx context.Context, url string) ([]Vote, error)
	GetComments(ctx context.Context, url string) ([]*PostNode, error)
}
