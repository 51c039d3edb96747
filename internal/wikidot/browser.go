package wikidot

import (
	"context"

	"github.com/anqxyr/pyscp/internal/wiki"
)

// LoadPage implements wiki.Browser against the live site.
func (c *Client) LoadPage(ctx context.Context, url string) (wiki.Page, error) {
	return c.FetchPage(ctx, url)
}

// ListPages fetches every page matching the filter. Author and tag narrow
// the listing remotely; the creation window is applied here because the
// listing module cannot express it.
func (c *Client) ListPages(ctx context.Context, filter wiki.ListFilter) ([]wiki.Page, error) {
	var pages []wiki.Page
	token := ""
	for {
		urlPage, err := c.ListURLs(ctx, filter, token)
		if err != nil {
			return nil, err
		}
		for _, u := range urlPage.URLs {
			page, err := c.FetchPage(ctx, u)
			if err != nil {
				return nil, err
			}
			if filter.Matches(page) {
				pages = append(pages, page)
			}
		}
		if urlPage.Next == "" {
			break
		}
		token = urlPage.Next
	}
	return pages, nil
}

func (c *Client) GetHistory(ctx context.Context, url string) ([]wiki.Revision, error) {
	return c.FetchHistory(ctx, url)
}

func (c *Client) GetVotes(ctx context.Context, url string) ([]wiki.Vote, error) {
	return c.FetchVotes(ctx, url)
}

// GetComments returns the page's discussion as a thread tree.
func (c *Client) GetComments(ctx context.Context, url string) ([]*wiki.PostNode, error) {
	posts, err := c.FetchComments(ctx, url)
	if err != nil {
		return nil, err
	}
	return wiki.BuildPostTree(posts), nil
}
