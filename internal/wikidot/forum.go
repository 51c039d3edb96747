package wikidot

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/anqxyr/pyscp/internal/wiki"
)

// ListCategories returns the site's forum categories.
func (c *Client) ListCategories(ctx context.Context) ([]wiki.Category, error) {
	body, err := c.module(ctx, "forum/ForumStartModule", url.Values{})
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, wiki.NewRemoteError(wiki.Malformed, "list categories", c.site, err)
	}
	var cats []wiki.Category
	doc.Find("td.name").Each(func(_ int, cell *goquery.Selection) {
		link := cell.Find("a").First()
		href, _ := link.Attr("href")
		id := parseCategoryID(href)
		if id == 0 {
			return
		}
		size, _ := strconv.Atoi(strings.TrimSpace(cell.Siblings().Filter("td.threads").Text()))
		cats = append(cats, wiki.Category{
			ID:          id,
			Title:       strings.TrimSpace(link.Text()),
			Description: strings.TrimSpace(cell.Find(".description").Text()),
			Size:        size,
		})
	})
	return cats, nil
}

// ListThreads returns every thread in a forum category, walking the
// category pager to the end.
func (c *Client) ListThreads(ctx context.Context, categoryID int64) ([]wiki.Thread, error) {
	var threads []wiki.Thread
	pages := 1
	for pageNo := 1; pageNo <= pages; pageNo++ {
		params := url.Values{}
		params.Set("c", strconv.FormatInt(categoryID, 10))
		params.Set("p", strconv.Itoa(pageNo))
		body, err := c.module(ctx, "forum/ForumViewCategoryModule", params)
		if err != nil {
			return nil, err
		}
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
		if err != nil {
			return nil, wiki.NewRemoteError(wiki.Malformed, "list threads", c.site, err)
		}
		if pageNo == 1 {
			pages = parsePagerCount(doc)
		}
		doc.Find("td.name").Each(func(_ int, cell *goquery.Selection) {
			link := cell.Find("a").First()
			href, _ := link.Attr("href")
			id := parseThreadID(href)
			if id == 0 {
				return
			}
			threads = append(threads, wiki.Thread{
				ID:          id,
				CategoryID:  categoryID,
				Title:       strings.TrimSpace(link.Text()),
				Description: strings.TrimSpace(cell.Find(".description").Text()),
			})
		})
	}
	return threads, nil
}

// FetchThreadPosts returns the flat post list of a forum thread.
func (c *Client) FetchThreadPosts(ctx context.Context, threadID int64) ([]wiki.Post, error) {
	return c.fetchThreadPosts(ctx, c.site, threadID)
}

func (c *Client) fetchThreadPosts(ctx context.Context, opURL string, threadID int64) ([]wiki.Post, error) {
	var posts []wiki.Post
	pages := 1
	for pageNo := 1; pageNo <= pages; pageNo++ {
		params := url.Values{}
		params.Set("t", strconv.FormatInt(threadID, 10))
		params.Set("pageNo", strconv.Itoa(pageNo))
		body, err := c.module(ctx, "forum/ForumViewThreadPostsModule", params)
		if err != nil {
			return nil, err
		}
		if pageNo == 1 {
			doc, derr := goquery.NewDocumentFromReader(strings.NewReader(body))
			if derr != nil {
				return nil, wiki.NewRemoteError(wiki.Malformed, "fetch posts", opURL, derr)
			}
			pages = parsePagerCount(doc)
		}
		pagePosts, err := parsePosts(opURL, body)
		if err != nil {
			return nil, err
		}
		posts = append(posts, pagePosts...)
	}
	return posts, nil
}
