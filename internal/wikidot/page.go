package wikidot

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/anqxyr/pyscp/internal/wiki"
)

// listFields are the ListPages body keys requested for page metadata.
var listFields = []string{"fullname", "title", "created_by", "created_at", "rating", "tags"}

// moduleBody renders the ListPages module_body template that makes the
// response parseable: one ||key||%%key%% || row per field.
func moduleBody(fields []string) string {
	rows := make([]string, len(fields))
	for i, f := range fields {
		rows[i] = fmt.Sprintf("||%[1]s||%%%%%[1]s%%%% ||", f)
	}
	return strings.Join(rows, "\n")
}

// listPagesRaw performs one ListPages call and returns the parsed
// key/value rows of every list item in the fragment.
func (c *Client) listPagesRaw(ctx context.Context, params url.Values) ([]map[string]string, error) {
	body, err := c.module(ctx, "list/ListPagesModule", params)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, wiki.NewRemoteError(wiki.Malformed, "list pages", c.site, err)
	}
	var items []map[string]string
	doc.Find("div.list-pages-item").Each(func(_ int, item *goquery.Selection) {
		data := make(map[string]string)
		item.Find("tr").Each(func(_ int, row *goquery.Selection) {
			cells := row.Find("td")
			if cells.Length() < 2 {
				return
			}
			key := strings.TrimSpace(cells.Eq(0).Text())
			data[key] = strings.TrimSpace(cells.Eq(1).Text())
		})
		if len(data) > 0 {
			items = append(items, data)
		}
	})
	return items, nil
}

// ListURLs returns one page of the site's URL listing. An empty token
// starts at the beginning; an empty URLPage.Next means exhaustion.
func (c *Client) ListURLs(ctx context.Context, filter wiki.ListFilter, token string) (wiki.URLPage, error) {
	offset := 0
	if token != "" {
		n, err := strconv.Atoi(token)
		if err != nil {
			return wiki.URLPage{}, wiki.NewRemoteError(wiki.Malformed, "list urls", c.site,
				fmt.Errorf("bad page token %q", token))
		}
		offset = n
	}
	params := url.Values{}
	params.Set("perPage", strconv.Itoa(listPageSize))
	params.Set("offset", strconv.Itoa(offset))
	params.Set("module_body", moduleBody([]string{"fullname"}))
	if filter.Author != "" {
		params.Set("created_by", filter.Author)
	}
	if filter.Tag != "" {
		params.Set("tags", filter.Tag)
	}

	items, err := c.listPagesRaw(ctx, params)
	if err != nil {
		return wiki.URLPage{}, err
	}
	page := wiki.URLPage{}
	for _, item := range items {
		name := item["fullname"]
		if name == "" {
			continue
		}
		page.URLs = append(page.URLs, c.PageURL(name))
	}
	if len(page.URLs) > 0 {
		page.Next = strconv.Itoa(offset + len(page.URLs))
	}
	return page, nil
}

// CountPages returns the total page count the site reports via the
// %%total%% ListPages body.
func (c *Client) CountPages(ctx context.Context) (int, error) {
	params := url.Values{}
	params.Set("perPage", "1")
	params.Set("module_body", "%%total%%")
	body, err := c.module(ctx, "list/ListPagesModule", params)
	if err != nil {
		return 0, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return 0, wiki.NewRemoteError(wiki.Malformed, "count pages", c.site, err)
	}
	text := strings.TrimSpace(doc.Find("p").First().Text())
	if text == "" {
		text = strings.TrimSpace(doc.Text())
	}
	total, err := strconv.Atoi(text)
	if err != nil {
		return 0, wiki.NewRemoteError(wiki.Malformed, "count pages", c.site,
			fmt.Errorf("unparseable total %q", text))
	}
	return total, nil
}

// FetchPage assembles a page's metadata facet: the rendered content and
// tags from the page itself, list metadata (author, creation time,
// rating), and the wiki source.
func (c *Client) FetchPage(ctx context.Context, pageURL string) (wiki.Page, error) {
	html, err := c.get(ctx, pageURL)
	if err != nil {
		return wiki.Page{}, err
	}
	info, err := parsePageInfo(pageURL, html)
	if err != nil {
		return wiki.Page{}, err
	}
	c.storeInfo(pageURL, info)

	title, content, tags, err := parsePageBody(pageURL, html)
	if err != nil {
		return wiki.Page{}, err
	}
	page := wiki.Page{
		URL:      pageURL,
		Title:    title,
		Tags:     tags,
		HTML:     content,
		ThreadID: info.threadID,
	}

	params := url.Values{}
	params.Set("perPage", "1")
	params.Set("fullname", c.pageName(pageURL))
	params.Set("module_body", moduleBody(listFields))
	items, err := c.listPagesRaw(ctx, params)
	if err != nil {
		return wiki.Page{}, err
	}
	if len(items) > 0 {
		data := items[0]
		if v := data["title"]; v != "" {
			page.Title = v
		}
		page.Author = data["created_by"]
		created, cerr := parseCreatedAt(data["created_at"])
		if cerr != nil {
			return wiki.Page{}, wiki.NewRemoteError(wiki.Malformed, "fetch page", pageURL, cerr)
		}
		page.Created = created
		if v := data["rating"]; v != "" {
			if r, err := strconv.Atoi(v); err == nil {
				page.Rating = &r
			}
		}
		if v := data["tags"]; v != "" && len(page.Tags) == 0 {
			page.Tags = strings.Fields(v)
		}
	}

	source, err := c.fetchSource(ctx, pageURL, info.id)
	if err != nil {
		return wiki.Page{}, err
	}
	page.Source = source
	return page, nil
}

func (c *Client) pageName(pageURL string) string {
	return strings.Trim(strings.TrimPrefix(pageURL, c.site), "/")
}

func (c *Client) fetchSource(ctx context.Context, pageURL string, pageID int64) (string, error) {
	params := url.Values{}
	params.Set("page_id", strconv.FormatInt(pageID, 10))
	body, err := c.module(ctx, "viewsource/ViewSourceModule", params)
	if err != nil {
		return "", err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return "", wiki.NewRemoteError(wiki.Malformed, "view source", pageURL, err)
	}
	source := doc.Find(".page-source").First().Text()
	if source == "" {
		source = doc.Text()
	}
	return strings.ReplaceAll(strings.TrimSpace(source), "\u00a0", " "), nil
}

// FetchHistory returns the full revision history of a page, ascending by
// revision number.
func (c *Client) FetchHistory(ctx context.Context, pageURL string) ([]wiki.Revision, error) {
	info, err := c.resolveInfo(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Set("page_id", strconv.FormatInt(info.id, 10))
	params.Set("page", "1")
	params.Set("perpage", "99999")
	body, err := c.module(ctx, "history/PageRevisionListModule", params)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, wiki.NewRemoteError(wiki.Malformed, "fetch history", pageURL, err)
	}

	var revs []wiki.Revision
	rows := doc.Find("tr")
	// Row zero is the header; data rows arrive newest first.
	for i := rows.Length() - 1; i >= 1; i-- {
		row := rows.Eq(i)
		cells := row.Find("td")
		if cells.Length() < 7 {
			continue
		}
		number, err := strconv.Atoi(strings.Trim(strings.TrimSpace(cells.Eq(0).Text()), "."))
		if err != nil {
			return nil, wiki.NewRemoteError(wiki.Malformed, "fetch history", pageURL,
				fmt.Errorf("bad revision number %q", cells.Eq(0).Text()))
		}
		ts, terr := parseOdate(cells.Eq(5))
		if terr != nil {
			return nil, wiki.NewRemoteError(wiki.Malformed, "fetch history", pageURL,
				fmt.Errorf("revision %d: %w", number, terr))
		}
		revs = append(revs, wiki.Revision{
			ID:      parseElementID(row.AttrOr("id", "")),
			Number:  number,
			Author:  strings.TrimSpace(cells.Eq(4).Text()),
			Time:    ts,
			Comment: strings.TrimSpace(cells.Eq(6).Text()),
		})
	}
	return revs, nil
}

// FetchVotes returns every ballot on a page. A "+" renders as an upvote,
// "-" as a downvote; anything else is preserved as an abstention rather
// than coerced.
func (c *Client) FetchVotes(ctx context.Context, pageURL string) ([]wiki.Vote, error) {
	info, err := c.resolveInfo(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Set("page_id", strconv.FormatInt(info.id, 10))
	body, err := c.module(ctx, "pagerate/WhoRatedPageModule", params)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, wiki.NewRemoteError(wiki.Malformed, "fetch votes", pageURL, err)
	}

	var spans []string
	doc.Find("span").Each(func(_ int, s *goquery.Selection) {
		if s.Find("span").Length() > 0 {
			return
		}
		spans = append(spans, strings.TrimSpace(s.Text()))
	})
	var votes []wiki.Vote
	for i := 0; i+1 < len(spans); i += 2 {
		value := wiki.VoteAbstain
		switch spans[i+1] {
		case "+":
			value = wiki.VoteUp
		case "-":
			value = wiki.VoteDown
		}
		votes = append(votes, wiki.Vote{User: spans[i], Value: value})
	}
	return votes, nil
}

// FetchComments returns the flat post list of a page's discussion thread.
// Pages with comments disabled return an empty list.
func (c *Client) FetchComments(ctx context.Context, pageURL string) ([]wiki.Post, error) {
	info, err := c.resolveInfo(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	if info.threadID == 0 {
		return nil, nil
	}
	return c.fetchThreadPosts(ctx, pageURL, info.threadID)
}
