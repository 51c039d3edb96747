package wikidot

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/anqxyr/pyscp/internal/wiki"
)

var (
	pageIDPattern   = regexp.MustCompile(`pageId\s*=\s*([0-9]+);`)
	threadPattern   = regexp.MustCompile(`/forum/t-([0-9]+)`)
	categoryPattern = regexp.MustCompile(`/forum/c-([0-9]+)`)
	elemIDPattern   = regexp.MustCompile(`-([0-9]+)(?:/|$)`)
	pagerNoPattern  = regexp.MustCompile(`of\s+([0-9]+)`)
)

// parseThreadID extracts the thread id from a forum link such as
// "/forum/t-1234567/greetings".
func parseThreadID(href string) int64 {
	m := threadPattern.FindStringSubmatch(href)
	if m == nil {
		return 0
	}
	id, _ := strconv.ParseInt(m[1], 10, 64)
	return id
}

// parseCategoryID extracts the category id from a forum link such as
// "/forum/c-50752/general".
func parseCategoryID(href string) int64 {
	m := categoryPattern.FindStringSubmatch(href)
	if m == nil {
		return 0
	}
	id, _ := strconv.ParseInt(m[1], 10, 64)
	return id
}

// parsePageInfo extracts the page id and discussion thread id from a raw
// page. The thread id is zero for pages with comments disabled.
func parsePageInfo(url, html string) (pageInfo, error) {
	m := pageIDPattern.FindStringSubmatch(html)
	if m == nil {
		return pageInfo{}, wiki.NewRemoteError(wiki.Malformed, "parse page", url,
			fmt.Errorf("page id not found"))
	}
	id, _ := strconv.ParseInt(m[1], 10, 64)
	info := pageInfo{id: id}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return pageInfo{}, wiki.NewRemoteError(wiki.Malformed, "parse page", url, err)
	}
	if href, ok := doc.Find("#discuss-button").Attr("href"); ok {
		if tm := threadPattern.FindStringSubmatch(href); tm != nil {
			info.threadID, _ = strconv.ParseInt(tm[1], 10, 64)
		}
	}
	return info, nil
}

// parsePageBody pulls the displayed title, content html, and tag set out
// of a raw page.
func parsePageBody(url, html string) (title, content string, tags []string, err error) {
	doc, derr := goquery.NewDocumentFromReader(strings.NewReader(html))
	if derr != nil {
		return "", "", nil, wiki.NewRemoteError(wiki.Malformed, "parse page", url, derr)
	}
	title = strings.TrimSpace(doc.Find("#page-title").Text())
	content, _ = goquery.OuterHtml(doc.Find("#main-content"))
	doc.Find(".page-tags a").Each(func(_ int, s *goquery.Selection) {
		if tag := strings.TrimSpace(s.Text()); tag != "" {
			tags = append(tags, tag)
		}
	})
	return title, content, tags, nil
}

// parseElementID extracts the trailing id number from a link href such as
// "/forum/t-1234567/page-name" or an element id like "post-4567".
func parseElementID(s string) int64 {
	m := elemIDPattern.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	id, _ := strconv.ParseInt(m[1], 10, 64)
	return id
}

// parseOdate extracts the unix timestamp Wikidot embeds as an element
// class, e.g. "odate time_1341000000 format_...". A fragment without the
// marker is malformed rather than undated.
func parseOdate(sel *goquery.Selection) (time.Time, error) {
	classes, _ := sel.Find(".odate").First().Attr("class")
	if classes == "" {
		if own, ok := sel.Attr("class"); ok && strings.Contains(own, "odate") {
			classes = own
		}
	}
	for _, class := range strings.Fields(classes) {
		if !strings.HasPrefix(class, "time_") {
			continue
		}
		unix, err := strconv.ParseInt(strings.TrimPrefix(class, "time_"), 10, 64)
		if err == nil {
			return time.Unix(unix, 0).UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("odate timestamp not found")
}

// createdAtFormat is how ListPages renders %%created_at%%.
const createdAtFormat = "02 Jan 2006 15:04"

func parseCreatedAt(s string) (time.Time, error) {
	t, err := time.Parse(createdAtFormat, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("bad created_at %q: %w", s, err)
	}
	return t.UTC(), nil
}

// parsePagerCount reads the "page 1 of N" marker from a module body;
// single-page results have no pager and report 1.
func parsePagerCount(doc *goquery.Document) int {
	text := doc.Find(".pager-no").First().Text()
	if m := pagerNoPattern.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return n
		}
	}
	return 1
}

// parsePosts walks the nested post containers of a thread fragment,
// recording each post's parent as it descends.
func parsePosts(url string, body string) ([]wiki.Post, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, wiki.NewRemoteError(wiki.Malformed, "parse posts", url, err)
	}
	var posts []wiki.Post
	var perr error
	collect := func(s *goquery.Selection) {
		sub, err := crawlPosts(s, 0)
		if err != nil && perr == nil {
			perr = err
		}
		posts = append(posts, sub...)
	}
	doc.Find("body > .post-container, #thread-container-posts > .post-container").Each(
		func(_ int, s *goquery.Selection) { collect(s) })
	if len(posts) == 0 && perr == nil {
		// Fragments served without a wrapping container.
		doc.Find(".post-container").Each(func(_ int, s *goquery.Selection) {
			if s.ParentsFiltered(".post-container").Length() == 0 {
				collect(s)
			}
		})
	}
	if perr != nil {
		return nil, wiki.NewRemoteError(wiki.Malformed, "parse posts", url, perr)
	}
	return posts, nil
}

func crawlPosts(container *goquery.Selection, parent int64) ([]wiki.Post, error) {
	post := container.ChildrenFiltered(".post").First()
	if post.Length() == 0 {
		return nil, nil
	}
	id := parseElementID(post.AttrOr("id", ""))
	ts, err := parseOdate(post)
	if err != nil {
		return nil, fmt.Errorf("post %d: %w", id, err)
	}
	content, _ := post.Find(".content").First().Html()
	p := wiki.Post{
		ID:       id,
		ParentID: parent,
		Title:    strings.TrimSpace(post.Find(".title").First().Text()),
		Author:   strings.TrimSpace(post.Find(".printuser").First().Text()),
		Time:     ts,
		Content:  strings.TrimSpace(content),
	}
	out := []wiki.Post{p}
	var cerr error
	container.ChildrenFiltered(".post-container").Each(func(_ int, child *goquery.Selection) {
		sub, err := crawlPosts(child, id)
		if err != nil && cerr == nil {
			cerr = err
		}
		out = append(out, sub...)
	})
	if cerr != nil {
		return nil, cerr
	}
	return out, nil
}
