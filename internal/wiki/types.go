package wiki

import (
	"sort"
	"time"
)

// Page is a point-in-time snapshot of a single wiki page. The canonical URL
// is the sole identity; re-fetching the same URL replaces prior content.
type Page struct {
	URL     string    `json:"url"`
	Title   string    `json:"title"`
	Author  string    `json:"author"`
	Created time.Time `json:"created"`
	// Rating is nil for pages with voting disabled. A present zero rating
	// and an absent rating mean different things and are never conflated.
	Rating   *int     `json:"rating,omitempty"`
	Tags     []string `json:"tags"`
	Source   string   `json:"source"`
	HTML     string   `json:"html"`
	ThreadID int64    `json:"thread_id,omitempty"`
}

// HasTag reports whether the page carries the given tag.
func (p Page) HasTag(tag string) bool {
	for _, t := range p.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Revision is one historical edit of a page. Number is unique within the
// page and 0-based: revision 0 is the page creation.
type Revision struct {
	ID      int64     `json:"id"`
	Number  int       `json:"number"`
	Author  string    `json:"author"`
	Time    time.Time `json:"time"`
	Comment string    `json:"comment"`
}

// Vote value sentinels. Abstentions are preserved as VoteAbstain rather
// than coerced to zero-meaning-downvote or dropped.
const (
	VoteUp      = 1
	VoteDown    = -1
	VoteAbstain = 0
)

// Vote is a single ballot on a page. A given voter appears at most once
// per page.
type Vote struct {
	User  string `json:"user"`
	Value int    `json:"value"`
}

// Post is one comment in a page's discussion (or a post in a standalone
// forum thread). ParentID is 0 for root posts; otherwise it refers to
// another post in the same thread.
type Post struct {
	ID       int64     `json:"id"`
	ParentID int64     `json:"parent_id,omitempty"`
	Title    string    `json:"title,omitempty"`
	Author   string    `json:"author"`
	Time     time.Time `json:"time"`
	Content  string    `json:"content"`
}

// PostNode is a post plus its replies, produced when a flat post list is
// reassembled into a tree.
type PostNode struct {
	Post
	Children []*PostNode `json:"children,omitempty"`
}

// Thread is a standalone forum thread.
type Thread struct {
	ID          int64  `json:"id"`
	CategoryID  int64  `json:"category_id,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Category is a forum category grouping threads.
type Category struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Size        int    `json:"size"`
}

// BuildPostTree reassembles a flat post list into root nodes. Posts whose
// parent is missing from the set are attached as roots rather than dropped,
// so partial data never silently disappears.
func BuildPostTree(posts []Post) []*PostNode {
	nodes := make(map[int64]*PostNode, len(posts))
	order := make([]*PostNode, 0, len(posts))
	for _, p := range posts {
		n := &PostNode{Post: p}
		nodes[p.ID] = n
		order = append(order, n)
	}
	var roots []*PostNode
	for _, n := range order {
		if n.ParentID == 0 {
			roots = append(roots, n)
			continue
		}
		parent, ok := nodes[n.ParentID]
		if !ok || parent == n {
			roots = append(roots, n)
			continue
		}
		parent.Children = append(parent.Children, n)
	}

	// Parent cycles attach to each other and hang off no root. Promote
	// the first node of each unreached cluster, detaching it from its
	// parent so the result stays a tree.
	reached := make(map[*PostNode]struct{}, len(order))
	var mark func(*PostNode)
	mark = func(n *PostNode) {
		if _, ok := reached[n]; ok {
			return
		}
		reached[n] = struct{}{}
		for _, child := range n.Children {
			mark(child)
		}
	}
	for _, r := range roots {
		mark(r)
	}
	for _, n := range order {
		if _, ok := reached[n]; ok {
			continue
		}
		if parent, ok := nodes[n.ParentID]; ok {
			parent.Children = detach(parent.Children, n)
		}
		roots = append(roots, n)
		mark(n)
	}

	sortNodes(roots)
	return roots
}

func detach(nodes []*PostNode, target *PostNode) []*PostNode {
	out := nodes[:0]
	for _, n := range nodes {
		if n != target {
			out = append(out, n)
		}
	}
	return out
}

func sortNodes(nodes []*PostNode) {
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Time.Equal(nodes[j].Time) {
			return nodes[i].ID < nodes[j].ID
		}
		return nodes[i].Time.Before(nodes[j].Time)
	})
	for _, n := range nodes {
		sortNodes(n.Children)
	}
}
