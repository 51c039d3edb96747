package wiki

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func post(id, parent int64, minute int) Post {
	return Post{
		ID:       id,
		ParentID: parent,
		Author:   "someone",
		Time:     time.Date(2014, 1, 1, 0, minute, 0, 0, time.UTC),
	}
}

// TestBuildPostTreeNesting verifies replies attach under their parents in time order.
func TestBuildPostTreeNesting(t *testing.T) {
	t.Parallel()

	roots := BuildPostTree([]Post{
		post(3, 1, 30),
		post(1, 0, 10),
		post(2, 0, 20),
		post(4, 3, 40),
	})
	require.Len(t, roots, 2)
	require.Equal(t, int64(1), roots[0].ID)
	require.Equal(t, int64(2), roots[1].ID)
	require.Len(t, roots[0].Children, 1)
	require.Equal(t, int64(3), roots[0].Children[0].ID)
	require.Len(t, roots[0].Children[0].Children, 1)
	require.Equal(t, int64(4), roots[0].Children[0].Children[0].ID)
}

// TestBuildPostTreeOrphans asserts posts with missing parents become roots.
func TestBuildPostTreeOrphans(t *testing.T) {
	t.Parallel()

	roots := BuildPostTree([]Post{
		post(5, 99, 10), // parent never stored
		post(6, 0, 20),
	})
	require.Len(t, roots, 2)
	require.Equal(t, int64(5), roots[0].ID)
	require.Equal(t, int64(6), roots[1].ID)
}

// TestBuildPostTreeTiesOnID checks equal timestamps fall back to ID order.
func TestBuildPostTreeTiesOnID(t *testing.T) {
	t.Parallel()

	roots := BuildPostTree([]Post{
		post(9, 0, 10),
		post(7, 0, 10),
		post(8, 0, 10),
	})
	require.Len(t, roots, 3)
	require.Equal(t, int64(7), roots[0].ID)
	require.Equal(t, int64(8), roots[1].ID)
	require.Equal(t, int64(9), roots[2].ID)
}

// TestBuildPostTreeParentCycle ensures posts referencing each other as
// parents still surface instead of vanishing from every root.
func TestBuildPostTreeParentCycle(t *testing.T) {
	t.Parallel()

	roots := BuildPostTree([]Post{
		post(10, 0, 10),
		post(11, 12, 20), // 11 and 12 claim each other
		post(12, 11, 30),
	})
	require.Len(t, roots, 2)
	require.Equal(t, int64(10), roots[0].ID)
	require.Equal(t, int64(11), roots[1].ID)
	require.Len(t, roots[1].Children, 1)
	require.Equal(t, int64(12), roots[1].Children[0].ID)
	require.Empty(t, roots[1].Children[0].Children)
}

// TestListFilterMatches covers each filter field plus combinations.
func TestListFilterMatches(t *testing.T) {
	t.Parallel()

	page := Page{
		URL:     "http://test.wikidot.com/scp-173",
		Author:  "alice",
		Created: time.Date(2012, 6, 1, 0, 0, 0, 0, time.UTC),
		Tags:    []string{"scp", "euclid"},
	}

	require.True(t, ListFilter{}.Matches(page))
	require.True(t, ListFilter{Author: "alice"}.Matches(page))
	require.False(t, ListFilter{Author: "bob"}.Matches(page))
	require.True(t, ListFilter{Tag: "scp"}.Matches(page))
	require.False(t, ListFilter{Tag: "tale"}.Matches(page))
	require.True(t, ListFilter{
		CreatedAfter:  time.Date(2012, 1, 1, 0, 0, 0, 0, time.UTC),
		CreatedBefore: time.Date(2013, 1, 1, 0, 0, 0, 0, time.UTC),
	}.Matches(page))
	require.False(t, ListFilter{
		CreatedBefore: time.Date(2012, 1, 1, 0, 0, 0, 0, time.UTC),
	}.Matches(page))
	require.False(t, ListFilter{Author: "alice", Tag: "tale"}.Matches(page))
}

// TestErrorClassification verifies kind extraction and retry classing.
func TestErrorClassification(t *testing.T) {
	t.Parallel()

	transient := NewRemoteError(Transient, "fetch page", "http://x/p", errors.New("503"))
	notFound := NewRemoteError(NotFound, "fetch page", "http://x/p", errors.New("404"))

	require.True(t, IsTransient(transient))
	require.False(t, IsTransient(notFound))
	require.True(t, IsNotFound(notFound))
	require.False(t, IsNotFound(transient))

	// Unknown errors default to transient so the dispatcher retries them.
	require.Equal(t, Transient, KindOf(errors.New("connection reset")))
	require.False(t, IsTransient(nil))

	wrapped := NewRemoteError(Forbidden, "fetch votes", "http://x/p", errors.New("no_permission"))
	require.Equal(t, Forbidden, KindOf(wrapped))
	require.Contains(t, wrapped.Error(), "forbidden")
}
