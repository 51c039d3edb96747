package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/anqxyr/pyscp/internal/wiki"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "snapshot.db"), Options{})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, s.Close())
	})
	return s
}

func intPtr(n int) *int {
	return &n
}

func samplePage(url string) wiki.Page {
	return wiki.Page{
		URL:     url,
		Title:   "Test Page",
		Author:  "alice",
		Created: time.Date(2012, 6, 1, 12, 30, 0, 0, time.UTC),
		Rating:  intPtr(42),
		Tags:    []string{"scp", "euclid"},
		Source:  "[[module Rate]]\nSome source.",
		HTML:    "<div id=\"main-content\">Some content.</div>",
	}
}

// TestPutGetPageRoundTrip verifies a stored page reads back identically.
func TestPutGetPageRoundTrip(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	page := samplePage("http://test.wikidot.com/scp-001")

	require.NoError(t, s.PutPage(ctx, page))
	got, err := s.GetPage(ctx, page.URL)
	require.NoError(t, err)
	require.Equal(t, page.URL, got.URL)
	require.Equal(t, page.Title, got.Title)
	require.Equal(t, page.Author, got.Author)
	require.True(t, page.Created.Equal(got.Created))
	require.NotNil(t, got.Rating)
	require.Equal(t, 42, *got.Rating)
	require.ElementsMatch(t, page.Tags, got.Tags)
	require.Equal(t, page.Source, got.Source)
	require.Equal(t, page.HTML, got.HTML)
}

// TestGetPageMissing asserts unknown URLs surface ErrNotFound.
func TestGetPageMissing(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	_, err := s.GetPage(context.Background(), "http://test.wikidot.com/nope")
	require.ErrorIs(t, err, ErrNotFound)
}

// TestPutPageReplaces verifies re-storing a URL overwrites rather than duplicates.
func TestPutPageReplaces(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	page := samplePage("http://test.wikidot.com/scp-002")
	require.NoError(t, s.PutPage(ctx, page))

	page.Title = "Renamed"
	page.Rating = nil
	page.Tags = []string{"keter"}
	require.NoError(t, s.PutPage(ctx, page))

	got, err := s.GetPage(ctx, page.URL)
	require.NoError(t, err)
	require.Equal(t, "Renamed", got.Title)
	require.Nil(t, got.Rating)
	require.Equal(t, []string{"keter"}, got.Tags)

	pages, err := s.ListPages(ctx, wiki.ListFilter{})
	require.NoError(t, err)
	require.Len(t, pages, 1)
}

// TestListPagesFilters covers author, tag, and creation-window filtering.
func TestListPagesFilters(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	early := samplePage("http://test.wikidot.com/a-early")
	early.Author = "alice"
	early.Created = time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC)
	late := samplePage("http://test.wikidot.com/b-late")
	late.Author = "bob"
	late.Tags = []string{"tale"}
	late.Created = time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.PutPage(ctx, early))
	require.NoError(t, s.PutPage(ctx, late))

	byAuthor, err := s.ListPages(ctx, wiki.ListFilter{Author: "alice"})
	require.NoError(t, err)
	require.Len(t, byAuthor, 1)
	require.Equal(t, early.URL, byAuthor[0].URL)

	byTag, err := s.ListPages(ctx, wiki.ListFilter{Tag: "tale"})
	require.NoError(t, err)
	require.Len(t, byTag, 1)
	require.Equal(t, late.URL, byTag[0].URL)

	window, err := s.ListPages(ctx, wiki.ListFilter{
		CreatedAfter:  time.Date(2009, 1, 1, 0, 0, 0, 0, time.UTC),
		CreatedBefore: time.Date(2012, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, window, 1)
	require.Equal(t, early.URL, window[0].URL)

	all, err := s.ListPages(ctx, wiki.ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, early.URL, all[0].URL, "listing must be URL-ordered")
}

// TestRevisionsRoundTrip checks history replacement and ascending order.
func TestRevisionsRoundTrip(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	url := "http://test.wikidot.com/scp-003"

	revs := []wiki.Revision{
		{ID: 103, Number: 2, Author: "carol", Time: time.Date(2013, 3, 3, 0, 0, 0, 0, time.UTC), Comment: "typo"},
		{ID: 101, Number: 0, Author: "alice", Time: time.Date(2013, 1, 1, 0, 0, 0, 0, time.UTC), Comment: "created"},
		{ID: 102, Number: 1, Author: "bob", Time: time.Date(2013, 2, 2, 0, 0, 0, 0, time.UTC)},
	}
	require.NoError(t, s.PutRevisions(ctx, url, revs))

	got, err := s.GetHistory(ctx, url)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, rev := range got {
		require.Equal(t, i, rev.Number, "history must be ordered by revision number")
	}
	require.Equal(t, "created", got[0].Comment)

	// Replacement drops rows missing from the new set.
	require.NoError(t, s.PutRevisions(ctx, url, revs[:1]))
	got, err = s.GetHistory(ctx, url)
	require.NoError(t, err)
	require.Len(t, got, 1)
}

// TestVotesRoundTrip covers vote storage including abstentions.
func TestVotesRoundTrip(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	url := "http://test.wikidot.com/scp-004"

	votes := []wiki.Vote{
		{User: "alice", Value: wiki.VoteUp},
		{User: "bob", Value: wiki.VoteDown},
		{User: "carol", Value: wiki.VoteAbstain},
	}
	require.NoError(t, s.PutVotes(ctx, url, votes))

	got, err := s.GetVotes(ctx, url)
	require.NoError(t, err)
	require.Len(t, got, 3)
	byUser := make(map[string]int)
	for _, v := range got {
		byUser[v.User] = v.Value
	}
	require.Equal(t, wiki.VoteUp, byUser["alice"])
	require.Equal(t, wiki.VoteDown, byUser["bob"])
	require.Equal(t, wiki.VoteAbstain, byUser["carol"])
}

// TestCommentsRoundTrip verifies the flat comment list survives storage.
func TestCommentsRoundTrip(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	url := "http://test.wikidot.com/scp-005"

	posts := []wiki.Post{
		{ID: 10, ParentID: 0, Title: "First", Author: "alice", Time: time.Date(2014, 1, 1, 0, 0, 0, 0, time.UTC), Content: "<p>hi</p>"},
		{ID: 11, ParentID: 10, Author: "bob", Time: time.Date(2014, 1, 2, 0, 0, 0, 0, time.UTC), Content: "<p>re</p>"},
	}
	require.NoError(t, s.PutComments(ctx, url, posts))

	got, err := s.GetComments(ctx, url)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, int64(10), got[0].ID)
	require.Equal(t, int64(10), got[1].ParentID)
}

// TestEmptyFacetsAreNotErrors asserts facets with no rows read back as empty.
func TestEmptyFacetsAreNotErrors(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	url := "http://test.wikidot.com/scp-006"

	require.NoError(t, s.PutVotes(ctx, url, nil))
	votes, err := s.GetVotes(ctx, url)
	require.NoError(t, err)
	require.Empty(t, votes)

	comments, err := s.GetComments(ctx, url)
	require.NoError(t, err)
	require.Empty(t, comments)

	revs, err := s.GetHistory(ctx, url)
	require.NoError(t, err)
	require.Empty(t, revs)
}

// TestThreadsRoundTrip covers forum thread storage.
func TestThreadsRoundTrip(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	thread := wiki.Thread{ID: 777, CategoryID: 5, Title: "Greetings", Description: "say hi"}
	posts := []wiki.Post{
		{ID: 1, Author: "alice", Time: time.Date(2014, 5, 1, 0, 0, 0, 0, time.UTC), Content: "<p>hello</p>"},
	}
	require.NoError(t, s.PutThread(ctx, thread, posts))

	threads, err := s.ListThreads(ctx)
	require.NoError(t, err)
	require.Len(t, threads, 1)
	require.Equal(t, thread.Title, threads[0].Title)

	got, err := s.GetThreadPosts(ctx, thread.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "alice", got[0].Author)
}

// TestProgressTracking exercises facet marks, failure records, and resume reads.
func TestProgressTracking(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	url := "http://test.wikidot.com/scp-007"

	f, err := s.Progress(ctx, url)
	require.NoError(t, err)
	require.False(t, f.Complete())

	require.NoError(t, s.MarkFacet(ctx, url, FacetMetadata))
	require.NoError(t, s.MarkFacet(ctx, url, FacetHistory))
	f, err = s.Progress(ctx, url)
	require.NoError(t, err)
	require.True(t, f.Has(FacetMetadata))
	require.True(t, f.Has(FacetHistory))
	require.False(t, f.Has(FacetVotes))
	require.False(t, f.Complete())

	require.NoError(t, s.MarkFacet(ctx, url, FacetVotes))
	require.NoError(t, s.MarkFacet(ctx, url, FacetComments))
	f, err = s.Progress(ctx, url)
	require.NoError(t, err)
	require.True(t, f.Complete())

	require.NoError(t, s.MarkFailed(ctx, url, "comments forbidden"))
	all, err := s.AllProgress(ctx)
	require.NoError(t, err)
	require.Equal(t, "comments forbidden", all[url].FailedReason)

	require.NoError(t, s.ClearFailure(ctx, url))
	f, err = s.Progress(ctx, url)
	require.NoError(t, err)
	require.Empty(t, f.FailedReason)
}

// TestReadOnlyOpen verifies read-only opens serve existing data and refuse missing files.
func TestReadOnlyOpen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "snapshot.db")
	ctx := context.Background()

	rw, err := Open(path, Options{})
	require.NoError(t, err)
	page := samplePage("http://test.wikidot.com/scp-008")
	require.NoError(t, rw.PutPage(ctx, page))
	require.NoError(t, rw.Close())

	ro, err := Open(path, Options{ReadOnly: true})
	require.NoError(t, err)
	defer func() {
		require.NoError(t, ro.Close())
	}()
	got, err := ro.GetPage(ctx, page.URL)
	require.NoError(t, err)
	require.Equal(t, page.Title, got.Title)

	other := samplePage("http://test.wikidot.com/scp-009")
	require.Error(t, ro.PutPage(ctx, other), "read-only store must refuse writes")
	_, err = ro.GetPage(ctx, other.URL)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = Open(filepath.Join(dir, "missing.db"), Options{ReadOnly: true})
	require.Error(t, err)
}

// TestCorruptTimestampSurfaces asserts a mangled stored timestamp becomes a
// storage error instead of a silent zero time.
func TestCorruptTimestampSurfaces(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	page := samplePage("http://test.wikidot.com/scp-010")
	require.NoError(t, s.PutPage(ctx, page))

	_, err := s.db.ExecContext(ctx, `UPDATE pages SET created = 'garbage' WHERE url = ?`, page.URL)
	require.NoError(t, err)

	_, err = s.GetPage(ctx, page.URL)
	require.Error(t, err)
	var serr *StorageError
	require.ErrorAs(t, err, &serr)
}
