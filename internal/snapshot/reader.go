package snapshot

import (
	"context"

	"github.com/anqxyr/pyscp/internal/store"
	"github.com/anqxyr/pyscp/internal/wiki"
)

// Reader serves a snapshot file through the same browsing contract the
// live client satisfies. Missing pages surface as store.ErrNotFound.
type Reader struct {
	store *store.Store
}

var _ wiki.Browser = (*Reader)(nil)

// OpenReader opens the snapshot at path for reading.
func OpenReader(path string) (*Reader, error) {
	s, err := store.Open(path, store.Options{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	return &Reader{store: s}, nil
}

// NewReader wraps an already-open store.
func NewReader(s *store.Store) *Reader {
	return &Reader{store: s}
}

func (r *Reader) Close() error {
	return r.store.Close()
}

func (r *Reader) LoadPage(ctx context.Context, url string) (wiki.Page, error) {
	return r.store.GetPage(ctx, url)
}

func (r *Reader) ListPages(ctx context.Context, filter wiki.ListFilter) ([]wiki.Page, error) {
	return r.store.ListPages(ctx, filter)
}

func (r *Reader) GetHistory(ctx context.Context, url string) ([]wiki.Revision, error) {
	return r.store.GetHistory(ctx, url)
}

func (r *Reader) GetVotes(ctx context.Context, url string) ([]wiki.Vote, error) {
	return r.store.GetVotes(ctx, url)
}

// GetComments rebuilds the page's discussion tree from the stored flat
// post list.
func (r *Reader) GetComments(ctx context.Context, url string) ([]*wiki.PostNode, error) {
	posts, err := r.store.GetComments(ctx, url)
	if err != nil {
		return nil, err
	}
	return wiki.BuildPostTree(posts), nil
}

// ListThreads exposes the snapshotted forum threads.
func (r *Reader) ListThreads(ctx context.Context) ([]wiki.Thread, error) {
	return r.store.ListThreads(ctx)
}

// GetThreadPosts rebuilds a forum thread's post tree.
func (r *Reader) GetThreadPosts(ctx context.Context, threadID int64) ([]*wiki.PostNode, error) {
	posts, err := r.store.GetThreadPosts(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return wiki.BuildPostTree(posts), nil
}
