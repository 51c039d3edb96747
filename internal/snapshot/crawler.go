// Package snapshot takes and serves point-in-time copies of a wiki. The
// Creator walks the site's full page inventory through a rate-limited
// dispatcher and persists every facet into a single Store file; the
// Reader serves that file back through the same browsing contract the
// live client satisfies.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/anqxyr/pyscp/internal/clock"
	"github.com/anqxyr/pyscp/internal/clock/system"
	"github.com/anqxyr/pyscp/internal/dispatch"
	"github.com/anqxyr/pyscp/internal/progress"
	"github.com/anqxyr/pyscp/internal/store"
	"github.com/anqxyr/pyscp/internal/wiki"
)

const defaultWorkers = 8

// Options configures a snapshot run. Client, Store, and Dispatcher are
// required; everything else has a usable default.
type Options struct {
	// Site is the canonical site URL, recorded on progress events.
	Site string
	// Client provides live facet access.
	Client wiki.Client
	// Store receives every fetched facet.
	Store *store.Store
	// Dispatcher paces and retries all remote calls.
	Dispatcher *dispatch.Dispatcher
	// Workers bounds how many pages are processed at once.
	Workers int
	// Filter restricts the crawl to a subset of the site. A filtered
	// crawl skips the total-count completeness check, since the site
	// total covers the whole inventory.
	Filter wiki.ListFilter
	// Forums adds the site's forum threads to the snapshot.
	Forums bool

	Progress progress.Emitter
	Logger   *zap.Logger
	Clock    clock.Clock
}

// Summary reports what a run accomplished. Failures maps each failed
// page URL to the reason recorded for it.
type Summary struct {
	RunID      [16]byte
	Enumerated int
	Completed  int
	Skipped    int
	Failed     int
	Failures   map[string]string
	Threads    int
	Elapsed    time.Duration
}

// Creator orchestrates one site snapshot. It is not reusable; build a
// fresh Creator per run.
type Creator struct {
	opts   Options
	logger *zap.Logger
	clock  clock.Clock
	emit   progress.Emitter

	running    atomic.Bool
	stopped    atomic.Bool
	enumerated atomic.Int64
	completed  atomic.Int64
	skipped    atomic.Int64
	failed     atomic.Int64

	failMu   sync.Mutex
	failures map[string]string
}

// Running reports whether a crawl is in flight.
func (c *Creator) Running() bool {
	return c.running.Load()
}

// Counts reports live page totals for status surfaces.
func (c *Creator) Counts() (enumerated, completed, failed int) {
	return int(c.enumerated.Load()), int(c.completed.Load()), int(c.failed.Load())
}

// NewCreator validates the options and prepares a run.
func NewCreator(opts Options) (*Creator, error) {
	if opts.Client == nil {
		return nil, errors.New("snapshot: client is required")
	}
	if opts.Store == nil {
		return nil, errors.New("snapshot: store is required")
	}
	if opts.Dispatcher == nil {
		return nil, errors.New("snapshot: dispatcher is required")
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.Progress == nil {
		opts.Progress = progress.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = system.New()
	}
	return &Creator{
		opts:     opts,
		logger:   opts.Logger,
		clock:    opts.Clock,
		emit:     opts.Progress,
		failures: make(map[string]string),
	}, nil
}

// Stop asks a running crawl to wind down. No new pages are scheduled;
// pages already in flight finish all their facets and persist, so the
// store stays resumable and Run returns a partial summary without error.
func (c *Creator) Stop() {
	c.stopped.Store(true)
}

// Run takes the snapshot. Individual page failures are recorded and do
// not abort the run; enumeration failures and an incomplete inventory do.
func (c *Creator) Run(ctx context.Context) (Summary, error) {
	c.running.Store(true)
	defer c.running.Store(false)

	runID := progress.NewRunID()
	started := c.clock.Now()
	summary := Summary{RunID: runID}

	c.event(progress.Event{RunID: runID, Stage: progress.StageCrawlStart})
	err := c.run(ctx, runID, &summary)
	summary.Completed = int(c.completed.Load())
	summary.Skipped = int(c.skipped.Load())
	summary.Failed = int(c.failed.Load())
	summary.Elapsed = c.clock.Now().Sub(started)
	c.failMu.Lock()
	if len(c.failures) > 0 {
		summary.Failures = make(map[string]string, len(c.failures))
		for url, reason := range c.failures {
			summary.Failures[url] = reason
		}
	}
	c.failMu.Unlock()

	if err != nil {
		c.event(progress.Event{
			RunID: runID,
			Stage: progress.StageCrawlError,
			Dur:   summary.Elapsed,
			Note:  err.Error(),
		})
		return summary, err
	}
	c.event(progress.Event{
		RunID: runID,
		Stage: progress.StageCrawlDone,
		Done:  summary.Completed,
		Total: summary.Enumerated,
		Dur:   summary.Elapsed,
	})
	return summary, nil
}

func (c *Creator) run(ctx context.Context, runID [16]byte, summary *Summary) error {
	urls, err := c.enumerate(ctx, runID)
	if err != nil {
		return fmt.Errorf("enumerate pages: %w", err)
	}
	summary.Enumerated = len(urls)
	c.enumerated.Store(int64(len(urls)))

	if c.stopped.Load() {
		return nil
	}

	if c.opts.Filter == (wiki.ListFilter{}) {
		var total int
		err := c.opts.Dispatcher.Do(ctx, "count pages", func(ctx context.Context) error {
			var cerr error
			total, cerr = c.opts.Client.CountPages(ctx)
			return cerr
		})
		if err != nil {
			return fmt.Errorf("count pages: %w", err)
		}
		if len(urls) < total {
			return fmt.Errorf("enumeration incomplete: listed %d of %d pages", len(urls), total)
		}
	}

	prior, err := c.opts.Store.AllProgress(ctx)
	if err != nil {
		return fmt.Errorf("load progress: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Workers)
	for _, url := range urls {
		url := url
		if c.stopped.Load() {
			break
		}
		state := prior[url]
		if state.Complete() {
			c.skipped.Add(1)
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if c.stopped.Load() {
				return nil
			}
			c.processPage(gctx, runID, url, state)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if c.opts.Forums && !c.stopped.Load() {
		n, err := c.snapshotForums(ctx)
		if err != nil {
			return fmt.Errorf("snapshot forums: %w", err)
		}
		summary.Threads = n
	}
	return nil
}

// enumerate walks the site listing to the end and returns every page URL.
func (c *Creator) enumerate(ctx context.Context, runID [16]byte) ([]string, error) {
	var urls []string
	seen := make(map[string]struct{})
	token := ""
	for {
		var page wiki.URLPage
		err := c.opts.Dispatcher.Do(ctx, "list urls", func(ctx context.Context) error {
			var lerr error
			page, lerr = c.opts.Client.ListURLs(ctx, c.opts.Filter, token)
			return lerr
		})
		if err != nil {
			return nil, err
		}
		for _, u := range page.URLs {
			if _, dup := seen[u]; dup {
				continue
			}
			seen[u] = struct{}{}
			urls = append(urls, u)
		}
		c.event(progress.Event{RunID: runID, Stage: progress.StageEnumerate, Done: len(urls)})
		if page.Next == "" || len(page.URLs) == 0 || c.stopped.Load() {
			return urls, nil
		}
		token = page.Next
	}
}

// processPage fetches the page's missing facets in order, persisting and
// marking each as it lands. A facet failure stops the page, records the
// reason, and leaves everything already stored in place.
func (c *Creator) processPage(ctx context.Context, runID [16]byte, url string, state store.FacetSet) {
	started := c.clock.Now()
	for _, facet := range store.Facets {
		if state.Has(facet) {
			continue
		}
		if err := c.fetchFacet(ctx, url, facet); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.recordFailure(url, err)
			c.logger.Warn("page failed",
				zap.String("url", url),
				zap.String("facet", string(facet)),
				zap.Error(err))
			if serr := c.opts.Store.MarkFailed(ctx, url, err.Error()); serr != nil {
				c.logger.Error("record failure", zap.String("url", url), zap.Error(serr))
			}
			c.event(progress.Event{
				RunID: runID,
				Stage: progress.StagePageFailed,
				URL:   url,
				Facet: string(facet),
				Kind:  failureKind(err),
				Note:  err.Error(),
			})
			return
		}
		c.event(progress.Event{
			RunID: runID,
			Stage: progress.StageFacetDone,
			URL:   url,
			Facet: string(facet),
		})
	}
	if err := c.opts.Store.ClearFailure(ctx, url); err != nil {
		c.logger.Error("clear failure", zap.String("url", url), zap.Error(err))
	}
	c.completed.Add(1)
	c.event(progress.Event{
		RunID: runID,
		Stage: progress.StagePageDone,
		URL:   url,
		Dur:   c.clock.Now().Sub(started),
	})
}

// fetchFacet performs one remote fetch through the dispatcher, writes the
// result, and marks the facet durable.
func (c *Creator) fetchFacet(ctx context.Context, url string, facet store.Facet) error {
	var put func(context.Context) error
	switch facet {
	case store.FacetMetadata:
		var page wiki.Page
		if err := c.opts.Dispatcher.Do(ctx, "fetch page", func(ctx context.Context) error {
			var ferr error
			page, ferr = c.opts.Client.FetchPage(ctx, url)
			return ferr
		}); err != nil {
			return err
		}
		put = func(ctx context.Context) error { return c.opts.Store.PutPage(ctx, page) }
	case store.FacetHistory:
		var revs []wiki.Revision
		if err := c.opts.Dispatcher.Do(ctx, "fetch history", func(ctx context.Context) error {
			var ferr error
			revs, ferr = c.opts.Client.FetchHistory(ctx, url)
			return ferr
		}); err != nil {
			return err
		}
		put = func(ctx context.Context) error { return c.opts.Store.PutRevisions(ctx, url, revs) }
	case store.FacetVotes:
		var votes []wiki.Vote
		if err := c.opts.Dispatcher.Do(ctx, "fetch votes", func(ctx context.Context) error {
			var ferr error
			votes, ferr = c.opts.Client.FetchVotes(ctx, url)
			return ferr
		}); err != nil {
			return err
		}
		put = func(ctx context.Context) error { return c.opts.Store.PutVotes(ctx, url, votes) }
	case store.FacetComments:
		var posts []wiki.Post
		if err := c.opts.Dispatcher.Do(ctx, "fetch comments", func(ctx context.Context) error {
			var ferr error
			posts, ferr = c.opts.Client.FetchComments(ctx, url)
			return ferr
		}); err != nil {
			return err
		}
		put = func(ctx context.Context) error { return c.opts.Store.PutComments(ctx, url, posts) }
	default:
		return fmt.Errorf("unknown facet %q", facet)
	}
	if err := put(ctx); err != nil {
		return err
	}
	return c.opts.Store.MarkFacet(ctx, url, facet)
}

// perPageDiscussions is the built-in category backing page comments; its
// threads are already captured page by page as the comments facet.
const perPageDiscussions = "Per page discussions"

// snapshotForums copies the standalone forum threads into the store and
// returns the thread count. A failed thread is logged and skipped, the
// same isolation pages get.
func (c *Creator) snapshotForums(ctx context.Context) (int, error) {
	var cats []wiki.Category
	err := c.opts.Dispatcher.Do(ctx, "list categories", func(ctx context.Context) error {
		var lerr error
		cats, lerr = c.opts.Client.ListCategories(ctx)
		return lerr
	})
	if err != nil {
		return 0, err
	}

	count := 0
	for _, cat := range cats {
		if cat.Title == perPageDiscussions || c.stopped.Load() {
			continue
		}
		var threads []wiki.Thread
		err := c.opts.Dispatcher.Do(ctx, "list threads", func(ctx context.Context) error {
			var lerr error
			threads, lerr = c.opts.Client.ListThreads(ctx, cat.ID)
			return lerr
		})
		if err != nil {
			if ctx.Err() != nil {
				return count, ctx.Err()
			}
			c.logger.Warn("forum category failed",
				zap.Int64("category", cat.ID),
				zap.Error(err))
			continue
		}
		for _, thread := range threads {
			if c.stopped.Load() {
				return count, nil
			}
			var posts []wiki.Post
			err := c.opts.Dispatcher.Do(ctx, "fetch thread", func(ctx context.Context) error {
				var ferr error
				posts, ferr = c.opts.Client.FetchThreadPosts(ctx, thread.ID)
				return ferr
			})
			if err == nil {
				err = c.opts.Store.PutThread(ctx, thread, posts)
			}
			if err != nil {
				if ctx.Err() != nil {
					return count, ctx.Err()
				}
				c.logger.Warn("forum thread failed",
					zap.Int64("thread", thread.ID),
					zap.Error(err))
				continue
			}
			count++
		}
	}
	return count, nil
}

func (c *Creator) recordFailure(url string, err error) {
	c.failed.Add(1)
	c.failMu.Lock()
	c.failures[url] = err.Error()
	c.failMu.Unlock()
}

// failureKind labels a page failure for metrics: the remote error class,
// or "storage" when the local write side failed.
func failureKind(err error) string {
	var serr *store.StorageError
	if errors.As(err, &serr) {
		return "storage"
	}
	return wiki.KindOf(err).String()
}

func (c *Creator) event(evt progress.Event) {
	evt.TS = c.clock.Now()
	evt.Site = c.opts.Site
	c.emit.Emit(evt)
}
