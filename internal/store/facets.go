package store

import (
	"context"
	"database/sql"

	"github.com/anqxyr/pyscp/internal/wiki"
)

// PutRevisions replaces the stored revision history of url.
func (s *Store) PutRevisions(ctx context.Context, url string, revs []wiki.Revision) error {
	return s.inTx(ctx, "put revisions", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM revisions WHERE page_url = ?`, url); err != nil {
			return err
		}
		for _, r := range revs {
			if _, err := tx.ExecContext(ctx, `
			INSERT INTO revisions (page_url, id, number, author, time, comment)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(page_url, number) DO UPDATE SET
				id = excluded.id,
				author = excluded.author,
				time = excluded.time,
				comment = excluded.comment
			`, url, r.ID, r.Number, r.Author, encodeTime(r.Time), r.Comment); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetHistory returns the revisions of url in ascending sequence order.
func (s *Store) GetHistory(ctx context.Context, url string) ([]wiki.Revision, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, number, author, time, comment FROM revisions
	WHERE page_url = ? ORDER BY number ASC`, url)
	if err != nil {
		return nil, storageErr("get history", err)
	}
	defer rows.Close()

	var revs []wiki.Revision
	for rows.Next() {
		var (
			r  wiki.Revision
			ts string
		)
		if err := rows.Scan(&r.ID, &r.Number, &r.Author, &ts, &r.Comment); err != nil {
			return nil, storageErr("get history", err)
		}
		var terr error
		if r.Time, terr = decodeTime(ts); terr != nil {
			return nil, storageErr("get history", terr)
		}
		revs = append(revs, r)
	}
	return revs, rows.Err()
}

// PutVotes replaces the stored ballots of url.
func (s *Store) PutVotes(ctx context.Context, url string, votes []wiki.Vote) error {
	return s.inTx(ctx, "put votes", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM votes WHERE page_url = ?`, url); err != nil {
			return err
		}
		for _, v := range votes {
			if _, err := tx.ExecContext(ctx, `
			INSERT INTO votes (page_url, user, value) VALUES (?, ?, ?)
			ON CONFLICT(page_url, user) DO UPDATE SET value = excluded.value
			`, url, v.User, v.Value); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetVotes returns the ballots stored for url. A voter appears at most once.
func (s *Store) GetVotes(ctx context.Context, url string) ([]wiki.Vote, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user, value FROM votes WHERE page_url = ? ORDER BY user`, url)
	if err != nil {
		return nil, storageErr("get votes", err)
	}
	defer rows.Close()

	var votes []wiki.Vote
	for rows.Next() {
		var v wiki.Vote
		if err := rows.Scan(&v.User, &v.Value); err != nil {
			return nil, storageErr("get votes", err)
		}
		votes = append(votes, v)
	}
	return votes, rows.Err()
}

// PutComments replaces the stored discussion of url. Posts are written as
// a flat table; the tree is reassembled on read.
func (s *Store) PutComments(ctx context.Context, url string, posts []wiki.Post) error {
	return s.inTx(ctx, "put comments", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM comments WHERE page_url = ?`, url); err != nil {
			return err
		}
		for _, p := range posts {
			if _, err := tx.ExecContext(ctx, `
			INSERT INTO comments (page_url, id, parent_id, title, author, time, content)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(page_url, id) DO UPDATE SET
				parent_id = excluded.parent_id,
				title = excluded.title,
				author = excluded.author,
				time = excluded.time,
				content = excluded.content
			`, url, p.ID, p.ParentID, p.Title, p.Author, encodeTime(p.Time), p.Content); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetComments returns the discussion of url as flat posts in id order.
func (s *Store) GetComments(ctx context.Context, url string) ([]wiki.Post, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, parent_id, title, author, time, content FROM comments
	WHERE page_url = ? ORDER BY id ASC`, url)
	if err != nil {
		return nil, storageErr("get comments", err)
	}
	defer rows.Close()
	return scanPosts(rows)
}

// PutThread stores a standalone forum thread together with its posts.
func (s *Store) PutThread(ctx context.Context, t wiki.Thread, posts []wiki.Post) error {
	return s.inTx(ctx, "put thread", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
		INSERT INTO forum_threads (id, category_id, title, description)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			category_id = excluded.category_id,
			title = excluded.title,
			description = excluded.description
		`, t.ID, t.CategoryID, t.Title, t.Description); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM forum_posts WHERE thread_id = ?`, t.ID); err != nil {
			return err
		}
		for _, p := range posts {
			if _, err := tx.ExecContext(ctx, `
			INSERT INTO forum_posts (thread_id, id, parent_id, title, author, time, content)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			`, t.ID, p.ID, p.ParentID, p.Title, p.Author, encodeTime(p.Time), p.Content); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetThreadPosts returns the posts of a standalone forum thread.
func (s *Store) GetThreadPosts(ctx context.Context, threadID int64) ([]wiki.Post, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, parent_id, title, author, time, content FROM forum_posts
	WHERE thread_id = ? ORDER BY id ASC`, threadID)
	if err != nil {
		return nil, storageErr("get thread posts", err)
	}
	defer rows.Close()
	return scanPosts(rows)
}

// ListThreads returns every stored standalone thread ordered by id.
func (s *Store) ListThreads(ctx context.Context) ([]wiki.Thread, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, category_id, title, description FROM forum_threads ORDER BY id`)
	if err != nil {
		return nil, storageErr("list threads", err)
	}
	defer rows.Close()

	var threads []wiki.Thread
	for rows.Next() {
		var t wiki.Thread
		if err := rows.Scan(&t.ID, &t.CategoryID, &t.Title, &t.Description); err != nil {
			return nil, storageErr("list threads", err)
		}
		threads = append(threads, t)
	}
	return threads, rows.Err()
}

func scanPosts(rows *sql.Rows) ([]wiki.Post, error) {
	var posts []wiki.Post
	for rows.Next() {
		var (
			p  wiki.Post
			ts string
		)
		if err := rows.Scan(&p.ID, &p.ParentID, &p.Title, &p.Author, &ts, &p.Content); err != nil {
			return nil, storageErr("scan posts", err)
		}
		var terr error
		if p.Time, terr = decodeTime(ts); terr != nil {
			return nil, storageErr("scan posts", terr)
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}
