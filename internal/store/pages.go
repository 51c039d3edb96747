package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/anqxyr/pyscp/internal/wiki"
)

// PutPage upserts the page row and replaces its tag set in one
// transaction. Re-invoking with the same URL overwrites, never duplicates.
func (s *Store) PutPage(ctx context.Context, p wiki.Page) error {
	return s.inTx(ctx, "put page", func(tx *sql.Tx) error {
		var rating sql.NullInt64
		if p.Rating != nil {
			rating = sql.NullInt64{Int64: int64(*p.Rating), Valid: true}
		}
		_, err := tx.ExecContext(ctx, `
		INSERT INTO pages (url, title, author, created, rating, source, html, thread_id, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			title = excluded.title,
			author = excluded.author,
			created = excluded.created,
			rating = excluded.rating,
			source = excluded.source,
			html = excluded.html,
			thread_id = excluded.thread_id,
			fetched_at = excluded.fetched_at
		`, p.URL, p.Title, p.Author, encodeTime(p.Created), rating,
			p.Source, p.HTML, p.ThreadID, encodeTime(time.Now()))
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM page_tags WHERE page_url = ?`, p.URL); err != nil {
			return err
		}
		for _, tag := range p.Tags {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO page_tags (page_url, tag) VALUES (?, ?)`, p.URL, tag); err != nil {
				return err
			}
		}
		return nil
	})
}

const pageColumns = `
	p.url, p.title, p.author, p.created, p.rating, p.source, p.html, p.thread_id,
	(SELECT group_concat(t.tag, ' ') FROM page_tags t WHERE t.page_url = p.url)`

func scanPage(row interface{ Scan(...any) error }) (wiki.Page, error) {
	var (
		p       wiki.Page
		created string
		rating  sql.NullInt64
		tags    sql.NullString
	)
	err := row.Scan(&p.URL, &p.Title, &p.Author, &created, &rating,
		&p.Source, &p.HTML, &p.ThreadID, &tags)
	if err != nil {
		return wiki.Page{}, err
	}
	if p.Created, err = decodeTime(created); err != nil {
		return wiki.Page{}, err
	}
	if rating.Valid {
		r := int(rating.Int64)
		p.Rating = &r
	}
	if tags.Valid && tags.String != "" {
		p.Tags = strings.Split(tags.String, " ")
	}
	return p, nil
}

// GetPage returns the page stored under url, or ErrNotFound.
func (s *Store) GetPage(ctx context.Context, url string) (wiki.Page, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+pageColumns+` FROM pages p WHERE p.url = ?`, url)
	p, err := scanPage(row)
	if err == sql.ErrNoRows {
		return wiki.Page{}, ErrNotFound
	}
	if err != nil {
		return wiki.Page{}, storageErr("get page", err)
	}
	return p, nil
}

// ListPages returns pages matching the filter, ordered by URL. The order
// is stable but carries no meaning beyond restartability.
func (s *Store) ListPages(ctx context.Context, filter wiki.ListFilter) ([]wiki.Page, error) {
	query := `SELECT ` + pageColumns + ` FROM pages p WHERE 1=1`
	args := make([]any, 0, 4)
	if filter.Author != "" {
		query += ` AND p.author = ?`
		args = append(args, filter.Author)
	}
	if filter.Tag != "" {
		query += ` AND EXISTS (SELECT 1 FROM page_tags t WHERE t.page_url = p.url AND t.tag = ?)`
		args = append(args, filter.Tag)
	}
	if !filter.CreatedBefore.IsZero() {
		query += ` AND p.created < ?`
		args = append(args, encodeTime(filter.CreatedBefore))
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND p.created > ?`
		args = append(args, encodeTime(filter.CreatedAfter))
	}
	query += ` ORDER BY p.url`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list pages", err)
	}
	defer rows.Close()

	var pages []wiki.Page
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, storageErr("list pages", err)
		}
		pages = append(pages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list pages", err)
	}
	return pages, nil
}
