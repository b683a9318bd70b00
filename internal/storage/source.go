package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/samber/lo"

	"newsbot/internal/model"
)

type SourceStorage struct {
	db *sqlx.DB
}

type dbSource struct {
	ID        int64     `db:"feed_id"`
	Title     string    `db:"title"`
	FeedURL   string    `db:"url"`
	Rating    int       `db:"rating"`
	CreatedAt timestamp `db:"created_at"`
}

func (s dbSource) model() model.Source {
	return model.Source{
		ID:        s.ID,
		Title:     s.Title,
		FeedURL:   s.FeedURL,
		Rating:    s.Rating,
		CreatedAt: s.CreatedAt.Time,
	}
}

type dbSourceStat struct {
	dbSource
	Articles    int64     `db:"articles"`
	LastArticle timestamp `db:"last_article"`
}

func NewSourceStorage(db *sqlx.DB) *SourceStorage {
	return &SourceStorage{
		db: db,
	}
}

func (s *SourceStorage) Sources(ctx context.Context) ([]model.Source, error) {
	var sources []dbSource

	if err := s.db.SelectContext(
		ctx,
		&sources,
		`SELECT feed_id, title, url, rating, created_at FROM feeds ORDER BY rating DESC, feed_id`,
	); err != nil {
		return nil, fmt.Errorf("select sources: %w", err)
	}

	return lo.Map(sources, func(source dbSource, _ int) model.Source { return source.model() }), nil
}

// Add inserts a new source and returns its id.
func (s *SourceStorage) Add(ctx context.Context, source model.Source) (int64, error) {
	var id int64

	err := s.db.QueryRowxContext(
		ctx,
		s.db.Rebind(`INSERT INTO feeds (title, url, rating, created_at) VALUES (?, ?, ?, ?) RETURNING feed_id`),
		source.Title,
		source.FeedURL,
		source.Rating,
		newTimestamp(time.Now()),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert source %q: %w", source.FeedURL, err)
	}

	return id, nil
}

// Upsert inserts the source or refreshes title and rating of the source with
// the same url.
func (s *SourceStorage) Upsert(ctx context.Context, source model.Source) error {
	if _, err := s.db.ExecContext(
		ctx,
		s.db.Rebind(`INSERT INTO feeds (title, url, rating, created_at) VALUES (?, ?, ?, ?)
			ON CONFLICT (url) DO UPDATE SET title = excluded.title, rating = excluded.rating`),
		source.Title,
		source.FeedURL,
		source.Rating,
		newTimestamp(time.Now()),
	); err != nil {
		return fmt.Errorf("upsert source %q: %w", source.FeedURL, err)
	}

	return nil
}

// DeleteByTitle removes a source together with its articles.
func (s *SourceStorage) DeleteByTitle(ctx context.Context, title string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM feeds WHERE title = ?`), title)
	if err != nil {
		return fmt.Errorf("delete source %q: %w", title, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("source %q: %w", title, ErrNotFound)
	}

	return nil
}

// Stats lists every source with the number of stored articles and the date of
// the newest one.
func (s *SourceStorage) Stats(ctx context.Context) ([]model.SourceStat, error) {
	var stats []dbSourceStat

	if err := s.db.SelectContext(
		ctx,
		&stats,
		`SELECT f.feed_id, f.title, f.url, f.rating, f.created_at,
				COUNT(n.news_id) AS articles, MAX(n.public_date) AS last_article
			FROM feeds f
			LEFT JOIN news n ON n.feed_id = f.feed_id
			GROUP BY f.feed_id, f.title, f.url, f.rating, f.created_at
			ORDER BY f.rating DESC, f.feed_id`,
	); err != nil {
		return nil, fmt.Errorf("select source stats: %w", err)
	}

	return lo.Map(stats, func(stat dbSourceStat, _ int) model.SourceStat {
		out := model.SourceStat{
			Source:   stat.model(),
			Articles: stat.Articles,
		}
		if stat.LastArticle.Valid {
			out.LastArticle = lo.ToPtr(stat.LastArticle.Time)
		}
		return out
	}), nil
}
