package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/samber/lo"

	"newsbot/internal/model"
)

type ArticleStorage struct {
	db    *sqlx.DB
	limit int
}

type dbSearchResult struct {
	Title       string `db:"title"`
	Description string `db:"description"`
	Link        string `db:"link"`
}

// NewArticleStorage returns a storage whose searches return at most limit
// results.
func NewArticleStorage(db *sqlx.DB, limit int) *ArticleStorage {
	return &ArticleStorage{
		db:    db,
		limit: limit,
	}
}

// LastArticleDate returns the newest publication date stored for the source,
// or nil if nothing was stored yet.
func (s *ArticleStorage) LastArticleDate(ctx context.Context, sourceID int64) (*time.Time, error) {
	var last timestamp

	if err := s.db.GetContext(
		ctx,
		&last,
		s.db.Rebind(`SELECT MAX(public_date) FROM news WHERE feed_id = ?`),
		sourceID,
	); err != nil {
		return nil, fmt.Errorf("last article date for %d: %w", sourceID, err)
	}

	if !last.Valid {
		return nil, nil
	}
	return &last.Time, nil
}

func (s *ArticleStorage) Store(ctx context.Context, article model.Article) error {
	if _, err := s.db.ExecContext(
		ctx,
		s.db.Rebind(`INSERT INTO news (feed_id, public_date, title, description, link, search_text, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`),
		article.SourceID,
		newTimestamp(article.PublishedAt),
		article.Title,
		article.Description,
		article.Link,
		searchText(article.Title, article.Description),
		newTimestamp(time.Now()),
	); err != nil {
		return fmt.Errorf("insert article %q: %w", article.Link, err)
	}

	return nil
}

// Search finds articles published after since whose title or description
// contains keyword, ignoring case. Newest articles come first.
func (s *ArticleStorage) Search(ctx context.Context, keyword string, since time.Time) ([]model.SearchResult, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return []model.SearchResult{}, nil
	}

	var rows []dbSearchResult

	if err := s.db.SelectContext(
		ctx,
		&rows,
		s.db.Rebind(`SELECT title, description, link FROM news
			WHERE public_date > ? AND search_text LIKE ? ESCAPE '\'
			ORDER BY public_date DESC, news_id DESC
			LIMIT ?`),
		newTimestamp(since),
		"%"+escapeLike(strings.ToLower(keyword))+"%",
		s.limit,
	); err != nil {
		return nil, fmt.Errorf("search %q: %w", keyword, err)
	}

	return lo.Map(rows, func(row dbSearchResult, _ int) model.SearchResult {
		return model.SearchResult(row)
	}), nil
}

// searchText is what Search matches against. Lowering happens here rather than
// in SQL because SQLite only folds ASCII.
func searchText(title, description string) string {
	return strings.ToLower(title + "\n" + description)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
