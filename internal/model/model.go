package model

import (
	"time"
)

// Item is a feed entry as it was parsed from the source.
type Item struct {
	Title      string
	Categories []string
	Link       string
	Date       time.Time // дата публикации в источнике
	Summary    string
	SourceName string
}

type Source struct {
	ID        int64
	Title     string
	FeedURL   string
	Rating    int
	CreatedAt time.Time
}

type Article struct {
	ID          int64
	SourceID    int64
	Title       string
	Link        string
	Description string
	PublishedAt time.Time // время публикации в источнике
	CreatedAt   time.Time
}

type Subscriber struct {
	ID       int64
	UserID   int64
	IsAdmin  bool
	IsSearch bool
}

// SearchResult is what a subscriber receives for a matched article.
type SearchResult struct {
	Title       string
	Description string
	Link        string
}

// SourceStat summarizes what is stored for a single source.
type SourceStat struct {
	Source
	Articles    int64
	LastArticle *time.Time
}
