package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/samber/lo"

	"newsbot/internal/model"
)

const userAgent = "newsbot/1.0 (+https://core.telegram.org/bots)"

var (
	// ErrTimeout is returned when a feed does not answer within its time budget.
	ErrTimeout   = errors.New("feed fetch timed out")
	ErrBadStatus = errors.New("unexpected response status")
)

type RSSSource struct {
	URL        string
	sourceID   int64
	sourceName string

	client  *http.Client
	timeout time.Duration
}

func (s RSSSource) ID() int64 {
	return s.sourceID
}

func (s RSSSource) Name() string {
	return s.sourceName
}

// NewRSSSourceFromModel builds a source that gives up on the feed after timeout.
func NewRSSSourceFromModel(m model.Source, client *http.Client, timeout time.Duration) RSSSource {
	if client == nil {
		client = http.DefaultClient
	}

	return RSSSource{
		URL:        m.FeedURL,
		sourceID:   m.ID,
		sourceName: m.Title,
		client:     client,
		timeout:    timeout,
	}
}

func (s RSSSource) Fetch(ctx context.Context) ([]model.Item, error) {
	feed, err := s.loadFeed(ctx, s.URL)
	if err != nil {
		return nil, err
	}

	return lo.FilterMap(feed.Items, func(item *gofeed.Item, _ int) (model.Item, bool) {
		date := item.PublishedParsed
		if date == nil {
			date = item.UpdatedParsed
		}
		if date == nil {
			return model.Item{}, false
		}

		summary := PlainText(item.Description)
		if summary == "" {
			summary = ContentText(item.Content, item.Link)
		}

		return model.Item{
			Title:      PlainText(item.Title),
			Categories: item.Categories,
			Link:       item.Link,
			Date:       *date,
			Summary:    summary,
			SourceName: s.sourceName,
		}, true
	}), nil
}

func (s RSSSource) loadFeed(ctx context.Context, url string) (*gofeed.Feed, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", url, err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, s.wrap(ctx, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s: %s", ErrBadStatus, url, resp.Status)
	}

	feed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, s.wrap(ctx, url, fmt.Errorf("parse: %w", err))
	}

	return feed, nil
}

func (s RSSSource) wrap(ctx context.Context, url string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s: %s: %w", ErrTimeout, s.timeout, url, err)
	}
	return fmt.Errorf("fetch %s: %w", url, err)
}
