package fetcher

import (
	"context"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"newsbot/internal/model"
	"newsbot/internal/source"
)

type ArticleStorage interface {
	Store(ctx context.Context, article model.Article) error
	LastArticleDate(ctx context.Context, sourceID int64) (*time.Time, error)
}

type SourceList interface {
	Sources(ctx context.Context) ([]model.Source, error)
}

type Source interface {
	ID() int64
	Name() string

	Fetch(ctx context.Context) ([]model.Item, error)
}

// Fetcher periodically pulls every known feed and stores the entries that are
// newer than what is already stored for that feed.
type Fetcher struct {
	articles ArticleStorage
	sources  SourceList
	log      log.FieldLogger

	fetchInterval time.Duration
	fetchTimeout  time.Duration
	concurrency   int
	client        *http.Client
}

func New(
	articles ArticleStorage,
	sources SourceList,
	fetchInterval time.Duration,
	fetchTimeout time.Duration,
	concurrency int,
	logger log.FieldLogger,
) *Fetcher {
	if concurrency < 1 {
		concurrency = 1
	}

	return &Fetcher{
		articles:      articles,
		sources:       sources,
		log:           logger,
		fetchInterval: fetchInterval,
		fetchTimeout:  fetchTimeout,
		concurrency:   concurrency,
		client:        &http.Client{},
	}
}

// Run fetches all feeds right away and then once per interval until ctx is
// cancelled.
func (f *Fetcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.fetchInterval)
	defer ticker.Stop()

	for {
		if err := f.Fetch(ctx); err != nil {
			f.log.WithError(err).Error("fetch cycle failed")
		}

		f.log.Infof("waiting %s until next fetch", f.fetchInterval)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Fetch runs a single ingestion cycle over all sources. Only a failure to list
// the sources is returned; per-source problems are logged and skipped.
func (f *Fetcher) Fetch(ctx context.Context) error {
	sources, err := f.sources.Sources(ctx)
	if err != nil {
		return err
	}

	f.log.Infof("processing %d feeds", len(sources))
	start := time.Now()

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		added int
		sem   = make(chan struct{}, f.concurrency)
	)

	for _, src := range sources {
		wg.Add(1)

		rssSource := source.NewRSSSourceFromModel(src, f.client, f.fetchTimeout)

		go func(source Source) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()

			n := f.fetchSource(ctx, source)

			mu.Lock()
			added += n
			mu.Unlock()
		}(rssSource)
	}

	wg.Wait()
	cycleDuration.Observe(time.Since(start).Seconds())

	f.log.WithFields(log.Fields{
		"feeds":    len(sources),
		"added":    added,
		"duration": time.Since(start).Round(time.Millisecond),
	}).Info("fetch cycle finished")

	return nil
}

func (f *Fetcher) fetchSource(ctx context.Context, source Source) int {
	logger := f.log.WithFields(log.Fields{"feed_id": source.ID(), "feed": source.Name()})
	start := time.Now()

	last, err := f.articles.LastArticleDate(ctx, source.ID())
	if err != nil {
		// without a watermark every entry would be stored again
		logger.WithError(err).Error("failed to read last article date, skipping feed")
		feedErrors.WithLabelValues(source.Name()).Inc()
		return 0
	}

	items, err := source.Fetch(ctx)
	if err != nil {
		logger.WithError(err).Warn("fetch failed, skipping feed")
		feedErrors.WithLabelValues(source.Name()).Inc()
		return 0
	}

	added := f.processItems(ctx, source, last, items)
	articlesAdded.WithLabelValues(source.Name()).Add(float64(added))

	logger.WithFields(log.Fields{
		"fetched":  len(items),
		"added":    added,
		"duration": time.Since(start).Round(time.Millisecond),
	}).Debug("feed processed")

	return added
}

// processItems stores the items published strictly after last. A nil last
// means the feed has no history and everything is stored. last is not
// advanced while storing, so every item is compared to the same watermark.
func (f *Fetcher) processItems(ctx context.Context, source Source, last *time.Time, items []model.Item) int {
	added := 0

	for _, item := range items {
		item.Date = item.Date.UTC()

		if !IsNewer(item, last) {
			continue
		}

		article := model.Article{
			SourceID:    source.ID(),
			Title:       item.Title,
			Link:        item.Link,
			Description: item.Summary,
			PublishedAt: item.Date,
		}

		if err := f.articles.Store(ctx, article); err != nil {
			f.log.WithError(err).WithFields(log.Fields{
				"feed_id": source.ID(),
				"link":    item.Link,
			}).Error("failed to store article")
			continue
		}

		added++
	}

	return added
}

// IsNewer reports whether item passes the watermark.
func IsNewer(item model.Item, last *time.Time) bool {
	return last == nil || item.Date.After(*last)
}
