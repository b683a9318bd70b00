package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"newsbot/internal/model"
	"newsbot/internal/storage"
)

func feedsCmd() *cli.Command {
	return &cli.Command{
		Name:  "feeds",
		Usage: "Manage news feeds",
		Subcommands: []*cli.Command{
			{
				Name:   "ls",
				Usage:  "List feeds with article counts",
				Action: withSources(listFeeds),
			},
			{
				Name:  "add",
				Usage: "Add a feed",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "title", Usage: "feed title", Required: true},
					&cli.StringFlag{Name: "url", Usage: "RSS or Atom url", Required: true},
					&cli.IntFlag{Name: "rating", Usage: "feeds are listed by rating, highest first"},
				},
				Action: withSources(addFeed),
			},
			{
				Name:  "rm",
				Usage: "Remove a feed and its articles",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "title", Usage: "feed title", Required: true},
				},
				Action: withSources(removeFeed),
			},
		},
	}
}

func withSources(fn func(c *cli.Context, sources *storage.SourceStorage) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg, _, err := setup(c, false)
		if err != nil {
			return err
		}

		db, err := storage.Open(c.Context, cfg.DatabaseDSN)
		if err != nil {
			return err
		}
		defer db.Close()

		return fn(c, storage.NewSourceStorage(db))
	}
}

func listFeeds(c *cli.Context, sources *storage.SourceStorage) error {
	stats, err := sources.Stats(c.Context)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tRATING\tARTICLES\tLAST\tURL")

	for _, s := range stats {
		last := "-"
		if s.LastArticle != nil {
			last = s.LastArticle.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%s\t%s\n", s.ID, s.Title, s.Rating, s.Articles, last, s.FeedURL)
	}

	return w.Flush()
}

func addFeed(c *cli.Context, sources *storage.SourceStorage) error {
	id, err := sources.Add(c.Context, model.Source{
		Title:   c.String("title"),
		FeedURL: c.String("url"),
		Rating:  c.Int("rating"),
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(c.App.Writer, "added feed %d\n", id)
	return nil
}

func removeFeed(c *cli.Context, sources *storage.SourceStorage) error {
	if err := sources.DeleteByTitle(c.Context, c.String("title")); err != nil {
		return err
	}

	fmt.Fprintf(c.App.Writer, "removed feed %q\n", c.String("title"))
	return nil
}
