// Package server exposes a small read-only status API next to the bot.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"newsbot/internal/model"
)

type SourceStats interface {
	Stats(ctx context.Context) ([]model.SourceStat, error)
}

type SubscriberCounter interface {
	Count(ctx context.Context) (int64, error)
}

type Server struct {
	sources     SourceStats
	subscribers SubscriberCounter
	log         log.FieldLogger
	router      chi.Router
}

type feedStatus struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	Rating      int        `json:"rating"`
	Articles    int64      `json:"articles"`
	LastArticle *time.Time `json:"last_article,omitempty"`
}

func New(sources SourceStats, subscribers SubscriberCounter, logger log.FieldLogger) *Server {
	s := &Server{
		sources:     sources,
		subscribers: subscribers,
		log:         logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/feeds", s.handleFeeds)
	r.Get("/stats", s.handleStats)
	r.Handle("/metrics", promhttp.Handler())

	s.router = r
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.log.Infof("status server listening on %s", addr)
		errChan <- srv.ListenAndServe()
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errChan; !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return ctx.Err()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok"))
}

func (s *Server) handleFeeds(w http.ResponseWriter, r *http.Request) {
	stats, err := s.sources.Stats(r.Context())
	if err != nil {
		s.log.WithError(err).Error("failed to load feed stats")
		http.Error(w, "failed to load feeds", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, lo.Map(stats, func(st model.SourceStat, _ int) feedStatus {
		return feedStatus{
			ID:          st.ID,
			Title:       st.Title,
			URL:         st.FeedURL,
			Rating:      st.Rating,
			Articles:    st.Articles,
			LastArticle: st.LastArticle,
		}
	}))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	subscribers, err := s.subscribers.Count(r.Context())
	if err != nil {
		s.log.WithError(err).Error("failed to count subscribers")
		http.Error(w, "failed to count subscribers", http.StatusInternalServerError)
		return
	}

	stats, err := s.sources.Stats(r.Context())
	if err != nil {
		s.log.WithError(err).Error("failed to load feed stats")
		http.Error(w, "failed to load feeds", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, map[string]int64{
		"subscribers": subscribers,
		"feeds":       int64(len(stats)),
		"articles":    lo.SumBy(stats, func(st model.SourceStat) int64 { return st.Articles }),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Warn("failed to write response")
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		s.log.WithFields(log.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start).Round(time.Microsecond),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("http request")
	})
}
