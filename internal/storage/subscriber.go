package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/samber/lo"

	"newsbot/internal/model"
)

type SubscriberStorage struct {
	db     *sqlx.DB
	admins []int64
}

type dbSubscriber struct {
	ID       int64 `db:"subscriber_id"`
	UserID   int64 `db:"user_id"`
	IsAdmin  bool  `db:"is_admin"`
	IsSearch bool  `db:"is_search"`
}

// NewSubscriberStorage returns a storage that marks the given user ids as
// admins when they are first seen.
func NewSubscriberStorage(db *sqlx.DB, admins []int64) *SubscriberStorage {
	return &SubscriberStorage{
		db:     db,
		admins: admins,
	}
}

// Upsert creates the subscriber on first call and returns the stored row.
// The admin flag is only decided on creation.
func (s *SubscriberStorage) Upsert(ctx context.Context, userID int64) (model.Subscriber, error) {
	if _, err := s.db.ExecContext(
		ctx,
		s.db.Rebind(`INSERT INTO subscribers (user_id, is_admin) VALUES (?, ?)
			ON CONFLICT (user_id) DO NOTHING`),
		userID,
		lo.Contains(s.admins, userID),
	); err != nil {
		return model.Subscriber{}, fmt.Errorf("insert subscriber %d: %w", userID, err)
	}

	return s.get(ctx, userID)
}

func (s *SubscriberStorage) get(ctx context.Context, userID int64) (model.Subscriber, error) {
	var sub dbSubscriber

	err := s.db.GetContext(
		ctx,
		&sub,
		s.db.Rebind(`SELECT subscriber_id, user_id, is_admin, is_search FROM subscribers WHERE user_id = ?`),
		userID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Subscriber{}, fmt.Errorf("subscriber %d: %w", userID, ErrNotFound)
	}
	if err != nil {
		return model.Subscriber{}, fmt.Errorf("get subscriber %d: %w", userID, err)
	}

	return model.Subscriber(sub), nil
}

func (s *SubscriberStorage) SetSearchMode(ctx context.Context, userID int64, on bool) error {
	res, err := s.db.ExecContext(
		ctx,
		s.db.Rebind(`UPDATE subscribers SET is_search = ? WHERE user_id = ?`),
		on,
		userID,
	)
	if err != nil {
		return fmt.Errorf("update search mode for %d: %w", userID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("subscriber %d: %w", userID, ErrNotFound)
	}

	return nil
}

func (s *SubscriberStorage) IsAdmin(ctx context.Context, userID int64) (bool, error) {
	sub, err := s.get(ctx, userID)
	if err != nil {
		return false, err
	}
	return sub.IsAdmin, nil
}

func (s *SubscriberStorage) IsSearchMode(ctx context.Context, userID int64) (bool, error) {
	sub, err := s.get(ctx, userID)
	if err != nil {
		return false, err
	}
	return sub.IsSearch, nil
}

func (s *SubscriberStorage) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM subscribers`); err != nil {
		return 0, fmt.Errorf("count subscribers: %w", err)
	}
	return n, nil
}
