package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/skylinks/skylinks/atproto/syntax"
)

var ErrLinkNotFound = errors.New("link not found")

type LinkStore struct {
	db *gorm.DB
}

func NewLinkStore(db *gorm.DB) *LinkStore {
	return &LinkStore{db: db}
}

func (s *LinkStore) InsertLink(ctx context.Context, l *Link) error {
	return s.db.WithContext(ctx).Create(l).Error
}

func (s *LinkStore) GetLink(ctx context.Context, id uint) (*Link, error) {
	var l Link
	if err := s.db.WithContext(ctx).First(&l, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrLinkNotFound, id)
		}
		return nil, err
	}
	return &l, nil
}

// Links eligible for publishing: score at least minScore, status unset or pending, and no repo URI yet. Highest score first, then oldest.
func (s *LinkStore) SelectSyncable(ctx context.Context, minScore int64, limit int) ([]Link, error) {
	var out []Link
	err := s.db.WithContext(ctx).
		Where("score >= ?", minScore).
		Where("sync_status IS NULL OR sync_status = '' OR sync_status = ?", StatusPending).
		Where("repo_uri IS NULL OR repo_uri = ''").
		Order("score desc, created_at asc, id asc").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *LinkStore) MarkSynced(ctx context.Context, id uint, uri syntax.ATURI, rev string, ts time.Time) error {
	return s.update(ctx, id, map[string]any{
		"sync_status": StatusSynced,
		"repo_uri":    uri.String(),
		"repo_rev":    rev,
		"synced_at":   ts,
	})
}

// Sets a terminal status; failed links are never selected again unless reset with [LinkStore.ResetFailed].
func (s *LinkStore) MarkFailed(ctx context.Context, id uint, status string) error {
	if status == "" {
		status = StatusFailed
	}
	return s.update(ctx, id, map[string]any{"sync_status": status})
}

// Returns a failed link to the pending state.
func (s *LinkStore) ResetFailed(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Model(&Link{}).
		Where("id = ? AND sync_status = ?", id, StatusFailed).
		Update("sync_status", StatusPending)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: no failed link with id %d", ErrLinkNotFound, id)
	}
	return nil
}

// Number of links per sync status. Unset statuses are counted as pending.
func (s *LinkStore) CountByStatus(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		SyncStatus string
		Count      int64
	}
	err := s.db.WithContext(ctx).Model(&Link{}).
		Select("sync_status, count(*) as count").
		Group("sync_status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := map[string]int64{}
	for _, r := range rows {
		status := r.SyncStatus
		if status == "" {
			status = StatusPending
		}
		out[status] += r.Count
	}
	return out, nil
}

func (s *LinkStore) update(ctx context.Context, id uint, fields map[string]any) error {
	res := s.db.WithContext(ctx).Model(&Link{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %d", ErrLinkNotFound, id)
	}
	return nil
}
