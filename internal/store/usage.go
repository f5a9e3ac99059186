package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"medfinder/internal/models"
	"medfinder/internal/usage"
)

// Usage implements usage.Store. Each transition locks the user's row with
// SELECT ... FOR UPDATE so concurrent reservations serialize.
type Usage struct {
	db *gorm.DB
}

func NewUsage(db *gorm.DB) *Usage {
	return &Usage{db: db}
}

var _ usage.Store = (*Usage)(nil)

func (s *Usage) Transition(ctx context.Context, userID string, fn usage.TransitionFunc) (models.AIUsage, error) {
	rec, err := s.transition(ctx, userID, fn)
	if errors.Is(err, errInsertRace) {
		// Another request created the row between our read and insert; the
		// retry finds it and takes the lock.
		rec, err = s.transition(ctx, userID, fn)
	}
	return rec, err
}

var errInsertRace = errors.New("usage row inserted concurrently")

func (s *Usage) transition(ctx context.Context, userID string, fn usage.TransitionFunc) (models.AIUsage, error) {
	var out models.AIUsage

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec models.AIUsage
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", userID).
			Take(&rec).Error

		exists := true
		if errors.Is(err, gorm.ErrRecordNotFound) {
			exists = false
			rec = models.AIUsage{UserID: userID}
		} else if err != nil {
			return err
		}

		if !fn(&rec, exists) {
			out = rec
			return nil
		}
		if rec.PendingMessages < 0 {
			rec.PendingMessages = 0
		}

		if !exists {
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return errInsertRace
			}
			out = rec
			return nil
		}

		if err := tx.Model(&rec).Select(
			"messages_used", "pending_messages", "last_reserved_at", "last_completed_at", "updated_at",
		).Updates(&rec).Error; err != nil {
			return err
		}
		out = rec
		return nil
	})
	return out, err
}

func (s *Usage) Get(ctx context.Context, userID string) (models.AIUsage, bool, error) {
	var rec models.AIUsage
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.AIUsage{UserID: userID}, false, nil
	}
	if err != nil {
		return models.AIUsage{}, false, err
	}
	return rec, true, nil
}

func (s *Usage) SweepStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&models.AIUsage{}).
		Where("pending_messages > 0 AND last_reserved_at < ?", cutoff).
		Updates(map[string]interface{}{
			"pending_messages": 0,
			"updated_at":       time.Now(),
		})
	return res.RowsAffected, res.Error
}

// ListUsage pages usage records for the admin dashboard, heaviest users first.
func (s *Usage) ListUsage(ctx context.Context, limit int) ([]models.AIUsage, error) {
	var recs []models.AIUsage
	err := s.db.WithContext(ctx).
		Order("messages_used DESC").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}

// Totals sums the counters over every user.
func (s *Usage) Totals(ctx context.Context) (used, pending int64, err error) {
	var row struct {
		Used    int64
		Pending int64
	}
	err = s.db.WithContext(ctx).
		Model(&models.AIUsage{}).
		Select("COALESCE(SUM(messages_used), 0) AS used, COALESCE(SUM(pending_messages), 0) AS pending").
		Scan(&row).Error
	return row.Used, row.Pending, err
}
