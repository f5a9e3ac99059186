package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"medfinder/internal/models"
)

// ErrAlreadyFinalized is returned when a response has left the pending state.
var ErrAlreadyFinalized = errors.New("response already finalized")

// Responses persists AIResponse records.
type Responses struct {
	db *gorm.DB
}

func NewResponses(db *gorm.DB) *Responses {
	return &Responses{db: db}
}

// FindByKey returns the caller's response for an idempotency key.
func (s *Responses) FindByKey(ctx context.Context, requestorID, key string) (*models.AIResponse, error) {
	var resp models.AIResponse
	err := s.db.WithContext(ctx).
		Where("requestor_id = ? AND idempotency_key = ?", requestorID, key).
		Take(&resp).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &resp, nil
}

// Create inserts a pending response. created is false when a row with the
// same (requestor, key) already exists; resp is then left untouched.
func (s *Responses) Create(ctx context.Context, resp *models.AIResponse) (created bool, err error) {
	resp.Status = models.ResponsePending
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "requestor_id"}, {Name: "idempotency_key"}},
			DoNothing: true,
		}).
		Create(resp)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// AppendContent adds a flushed chunk to a pending response.
func (s *Responses) AppendContent(ctx context.Context, id, chunk string) error {
	return s.db.WithContext(ctx).
		Model(&models.AIResponse{}).
		Where("id = ? AND status = ?", id, models.ResponsePending).
		Updates(map[string]interface{}{
			"content":    gorm.Expr("content || ?", chunk),
			"updated_at": time.Now(),
		}).Error
}

// Finalize moves a pending response to complete or error. It succeeds at
// most once per response.
func (s *Responses) Finalize(ctx context.Context, id string, fields map[string]interface{}) error {
	fields["updated_at"] = time.Now()
	res := s.db.WithContext(ctx).
		Model(&models.AIResponse{}).
		Where("id = ? AND status = ?", id, models.ResponsePending).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAlreadyFinalized
	}
	return nil
}

func (s *Responses) Get(ctx context.Context, id string) (*models.AIResponse, error) {
	var resp models.AIResponse
	if err := s.db.WithContext(ctx).Take(&resp, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &resp, nil
}

// List pages responses newest first. An empty requestorID lists everyone's.
func (s *Responses) List(ctx context.Context, requestorID string, page, limit int) ([]models.AIResponse, int64, error) {
	var out []models.AIResponse
	var total int64

	query := s.db.WithContext(ctx).Model(&models.AIResponse{})
	if requestorID != "" {
		query = query.Where("requestor_id = ?", requestorID)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if page > 0 && limit > 0 {
		query = query.Offset((page - 1) * limit).Limit(limit)
	}
	if err := query.Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// DeleteForRequestor removes every response the user created.
func (s *Responses) DeleteForRequestor(ctx context.Context, requestorID string) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("requestor_id = ?", requestorID).
		Delete(&models.AIResponse{})
	return res.RowsAffected, res.Error
}

// Truncate removes every response. Admin data reset only.
func (s *Responses) Truncate(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&models.AIResponse{})
	return res.RowsAffected, res.Error
}

// CountByStatus groups responses by lifecycle status.
func (s *Responses) CountByStatus(ctx context.Context) (map[models.ResponseStatus]int64, error) {
	var rows []struct {
		Status models.ResponseStatus
		Count  int64
	}
	err := s.db.WithContext(ctx).
		Model(&models.AIResponse{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[models.ResponseStatus]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.Count
	}
	return out, nil
}
