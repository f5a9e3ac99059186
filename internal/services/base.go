package services

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"gorm.io/gorm"

	"medfinder/internal/events"
)

// BaseService interface defines common CRUD operations
type BaseService[T any] interface {
	Create(ctx context.Context, entity *T, includes ...string) error
	Get(ctx context.Context, id string, includes ...string) (*T, error)
	List(ctx context.Context, q ListQuery, includes ...string) ([]T, int64, error)
	Update(ctx context.Context, id string, entity *T, includes ...string) error
	Delete(ctx context.Context, id string) error
}

// ListQuery selects one page of rows. Filters are equality matches on
// column names; Search is matched case-insensitively against SearchFields.
type ListQuery struct {
	Page         int
	Limit        int
	Filters      map[string]interface{}
	Search       string
	SearchFields []string
	Sort         string
	Order        string
}

// BaseServiceImpl implements BaseService
type BaseServiceImpl[T any] struct {
	db        *gorm.DB
	modelType T
	bus       *events.EventBus
	sortable  map[string]bool
}

func GormTableName(db *gorm.DB, v any) string {
	return db.NamingStrategy.TableName(reflect.TypeOf(v).Name())
}

// NewBaseService creates a new base service. sortable lists the columns a
// caller may order by; anything else falls back to created_at.
func NewBaseService[T any](db *gorm.DB, modelType T, bus *events.EventBus, sortable ...string) *BaseServiceImpl[T] {
	if bus == nil {
		bus = events.Default()
	}
	allowed := map[string]bool{"created_at": true}
	for _, col := range sortable {
		allowed[col] = true
	}
	return &BaseServiceImpl[T]{
		db:        db,
		modelType: modelType,
		bus:       bus,
		sortable:  allowed,
	}
}

// applyIncludes adds preload statements to the query for each include
func (s *BaseServiceImpl[T]) applyIncludes(query *gorm.DB, includes ...string) *gorm.DB {
	for _, include := range includes {
		query = query.Preload(include)
	}
	return query
}

func (s *BaseServiceImpl[T]) table() string {
	return GormTableName(s.db, s.modelType)
}

func (s *BaseServiceImpl[T]) Create(ctx context.Context, entity *T, includes ...string) error {
	if err := s.db.WithContext(ctx).Create(entity).Error; err != nil {
		return err
	}

	// Reload the entity with includes if any are specified
	if len(includes) > 0 {
		id := reflect.ValueOf(*entity).FieldByName("ID").String()
		if err := s.applyIncludes(s.db.WithContext(ctx), includes...).First(entity, "id = ?", id).Error; err != nil {
			return err
		}
	}

	s.bus.Emit(fmt.Sprintf("%s.created", s.table()), entity)
	return nil
}

func (s *BaseServiceImpl[T]) Get(ctx context.Context, id string, includes ...string) (*T, error) {
	var entity T
	query := s.applyIncludes(s.db.WithContext(ctx), includes...)

	if err := query.Where("is_deleted = ?", false).First(&entity, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &entity, nil
}

func (s *BaseServiceImpl[T]) List(ctx context.Context, q ListQuery, includes ...string) ([]T, int64, error) {
	var entities []T
	var total int64

	query := s.db.WithContext(ctx).Model(new(T)).Where("is_deleted = ?", false)

	for key, value := range q.Filters {
		query = query.Where(key+" = ?", value)
	}

	if q.Search != "" && len(q.SearchFields) > 0 {
		clauses := make([]string, 0, len(q.SearchFields))
		args := make([]interface{}, 0, len(q.SearchFields))
		pattern := "%" + strings.ToLower(q.Search) + "%"
		for _, field := range q.SearchFields {
			clauses = append(clauses, "LOWER("+field+") LIKE ?")
			args = append(args, pattern)
		}
		query = query.Where(strings.Join(clauses, " OR "), args...)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	sort := "created_at"
	if s.sortable[q.Sort] {
		sort = q.Sort
	}
	order := "DESC"
	if strings.EqualFold(q.Order, "asc") {
		order = "ASC"
	}
	query = query.Order(sort + " " + order)

	if q.Page > 0 && q.Limit > 0 {
		query = query.Offset((q.Page - 1) * q.Limit).Limit(q.Limit)
	}

	query = s.applyIncludes(query, includes...)

	if err := query.Find(&entities).Error; err != nil {
		return nil, 0, err
	}

	return entities, total, nil
}

func (s *BaseServiceImpl[T]) Update(ctx context.Context, id string, entity *T, includes ...string) error {
	res := s.db.WithContext(ctx).Model(entity).Where("id = ? AND is_deleted = ?", id, false).Omit("id", "created_at").Updates(entity)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}

	// Reload the entity so callers see the merged row
	if err := s.applyIncludes(s.db.WithContext(ctx), includes...).First(entity, "id = ?", id).Error; err != nil {
		return err
	}

	s.bus.Emit(fmt.Sprintf("%s.updated", s.table()), entity)
	return nil
}

func (s *BaseServiceImpl[T]) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(new(T)).
		Where("id = ? AND is_deleted = ?", id, false).
		Updates(map[string]interface{}{"deleted_at": time.Now(), "is_deleted": true})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}

	s.bus.Emit(fmt.Sprintf("%s.deleted", s.table()), id)
	return nil
}
