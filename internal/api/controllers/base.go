package controllers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"medfinder/internal/services"
)

// WriteCheck authorizes a write beyond the route capability. id is empty
// on create; entity is nil on delete.
type WriteCheck[T any] func(c echo.Context, id string, entity *T) error

// BaseController provides generic CRUD operations for any model
type BaseController[T any] struct {
	service      services.BaseService[T]
	searchFields []string
	filterable   map[string]bool
	check        WriteCheck[T]
}

// NewBaseController creates a new base controller. filterable lists the
// query parameters accepted as equality filters.
func NewBaseController[T any](service services.BaseService[T], searchFields []string, filterable ...string) *BaseController[T] {
	allowed := make(map[string]bool, len(filterable))
	for _, f := range filterable {
		allowed[f] = true
	}
	return &BaseController[T]{
		service:      service,
		searchFields: searchFields,
		filterable:   allowed,
	}
}

// WithWriteCheck installs an extra authorization hook for writes.
func (c *BaseController[T]) WithWriteCheck(check WriteCheck[T]) *BaseController[T] {
	c.check = check
	return c
}

func (c *BaseController[T]) authorize(ctx echo.Context, id string, entity *T) error {
	if c.check == nil {
		return nil
	}
	return c.check(ctx, id, entity)
}

// parseIncludes parses the include query parameter and returns a slice of relationships to preload
func parseIncludes(ctx echo.Context) []string {
	include := ctx.QueryParam("include")
	if include == "" {
		return nil
	}
	return strings.Split(include, ",")
}

func notFoundOr500(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "entity not found")
	}
	return err
}

// Create handles creation of new entities
func (c *BaseController[T]) Create(ctx echo.Context) error {
	var entity T
	if err := ctx.Bind(&entity); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body "+err.Error())
	}

	if err := ctx.Validate(&entity); err != nil {
		return err
	}
	if err := c.authorize(ctx, "", &entity); err != nil {
		return err
	}

	if err := c.service.Create(ctx.Request().Context(), &entity, parseIncludes(ctx)...); err != nil {
		return err
	}

	return ctx.JSON(http.StatusCreated, entity)
}

// Get handles retrieval of a single entity
func (c *BaseController[T]) Get(ctx echo.Context) error {
	entity, err := c.service.Get(ctx.Request().Context(), ctx.Param("id"), parseIncludes(ctx)...)
	if err != nil {
		return notFoundOr500(err)
	}

	return ctx.JSON(http.StatusOK, entity)
}

// List handles retrieval of multiple entities with pagination and filtering
func (c *BaseController[T]) List(ctx echo.Context) error {
	page, _ := strconv.Atoi(ctx.QueryParam("page"))
	limit, _ := strconv.Atoi(ctx.QueryParam("limit"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	filters := make(map[string]interface{})
	for key, values := range ctx.QueryParams() {
		if c.filterable[key] && len(values) > 0 {
			filters[key] = values[0]
		}
	}

	entities, total, err := c.service.List(ctx.Request().Context(), services.ListQuery{
		Page:         page,
		Limit:        limit,
		Filters:      filters,
		Search:       ctx.QueryParam("q"),
		SearchFields: c.searchFields,
		Sort:         ctx.QueryParam("sort"),
		Order:        ctx.QueryParam("order"),
	}, parseIncludes(ctx)...)
	if err != nil {
		return err
	}

	return ctx.JSON(http.StatusOK, map[string]interface{}{
		"data":  entities,
		"total": total,
		"page":  page,
		"limit": limit,
	})
}

// Update handles updating an existing entity
func (c *BaseController[T]) Update(ctx echo.Context) error {
	id := ctx.Param("id")

	var entity T
	if err := ctx.Bind(&entity); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := ctx.Validate(&entity); err != nil {
		return err
	}
	if err := c.authorize(ctx, id, &entity); err != nil {
		return err
	}

	if err := c.service.Update(ctx.Request().Context(), id, &entity, parseIncludes(ctx)...); err != nil {
		return notFoundOr500(err)
	}

	return ctx.JSON(http.StatusOK, entity)
}

// Delete handles deletion of an entity
func (c *BaseController[T]) Delete(ctx echo.Context) error {
	id := ctx.Param("id")
	if err := c.authorize(ctx, id, nil); err != nil {
		return err
	}

	if err := c.service.Delete(ctx.Request().Context(), id); err != nil {
		return notFoundOr500(err)
	}

	return ctx.NoContent(http.StatusNoContent)
}
