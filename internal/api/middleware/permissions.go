package middleware

import (
	"github.com/labstack/echo/v4"

	"medfinder/internal/authz"
)

const grantKey = "grant"

// RequireCapability resolves c for the caller before the handler runs. The
// authz sentinel errors are mapped to 401 and 403 by the error handler.
func RequireCapability(r *authz.Resolver, c authz.Capability) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			grant, err := r.Resolve(ctx.Request().Context(), c)
			if err != nil {
				return err
			}
			ctx.Set(grantKey, grant)
			return next(ctx)
		}
	}
}

// GrantFrom returns the grant stored by RequireCapability.
func GrantFrom(c echo.Context) (authz.Grant, bool) {
	g, ok := c.Get(grantKey).(authz.Grant)
	return g, ok
}
