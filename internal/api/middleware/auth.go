package middleware

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"medfinder/internal/authz"
	"medfinder/internal/utils"
	"medfinder/internal/utils/logger"
)

var log = logger.New("auth_middleware")

type TokenParser interface {
	ParseJWT(token string) (*utils.Claims, error)
}

// SessionChecker reports whether a token id is still an active session.
type SessionChecker interface {
	Active(ctx context.Context, tokenID string) (bool, error)
}

type AuthMiddleware struct {
	tokens   TokenParser
	sessions SessionChecker
}

func NewAuthMiddleware(tokens TokenParser, sessions SessionChecker) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, sessions: sessions}
}

// Middleware attaches the caller identity when a bearer token is present.
// Requests without one continue anonymously; capability checks decide
// whether that is enough. A token that is present but invalid is rejected.
func (m *AuthMiddleware) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			if header == "" {
				return next(c)
			}

			token, ok := utils.BearerToken(header)
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid authorization header format")
			}

			claims, err := m.tokens.ParseJWT(token)
			if err != nil {
				log.Debug("Rejected token: %v", err)
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid token")
			}

			ctx := c.Request().Context()
			active, err := m.sessions.Active(ctx, claims.ID)
			if err != nil {
				return log.Error("Failed to check session for %s", err, claims.UserID)
			}
			if !active {
				return echo.NewHTTPError(http.StatusUnauthorized, "Session expired or revoked")
			}

			c.Set("userID", claims.UserID)
			c.Set("tokenID", claims.ID)
			c.SetRequest(c.Request().WithContext(authz.WithIdentity(ctx, authz.Identity{
				UserID: claims.UserID,
				Email:  claims.Email,
			})))
			return next(c)
		}
	}
}

// UserID returns the authenticated caller, or "" for anonymous requests.
func UserID(c echo.Context) string {
	id, _ := c.Get("userID").(string)
	return id
}

// TokenID returns the session key of the caller's token.
func TokenID(c echo.Context) string {
	id, _ := c.Get("tokenID").(string)
	return id
}
