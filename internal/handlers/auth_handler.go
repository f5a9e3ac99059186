package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"medfinder/internal/api/middleware"
	"medfinder/internal/api/validator"
	"medfinder/internal/models"
	"medfinder/internal/services"
	"medfinder/internal/utils/logger"
)

type AuthHandler struct {
	users    *services.UserService
	tokens   TokenIssuer
	sessions SessionStore
	log      *logger.Logger
}

func NewAuthHandler(users *services.UserService, tokens TokenIssuer, sessions SessionStore) *AuthHandler {
	return &AuthHandler{users: users, tokens: tokens, sessions: sessions, log: logger.New("AuthHandler")}
}

type AuthResponse struct {
	Token     string              `json:"token"`
	ExpiresAt time.Time           `json:"expiresAt"`
	User      *models.User        `json:"user"`
	Profile   *models.UserProfile `json:"profile"`
}

func (h *AuthHandler) issue(c echo.Context, user *models.User, profile *models.UserProfile) (*AuthResponse, error) {
	token, claims, err := h.tokens.GenerateJWT(user.ID, user.Email)
	if err != nil {
		return nil, h.log.Error("Failed to generate token", err)
	}
	session := &models.Session{
		UserID:    user.ID,
		Token:     claims.ID,
		IPAddress: c.RealIP(),
		UserAgent: c.Request().UserAgent(),
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if err := h.sessions.Create(c.Request().Context(), session); err != nil {
		return nil, h.log.Error("Failed to create session", err)
	}
	return &AuthResponse{Token: token, ExpiresAt: session.ExpiresAt, User: user, Profile: profile}, nil
}

// Register creates an account and signs the user in. The first account in
// an empty system becomes admin.
// @Summary Register a new user
// @Tags auth
// @Accept json
// @Produce json
// @Param request body validator.RegisterRequest true "Registration details"
// @Success 201 {object} AuthResponse
// @Failure 400 {object} map[string]string "Validation error"
// @Failure 409 {object} map[string]string "Email exists"
// @Router /api/v1/auth/register [post]
func (h *AuthHandler) Register(c echo.Context) error {
	var req validator.RegisterRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	user, profile, err := h.users.Register(c.Request().Context(), req.Email, req.Password, req.Name)
	if errors.Is(err, services.ErrEmailTaken) {
		return echo.NewHTTPError(http.StatusConflict, "Email already exists")
	}
	if err != nil {
		return err
	}

	resp, err := h.issue(c, user, profile)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, resp)
}

// Login exchanges credentials for a session token.
// @Summary Log in
// @Tags auth
// @Accept json
// @Produce json
// @Param request body validator.LoginRequest true "Credentials"
// @Success 200 {object} AuthResponse
// @Failure 401 {object} map[string]string "Invalid credentials"
// @Router /api/v1/auth/login [post]
func (h *AuthHandler) Login(c echo.Context) error {
	var req validator.LoginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	user, err := h.users.Authenticate(ctx, req.Email, req.Password)
	if errors.Is(err, services.ErrInvalidCredentials) {
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid credentials")
	}
	if err != nil {
		return err
	}

	profile, err := h.users.EnsureProfile(ctx, user.ID)
	if err != nil {
		return err
	}

	resp, err := h.issue(c, user, profile)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// Logout revokes the caller's token.
// @Summary Log out
// @Tags auth
// @Security BearerAuth
// @Success 204
// @Router /api/v1/auth/logout [post]
func (h *AuthHandler) Logout(c echo.Context) error {
	tokenID := middleware.TokenID(c)
	if tokenID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "Not signed in")
	}
	if err := h.sessions.Revoke(c.Request().Context(), tokenID); err != nil {
		return h.log.Error("Failed to revoke session", err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Me returns the caller's account and role profile.
// @Summary Current user
// @Tags auth
// @Security BearerAuth
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/auth/me [get]
func (h *AuthHandler) Me(c echo.Context) error {
	ctx := c.Request().Context()
	userID := middleware.UserID(c)

	user, err := h.users.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	profile, err := h.users.EnsureProfile(ctx, userID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"user": user, "profile": profile})
}

// Bootstrap makes the caller admin when nobody else has a profile yet.
// @Summary Claim the first admin seat
// @Tags auth
// @Security BearerAuth
// @Produce json
// @Success 200 {object} models.UserProfile
// @Failure 409 {object} map[string]string "Other users exist"
// @Router /api/v1/auth/bootstrap [post]
func (h *AuthHandler) Bootstrap(c echo.Context) error {
	profile, err := h.users.Bootstrap(c.Request().Context(), middleware.UserID(c))
	if errors.Is(err, services.ErrBootstrapClosed) {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, profile)
}
