package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
	"github.com/hcpe-setisd/leitos-backend/internal/common"
	"github.com/hcpe-setisd/leitos-backend/internal/model"
	"github.com/hcpe-setisd/leitos-backend/internal/service"
)

type AuthHandler struct {
	svc *service.AuthService
}

func NewAuthHandler(svc *service.AuthService) *AuthHandler {
	return &AuthHandler{svc: svc}
}

// Login godoc
// @Summary Login
// @Description Authenticates against the directory. With remember_me a refresh token cookie is set.
// @Tags auth
// @Accept x-www-form-urlencoded,json
// @Produce json
// @Param request body model.LoginRequest true "Username, password and remember_me"
// @Success 200 {object} model.AuthResponse
// @Failure 400 {object} model.ErrorResponse
// @Failure 401 {object} model.ErrorResponse
// @Failure 503 {object} model.ErrorResponse
// @Failure 500 {object} model.ErrorResponse
// @Router /api/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req model.LoginRequest
	if err := c.ShouldBind(&req); err != nil || strings.TrimSpace(req.Username) == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	accessToken, refreshToken, expiresIn, err := h.svc.Login(c.Request.Context(), req.Username, req.Password, req.RememberMe)
	if err != nil {
		writeAuthError(c, err)
		return
	}

	if refreshToken != "" {
		h.setRefreshCookie(c, refreshToken)
	}
	c.JSON(http.StatusOK, model.AuthResponse{
		AccessToken: accessToken,
		TokenType:   "bearer",
		ExpiresIn:   expiresIn,
	})
}

// Refresh godoc
// @Summary Refresh access token
// @Description Uses and rotates the refresh token cookie (refresh_token).
// @Tags auth
// @Produce json
// @Success 200 {object} model.AuthResponse
// @Failure 401 {object} model.ErrorResponse
// @Failure 500 {object} model.ErrorResponse
// @Router /api/token/refresh [post]
func (h *AuthHandler) Refresh(c *gin.Context) {
	refreshToken, _ := c.Cookie(h.svc.CookieConfig().Name)
	accessToken, newRefreshToken, expiresIn, err := h.svc.Refresh(c.Request.Context(), refreshToken)
	if err != nil {
		writeAuthError(c, err)
		return
	}

	h.setRefreshCookie(c, newRefreshToken)
	c.JSON(http.StatusOK, model.AuthResponse{
		AccessToken: accessToken,
		TokenType:   "bearer",
		ExpiresIn:   expiresIn,
	})
}

// Logout godoc
// @Summary Logout
// @Description Revokes refresh token (if present) and clears cookie.
// @Tags auth
// @Produce json
// @Success 200 {object} model.AuthLogoutResponse
// @Router /api/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	refreshToken, _ := c.Cookie(h.svc.CookieConfig().Name)
	h.svc.Logout(c.Request.Context(), refreshToken)
	h.clearRefreshCookie(c)
	c.JSON(http.StatusOK, model.AuthLogoutResponse{Message: "Logged out successfully"})
}

// Config godoc
// @Summary Get auth config
// @Tags auth
// @Produce json
// @Success 200 {object} model.AuthConfigResponse
// @Router /api/auth/config [get]
func (h *AuthHandler) Config(c *gin.Context) {
	c.JSON(http.StatusOK, model.AuthConfigResponse{
		AuthEnabled: h.svc.AuthEnabled(),
		Provider:    h.svc.Provider(),
	})
}

// Me godoc
// @Summary Get current user
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} model.AuthMeResponse
// @Failure 401 {object} model.ErrorResponse
// @Router /api/users/me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	claims := GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, model.AuthMeResponse{
		Username:   claims.Subject,
		Groups:     claims.Groups,
		Attributes: claims.Attributes,
		ExpiresAt:  claims.ExpiresAt.Unix(),
	})
}

// AdminData godoc
// @Summary Admin-only data
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} model.AdminDataResponse
// @Failure 401 {object} model.ErrorResponse
// @Failure 403 {object} model.ErrorResponse
// @Router /api/admin-only-data [get]
func (h *AuthHandler) AdminData(c *gin.Context) {
	claims := GetClaims(c)
	c.JSON(http.StatusOK, model.AdminDataResponse{
		Message:    "This is highly confidential admin data!",
		UserGroups: claims.Groups,
	})
}

func (h *AuthHandler) setRefreshCookie(c *gin.Context, token string) {
	cfg := h.svc.CookieConfig()
	c.SetSameSite(cfg.SameSite)
	c.SetCookie(cfg.Name, token, cfg.MaxAge, cfg.Path, cfg.Domain, cfg.Secure, true)
}

func (h *AuthHandler) clearRefreshCookie(c *gin.Context) {
	cfg := h.svc.CookieConfig()
	c.SetSameSite(cfg.SameSite)
	c.SetCookie(cfg.Name, "", -1, cfg.Path, cfg.Domain, cfg.Secure, true)
}

func writeAuthError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, common.ErrReauthFailed):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "failed to re-authenticate user"})
	case errors.Is(err, common.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
	case errors.Is(err, common.ErrInvalidOrExpired):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired refresh token"})
	case errors.Is(err, common.ErrTokenExpired):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token has expired"})
	case errors.Is(err, common.ErrTokenInvalid), errors.Is(err, common.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	case errors.Is(err, common.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "not enough privileges"})
	case errors.Is(err, common.ErrServiceUnavailable):
		slog.Warn("directory unavailable", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "authentication service unavailable"})
	default:
		slog.Error("auth request failed", "path", c.FullPath(), "error", err)
		if hub := sentrygin.GetHubFromContext(c); hub != nil {
			hub.CaptureException(err)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server error"})
	}
}
