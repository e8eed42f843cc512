package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hcpe-setisd/leitos-backend/internal/common"
	"github.com/hcpe-setisd/leitos-backend/internal/config"
	"github.com/hcpe-setisd/leitos-backend/internal/model"
)

const (
	RefreshCookieName = "refresh_token"

	// Access tokens paired with a refresh token are short-lived.
	durableAccessTTL = 15 * time.Minute

	devUsername = "dev"
)

// CredentialVerifier authenticates users against an identity source.
type CredentialVerifier interface {
	Authenticate(ctx context.Context, username, password string) (*model.Identity, error)
	Lookup(ctx context.Context, username string) (*model.Identity, error)
	Provider() string
}

type CookieConfig struct {
	Name     string
	Path     string
	Domain   string
	Secure   bool
	SameSite http.SameSite
	MaxAge   int
}

// AuthService drives login, refresh with rotation, logout and access token
// validation. All fields are set at construction and never mutated.
type AuthService struct {
	verifier      CredentialVerifier
	tokens        *TokenCodec
	refresh       *RefreshTokenStore
	authEnabled   bool
	accessTTL     time.Duration
	refreshTTL    time.Duration
	sweepInterval time.Duration
	adminGroup    string
	cookieCfg     CookieConfig
	logger        *slog.Logger
}

func NewAuthService(repo refreshTokenRepo, verifier CredentialVerifier, cfg config.AuthConfig) (*AuthService, error) {
	if verifier == nil {
		return nil, fmt.Errorf("%w: no credential verifier", common.ErrMisconfiguredProvider)
	}

	tokens, err := NewTokenCodec(cfg.JWTSecret)
	if err != nil {
		return nil, err
	}

	authEnabled, err := parseBool(cfg.Enabled, true)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid AUTH_ENABLED", common.ErrMisconfigured)
	}

	expHours, err := parsePositiveInt(cfg.JWTExpHours, 24)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid JWT_EXP_HOURS", common.ErrMisconfigured)
	}

	expDays, err := parsePositiveInt(cfg.RefreshTokenExpDays, 30)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid REFRESH_TOKEN_EXP_DAYS", common.ErrMisconfigured)
	}

	sweepInterval, err := parseDuration(cfg.RefreshSweepInterval)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid REFRESH_SWEEP_INTERVAL", common.ErrMisconfigured)
	}

	cookieSecure, err := parseBool(cfg.CookieSecure, true)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid AUTH_COOKIE_SECURE", common.ErrMisconfigured)
	}

	cookieSameSite, err := parseSameSite(cfg.CookieSameSite)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid AUTH_COOKIE_SAMESITE", common.ErrMisconfigured)
	}

	if cookieSameSite == http.SameSiteNoneMode && !cookieSecure {
		return nil, fmt.Errorf("%w: SameSite=None requires Secure cookie", common.ErrMisconfigured)
	}

	cookiePath := cfg.CookiePath
	if strings.TrimSpace(cookiePath) == "" {
		cookiePath = "/"
	}

	refreshTTL := time.Duration(expDays) * 24 * time.Hour

	return &AuthService{
		verifier:      verifier,
		tokens:        tokens,
		refresh:       NewRefreshTokenStore(repo),
		authEnabled:   authEnabled,
		accessTTL:     time.Duration(expHours) * time.Hour,
		refreshTTL:    refreshTTL,
		sweepInterval: sweepInterval,
		adminGroup:    strings.TrimSpace(cfg.AdminGroup),
		cookieCfg: CookieConfig{
			Name:     RefreshCookieName,
			Path:     cookiePath,
			Domain:   cfg.CookieDomain,
			Secure:   cookieSecure,
			SameSite: cookieSameSite,
			MaxAge:   int(refreshTTL.Seconds()),
		},
		logger: slog.Default().With("component", "auth"),
	}, nil
}

func (s *AuthService) AuthEnabled() bool {
	return s.authEnabled
}

func (s *AuthService) Provider() string {
	return s.verifier.Provider()
}

func (s *AuthService) CookieConfig() CookieConfig {
	return s.cookieCfg
}

// StartSweeper purges expired refresh tokens in the background until ctx ends.
func (s *AuthService) StartSweeper(ctx context.Context) {
	go s.refresh.RunSweeper(ctx, s.sweepInterval)
}

// Login verifies the credentials and issues an access token. With remember
// set the access token is short-lived and a refresh token is issued too;
// otherwise the refresh token is empty.
func (s *AuthService) Login(ctx context.Context, username, password string, remember bool) (string, string, int64, error) {
	identity, err := s.verifier.Authenticate(ctx, username, password)
	if err != nil {
		s.logger.Info("login failed", "username", username, "error", err)
		return "", "", 0, err
	}

	ttl := s.accessTTL
	if remember {
		ttl = durableAccessTTL
	}

	accessToken, err := s.tokens.Issue(identity, ttl)
	if err != nil {
		return "", "", 0, err
	}

	var refreshToken string
	if remember {
		refreshToken, err = s.refresh.Issue(ctx, identity.Username, identity.Groups, s.refreshTTL)
		if err != nil {
			return "", "", 0, err
		}
	}

	s.logger.Info("login succeeded", "username", identity.Username, "remember", remember)
	return accessToken, refreshToken, int64(ttl.Seconds()), nil
}

// Refresh exchanges a refresh token for a new access/refresh pair. The old
// token is consumed before anything is issued, so it cannot be replayed even
// when the rest of the flow fails.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (string, string, int64, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return "", "", 0, common.ErrInvalidOrExpired
	}

	record, err := s.refresh.Consume(ctx, refreshToken)
	if err != nil {
		return "", "", 0, err
	}

	identity, err := s.verifier.Lookup(ctx, record.Username)
	switch {
	case errors.Is(err, common.ErrLookupUnsupported):
		identity = &model.Identity{Username: record.Username, Groups: record.Groups}
	case err != nil:
		s.logger.Warn("re-authentication failed", "username", record.Username, "error", err)
		return "", "", 0, fmt.Errorf("%w: %v", common.ErrReauthFailed, err)
	}

	accessToken, err := s.tokens.Issue(identity, durableAccessTTL)
	if err != nil {
		return "", "", 0, err
	}

	newRefreshToken, err := s.refresh.Issue(ctx, identity.Username, identity.Groups, s.refreshTTL)
	if err != nil {
		return "", "", 0, err
	}

	s.logger.Info("refresh token rotated", "username", identity.Username)
	return accessToken, newRefreshToken, int64(durableAccessTTL.Seconds()), nil
}

// Logout revokes the refresh token if one is given. It never fails from the
// caller's point of view.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return
	}
	if err := s.refresh.Invalidate(ctx, refreshToken); err != nil {
		s.logger.Error("failed to revoke refresh token on logout", "error", err)
	}
}

// CurrentIdentity validates the access token and returns its claims.
//
// When AUTH_ENABLED=false this is the single place where authentication is
// bypassed: the token is not inspected at all, a missing token is accepted,
// and a fixed development identity in the admin group is returned.
func (s *AuthService) CurrentIdentity(accessToken string) (*model.Claims, error) {
	if !s.authEnabled {
		return s.devClaims(), nil
	}

	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return nil, common.ErrUnauthorized
	}
	return s.tokens.Validate(accessToken)
}

func (s *AuthService) devClaims() *model.Claims {
	groups := []string{}
	if s.adminGroup != "" {
		groups = append(groups, s.adminGroup)
	}
	return &model.Claims{Subject: devUsername, Groups: groups}
}

func parseBool(value string, fallback bool) (bool, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, err
	}
	return parsed, nil
}

func parsePositiveInt(value string, fallback int) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("must be positive: %d", parsed)
	}
	return parsed, nil
}

func parseDuration(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" || value == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration: %s", value)
	}
	return d, nil
}

func parseSameSite(value string) (http.SameSite, error) {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return http.SameSiteLaxMode, nil
	}
	switch value {
	case "lax":
		return http.SameSiteLaxMode, nil
	case "strict":
		return http.SameSiteStrictMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	default:
		return 0, common.ErrMisconfigured
	}
}
