package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hcpe-setisd/leitos-backend/internal/common"
	"github.com/hcpe-setisd/leitos-backend/internal/db"
	"github.com/hcpe-setisd/leitos-backend/internal/model"
)

const refreshTokenBytes = 64

// refreshTokenRepo is implemented by *db.Postgres.
type refreshTokenRepo interface {
	InsertRefreshToken(ctx context.Context, username, tokenHash string, groups []string, expiresAt time.Time) (*model.RefreshToken, error)
	GetRefreshTokenByHash(ctx context.Context, tokenHash string) (*model.RefreshToken, error)
	ConsumeRefreshTokenByHash(ctx context.Context, tokenHash string) (*model.RefreshToken, error)
	DeleteRefreshTokenByHash(ctx context.Context, tokenHash string) error
	DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error)
}

// RefreshTokenStore persists opaque refresh tokens. Only the SHA-256 digest
// of a token is stored; lookups are exact matches on the presented string.
type RefreshTokenStore struct {
	repo refreshTokenRepo
	now  func() time.Time
}

func NewRefreshTokenStore(repo refreshTokenRepo) *RefreshTokenStore {
	return &RefreshTokenStore{repo: repo, now: time.Now}
}

func (s *RefreshTokenStore) Issue(ctx context.Context, username string, groups []string, ttl time.Duration) (string, error) {
	token, hash, err := newRefreshToken()
	if err != nil {
		return "", fmt.Errorf("%w: generate refresh token: %v", common.ErrInternal, err)
	}

	if _, err := s.repo.InsertRefreshToken(ctx, username, hash, groups, s.now().Add(ttl)); err != nil {
		if errors.Is(err, db.ErrDuplicateToken) {
			return "", common.ErrTokenCollision
		}
		return "", fmt.Errorf("%w: insert refresh token: %v", common.ErrInternal, err)
	}
	return token, nil
}

// Verify returns the record for token. Missing and expired tokens are
// reported identically as ErrInvalidOrExpired.
func (s *RefreshTokenStore) Verify(ctx context.Context, token string) (*model.RefreshToken, error) {
	if token == "" {
		return nil, common.ErrInvalidOrExpired
	}
	record, err := s.repo.GetRefreshTokenByHash(ctx, hashRefreshToken(token))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, common.ErrInvalidOrExpired
		}
		return nil, fmt.Errorf("%w: load refresh token: %v", common.ErrInternal, err)
	}
	if s.expired(record) {
		return nil, common.ErrInvalidOrExpired
	}
	return record, nil
}

// Consume verifies and deletes token in one storage operation. Of several
// concurrent callers with the same token at most one receives the record.
func (s *RefreshTokenStore) Consume(ctx context.Context, token string) (*model.RefreshToken, error) {
	if token == "" {
		return nil, common.ErrInvalidOrExpired
	}
	record, err := s.repo.ConsumeRefreshTokenByHash(ctx, hashRefreshToken(token))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, common.ErrInvalidOrExpired
		}
		return nil, fmt.Errorf("%w: consume refresh token: %v", common.ErrInternal, err)
	}
	if s.expired(record) {
		return nil, common.ErrInvalidOrExpired
	}
	return record, nil
}

// Invalidate deletes token if present. Deleting a missing token is not an error.
func (s *RefreshTokenStore) Invalidate(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.repo.DeleteRefreshTokenByHash(ctx, hashRefreshToken(token)); err != nil {
		return fmt.Errorf("%w: delete refresh token: %v", common.ErrInternal, err)
	}
	return nil
}

// Sweep removes expired rows. Expired tokens are already rejected on lookup,
// so this only reclaims storage.
func (s *RefreshTokenStore) Sweep(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpiredRefreshTokens(ctx, s.now())
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s *RefreshTokenStore) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.Sweep(ctx)
			if err != nil {
				slog.Error("refresh token sweep failed", "error", err)
				continue
			}
			if removed > 0 {
				slog.Info("expired refresh tokens removed", "count", removed)
			}
		}
	}
}

func (s *RefreshTokenStore) expired(record *model.RefreshToken) bool {
	return s.now().After(record.ExpiresAt)
}

func newRefreshToken() (string, string, error) {
	raw := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", "", err
	}
	token := base64.RawURLEncoding.EncodeToString(raw)
	return token, hashRefreshToken(token), nil
}

func hashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
