package db

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/hcpe-setisd/leitos-backend/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var ErrDuplicateToken = errors.New("refresh token already exists")

const refreshTokenColumns = `id, username, token_hash, groups, expires_at, created_at`

func (db *Postgres) InsertRefreshToken(ctx context.Context, username, tokenHash string, groups []string, expiresAt time.Time) (*model.RefreshToken, error) {
	if groups == nil {
		groups = []string{}
	}
	groupsJSON, err := json.Marshal(groups)
	if err != nil {
		return nil, err
	}
	query := `
		INSERT INTO refresh_tokens (username, token_hash, groups, expires_at, created_at)
		VALUES ($1, $2, $3::jsonb, $4, NOW())
		RETURNING ` + refreshTokenColumns

	token, err := scanRefreshToken(db.Pool.QueryRow(ctx, query, username, tokenHash, string(groupsJSON), expiresAt))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateToken
		}
		return nil, err
	}
	return token, nil
}

func (db *Postgres) GetRefreshTokenByHash(ctx context.Context, tokenHash string) (*model.RefreshToken, error) {
	query := `
		SELECT ` + refreshTokenColumns + `
		FROM refresh_tokens
		WHERE token_hash = $1
	`
	return scanRefreshToken(db.Pool.QueryRow(ctx, query, tokenHash))
}

// ConsumeRefreshTokenByHash deletes the row and returns it. Concurrent callers
// presenting the same hash are serialized by the row lock: exactly one gets
// the record, the rest get pgx.ErrNoRows.
func (db *Postgres) ConsumeRefreshTokenByHash(ctx context.Context, tokenHash string) (*model.RefreshToken, error) {
	query := `
		DELETE FROM refresh_tokens
		WHERE token_hash = $1
		RETURNING ` + refreshTokenColumns
	return scanRefreshToken(db.Pool.QueryRow(ctx, query, tokenHash))
}

func (db *Postgres) DeleteRefreshTokenByHash(ctx context.Context, tokenHash string) error {
	_, err := db.Pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE token_hash = $1`, tokenHash)
	return err
}

func (db *Postgres) DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanRefreshToken(row pgx.Row) (*model.RefreshToken, error) {
	var token model.RefreshToken
	err := row.Scan(
		&token.ID,
		&token.Username,
		&token.TokenHash,
		&token.Groups,
		&token.ExpiresAt,
		&token.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &token, nil
}

func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
