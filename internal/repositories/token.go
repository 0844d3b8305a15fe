package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/songroom/internal/shared"
	"golang.org/x/oauth2"
)

// DefaultTokenHistory is the number of token rows kept after each save.
const DefaultTokenHistory = 5

// TokenRepository persists controller tokens. It implements [services.TokenStore].
type TokenRepository struct {
	db      *sql.DB
	keep    int
	nowFunc func() time.Time
}

// NewTokenRepository creates a new [TokenRepository] with the given database connection
func NewTokenRepository(db *sql.DB) *TokenRepository {
	return &TokenRepository{db: db, keep: DefaultTokenHistory, nowFunc: time.Now}
}

// TokenRecord is one stored credential, used for status output.
type TokenRecord struct {
	ID            string
	TokenType     string
	Expiry        *time.Time
	HasRefresh    bool
	CreatedAt     time.Time
	InvalidatedAt *time.Time
}

// Save inserts tok as the newest credential and trims older rows.
func (r *TokenRepository) Save(ctx context.Context, tok *oauth2.Token) error {
	if tok == nil {
		return fmt.Errorf("%w: token cannot be nil", shared.ErrInvalidArgument)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var expiry sql.NullTime
	if !tok.Expiry.IsZero() {
		expiry = sql.NullTime{Time: tok.Expiry, Valid: true}
	}
	tokenType := tok.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}

	query := `
		INSERT INTO controller_tokens (id, access_token, refresh_token, token_type, expiry, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, query, shared.GenerateID(), tok.AccessToken, tok.RefreshToken, tokenType, expiry, r.nowFunc()); err != nil {
		return fmt.Errorf("failed to insert token: %w", err)
	}

	trim := `
		DELETE FROM controller_tokens
		WHERE rowid NOT IN (SELECT rowid FROM controller_tokens ORDER BY rowid DESC LIMIT ?)
	`
	if _, err := tx.ExecContext(ctx, trim, r.keep); err != nil {
		return fmt.Errorf("failed to trim token history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit token: %w", err)
	}
	return nil
}

// Latest returns the newest credential that has not been invalidated, or nil when there is none.
func (r *TokenRepository) Latest(ctx context.Context) (*oauth2.Token, error) {
	query := `
		SELECT access_token, refresh_token, token_type, expiry
		FROM controller_tokens
		WHERE invalidated_at IS NULL
		ORDER BY rowid DESC
		LIMIT 1
	`

	var (
		tok    oauth2.Token
		expiry sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query).Scan(&tok.AccessToken, &tok.RefreshToken, &tok.TokenType, &expiry)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query token: %w", err)
	}
	if expiry.Valid {
		tok.Expiry = expiry.Time
	}
	return &tok, nil
}

// Invalidate marks every stored credential unusable.
func (r *TokenRepository) Invalidate(ctx context.Context) error {
	query := `UPDATE controller_tokens SET invalidated_at = ? WHERE invalidated_at IS NULL`
	if _, err := r.db.ExecContext(ctx, query, r.nowFunc()); err != nil {
		return fmt.Errorf("failed to invalidate tokens: %w", err)
	}
	return nil
}

// List returns stored credentials, newest first. Secrets are not included.
func (r *TokenRepository) List(ctx context.Context) ([]TokenRecord, error) {
	query := `
		SELECT id, token_type, expiry, refresh_token != '', created_at, invalidated_at
		FROM controller_tokens
		ORDER BY rowid DESC
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query tokens: %w", err)
	}
	defer rows.Close()

	var records []TokenRecord
	for rows.Next() {
		var (
			rec         TokenRecord
			expiry      sql.NullTime
			invalidated sql.NullTime
		)
		if err := rows.Scan(&rec.ID, &rec.TokenType, &expiry, &rec.HasRefresh, &rec.CreatedAt, &invalidated); err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		if expiry.Valid {
			rec.Expiry = &expiry.Time
		}
		if invalidated.Valid {
			rec.InvalidatedAt = &invalidated.Time
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tokens: %w", err)
	}
	return records, nil
}
