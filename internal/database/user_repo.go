package database

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/samovar-im/server/internal/domain"
)

// UserRepository handles user data access
type UserRepository struct {
	db *DB
}

func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a user and their credentials in one transaction
func (r *UserRepository) Create(ctx context.Context, user *domain.User, passwordHash string) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO users (id, username, email, display_name)
		VALUES ($1, $2, $3, $4)
	`, user.ID, user.Username, user.Email, user.DisplayName)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO credentials (user_id, password_hash)
		VALUES ($1, $2)
	`, user.ID, passwordHash)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return r.getOne(ctx, "id = $1", id)
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getOne(ctx, "email = $1", email)
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.getOne(ctx, "username = $1", username)
}

func (r *UserRepository) getOne(ctx context.Context, where string, arg interface{}) (*domain.User, error) {
	user := &domain.User{}
	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, username, email, display_name, avatar_url, last_seen_at, created_at, updated_at
		FROM users WHERE `+where,
		arg,
	).Scan(
		&user.ID, &user.Username, &user.Email, &user.DisplayName,
		&user.AvatarURL, &user.LastSeenAt, &user.CreatedAt, &user.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (r *UserRepository) GetPasswordHash(ctx context.Context, userID uuid.UUID) (string, error) {
	var hash string
	err := r.db.Pool.QueryRow(ctx,
		"SELECT password_hash FROM credentials WHERE user_id = $1", userID,
	).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", domain.ErrUserNotFound
	}
	return hash, err
}

func (r *UserRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM users WHERE email = $1)", email,
	).Scan(&exists)
	return exists, err
}

func (r *UserRepository) UsernameExists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM users WHERE username = $1)", username,
	).Scan(&exists)
	return exists, err
}

// SearchByUsername finds users whose username matches the query prefix
func (r *UserRepository) SearchByUsername(ctx context.Context, query string, limit int) ([]domain.User, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, username, email, display_name, avatar_url, last_seen_at, created_at, updated_at
		FROM users
		WHERE username ILIKE $1 || '%'
		ORDER BY username
		LIMIT $2
	`, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(
			&u.ID, &u.Username, &u.Email, &u.DisplayName,
			&u.AvatarURL, &u.LastSeenAt, &u.CreatedAt, &u.UpdatedAt,
		); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// Update saves profile fields
func (r *UserRepository) Update(ctx context.Context, user *domain.User) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE users
		SET display_name = $2, avatar_url = $3, updated_at = NOW()
		WHERE id = $1
	`, user.ID, user.DisplayName, user.AvatarURL)
	return err
}

// TouchLastSeen records when the user was last connected
func (r *UserRepository) TouchLastSeen(ctx context.Context, userID uuid.UUID, at time.Time) error {
	_, err := r.db.Pool.Exec(ctx,
		"UPDATE users SET last_seen_at = $2 WHERE id = $1", userID, at)
	return err
}

// Refresh tokens are stored hashed so a database leak does not leak sessions
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (r *UserRepository) CreateRefreshToken(ctx context.Context, userID uuid.UUID, token string, expiresAt time.Time) (uuid.UUID, error) {
	id := uuid.New()
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at)
		VALUES ($1, $2, $3, $4)
	`, id, userID, hashToken(token), expiresAt)
	return id, err
}

func (r *UserRepository) GetRefreshToken(ctx context.Context, token string) (*domain.RefreshToken, error) {
	rt := &domain.RefreshToken{}
	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, user_id, token_hash, expires_at, revoked_at, created_at
		FROM refresh_tokens WHERE token_hash = $1
	`, hashToken(token)).Scan(
		&rt.ID, &rt.UserID, &rt.TokenHash, &rt.ExpiresAt, &rt.RevokedAt, &rt.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrTokenInvalid
	}
	if err != nil {
		return nil, err
	}
	return rt, nil
}

func (r *UserRepository) RevokeRefreshToken(ctx context.Context, tokenID uuid.UUID) error {
	_, err := r.db.Pool.Exec(ctx,
		"UPDATE refresh_tokens SET revoked_at = NOW() WHERE id = $1", tokenID)
	return err
}

func (r *UserRepository) RevokeAllUserTokens(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.Pool.Exec(ctx,
		"UPDATE refresh_tokens SET revoked_at = NOW() WHERE user_id = $1 AND revoked_at IS NULL", userID)
	return err
}
