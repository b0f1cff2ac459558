package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/nimbusmail/outreach/internal/domain"
)

const userColumns = `id, email, COALESCE(first_name,''), COALESCE(signature_html,''),
	profile_completed, created_at, updated_at`

// UserRepository stores accounts. Magic-link sign-in creates the
// account on first use, so lookup and creation are one upsert.
type UserRepository struct{ db *sql.DB }

// NewUserRepository creates a Postgres-backed user repository.
func NewUserRepository(db *sql.DB) *UserRepository { return &UserRepository{db: db} }

func scanUser(row rowScanner) (*domain.User, error) {
	u := &domain.User{}
	err := row.Scan(&u.ID, &u.Email, &u.FirstName, &u.SignatureHTML,
		&u.ProfileCompleted, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (r *UserRepository) GetOrCreateUser(ctx context.Context, email string) (*domain.User, error) {
	email = domain.NormalizeEmail(email)
	u, err := scanUser(r.db.QueryRowContext(ctx, `
		INSERT INTO users (id, email, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (email) DO UPDATE SET updated_at = NOW()
		RETURNING `+userColumns+`
	`, uuid.New(), email))
	if err != nil {
		return nil, fmt.Errorf("get or create user: %w", err)
	}
	return u, nil
}

func (r *UserRepository) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE id = $1
	`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (r *UserRepository) UpdateProfile(ctx context.Context, id uuid.UUID, firstName, signatureHTML string) (*domain.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, `
		UPDATE users
		SET first_name = $1, signature_html = $2, profile_completed = TRUE, updated_at = NOW()
		WHERE id = $3
		RETURNING `+userColumns+`
	`, firstName, signatureHTML, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	return u, nil
}
