package domain

import (
	"time"

	"github.com/google/uuid"
)

// User owns campaigns. Auth is passwordless (magic link), so there is
// no credential material here beyond the address itself.
//
// SignatureHTML, when set, is appended to every outgoing body after a
// blank-line separator.
type User struct {
	ID               uuid.UUID `json:"id" db:"id"`
	Email            string    `json:"email" db:"email"`
	FirstName        string    `json:"first_name" db:"first_name"`
	SignatureHTML    string    `json:"signature_html" db:"signature_html"`
	ProfileCompleted bool      `json:"profile_completed" db:"profile_completed"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}
