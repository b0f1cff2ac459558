// Package auth implements passwordless sign-in: a short-lived magic
// link is mailed to the user, and verifying it exchanges the link token
// for a longer-lived session token. Both tokens are HMAC-signed JWTs;
// no session state is kept server-side.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nimbusmail/outreach/internal/domain"
	"github.com/nimbusmail/outreach/internal/pkg/clock"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrInvalidEmail = errors.New("invalid email address")
)

const (
	purposeMagicLink = "magic_link"
	purposeSession   = "session"
)

// UserRepo is the account storage auth needs.
type UserRepo interface {
	GetOrCreateUser(ctx context.Context, email string) (*domain.User, error)
	GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error)
	UpdateProfile(ctx context.Context, id uuid.UUID, firstName, signatureHTML string) (*domain.User, error)
}

type claims struct {
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

// Service issues and verifies magic-link and session tokens.
type Service struct {
	users      UserRepo
	secret     []byte
	magicTTL   time.Duration
	sessionTTL time.Duration
	baseURL    string
	clk        clock.Clock
}

// NewService creates an auth service. baseURL is the frontend origin
// the magic link points at.
func NewService(users UserRepo, secret string, magicTTL, sessionTTL time.Duration, baseURL string, clk clock.Clock) *Service {
	return &Service{
		users:      users,
		secret:     []byte(secret),
		magicTTL:   magicTTL,
		sessionTTL: sessionTTL,
		baseURL:    strings.TrimRight(baseURL, "/"),
		clk:        clk,
	}
}

// RequestMagicLink creates the account if needed and returns the
// sign-in link to deliver to the address. The link token is single
// purpose and expires after magicTTL.
func (s *Service) RequestMagicLink(ctx context.Context, email string) (string, *domain.User, error) {
	email = domain.NormalizeEmail(email)
	if !strings.Contains(email, "@") {
		return "", nil, ErrInvalidEmail
	}
	u, err := s.users.GetOrCreateUser(ctx, email)
	if err != nil {
		return "", nil, fmt.Errorf("get or create user: %w", err)
	}
	token, err := s.sign(purposeMagicLink, u.ID, s.magicTTL)
	if err != nil {
		return "", nil, err
	}
	link := s.baseURL + "/auth/verify?token=" + url.QueryEscape(token)
	return link, u, nil
}

// VerifyMagicLink validates a link token and exchanges it for a
// session token.
func (s *Service) VerifyMagicLink(ctx context.Context, token string) (string, *domain.User, error) {
	userID, err := s.parse(token, purposeMagicLink)
	if err != nil {
		return "", nil, err
	}
	u, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return "", nil, fmt.Errorf("get user: %w", err)
	}
	if u == nil {
		return "", nil, ErrInvalidToken
	}
	session, err := s.sign(purposeSession, u.ID, s.sessionTTL)
	if err != nil {
		return "", nil, err
	}
	return session, u, nil
}

// VerifySession returns the user id carried by a session token.
func (s *Service) VerifySession(token string) (uuid.UUID, error) {
	return s.parse(token, purposeSession)
}

// CurrentUser loads the account behind a session-authenticated request.
func (s *Service) CurrentUser(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	u, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if u == nil {
		return nil, ErrInvalidToken
	}
	return u, nil
}

// UpdateProfile sets the sender identity used on outgoing email.
func (s *Service) UpdateProfile(ctx context.Context, userID uuid.UUID, firstName, signatureHTML string) (*domain.User, error) {
	u, err := s.users.UpdateProfile(ctx, userID, firstName, signatureHTML)
	if err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	if u == nil {
		return nil, ErrInvalidToken
	}
	return u, nil
}

func (s *Service) sign(purpose string, userID uuid.UUID, ttl time.Duration) (string, error) {
	now := s.clk.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Purpose: purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (s *Service) parse(token, purpose string) (uuid.UUID, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithTimeFunc(s.clk.Now))
	if err != nil || !parsed.Valid {
		return uuid.Nil, ErrInvalidToken
	}
	if c.Purpose != purpose {
		return uuid.Nil, ErrInvalidToken
	}
	userID, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, ErrInvalidToken
	}
	return userID, nil
}
