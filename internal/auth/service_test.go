package auth_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nimbusmail/outreach/internal/auth"
	"github.com/nimbusmail/outreach/internal/pkg/clock"
	"github.com/nimbusmail/outreach/internal/repository/memory"
)

func newService(clk clock.Clock) (*auth.Service, *memory.Store) {
	store := memory.New(clk)
	svc := auth.NewService(store, "test-secret", 15*time.Minute, 24*time.Hour, "http://localhost:3000", clk)
	return svc, store
}

func TestMagicLinkRoundTrip(t *testing.T) {
	clk := clock.NewFake(time.Now())
	svc, _ := newService(clk)
	ctx := context.Background()

	link, u, err := svc.RequestMagicLink(ctx, " Sam@Example.COM ")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if u.Email != "sam@example.com" {
		t.Errorf("email = %s", u.Email)
	}
	if !strings.HasPrefix(link, "http://localhost:3000/auth/verify?token=") {
		t.Errorf("link = %s", link)
	}

	token := strings.TrimPrefix(link, "http://localhost:3000/auth/verify?token=")
	session, verified, err := svc.VerifyMagicLink(ctx, token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verified.ID != u.ID {
		t.Errorf("verified %s, want %s", verified.ID, u.ID)
	}

	userID, err := svc.VerifySession(session)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if userID != u.ID {
		t.Errorf("session user = %s, want %s", userID, u.ID)
	}
}

func TestMagicLinkExpires(t *testing.T) {
	clk := clock.NewFake(time.Now())
	svc, _ := newService(clk)

	link, _, err := svc.RequestMagicLink(context.Background(), "sam@example.com")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	token := link[strings.Index(link, "token=")+len("token="):]

	clk.Advance(16 * time.Minute)
	if _, _, err := svc.VerifyMagicLink(context.Background(), token); !errors.Is(err, auth.ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestSessionTokenIsNotAMagicLink(t *testing.T) {
	clk := clock.NewFake(time.Now())
	svc, _ := newService(clk)
	ctx := context.Background()

	link, _, err := svc.RequestMagicLink(ctx, "sam@example.com")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	token := link[strings.Index(link, "token=")+len("token="):]
	session, _, err := svc.VerifyMagicLink(ctx, token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}

	// Purposes don't cross: a session can't be replayed as a link and
	// a link can't authenticate a request.
	if _, _, err := svc.VerifyMagicLink(ctx, session); !errors.Is(err, auth.ErrInvalidToken) {
		t.Errorf("session as link err = %v", err)
	}
	if _, err := svc.VerifySession(token); !errors.Is(err, auth.ErrInvalidToken) {
		t.Errorf("link as session err = %v", err)
	}
}

func TestRequestMagicLinkRejectsBadEmail(t *testing.T) {
	svc, _ := newService(clock.NewFake(time.Now()))
	if _, _, err := svc.RequestMagicLink(context.Background(), "not-an-address"); !errors.Is(err, auth.ErrInvalidEmail) {
		t.Errorf("err = %v, want ErrInvalidEmail", err)
	}
}

func TestMiddleware(t *testing.T) {
	clk := clock.NewFake(time.Now())
	svc, store := newService(clk)
	ctx := context.Background()

	u, err := store.GetOrCreateUser(ctx, "sam@example.com")
	if err != nil {
		t.Fatalf("user: %v", err)
	}

	var gotID uuid.UUID
	handler := svc.Middleware("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID, _ = auth.UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	// No token: rejected.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/campaigns", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token status = %d", rec.Code)
	}

	// Valid session: user id lands in context.
	link, _, _ := svc.RequestMagicLink(ctx, "sam@example.com")
	token := link[strings.Index(link, "token=")+len("token="):]
	session, _, err := svc.VerifyMagicLink(ctx, token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/campaigns", nil)
	req.Header.Set("Authorization", "Bearer "+session)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
	if gotID != u.ID {
		t.Errorf("context user = %s, want %s", gotID, u.ID)
	}
}

func TestMiddlewareDevFallback(t *testing.T) {
	clk := clock.NewFake(time.Now())
	svc, store := newService(clk)

	handler := svc.Middleware("dev@localhost")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/campaigns", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
	if _, err := store.GetOrCreateUser(context.Background(), "dev@localhost"); err != nil {
		t.Errorf("dev account: %v", err)
	}
}
