package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/campfire/backend/internal/middleware"
	"github.com/campfire/backend/internal/models"
	"github.com/campfire/backend/internal/repository"
)

func TestIssueValidate_RoundTrip(t *testing.T) {
	svc := NewTokenService("test-secret", time.Hour)
	actor := models.Actor{ID: uuid.New(), Role: models.RoleContractor}

	tok, err := svc.Issue(actor)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	got, err := svc.Validate(tok)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got != actor {
		t.Errorf("actor = %+v, want %+v", got, actor)
	}
}

func TestIssue_UnknownRole(t *testing.T) {
	if _, err := NewTokenService("s", 0).Issue(models.Actor{ID: uuid.New(), Role: "requester"}); err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestValidate_Rejections(t *testing.T) {
	svc := NewTokenService("test-secret", time.Hour)
	actor := models.Actor{ID: uuid.New(), Role: models.RoleAdmin}

	other, _ := NewTokenService("other-secret", time.Hour).Issue(actor)
	expired, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
		Role: string(actor.Role),
	}).SignedString([]byte("test-secret"))

	none := jwt.NewWithClaims(jwt.SigningMethodNone, claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: actor.ID.String()},
		Role:             string(actor.Role),
	})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)

	badSubject, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "not-a-uuid"},
		Role:             "admin",
	}).SignedString([]byte("test-secret"))

	tests := map[string]string{
		"garbage":      "abc.def.ghi",
		"wrong secret": other,
		"expired":      expired,
		"alg none":     unsigned,
		"bad subject":  badSubject,
	}
	for name, tok := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := svc.Validate(tok); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("err = %v, want ErrInvalidToken", err)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Me handler
// ---------------------------------------------------------------------------

type stubUsers struct {
	user *models.User
	err  error
}

func (s *stubUsers) GetByID(_ context.Context, _ uuid.UUID) (*models.User, error) {
	return s.user, s.err
}

func TestMe(t *testing.T) {
	id := uuid.New()
	h := NewHandler(&stubUsers{user: &models.User{ID: id, Email: "c@example.com", Role: models.RoleContractor, Level: 3}}, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	req = req.WithContext(middleware.WithActor(req.Context(), models.Actor{ID: id, Role: models.RoleContractor}))
	rec := httptest.NewRecorder()
	h.Me(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp MeResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.ID != id.String() || resp.Level != 3 || resp.Role != models.RoleContractor {
		t.Errorf("response = %+v", resp)
	}
}

func TestMe_Errors(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHandler(&stubUsers{}, nil).Me(rec, httptest.NewRequest(http.MethodGet, "/v1/me", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no actor: status = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	req = req.WithContext(middleware.WithActor(req.Context(), models.Actor{ID: uuid.New()}))
	rec = httptest.NewRecorder()
	NewHandler(&stubUsers{err: repository.ErrNotFound}, nil).Me(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown actor: status = %d", rec.Code)
	}
}
