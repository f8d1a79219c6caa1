package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const testSecret = "test-secret-key-must-be-at-least-32-characters-long"

func newManager(t *testing.T) *JWTManager {
	t.Helper()
	m, err := NewJWTManager(testSecret, "orders", 15*time.Minute)
	if err != nil {
		t.Fatalf("Failed to create JWT manager: %v", err)
	}
	return m
}

func TestNewJWTManager_ShortSecret(t *testing.T) {
	if _, err := NewJWTManager("short", "orders", time.Minute); !errors.Is(err, ErrShortSecret) {
		t.Errorf("expected ErrShortSecret, got %v", err)
	}
}

func TestJWTManager_GenerateToken(t *testing.T) {
	m := newManager(t)

	tests := []struct {
		name    string
		subject string
		role    string
		wantErr error
	}{
		{"operator", "alice", RoleOperator, nil},
		{"viewer", "bob", RoleViewer, nil},
		{"empty subject", "", RoleViewer, ErrEmptySubject},
		{"unknown role", "carol", "admin", ErrInvalidRole},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := m.GenerateToken(tt.subject, tt.role)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			claims, err := m.ValidateToken(token)
			if err != nil {
				t.Fatalf("ValidateToken: %v", err)
			}
			if claims.Subject != tt.subject || claims.Role != tt.role {
				t.Errorf("claims mismatch: %+v", claims)
			}
		})
	}
}

func TestJWTManager_ValidateToken(t *testing.T) {
	m := newManager(t)
	token, err := m.GenerateToken("alice", RoleOperator)
	if err != nil {
		t.Fatal(err)
	}

	other, err := NewJWTManager(testSecret, "billing", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := other.ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("token for another cluster: expected ErrInvalidToken, got %v", err)
	}

	forged, err := NewJWTManager("another-secret-key-that-is-at-least-32-chars", "orders", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := forged.ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("wrong secret: expected ErrInvalidToken, got %v", err)
	}

	if _, err := m.ValidateToken(""); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("empty token: expected ErrInvalidToken, got %v", err)
	}
	if _, err := m.ValidateToken("not.a.token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("garbage: expected ErrInvalidToken, got %v", err)
	}
}

func TestJWTManager_Expired(t *testing.T) {
	m := newManager(t)
	issued := time.Now()
	m.now = func() time.Time { return issued }
	token, err := m.GenerateToken("alice", RoleViewer)
	if err != nil {
		t.Fatal(err)
	}

	m.now = func() time.Time { return issued.Add(time.Hour) }
	if _, err := m.ValidateToken(token); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("expected ErrExpiredToken, got %v", err)
	}
}

func TestRequire(t *testing.T) {
	m := newManager(t)
	operator, _ := m.GenerateToken("alice", RoleOperator)
	viewer, _ := m.GenerateToken("bob", RoleViewer)

	var seen string
	handler := m.Require(RoleOperator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := FromContext(r.Context())
		if !ok {
			t.Error("claims missing from context")
			return
		}
		seen = claims.Subject
	}))

	tests := []struct {
		name   string
		header string
		code   int
	}{
		{"operator", "Bearer " + operator, http.StatusOK},
		{"viewer", "Bearer " + viewer, http.StatusForbidden},
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + operator, http.StatusUnauthorized},
		{"garbage", "Bearer nope", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/members/db1/activate", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.code {
				t.Errorf("expected %d, got %d", tt.code, rec.Code)
			}
		})
	}

	if seen != "alice" {
		t.Errorf("expected handler to see alice, got %q", seen)
	}
}
