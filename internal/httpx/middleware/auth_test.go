package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vadim/dealroom/internal/auth"
	"github.com/vadim/dealroom/internal/domain/deal/entity"
)

type stubChecker struct {
	id  auth.Identity
	err error
}

func (s stubChecker) Check(token string) (auth.Identity, error) {
	if token != "good" {
		return auth.Identity{}, auth.ErrTokenInvalid
	}
	return s.id, s.err
}

func TestAuthenticate(t *testing.T) {
	checker := stubChecker{id: auth.Identity{UserID: "u1", Role: entity.RoleBuyer}}

	var seen auth.Identity
	h := Authenticate(checker)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = IdentityFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic good", http.StatusUnauthorized},
		{"bad token", "Bearer bad", http.StatusUnauthorized},
		{"good token", "Bearer good", http.StatusOK},
		{"lowercase scheme", "bearer good", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}

	if seen.UserID != "u1" {
		t.Errorf("identity = %+v, want u1", seen)
	}
}
