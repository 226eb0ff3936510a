package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRequire(t *testing.T) {
	jwtManager := newTestManager(t, "prod", 15*time.Minute)

	viewer, err := jwtManager.GenerateToken("bob", RoleViewer)
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}
	operator, err := jwtManager.GenerateToken("alice", RoleOperator)
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}

	var gotSubject string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok {
			t.Error("Expected claims in context")
			return
		}
		gotSubject = claims.Subject
		w.WriteHeader(http.StatusNoContent)
	})
	handler := Require(jwtManager, RoleOperator, next)

	tests := []struct {
		name        string
		header      string
		wantStatus  int
		wantSubject string
	}{
		{"No header", "", http.StatusUnauthorized, ""},
		{"Wrong scheme", "Basic " + operator, http.StatusUnauthorized, ""},
		{"Garbage token", "Bearer nope", http.StatusUnauthorized, ""},
		{"Viewer lacks role", "Bearer " + viewer, http.StatusForbidden, ""},
		{"Operator allowed", "Bearer " + operator, http.StatusNoContent, "alice"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotSubject = ""
			req := httptest.NewRequest(http.MethodPost, "/admin/leave", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if gotSubject != tt.wantSubject {
				t.Errorf("Expected subject %q, got %q", tt.wantSubject, gotSubject)
			}
			if tt.wantStatus >= 400 {
				var resp ErrorResponse
				if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
					t.Fatalf("Failed to decode error body: %v", err)
				}
				if resp.Error != http.StatusText(tt.wantStatus) {
					t.Errorf("Expected error %q, got %q", http.StatusText(tt.wantStatus), resp.Error)
				}
			}
		})
	}
}

func TestRequireNilValidator(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	Require(nil, RoleOperator, next).ServeHTTP(httptest.NewRecorder(), req)

	if !called {
		t.Error("Expected handler to run when auth is disabled")
	}
}
