package server

import (
	"net/http"
	"testing"
)

func TestHealthNeedsNoAuth(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := performRequest(t, router, http.MethodGet, "/health", "", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeJSONMap(t, rec)
	if body["status"] != "ok" {
		t.Fatalf("unexpected health payload: %v", body)
	}
}

func TestAuthRejectsMissingSubject(t *testing.T) {
	resetDatabase(t)
	router, _ := newTestRouter(t)

	token := signToken(t, "", nil)
	rec := performRequest(t, router, http.MethodGet, "/api/v1/intake/today", token, nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for token without sub, got %d", rec.Code)
	}
}

func TestAuthRejectsUnknownUserWithoutAutoCreate(t *testing.T) {
	resetDatabase(t)
	router, _ := newTestRouter(t)

	token := signToken(t, testID(), nil)
	rec := performRequest(t, router, http.MethodGet, "/api/v1/intake/today", token, nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown user, got %d", rec.Code)
	}
	if detail := responseDetail(t, rec); detail != "User not found" {
		t.Fatalf("unexpected detail: %q", detail)
	}
}

func TestAuthAutoCreatesUserWhenEnabled(t *testing.T) {
	resetDatabase(t)
	cfg := baseTestConfig
	cfg.AuthAutoCreateUser = true
	router, _ := newTestRouterWithConfig(t, cfg)

	userID := testID()
	token := signTokenWithConfig(t, cfg, userID, map[string]any{
		"name":     "테스트 사용자",
		"provider": "google",
	})
	rec := performRequest(t, router, http.MethodPost, "/api/v1/intake", token, map[string]any{"level": "high"}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 with auto-created user, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeJSONMap(t, rec)
	record, _ := body["record"].(map[string]any)
	if record["user_id"] != userID {
		t.Fatalf("record not owned by new user: %v", record["user_id"])
	}
}

func TestAuthEnforcesAudienceAndIssuer(t *testing.T) {
	resetDatabase(t)
	cfg := baseTestConfig
	cfg.JWTAudience = "mulmoki-app"
	cfg.JWTIssuer = "mulmoki-auth"
	router, _ := newTestRouterWithConfig(t, cfg)
	userID := seedUser(t, "")

	good := signTokenWithConfig(t, cfg, userID, nil)
	rec := performRequest(t, router, http.MethodGet, "/api/v1/intake/today", good, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with matching aud/iss, got %d: %s", rec.Code, rec.Body.String())
	}

	badAud := signTokenWithConfig(t, cfg, userID, map[string]any{"aud": "someone-else"})
	rec = performRequest(t, router, http.MethodGet, "/api/v1/intake/today", badAud, nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong audience, got %d", rec.Code)
	}

	badIss := signTokenWithConfig(t, cfg, userID, map[string]any{"iss": "someone-else"})
	rec = performRequest(t, router, http.MethodGet, "/api/v1/intake/today", badIss, nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong issuer, got %d", rec.Code)
	}
}
