package server

import (
	"net/http"
	"strings"
	"testing"
)

func TestChatAskEndToEnd(t *testing.T) {
	resetDatabase(t)
	router, clients := newTestRouter(t)
	token := signToken(t, seedUser(t, ""), nil)

	clients.Retrieval.Passages = []Passage{
		{ID: "p1", Text: "하루 권장 수분 섭취량은 약 2리터입니다.", Score: 0.9},
	}
	clients.AI.Answer = "약 2리터가 권장됩니다."

	rec := performRequest(t, router, http.MethodPost, "/api/v1/chat/ask", token, map[string]any{
		"question": "하루에 물을 얼마나 마셔야 하나요?",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeJSONMap(t, rec)
	answer, _ := body["answer"].(string)
	if !strings.Contains(answer, "출처") {
		t.Fatalf("answer missing citation block: %s", answer)
	}
	sources, ok := body["sources"].([]any)
	if !ok || len(sources) != 1 {
		t.Fatalf("expected one source, got %v", body["sources"])
	}
	if clients.Retrieval.Calls != 1 || clients.AI.Calls != 1 {
		t.Fatalf("expected one retrieval and one generation call, got %d/%d", clients.Retrieval.Calls, clients.AI.Calls)
	}
}

func TestChatAskRequiresAuth(t *testing.T) {
	resetDatabase(t)
	router, clients := newTestRouter(t)

	rec := performRequest(t, router, http.MethodPost, "/api/v1/chat/ask", "", map[string]any{
		"question": "질문",
	}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if clients.Retrieval.Calls != 0 {
		t.Fatalf("retrieval must not run unauthenticated, got %d calls", clients.Retrieval.Calls)
	}
}
