package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"mulmoki-backend/internal/config"
)

func newTestDifyClient(serverURL string) *DifyClient {
	return NewDifyClient(config.Config{
		DifyAPIKey:       "test-key",
		DifyBaseURL:      serverURL,
		DifyDatasetID:    "dataset-1",
		AITimeoutSeconds: 5,
	})
}

func TestDifyRetrieveSuccess(t *testing.T) {
	var gotPath, gotAuth string
	var gotPayload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotPayload)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"records": []map[string]any{
				{
					"score": 0.93,
					"segment": map[string]any{
						"id":      "seg-1",
						"content": "하루 권장 수분 섭취량은 약 2리터입니다.",
						"document": map[string]any{
							"id":   "doc-1",
							"name": "수분 가이드",
						},
					},
				},
			},
		})
	}))
	defer server.Close()

	passages, err := newTestDifyClient(server.URL).Retrieve(context.Background(), "물 얼마나 마셔야 해?", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != "/datasets/dataset-1/retrieve" {
		t.Fatalf("unexpected request path: %q", gotPath)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("unexpected authorization header: %q", gotAuth)
	}
	if gotPayload["query"] != "물 얼마나 마셔야 해?" {
		t.Fatalf("query not forwarded: %v", gotPayload["query"])
	}
	if len(passages) != 1 {
		t.Fatalf("expected one passage, got %d", len(passages))
	}
	if passages[0].ID != "seg-1" || passages[0].Score != 0.93 {
		t.Fatalf("unexpected passage: %+v", passages[0])
	}
	if passages[0].Metadata == nil {
		t.Fatal("expected parent document carried as metadata")
	}
}

func TestDifyRetrieveNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message": "invalid api key"}`))
	}))
	defer server.Close()

	_, err := newTestDifyClient(server.URL).Retrieve(context.Background(), "질문", 3)
	if err == nil {
		t.Fatal("expected error for non-2xx response")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Fatalf("error should carry the status code, got: %v", err)
	}
}

func TestDifyRetrieveRequiresConfiguration(t *testing.T) {
	client := NewDifyClient(config.Config{DifyBaseURL: "https://example.invalid", DifyDatasetID: "d"})
	if _, err := client.Retrieve(context.Background(), "질문", 3); err == nil {
		t.Fatal("expected error without api key")
	}
}

func TestNormalizeRetrievalResponseFlatDocuments(t *testing.T) {
	body := []byte(`{
		"documents": [
			{"id": "d1", "text": "첫 번째 문서", "score": 0.9},
			{"id": "d2", "content": "content 키를 쓰는 문서", "relevance_score": 0.7},
			{"id": "d3", "text": "   "},
			"garbage"
		]
	}`)
	passages, err := normalizeRetrievalResponse(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(passages) != 2 {
		t.Fatalf("expected blank and malformed entries skipped, got %d passages", len(passages))
	}
	if passages[0].Text != "첫 번째 문서" || passages[0].Score != 0.9 {
		t.Fatalf("unexpected first passage: %+v", passages[0])
	}
	if passages[1].Text != "content 키를 쓰는 문서" || passages[1].Score != 0.7 {
		t.Fatalf("content fallback not applied: %+v", passages[1])
	}
}

func TestNormalizeRetrievalResponseSegmentRecords(t *testing.T) {
	body := []byte(`{
		"records": [
			{"score": 0.8, "segment": {"id": "s1", "content": "세그먼트 내용"}},
			{"score": 0.5, "segment": {"id": "s2", "text": "text 키 대체"}},
			{"score": 0.4}
		]
	}`)
	passages, err := normalizeRetrievalResponse(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(passages) != 2 {
		t.Fatalf("expected segment-less record skipped, got %d passages", len(passages))
	}
	if passages[0].ID != "s1" || passages[0].Text != "세그먼트 내용" {
		t.Fatalf("unexpected first passage: %+v", passages[0])
	}
	if passages[1].Text != "text 키 대체" {
		t.Fatalf("text fallback not applied: %+v", passages[1])
	}
}

func TestNormalizeRetrievalResponseRejectsUnknownShape(t *testing.T) {
	for _, body := range []string{
		`{}`,
		`{"results": []}`,
		`{"documents": "not-a-list"}`,
		`{"records": {"nested": true}}`,
	} {
		if _, err := normalizeRetrievalResponse([]byte(body)); err == nil {
			t.Fatalf("expected error for body %s", body)
		}
	}
}

func TestNormalizeRetrievalResponseEmptyListIsNotAnError(t *testing.T) {
	passages, err := normalizeRetrievalResponse([]byte(`{"records": []}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(passages) != 0 {
		t.Fatalf("expected no passages, got %d", len(passages))
	}
}
