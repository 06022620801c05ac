package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"mulmoki-backend/internal/config"
)

// Passage is one retrieved knowledge-base snippet used as generation
// context.
type Passage struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// RetrievalClient is the knowledge-base search collaborator.
type RetrievalClient interface {
	Retrieve(ctx context.Context, query string, topK int) ([]Passage, error)
}

type DifyClient struct {
	apiKey     string
	baseURL    string
	datasetID  string
	httpClient *http.Client
}

func NewDifyClient(cfg config.Config) *DifyClient {
	timeoutSeconds := cfg.AITimeoutSeconds
	if timeoutSeconds <= 0 {
		timeoutSeconds = 30
	}
	return &DifyClient{
		apiKey:    strings.TrimSpace(cfg.DifyAPIKey),
		baseURL:   strings.TrimRight(strings.TrimSpace(cfg.DifyBaseURL), "/"),
		datasetID: strings.TrimSpace(cfg.DifyDatasetID),
		httpClient: &http.Client{
			Timeout: time.Duration(timeoutSeconds) * time.Second,
		},
	}
}

func (d *DifyClient) Retrieve(ctx context.Context, query string, topK int) ([]Passage, error) {
	if d.apiKey == "" {
		return nil, errors.New("DIFY_API_KEY is not configured")
	}
	if d.datasetID == "" {
		return nil, errors.New("DIFY_DATASET_ID is not configured")
	}
	if topK <= 0 {
		topK = 3
	}

	payload := map[string]any{
		"query": query,
		"retrieval_model": map[string]any{
			"search_method": "semantic_search",
			"top_k":         topK,
		},
		"top_k": topK,
	}
	bodyRaw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	request, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		d.baseURL+"/datasets/"+d.datasetID+"/retrieve",
		bytes.NewReader(bodyRaw),
	)
	if err != nil {
		return nil, err
	}
	request.Header.Set("Authorization", "Bearer "+d.apiKey)
	request.Header.Set("Content-Type", "application/json")

	response, err := d.httpClient.Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, err
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return nil, fmt.Errorf("dify retrieve error (%d): %s", response.StatusCode, truncateForLog(string(responseBody), 600))
	}

	return normalizeRetrievalResponse(responseBody)
}

// normalizeRetrievalResponse accepts the two envelope shapes the provider
// has been observed to return: a flat "documents" list, and a "records"
// list whose entries nest the snippet under "segment" (with the parent
// "document" alongside). Any other shape is an explicit error, never a
// silent empty result.
func normalizeRetrievalResponse(body []byte) ([]Passage, error) {
	parsed := parseJSONStringMap(body)

	if rawDocs, ok := parsed["documents"]; ok {
		items, ok := rawDocs.([]any)
		if !ok {
			return nil, errors.New("unrecognized retrieval response shape: documents is not a list")
		}
		return normalizeFlatDocuments(items)
	}

	if rawRecords, ok := parsed["records"]; ok {
		items, ok := rawRecords.([]any)
		if !ok {
			return nil, errors.New("unrecognized retrieval response shape: records is not a list")
		}
		return normalizeSegmentRecords(items)
	}

	return nil, errors.New("unrecognized retrieval response shape: no documents or records list")
}

func normalizeFlatDocuments(items []any) ([]Passage, error) {
	passages := make([]Passage, 0, len(items))
	for _, item := range items {
		doc, ok := item.(map[string]any)
		if !ok {
			continue
		}
		text := strings.TrimSpace(toString(doc["text"]))
		if text == "" {
			text = strings.TrimSpace(toString(doc["content"]))
		}
		if text == "" {
			continue
		}
		passage := Passage{
			ID:    strings.TrimSpace(toString(doc["id"])),
			Text:  text,
			Score: extractNumberFromMap(doc, "score", "relevance_score"),
		}
		if metadata, ok := doc["metadata"].(map[string]any); ok {
			passage.Metadata = metadata
		}
		passages = append(passages, passage)
	}
	return passages, nil
}

func normalizeSegmentRecords(items []any) ([]Passage, error) {
	passages := make([]Passage, 0, len(items))
	for _, item := range items {
		record, ok := item.(map[string]any)
		if !ok {
			continue
		}
		segment, ok := record["segment"].(map[string]any)
		if !ok {
			continue
		}
		text := strings.TrimSpace(toString(segment["content"]))
		if text == "" {
			text = strings.TrimSpace(toString(segment["text"]))
		}
		if text == "" {
			continue
		}
		passage := Passage{
			ID:    strings.TrimSpace(toString(segment["id"])),
			Text:  text,
			Score: extractNumberFromMap(record, "score"),
		}
		if document, ok := segment["document"].(map[string]any); ok {
			passage.Metadata = map[string]any{"document": document}
		}
		passages = append(passages, passage)
	}
	return passages, nil
}

// MockRetrievalClient serves canned passages for tests.
type MockRetrievalClient struct {
	Passages  []Passage
	Err       error
	LastQuery string
	Calls     int
}

func (m *MockRetrievalClient) Retrieve(_ context.Context, query string, _ int) ([]Passage, error) {
	m.Calls++
	m.LastQuery = query
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Passages, nil
}
