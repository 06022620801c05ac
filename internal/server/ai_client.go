package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mulmoki-backend/internal/config"
)

// GenerationClient is the text-generation collaborator: one prompt in,
// one completion out.
type GenerationClient interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type GeminiClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

func NewGeminiClient(cfg config.Config) *GeminiClient {
	timeoutSeconds := cfg.AITimeoutSeconds
	if timeoutSeconds <= 0 {
		timeoutSeconds = 30
	}
	return &GeminiClient{
		apiKey:  strings.TrimSpace(cfg.GeminiAPIKey),
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.GeminiBaseURL), "/"),
		model:   strings.TrimSpace(cfg.GeminiModel),
		httpClient: &http.Client{
			Timeout: time.Duration(timeoutSeconds) * time.Second,
		},
	}
}

func (g *GeminiClient) Generate(ctx context.Context, prompt string) (string, error) {
	if g.apiKey == "" {
		return "", errors.New("GEMINI_API_KEY is not configured")
	}
	if g.baseURL == "" {
		return "", errors.New("GEMINI_BASE_URL is not configured")
	}
	if g.model == "" {
		return "", errors.New("GEMINI_MODEL is not configured")
	}
	if strings.TrimSpace(prompt) == "" {
		return "", errors.New("generation prompt is empty")
	}

	payload := map[string]any{
		"contents": []map[string]any{
			{
				"parts": []map[string]any{
					{"text": prompt},
				},
			},
		},
	}
	bodyRaw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	request, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		g.baseURL+"/models/"+g.model+":generateContent",
		bytes.NewReader(bodyRaw),
	)
	if err != nil {
		return "", err
	}
	request.Header.Set("x-goog-api-key", g.apiKey)
	request.Header.Set("Content-Type", "application/json")

	response, err := g.httpClient.Do(request)
	if err != nil {
		return "", err
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(response.Body)
	if err != nil {
		return "", err
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return "", fmt.Errorf("gemini generateContent error (%d): %s", response.StatusCode, truncateForLog(string(responseBody), 600))
	}

	parsed := parseJSONStringMap(responseBody)
	answer := extractCandidateText(parsed)
	if strings.TrimSpace(answer) == "" {
		log.Printf("gemini response had no extractable text: %s", truncateForLog(string(responseBody), 1200))
		return "", errors.New("gemini response text is empty")
	}
	return answer, nil
}

// extractCandidateText joins the text parts of the first candidate.
// Anything shaped differently yields "" and is treated upstream as a
// provider failure.
func extractCandidateText(data map[string]any) string {
	candidates, ok := data["candidates"].([]any)
	if !ok || len(candidates) == 0 {
		return ""
	}
	first, ok := candidates[0].(map[string]any)
	if !ok {
		return ""
	}
	content, ok := first["content"].(map[string]any)
	if !ok {
		return ""
	}
	parts, ok := content["parts"].([]any)
	if !ok {
		return ""
	}
	texts := make([]string, 0, len(parts))
	for _, item := range parts {
		part, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if text := strings.TrimSpace(toString(part["text"])); text != "" {
			texts = append(texts, text)
		}
	}
	return strings.TrimSpace(strings.Join(texts, "\n"))
}

// MockGenerationClient records the last prompt and returns a canned
// completion. Tests use it to assert which prompt path was taken without
// talking to the real provider.
type MockGenerationClient struct {
	Answer     string
	Err        error
	LastPrompt string
	Calls      int
}

func (m *MockGenerationClient) Generate(_ context.Context, prompt string) (string, error) {
	m.Calls++
	m.LastPrompt = prompt
	if m.Err != nil {
		return "", m.Err
	}
	if strings.TrimSpace(m.Answer) != "" {
		return m.Answer, nil
	}
	return "mock completion", nil
}

func parseJSONStringMap(input []byte) map[string]any {
	if len(input) == 0 {
		return map[string]any{}
	}
	var result map[string]any
	if err := json.Unmarshal(input, &result); err != nil || result == nil {
		return map[string]any{}
	}
	return result
}

func toString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	default:
		return ""
	}
}

func extractNumberFromMap(data map[string]any, keys ...string) float64 {
	if data == nil {
		return 0
	}
	for _, key := range keys {
		raw, ok := data[key]
		if !ok {
			continue
		}
		switch v := raw.(type) {
		case float64:
			return v
		case float32:
			return float64(v)
		case int:
			return float64(v)
		case int64:
			return float64(v)
		case json.Number:
			f, err := v.Float64()
			if err == nil {
				return f
			}
		case string:
			var parsed float64
			_, err := fmt.Sscanf(v, "%f", &parsed)
			if err == nil {
				return parsed
			}
		}
	}
	return 0
}

func truncateForLog(value string, limit int) string {
	trimmed := strings.TrimSpace(value)
	if limit <= 0 || len(trimmed) <= limit {
		return trimmed
	}
	return trimmed[:limit] + "...(truncated)"
}
