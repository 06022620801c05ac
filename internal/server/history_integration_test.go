package server

import (
	"net/http"
	"testing"
	"time"
)

func TestHistoryMonthlySummary(t *testing.T) {
	resetDatabase(t)
	router, _ := newTestRouter(t)
	userID := seedUser(t, "")
	token := signToken(t, userID, nil)

	// Two events on March 2nd KST, one on March 15th, one outside the month.
	seedIntakeEvent(t, "", userID, levelHigh, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC))
	seedIntakeEvent(t, "", userID, levelLow, time.Date(2026, 3, 2, 5, 0, 0, 0, time.UTC))
	seedIntakeEvent(t, "", userID, levelMedium, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC))
	seedIntakeEvent(t, "", userID, levelHigh, time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC))

	rec := performRequest(t, router, http.MethodGet, "/api/v1/history/monthly?year=2026&month=3", token, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeJSONMap(t, rec)
	summary, ok := body["summary"].([]any)
	if !ok || len(summary) != 31 {
		t.Fatalf("expected 31 entries for March, got %d", len(summary))
	}

	second, _ := summary[1].(map[string]any)
	if second["date"] != "2026-03-02" {
		t.Fatalf("entries not in calendar order: %v", second["date"])
	}
	if second["count"] != float64(2) || second["high_count"] != float64(1) || second["low_count"] != float64(1) {
		t.Fatalf("unexpected counts for 2026-03-02: %v", second)
	}

	fifteenth, _ := summary[14].(map[string]any)
	if fifteenth["count"] != float64(1) || fifteenth["medium_count"] != float64(1) {
		t.Fatalf("unexpected counts for 2026-03-15: %v", fifteenth)
	}

	first, _ := summary[0].(map[string]any)
	if first["count"] != float64(0) {
		t.Fatalf("expected empty first day, got %v", first)
	}
	if first["records"] == nil {
		t.Fatalf("empty day must carry an empty records list")
	}
}

func TestHistoryMonthlyValidation(t *testing.T) {
	resetDatabase(t)
	router, _ := newTestRouter(t)
	token := signToken(t, seedUser(t, ""), nil)

	for _, query := range []string{
		"year=2026",
		"month=3",
		"year=abcd&month=3",
		"year=2026&month=0",
		"year=2026&month=13",
		"year=1900&month=3",
	} {
		rec := performRequest(t, router, http.MethodGet, "/api/v1/history/monthly?"+query, token, nil, nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("query %q: expected 400, got %d", query, rec.Code)
		}
	}
}

func TestHistoryRange(t *testing.T) {
	resetDatabase(t)
	router, _ := newTestRouter(t)
	userID := seedUser(t, "")
	token := signToken(t, userID, nil)

	seedIntakeEvent(t, "", userID, levelHigh, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC))
	seedIntakeEvent(t, "", userID, levelLow, time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC))
	seedIntakeEvent(t, "", userID, levelMedium, time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC))

	rec := performRequest(t, router, http.MethodGet, "/api/v1/history/range?start=2026-03-01&end=2026-03-10", token, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeJSONMap(t, rec)
	records, ok := body["records"].([]any)
	if !ok || len(records) != 2 {
		t.Fatalf("expected 2 records in range, got %v", body["records"])
	}

	rec = performRequest(t, router, http.MethodGet, "/api/v1/history/range?start=2026-03-10&end=2026-03-01", token, nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for inverted range, got %d", rec.Code)
	}
}

func TestHistoryDailyStatistics(t *testing.T) {
	resetDatabase(t)
	router, _ := newTestRouter(t)
	userID := seedUser(t, "")
	token := signToken(t, userID, nil)

	// 07:00, 13:30 and 23:00 KST on March 2nd.
	seedIntakeEvent(t, "", userID, levelHigh, time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC))
	seedIntakeEvent(t, "", userID, levelMedium, time.Date(2026, 3, 2, 4, 30, 0, 0, time.UTC))
	seedIntakeEvent(t, "", userID, levelHigh, time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC))

	rec := performRequest(t, router, http.MethodGet, "/api/v1/history/daily?date=2026-03-02", token, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeJSONMap(t, rec)
	stats, ok := body["statistics"].(map[string]any)
	if !ok {
		t.Fatalf("expected statistics object, got %v", body)
	}
	if stats["total_count"] != float64(3) || stats["high_count"] != float64(2) || stats["medium_count"] != float64(1) {
		t.Fatalf("unexpected counts: %v", stats)
	}
	dist, _ := stats["time_distribution"].(map[string]any)
	if dist["morning"] != float64(1) || dist["afternoon"] != float64(1) || dist["evening"] != float64(0) || dist["night"] != float64(1) {
		t.Fatalf("unexpected time distribution: %v", dist)
	}
}
