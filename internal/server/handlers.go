package server

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type createIntakeRequest struct {
	Level string `json:"level"`
}

type updateIntakeRequest struct {
	Level string `json:"level"`
}

type conditionCreateRequest struct {
	Conditions []string `json:"conditions"`
	Note       string   `json:"note"`
	Date       string   `json:"date"`
}

type conditionUpdateRequest struct {
	Conditions []string `json:"conditions"`
	Note       string   `json:"note"`
}

type generateReportRequest struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

type chatAskRequest struct {
	Question string `json:"question"`
}

type intakeEvent struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	IntakeLevel string    `json:"intake_level"`
	RecordedAt  time.Time `json:"recorded_at"`
	RecordDate  string    `json:"record_date"`
	CreatedAt   time.Time `json:"created_at"`
}

type conditionRecord struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Conditions []string  `json:"conditions"`
	Note       *string   `json:"note"`
	RecordDate string    `json:"record_date"`
	CreatedAt  time.Time `json:"created_at"`
}

type reportRecord struct {
	ID         string         `json:"id"`
	UserID     string         `json:"user_id"`
	Content    string         `json:"content"`
	StartDate  string         `json:"start_date"`
	EndDate    string         `json:"end_date"`
	ReportType string         `json:"report_type"`
	Metadata   map[string]any `json:"metadata"`
	CreatedAt  time.Time      `json:"created_at"`
}

const (
	levelHigh   = "high"
	levelMedium = "medium"
	levelLow    = "low"
)

var validIntakeLevels = map[string]struct{}{
	levelHigh:   {},
	levelMedium: {},
	levelLow:    {},
}

// parseRecordID guards path params before they reach a UUID column; a
// malformed id is indistinguishable from a missing row to the caller.
func parseRecordID(raw string) (string, bool) {
	id := strings.TrimSpace(raw)
	if _, err := uuid.Parse(id); err != nil {
		return "", false
	}
	return id, true
}

func normalizeIntakeLevel(input string) (string, bool) {
	level := strings.ToLower(strings.TrimSpace(input))
	if level == "" {
		return "", false
	}
	_, ok := validIntakeLevels[level]
	return level, ok
}

func scanIntakeEvent(row pgx.Row) (intakeEvent, error) {
	var event intakeEvent
	var recordDate time.Time
	err := row.Scan(
		&event.ID,
		&event.UserID,
		&event.IntakeLevel,
		&event.RecordedAt,
		&recordDate,
		&event.CreatedAt,
	)
	if err != nil {
		return intakeEvent{}, err
	}
	event.RecordedAt = event.RecordedAt.UTC()
	event.CreatedAt = event.CreatedAt.UTC()
	event.RecordDate = recordDate.Format("2006-01-02")
	return event, nil
}

func scanIntakeEvents(rows pgx.Rows) ([]intakeEvent, error) {
	defer rows.Close()
	events := make([]intakeEvent, 0)
	for rows.Next() {
		event, err := scanIntakeEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func scanConditionRecord(row pgx.Row) (conditionRecord, error) {
	var record conditionRecord
	var recordDate time.Time
	err := row.Scan(
		&record.ID,
		&record.UserID,
		&record.Conditions,
		&record.Note,
		&recordDate,
		&record.CreatedAt,
	)
	if err != nil {
		return conditionRecord{}, err
	}
	if record.Conditions == nil {
		record.Conditions = []string{}
	}
	record.CreatedAt = record.CreatedAt.UTC()
	record.RecordDate = recordDate.Format("2006-01-02")
	return record, nil
}

func scanConditionRecords(rows pgx.Rows) ([]conditionRecord, error) {
	defer rows.Close()
	records := make([]conditionRecord, 0)
	for rows.Next() {
		record, err := scanConditionRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func scanReportRecord(row pgx.Row) (reportRecord, error) {
	var report reportRecord
	var startDate, endDate time.Time
	var metadataRaw []byte
	err := row.Scan(
		&report.ID,
		&report.UserID,
		&report.Content,
		&startDate,
		&endDate,
		&report.ReportType,
		&metadataRaw,
		&report.CreatedAt,
	)
	if err != nil {
		return reportRecord{}, err
	}
	report.CreatedAt = report.CreatedAt.UTC()
	report.StartDate = startDate.Format("2006-01-02")
	report.EndDate = endDate.Format("2006-01-02")
	report.Metadata = parseJSONStringMap(metadataRaw)
	return report, nil
}
