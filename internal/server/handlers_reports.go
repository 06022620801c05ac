package server

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const reportColumns = `id, user_id, content, start_date, end_date, report_type, metadata, created_at`

const (
	reportTypeWeekly = "weekly"
	reportTypeCustom = "custom"
)

type weekdayCount struct {
	Weekday time.Weekday
	Count   int
}

type reportStats struct {
	TotalDays        int
	TotalRecords     int
	AvgPerDay        float64
	HighCount        int
	MediumCount      int
	LowCount         int
	TopWeekdays      []weekdayCount
	TimeDistribution timeDistribution
}

// buildReportStats reduces a date range of events to the digest the
// generation prompt is built from. Weekday ranking keeps the top three by
// count; ties resolve to the lower weekday index (Sunday=0) so the output
// is deterministic.
func buildReportStats(events []intakeEvent, zoneOffsetMinutes int) reportStats {
	stats := reportStats{TotalRecords: len(events)}

	days := make(map[string]struct{})
	weekdays := make(map[time.Weekday]int)
	for _, event := range events {
		days[event.RecordDate] = struct{}{}
		switch event.IntakeLevel {
		case levelHigh:
			stats.HighCount++
		case levelMedium:
			stats.MediumCount++
		case levelLow:
			stats.LowCount++
		}
		if parsed, err := time.Parse("2006-01-02", event.RecordDate); err == nil {
			weekdays[parsed.Weekday()]++
		}
		stats.TimeDistribution.add(hourBucket(event.RecordedAt, zoneOffsetMinutes))
	}

	stats.TotalDays = len(days)
	if stats.TotalDays > 0 {
		stats.AvgPerDay = float64(stats.TotalRecords) / float64(stats.TotalDays)
	}

	ranking := make([]weekdayCount, 0, len(weekdays))
	for weekday, count := range weekdays {
		ranking = append(ranking, weekdayCount{Weekday: weekday, Count: count})
	}
	sort.Slice(ranking, func(i, j int) bool {
		if ranking[i].Count == ranking[j].Count {
			return ranking[i].Weekday < ranking[j].Weekday
		}
		return ranking[i].Count > ranking[j].Count
	})
	if len(ranking) > 3 {
		ranking = ranking[:3]
	}
	stats.TopWeekdays = ranking
	return stats
}

var koreanWeekdayNames = [7]string{"일", "월", "화", "수", "목", "금", "토"}

// buildReportPrompt renders the statistics digest as a coaching prompt.
// With fewer than three recorded days there is nothing worth analyzing,
// so a short encouragement prompt is substituted instead.
func buildReportPrompt(stats reportStats, conditions []conditionRecord) string {
	if stats.TotalDays < 3 {
		return strings.TrimSpace(fmt.Sprintf(`
당신은 물 섭취 습관을 분석하는 친절한 건강 코치입니다.

사용자가 아직 충분한 기록을 남기지 않았습니다. (기록된 날: %d일)

다음 원칙을 지켜 짧은 격려 메시지를 작성해주세요:
1. 평가·훈계 금지
2. 실패 전제 금지
3. 긍정적이고 부담 없는 톤

메시지는 150자 이내로 작성해주세요.`, stats.TotalDays))
	}

	weekdayLines := make([]string, 0, len(stats.TopWeekdays))
	for _, item := range stats.TopWeekdays {
		weekdayLines = append(weekdayLines, fmt.Sprintf("%s: %d회", koreanWeekdayNames[item.Weekday], item.Count))
	}

	var conditionSection string
	if len(conditions) > 0 {
		lines := make([]string, 0, len(conditions))
		for _, record := range conditions {
			line := fmt.Sprintf("- %s: %s", record.RecordDate, strings.Join(record.Conditions, ", "))
			if record.Note != nil && strings.TrimSpace(*record.Note) != "" {
				line += " (" + strings.TrimSpace(*record.Note) + ")"
			}
			lines = append(lines, line)
		}
		conditionSection = fmt.Sprintf("\n💭 컨디션 기록:\n%s\n", strings.Join(lines, "\n"))
	}

	return strings.TrimSpace(fmt.Sprintf(`
당신은 물 섭취 습관을 분석하는 친절하고 공감적인 건강 코치입니다.

📊 분석 기간: 최근 %d일
📝 총 기록 횟수: %d회 (평균 %.1f회/일)

📈 섭취 레벨 분포:
- 마셨음: %d회
- 조금 마셨음: %d회
- 거의 안 마셨음: %d회

📅 요일별 패턴:
%s

⏰ 시간대별 패턴:
아침: %d회, 오후: %d회, 저녁: %d회, 밤: %d회
%s
다음 원칙을 반드시 지켜주세요:
1. 평가·훈계 금지 - "잘했어요", "부족해요" 같은 평가 금지
2. 실패 전제 금지 - "목표 미달", "실패" 같은 단어 사용 금지
3. 관찰 → 해석 → 가벼운 제안 순서
4. 공감적이고 긍정적인 톤
5. 구체적인 패턴과 변화 언급

출력 형식:
- 300-500자 분량의 자연스러운 한국어
- 2-3개의 짧은 문단으로 구성
- 마지막은 가벼운 제안이나 응원으로 마무리`,
		stats.TotalDays,
		stats.TotalRecords,
		stats.AvgPerDay,
		stats.HighCount,
		stats.MediumCount,
		stats.LowCount,
		strings.Join(weekdayLines, ", "),
		stats.TimeDistribution.Morning,
		stats.TimeDistribution.Afternoon,
		stats.TimeDistribution.Evening,
		stats.TimeDistribution.Night,
		conditionSection,
	))
}

// resolveReportWindow applies the default 7-day window ending today. The
// report is weekly exactly when the caller supplied neither bound.
func resolveReportWindow(startRaw, endRaw string, today time.Time) (start, end time.Time, reportType string, err error) {
	end = time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	if endRaw != "" {
		end, err = parseDate(endRaw)
		if err != nil {
			return time.Time{}, time.Time{}, "", errors.New("end_date must be YYYY-MM-DD")
		}
	}
	if startRaw != "" {
		start, err = parseDate(startRaw)
		if err != nil {
			return time.Time{}, time.Time{}, "", errors.New("start_date must be YYYY-MM-DD")
		}
	} else {
		start = end.AddDate(0, 0, -6)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, "", errors.New("end_date must not be before start_date")
	}
	reportType = reportTypeCustom
	if startRaw == "" && endRaw == "" {
		reportType = reportTypeWeekly
	}
	return start, end, reportType, nil
}

func (a *App) generateReport(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}
	// Both bounds are optional; a bodiless request means the weekly
	// default window.
	var payload generateReportRequest
	if !optionalJSON(c, &payload) {
		return
	}

	todayDate, _ := parseDate(civilDate(time.Now().UTC(), a.cfg.TimezoneOffsetMin))
	start, end, reportType, err := resolveReportWindow(payload.StartDate, payload.EndDate, todayDate)
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}

	events, err := a.fetchIntakeEventsInRange(c, user.ID, start, end)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to load intake events")
		return
	}

	// Condition data is optional enrichment; a failed fetch must not
	// abort report generation.
	conditions, err := a.fetchConditionRecordsInRange(c, user.ID, start, end)
	if err != nil {
		log.Printf("condition fetch failed during report generation, continuing without: %v", err)
		conditions = nil
	}

	stats := buildReportStats(events, a.cfg.TimezoneOffsetMin)
	prompt := buildReportPrompt(stats, conditions)

	content, err := a.ai.Generate(c.Request.Context(), prompt)
	if err != nil {
		log.Printf("report generation failed: %v", err)
		writeError(c, http.StatusBadGateway, "AI report generation failed")
		return
	}

	report, err := scanReportRecord(a.db.QueryRow(
		c.Request.Context(),
		`INSERT INTO reports (id, user_id, content, start_date, end_date, report_type, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		 RETURNING `+reportColumns,
		uuid.NewString(),
		user.ID,
		content,
		start,
		end,
		reportType,
		map[string]any{
			"record_count":  len(events),
			"has_condition": len(conditions) > 0,
		},
	))
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to save report")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"report": report})
}

func (a *App) listReports(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}
	limit := 10
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 100 {
			writeError(c, http.StatusBadRequest, "limit must be 1-100")
			return
		}
		limit = parsed
	}

	rows, err := a.db.Query(
		c.Request.Context(),
		`SELECT `+reportColumns+` FROM reports
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		user.ID,
		limit,
	)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to load reports")
		return
	}
	defer rows.Close()

	reports := make([]reportRecord, 0, limit)
	for rows.Next() {
		report, err := scanReportRecord(rows)
		if err != nil {
			writeError(c, http.StatusInternalServerError, "Failed to parse reports")
			return
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to load reports")
		return
	}

	c.JSON(http.StatusOK, gin.H{"reports": reports})
}

func (a *App) getReport(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}
	reportID, ok := parseRecordID(c.Param("id"))
	if !ok {
		writeError(c, http.StatusNotFound, "Report not found")
		return
	}

	report, err := scanReportRecord(a.db.QueryRow(
		c.Request.Context(),
		`SELECT `+reportColumns+` FROM reports WHERE id = $1 AND user_id = $2`,
		reportID,
		user.ID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		writeError(c, http.StatusNotFound, "Report not found")
		return
	}
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to load report")
		return
	}

	c.JSON(http.StatusOK, gin.H{"report": report})
}

func (a *App) deleteReport(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}
	reportID, ok := parseRecordID(c.Param("id"))
	if !ok {
		writeError(c, http.StatusNotFound, "Report not found")
		return
	}

	tag, err := a.db.Exec(
		c.Request.Context(),
		`DELETE FROM reports WHERE id = $1 AND user_id = $2`,
		reportID,
		user.ID,
	)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to delete report")
		return
	}
	if tag.RowsAffected() == 0 {
		writeError(c, http.StatusNotFound, "Report not found")
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": true})
}
