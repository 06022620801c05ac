package server

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

type dailySummary struct {
	Date        string        `json:"date"`
	Count       int           `json:"count"`
	HighCount   int           `json:"high_count"`
	MediumCount int           `json:"medium_count"`
	LowCount    int           `json:"low_count"`
	Records     []intakeEvent `json:"records"`
}

type dailyStatistics struct {
	Date             string           `json:"date"`
	TotalCount       int              `json:"total_count"`
	HighCount        int              `json:"high_count"`
	MediumCount      int              `json:"medium_count"`
	LowCount         int              `json:"low_count"`
	TimeDistribution timeDistribution `json:"time_distribution"`
	Records          []intakeEvent    `json:"records"`
}

// buildMonthlySummary groups events by civil date and emits exactly one
// entry per calendar day of the month, empty days included, so calendar
// rendering never has to fill gaps. Events must already be ordered
// ascending by recorded_at.
func buildMonthlySummary(year int, month time.Month, events []intakeEvent) []dailySummary {
	byDate := make(map[string][]intakeEvent)
	for _, event := range events {
		byDate[event.RecordDate] = append(byDate[event.RecordDate], event)
	}

	days := daysInMonth(year, month)
	summary := make([]dailySummary, 0, days)
	for day := 1; day <= days; day++ {
		date := fmt.Sprintf("%04d-%02d-%02d", year, month, day)
		dayEvents := byDate[date]
		if dayEvents == nil {
			dayEvents = []intakeEvent{}
		}
		entry := dailySummary{
			Date:    date,
			Count:   len(dayEvents),
			Records: dayEvents,
		}
		for _, event := range dayEvents {
			switch event.IntakeLevel {
			case levelHigh:
				entry.HighCount++
			case levelMedium:
				entry.MediumCount++
			case levelLow:
				entry.LowCount++
			}
		}
		summary = append(summary, entry)
	}
	return summary
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func buildDailyStatistics(date string, events []intakeEvent, zoneOffsetMinutes int) dailyStatistics {
	stats := dailyStatistics{
		Date:    date,
		Records: events,
	}
	if stats.Records == nil {
		stats.Records = []intakeEvent{}
	}
	stats.TotalCount = len(events)
	for _, event := range events {
		switch event.IntakeLevel {
		case levelHigh:
			stats.HighCount++
		case levelMedium:
			stats.MediumCount++
		case levelLow:
			stats.LowCount++
		}
		stats.TimeDistribution.add(hourBucket(event.RecordedAt, zoneOffsetMinutes))
	}
	return stats
}

func (a *App) getMonthlySummary(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}
	year, err := strconv.Atoi(c.Query("year"))
	if err != nil || year < 2000 || year > 2200 {
		writeError(c, http.StatusBadRequest, "year must be a four-digit year")
		return
	}
	monthNum, err := strconv.Atoi(c.Query("month"))
	if err != nil || monthNum < 1 || monthNum > 12 {
		writeError(c, http.StatusBadRequest, "month must be 1-12")
		return
	}
	month := time.Month(monthNum)

	firstDay := fmt.Sprintf("%04d-%02d-01", year, month)
	lastDay := fmt.Sprintf("%04d-%02d-%02d", year, month, daysInMonth(year, month))

	rows, err := a.db.Query(
		c.Request.Context(),
		`SELECT `+intakeEventColumns+` FROM intake_events
		 WHERE user_id = $1 AND record_date >= $2 AND record_date <= $3
		 ORDER BY recorded_at ASC`,
		user.ID,
		firstDay,
		lastDay,
	)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to load intake events")
		return
	}
	events, err := scanIntakeEvents(rows)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to parse intake events")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"year":    year,
		"month":   monthNum,
		"summary": buildMonthlySummary(year, month, events),
	})
}

func (a *App) getRangeIntakeEvents(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}
	start, err := parseDate(c.Query("start"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "start must be YYYY-MM-DD")
		return
	}
	end, err := parseDate(c.Query("end"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "end must be YYYY-MM-DD")
		return
	}
	if end.Before(start) {
		writeError(c, http.StatusBadRequest, "end must not be before start")
		return
	}

	events, err := a.fetchIntakeEventsInRange(c, user.ID, start, end)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to load intake events")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"start":   start.Format("2006-01-02"),
		"end":     end.Format("2006-01-02"),
		"records": events,
	})
}

func (a *App) getDailyStatistics(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}
	targetDate, err := parseDate(c.Query("date"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	rows, err := a.db.Query(
		c.Request.Context(),
		`SELECT `+intakeEventColumns+` FROM intake_events
		 WHERE user_id = $1 AND record_date = $2
		 ORDER BY recorded_at ASC`,
		user.ID,
		targetDate,
	)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to load intake events")
		return
	}
	events, err := scanIntakeEvents(rows)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to parse intake events")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"statistics": buildDailyStatistics(targetDate.Format("2006-01-02"), events, a.cfg.TimezoneOffsetMin),
	})
}

func (a *App) fetchIntakeEventsInRange(c *gin.Context, userID string, start, end time.Time) ([]intakeEvent, error) {
	rows, err := a.db.Query(
		c.Request.Context(),
		`SELECT `+intakeEventColumns+` FROM intake_events
		 WHERE user_id = $1 AND record_date >= $2 AND record_date <= $3
		 ORDER BY recorded_at ASC`,
		userID,
		start,
		end,
	)
	if err != nil {
		return nil, err
	}
	return scanIntakeEvents(rows)
}
