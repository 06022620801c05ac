package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const intakeEventColumns = `id, user_id, intake_level, recorded_at, record_date, created_at`

func (a *App) createIntakeEvent(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}
	var payload createIntakeRequest
	if !mustJSON(c, &payload) {
		return
	}
	level, ok := normalizeIntakeLevel(payload.Level)
	if !ok {
		writeError(c, http.StatusBadRequest, "level must be high, medium, or low")
		return
	}

	now := time.Now().UTC()
	recordDate := civilDate(now, a.cfg.TimezoneOffsetMin)

	event, err := scanIntakeEvent(a.db.QueryRow(
		c.Request.Context(),
		`INSERT INTO intake_events (id, user_id, intake_level, recorded_at, record_date, created_at)
		 VALUES ($1, $2, $3, $4, $5, NOW())
		 RETURNING `+intakeEventColumns,
		uuid.NewString(),
		user.ID,
		level,
		now,
		recordDate,
	))
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to save intake event")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"record": event})
}

func (a *App) getTodayIntakeEvents(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	today := civilDate(time.Now().UTC(), a.cfg.TimezoneOffsetMin)
	rows, err := a.db.Query(
		c.Request.Context(),
		`SELECT `+intakeEventColumns+` FROM intake_events
		 WHERE user_id = $1 AND record_date = $2
		 ORDER BY recorded_at DESC`,
		user.ID,
		today,
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
		"date":    today,
		"records": events,
	})
}

func (a *App) getIntakeEventsByDate(c *gin.Context) {
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
		"date":    targetDate.Format("2006-01-02"),
		"records": events,
	})
}

func (a *App) updateIntakeEvent(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}
	var payload updateIntakeRequest
	if !mustJSON(c, &payload) {
		return
	}
	level, ok := normalizeIntakeLevel(payload.Level)
	if !ok {
		writeError(c, http.StatusBadRequest, "level must be high, medium, or low")
		return
	}

	recordID, ok := parseRecordID(c.Param("id"))
	if !ok {
		writeError(c, http.StatusNotFound, "Intake event not found")
		return
	}

	event, err := scanIntakeEvent(a.db.QueryRow(
		c.Request.Context(),
		`UPDATE intake_events SET intake_level = $1
		 WHERE id = $2 AND user_id = $3
		 RETURNING `+intakeEventColumns,
		level,
		recordID,
		user.ID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		writeError(c, http.StatusNotFound, "Intake event not found")
		return
	}
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to update intake event")
		return
	}

	c.JSON(http.StatusOK, gin.H{"record": event})
}

func (a *App) deleteIntakeEvent(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	recordID, ok := parseRecordID(c.Param("id"))
	if !ok {
		writeError(c, http.StatusNotFound, "Intake event not found")
		return
	}

	tag, err := a.db.Exec(
		c.Request.Context(),
		`DELETE FROM intake_events WHERE id = $1 AND user_id = $2`,
		recordID,
		user.ID,
	)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to delete intake event")
		return
	}
	if tag.RowsAffected() == 0 {
		writeError(c, http.StatusNotFound, "Intake event not found")
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": true})
}
