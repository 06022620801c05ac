package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const conditionRecordColumns = `id, user_id, conditions, note, record_date, created_at`

// pgUniqueViolation is the SQLSTATE the unique index on
// (user_id, record_date) raises when two creates race past the
// application-level existence check.
const pgUniqueViolation = "23505"

const conditionDuplicateDetail = "A condition record already exists for this day"

func (a *App) createConditionRecord(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}
	var payload conditionCreateRequest
	if !mustJSON(c, &payload) {
		return
	}
	if len(payload.Conditions) == 0 {
		writeError(c, http.StatusBadRequest, "conditions is required")
		return
	}

	recordDate := civilDate(time.Now().UTC(), a.cfg.TimezoneOffsetMin)
	if payload.Date != "" {
		parsed, err := parseDate(payload.Date)
		if err != nil {
			writeError(c, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		recordDate = parsed.Format("2006-01-02")
	}

	var existingID string
	err := a.db.QueryRow(
		c.Request.Context(),
		`SELECT id FROM condition_records WHERE user_id = $1 AND record_date = $2`,
		user.ID,
		recordDate,
	).Scan(&existingID)
	if err == nil {
		writeError(c, http.StatusConflict, conditionDuplicateDetail)
		return
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		writeError(c, http.StatusInternalServerError, "Failed to check existing condition record")
		return
	}

	record, err := scanConditionRecord(a.db.QueryRow(
		c.Request.Context(),
		`INSERT INTO condition_records (id, user_id, conditions, note, record_date, created_at)
		 VALUES ($1, $2, $3, $4, $5, NOW())
		 RETURNING `+conditionRecordColumns,
		uuid.NewString(),
		user.ID,
		payload.Conditions,
		optionalNote(payload.Note),
		recordDate,
	))
	if err != nil {
		// The pre-check is not race-free; the unique index is the
		// authoritative guard.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			writeError(c, http.StatusConflict, conditionDuplicateDetail)
			return
		}
		writeError(c, http.StatusInternalServerError, "Failed to save condition record")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"record": record})
}

func (a *App) getConditionRecordByDate(c *gin.Context) {
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

	record, err := scanConditionRecord(a.db.QueryRow(
		c.Request.Context(),
		`SELECT `+conditionRecordColumns+` FROM condition_records
		 WHERE user_id = $1 AND record_date = $2`,
		user.ID,
		targetDate,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		// No record yet for this day. Not an error.
		c.JSON(http.StatusOK, gin.H{
			"date":   targetDate.Format("2006-01-02"),
			"record": nil,
		})
		return
	}
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to load condition record")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"date":   targetDate.Format("2006-01-02"),
		"record": record,
	})
}

func (a *App) getConditionRecordsByRange(c *gin.Context) {
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

	records, err := a.fetchConditionRecordsInRange(c, user.ID, start, end)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to load condition records")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"start":   start.Format("2006-01-02"),
		"end":     end.Format("2006-01-02"),
		"records": records,
	})
}

func (a *App) updateConditionRecord(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}
	var payload conditionUpdateRequest
	if !mustJSON(c, &payload) {
		return
	}
	if len(payload.Conditions) == 0 {
		writeError(c, http.StatusBadRequest, "conditions is required")
		return
	}
	recordID, ok := parseRecordID(c.Param("id"))
	if !ok {
		writeError(c, http.StatusNotFound, "Condition record not found")
		return
	}

	record, err := scanConditionRecord(a.db.QueryRow(
		c.Request.Context(),
		`UPDATE condition_records SET conditions = $1, note = $2
		 WHERE id = $3 AND user_id = $4
		 RETURNING `+conditionRecordColumns,
		payload.Conditions,
		optionalNote(payload.Note),
		recordID,
		user.ID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		writeError(c, http.StatusNotFound, "Condition record not found")
		return
	}
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to update condition record")
		return
	}

	c.JSON(http.StatusOK, gin.H{"record": record})
}

func (a *App) deleteConditionRecord(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}
	recordID, ok := parseRecordID(c.Param("id"))
	if !ok {
		writeError(c, http.StatusNotFound, "Condition record not found")
		return
	}

	tag, err := a.db.Exec(
		c.Request.Context(),
		`DELETE FROM condition_records WHERE id = $1 AND user_id = $2`,
		recordID,
		user.ID,
	)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to delete condition record")
		return
	}
	if tag.RowsAffected() == 0 {
		writeError(c, http.StatusNotFound, "Condition record not found")
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (a *App) fetchConditionRecordsInRange(c *gin.Context, userID string, start, end time.Time) ([]conditionRecord, error) {
	rows, err := a.db.Query(
		c.Request.Context(),
		`SELECT `+conditionRecordColumns+` FROM condition_records
		 WHERE user_id = $1 AND record_date >= $2 AND record_date <= $3
		 ORDER BY record_date ASC`,
		userID,
		start,
		end,
	)
	if err != nil {
		return nil, err
	}
	return scanConditionRecords(rows)
}

func optionalNote(note string) *string {
	return toOptionalString(note)
}
