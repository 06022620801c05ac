package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"google.golang.org/api/idtoken"

	"mulmoki-backend/internal/config"
)

type App struct {
	cfg       config.Config
	db        *pgxpool.Pool
	ai        GenerationClient
	retrieval RetrievalClient
}

type AuthUser struct {
	ID          string
	Provider    string
	ProviderUID *string
	Name        string
}

func New(cfg config.Config, db *pgxpool.Pool) *App {
	return &App{
		cfg:       cfg,
		db:        db,
		ai:        NewGeminiClient(cfg),
		retrieval: NewDifyClient(cfg),
	}
}

// NewWithClients builds an App with substituted external collaborators.
// Used by tests and by callers that own client lifecycle.
func NewWithClients(cfg config.Config, db *pgxpool.Pool, ai GenerationClient, retrieval RetrievalClient) *App {
	return &App{cfg: cfg, db: db, ai: ai, retrieval: retrieval}
}

func (a *App) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     a.cfg.CORSAllowOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", a.health)

	api := router.Group(a.cfg.APIPrefix)
	api.Use(a.authMiddleware())

	api.POST("/intake", a.createIntakeEvent)
	api.GET("/intake/today", a.getTodayIntakeEvents)
	api.GET("/intake", a.getIntakeEventsByDate)
	api.PATCH("/intake/:id", a.updateIntakeEvent)
	api.DELETE("/intake/:id", a.deleteIntakeEvent)
	api.GET("/history/monthly", a.getMonthlySummary)
	api.GET("/history/range", a.getRangeIntakeEvents)
	api.GET("/history/daily", a.getDailyStatistics)
	api.POST("/conditions", a.createConditionRecord)
	api.GET("/conditions", a.getConditionRecordByDate)
	api.GET("/conditions/range", a.getConditionRecordsByRange)
	api.PATCH("/conditions/:id", a.updateConditionRecord)
	api.DELETE("/conditions/:id", a.deleteConditionRecord)
	api.POST("/reports", a.generateReport)
	api.GET("/reports", a.listReports)
	api.GET("/reports/:id", a.getReport)
	api.DELETE("/reports/:id", a.deleteReport)
	api.POST("/chat/ask", a.chatAsk)

	return router
}

func (a *App) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "mulmoki-api",
	})
}

func (a *App) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.cfg.AuthMode == config.AuthModeSingleUser {
			user, err := a.getOrCreateUser(c.Request.Context(), a.cfg.SingleUserID, jwt.MapClaims{
				"provider": "local",
			})
			if err != nil {
				writeError(c, http.StatusInternalServerError, "Failed to resolve owner")
				return
			}
			c.Set("authUser", user)
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
			writeError(c, http.StatusUnauthorized, "Bearer token required")
			return
		}
		tokenString := strings.TrimSpace(authHeader[len("Bearer "):])
		if tokenString == "" {
			writeError(c, http.StatusUnauthorized, "Bearer token required")
			return
		}

		claims, err := a.verifyLocalToken(tokenString)
		if err != nil && a.cfg.GoogleClientID != "" {
			claims, err = a.verifyGoogleToken(c.Request.Context(), tokenString)
		}
		if err != nil {
			writeError(c, http.StatusUnauthorized, err.Error())
			return
		}

		sub, _ := claims["sub"].(string)
		sub = strings.TrimSpace(sub)
		if sub == "" {
			writeError(c, http.StatusUnauthorized, "Token subject missing")
			return
		}

		user, err := a.getOrCreateUser(c.Request.Context(), sub, claims)
		if err != nil {
			writeError(c, http.StatusUnauthorized, err.Error())
			return
		}

		c.Set("authUser", user)
		c.Next()
	}
}

func (a *App) verifyLocalToken(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if token.Method == nil || token.Method.Alg() != a.cfg.JWTAlgorithm {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(a.cfg.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return nil, errors.New("Invalid bearer token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("Invalid token payload")
	}
	if a.cfg.JWTAudience != "" && !claimHasAudience(claims["aud"], a.cfg.JWTAudience) {
		return nil, errors.New("Invalid token audience")
	}
	if a.cfg.JWTIssuer != "" {
		issuer, _ := claims["iss"].(string)
		if issuer != a.cfg.JWTIssuer {
			return nil, errors.New("Invalid token issuer")
		}
	}
	return claims, nil
}

func (a *App) verifyGoogleToken(ctx context.Context, tokenString string) (jwt.MapClaims, error) {
	payload, err := idtoken.Validate(ctx, tokenString, a.cfg.GoogleClientID)
	if err != nil {
		return nil, errors.New("Invalid bearer token")
	}
	claims := jwt.MapClaims{
		"sub":      payload.Subject,
		"provider": "google",
	}
	if name, ok := payload.Claims["name"].(string); ok {
		claims["name"] = name
	}
	if email, ok := payload.Claims["email"].(string); ok {
		claims["provider_uid"] = email
	}
	return claims, nil
}

func claimHasAudience(value any, audience string) bool {
	switch v := value.(type) {
	case string:
		return v == audience
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s == audience {
				return true
			}
		}
	case []string:
		for _, item := range v {
			if item == audience {
				return true
			}
		}
	}
	return false
}

func providerFromClaim(raw any) string {
	if s, ok := raw.(string); ok {
		switch s {
		case "google", "local":
			return s
		}
	}
	return "local"
}

func toOptionalString(raw any) *string {
	if s, ok := raw.(string); ok {
		trimmed := strings.TrimSpace(s)
		if trimmed != "" {
			return &trimmed
		}
	}
	return nil
}

func (a *App) getOrCreateUser(ctx context.Context, userID string, claims jwt.MapClaims) (AuthUser, error) {
	user := AuthUser{}
	var providerUID *string

	err := a.db.QueryRow(
		ctx,
		`SELECT id, provider, provider_uid, name FROM users WHERE id = $1`,
		userID,
	).Scan(&user.ID, &user.Provider, &providerUID, &user.Name)
	if err == nil {
		user.ProviderUID = providerUID
		return user, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return AuthUser{}, err
	}
	if a.cfg.AuthMode == config.AuthModeJWT && !a.cfg.AuthAutoCreateUser {
		return AuthUser{}, errors.New("User not found")
	}

	provider := providerFromClaim(claims["provider"])
	providerUID = toOptionalString(claims["provider_uid"])

	name := ""
	if rawName, ok := claims["name"].(string); ok {
		name = strings.TrimSpace(rawName)
	}
	if name == "" {
		name = fmt.Sprintf("user-%s", truncate(userID, 8))
	}

	if _, err := a.db.Exec(
		ctx,
		`INSERT INTO users (id, provider, provider_uid, name, created_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (id) DO NOTHING`,
		userID,
		provider,
		providerUID,
		name,
	); err != nil {
		return AuthUser{}, err
	}

	return AuthUser{
		ID:          userID,
		Provider:    provider,
		ProviderUID: providerUID,
		Name:        name,
	}, nil
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit]
}

func authUserFromContext(c *gin.Context) (AuthUser, bool) {
	raw, ok := c.Get("authUser")
	if !ok {
		return AuthUser{}, false
	}
	user, ok := raw.(AuthUser)
	return user, ok
}

func writeError(c *gin.Context, status int, detail string) {
	c.AbortWithStatusJSON(status, gin.H{"detail": detail})
}

func mustJSON(c *gin.Context, payload any) bool {
	if err := c.ShouldBindJSON(payload); err != nil {
		writeError(c, http.StatusBadRequest, "Invalid request payload")
		return false
	}
	return true
}

// optionalJSON binds like mustJSON but treats a missing or empty body as
// an empty payload, for endpoints where every field is optional.
func optionalJSON(c *gin.Context, payload any) bool {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return true
	}
	err := c.ShouldBindJSON(payload)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeError(c, http.StatusBadRequest, "Invalid request payload")
	return false
}

func parseDate(value string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}
