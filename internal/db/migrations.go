package db

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	embeddedmigrations "mulmoki-backend/migrations"
)

var migrationFilePattern = regexp.MustCompile(`^(\d+)_.*\.sql$`)

type embeddedMigration struct {
	Version string
	Order   int
	Name    string
	SQL     string
}

// ApplyMigrations runs every embedded migration that has not been recorded
// in schema_migrations yet. Each migration is applied in its own
// transaction and recorded atomically with its statements.
func ApplyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	if err := ensureSchemaMigrationsTable(ctx, pool); err != nil {
		return err
	}

	migrations, err := loadEmbeddedMigrations()
	if err != nil {
		return err
	}

	applied, err := loadAppliedMigrationVersions(ctx, pool)
	if err != nil {
		return err
	}

	for _, migration := range migrations {
		if _, alreadyApplied := applied[migration.Version]; alreadyApplied {
			continue
		}
		if err := applyMigration(ctx, pool, migration); err != nil {
			return err
		}
	}
	return nil
}

func ensureSchemaMigrationsTable(ctx context.Context, pool *pgxpool.Pool) error {
	const createTableSQL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
  version TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}
	return nil
}

func loadEmbeddedMigrations() ([]embeddedMigration, error) {
	entries, err := fs.ReadDir(embeddedmigrations.Files, ".")
	if err != nil {
		return nil, fmt.Errorf("read embedded migrations: %w", err)
	}

	migrations := make([]embeddedMigration, 0, len(entries))
	seenVersions := make(map[string]string, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		fileName := strings.TrimSpace(entry.Name())
		matches := migrationFilePattern.FindStringSubmatch(fileName)
		if len(matches) != 2 {
			continue
		}

		version := matches[1]
		order, err := strconv.Atoi(version)
		if err != nil {
			return nil, fmt.Errorf("parse migration version from %s: %w", fileName, err)
		}

		if existing, exists := seenVersions[version]; exists {
			return nil, fmt.Errorf("duplicate migration version %s in %s and %s", version, existing, fileName)
		}
		seenVersions[version] = fileName

		rawSQL, err := fs.ReadFile(embeddedmigrations.Files, fileName)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", fileName, err)
		}

		migrations = append(migrations, embeddedMigration{
			Version: version,
			Order:   order,
			Name:    fileName,
			SQL:     string(rawSQL),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		if migrations[i].Order == migrations[j].Order {
			return migrations[i].Name < migrations[j].Name
		}
		return migrations[i].Order < migrations[j].Order
	})

	return migrations, nil
}

func loadAppliedMigrationVersions(ctx context.Context, pool *pgxpool.Pool) (map[string]struct{}, error) {
	rows, err := pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("load applied migration versions: %w", err)
	}
	defer rows.Close()

	versions := make(map[string]struct{})
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan applied migration version: %w", err)
		}
		versions[version] = struct{}{}
	}
	return versions, rows.Err()
}

func applyMigration(ctx context.Context, pool *pgxpool.Pool, migration embeddedMigration) error {
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		statements := splitSQLStatements(migration.SQL)
		if len(statements) == 0 {
			return errors.New("migration has no SQL statements")
		}

		for _, statement := range statements {
			if _, err := tx.Exec(ctx, statement); err != nil {
				return fmt.Errorf("execute migration %s statement %q: %w", migration.Name, statement, err)
			}
		}

		if _, err := tx.Exec(
			ctx,
			`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`,
			migration.Version,
			migration.Name,
		); err != nil {
			return fmt.Errorf("record migration %s: %w", migration.Name, err)
		}
		return nil
	})
}

// splitSQLStatements splits a migration file on top-level semicolons.
// Semicolons inside single-quoted literals and dollar-quoted bodies
// (function definitions, DO blocks) do not terminate a statement.
func splitSQLStatements(sqlText string) []string {
	var statements []string
	var current strings.Builder

	flush := func() {
		if statement := strings.TrimSpace(current.String()); statement != "" {
			statements = append(statements, statement)
		}
		current.Reset()
	}

	inQuote := false
	dollarTag := ""
	for i := 0; i < len(sqlText); i++ {
		ch := sqlText[i]
		switch {
		case inQuote:
			current.WriteByte(ch)
			if ch == '\'' {
				// A doubled quote is an escaped quote, not the end.
				if i+1 < len(sqlText) && sqlText[i+1] == '\'' {
					current.WriteByte(sqlText[i+1])
					i++
					continue
				}
				inQuote = false
			}
		case dollarTag != "":
			if ch == '$' && strings.HasPrefix(sqlText[i:], dollarTag) {
				current.WriteString(dollarTag)
				i += len(dollarTag) - 1
				dollarTag = ""
				continue
			}
			current.WriteByte(ch)
		case ch == '\'':
			inQuote = true
			current.WriteByte(ch)
		case ch == '$':
			if tag, ok := dollarQuoteTag(sqlText[i:]); ok {
				dollarTag = tag
				current.WriteString(tag)
				i += len(tag) - 1
				continue
			}
			current.WriteByte(ch)
		case ch == ';':
			flush()
		default:
			current.WriteByte(ch)
		}
	}
	flush()
	return statements
}

// dollarQuoteTag reports the $tag$ delimiter at the front of text, if
// any. Tags may contain letters, digits, and underscores but cannot
// start with a digit, so positional parameters like $1 never match.
func dollarQuoteTag(text string) (string, bool) {
	if text == "" || text[0] != '$' {
		return "", false
	}
	end := strings.IndexByte(text[1:], '$')
	if end < 0 {
		return "", false
	}
	tag := text[:end+2]
	for i, r := range tag[1 : len(tag)-1] {
		isLetter := r == '_' || ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z')
		isDigit := '0' <= r && r <= '9'
		if !isLetter && !isDigit {
			return "", false
		}
		if i == 0 && isDigit {
			return "", false
		}
	}
	return tag, true
}
