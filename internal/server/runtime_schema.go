package server

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ValidateRuntimeSchema checks that the tables and the condition
// uniqueness index the handlers depend on exist before the server starts
// serving. The unique index carries the one-record-per-day invariant, so
// its absence is a startup failure, not a runtime surprise.
func ValidateRuntimeSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return fmt.Errorf("database pool is nil")
	}

	requiredTables := []string{
		"users",
		"intake_events",
		"condition_records",
		"reports",
	}
	for _, table := range requiredTables {
		ok, err := tableExists(ctx, pool, table)
		if err != nil {
			return fmt.Errorf("failed checking schema for table %s: %w", table, err)
		}
		if !ok {
			return fmt.Errorf("required table %s is missing; run migrations", table)
		}
	}

	ok, err := indexExists(ctx, pool, "uniq_condition_records_user_date")
	if err != nil {
		return fmt.Errorf("failed checking condition uniqueness index: %w", err)
	}
	if !ok {
		return fmt.Errorf("unique index uniq_condition_records_user_date is missing; run migrations")
	}
	return nil
}

func tableExists(ctx context.Context, pool *pgxpool.Pool, tableName string) (bool, error) {
	table := strings.TrimSpace(tableName)
	if table == "" {
		return false, fmt.Errorf("table must not be empty")
	}
	var exists bool
	err := pool.QueryRow(
		ctx,
		`SELECT EXISTS (
		   SELECT 1
		   FROM information_schema.tables
		   WHERE table_schema = current_schema()
		     AND lower(table_name) = lower($1)
		 )`,
		table,
	).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func indexExists(ctx context.Context, pool *pgxpool.Pool, indexName string) (bool, error) {
	index := strings.TrimSpace(indexName)
	if index == "" {
		return false, fmt.Errorf("index must not be empty")
	}
	var exists bool
	err := pool.QueryRow(
		ctx,
		`SELECT EXISTS (
		   SELECT 1
		   FROM pg_indexes
		   WHERE schemaname = current_schema()
		     AND indexname = $1
		 )`,
		index,
	).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}
