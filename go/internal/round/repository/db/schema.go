package db

import (
	"context"
	_ "embed"
)

//go:embed schema.sql
var Schema string

// Migrate applies the schema. Every statement is idempotent.
func Migrate(ctx context.Context, db DBTX) error {
	_, err := db.ExecContext(ctx, Schema)
	return err
}
