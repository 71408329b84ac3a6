package db

import (
	"context"
	_ "embed"

	"stowage/internal/types"
)

// Schema is the DDL of every table the repositories use.
//
//go:embed schema.sql
var Schema string

// ApplySchema creates any missing tables and indexes.
func ApplySchema(ctx context.Context, db DBTX) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to apply schema", err)
	}
	return nil
}
