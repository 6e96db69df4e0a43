package repository

import (
	"context"
	"fmt"

	"github.com/go-kivik/kivik/v4"
)

// EnsureCouchDB creates the database when missing and the Mango indexes the
// note and user queries rely on.
func EnsureCouchDB(ctx context.Context, client *kivik.Client, dbName string) (created bool, err error) {
	exists, err := client.DBExists(ctx, dbName)
	if err != nil {
		return false, fmt.Errorf("failed to check database existence: %w", err)
	}

	if !exists {
		if err := client.CreateDB(ctx, dbName); err != nil {
			return false, fmt.Errorf("failed to create database: %w", err)
		}
	}

	db := client.DB(dbName)
	index := map[string]interface{}{
		"fields": []string{"doc_type", "user_id"},
	}
	if err := db.CreateIndex(ctx, "notes-by-owner", "notes-by-owner", index); err != nil {
		return !exists, fmt.Errorf("failed to create notes index: %w", err)
	}

	return !exists, nil
}
