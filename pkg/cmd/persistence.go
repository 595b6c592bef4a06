// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/veridianhq/veridian/pkg/persistence"
	"github.com/veridianhq/veridian/pkg/persistence/memory"
	"github.com/veridianhq/veridian/pkg/persistence/postgresql"
)

// NewPersistence creates a persistence layer from a database URL. The scheme
// selects the backend: postgres:// and postgresql:// use PostgreSQL,
// memory:// uses the in-process store.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	switch parsePersistenceProvider(databaseURL) {
	case "postgres", "postgresql":
		store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(fmt.Errorf("failed to create PostgreSQL persistence: %w", err))
		}

		return store
	case "memory":
		return memory.NewPersistence()
	default:
		panic("Unsupported persistence provider in database URL: " + databaseURL)
	}
}

func parsePersistenceProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return ""
	}

	return provider
}
