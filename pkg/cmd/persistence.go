// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gymops/automation/pkg/persistence"
	"github.com/gymops/automation/pkg/persistence/file"
	"github.com/gymops/automation/pkg/persistence/postgresql"
)

var ErrUnsupportedDatabase = errors.New("unsupported database url")

// NewPersistence picks the backend by URL scheme: file://<dir> or postgres://.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	scheme, rest, found := strings.Cut(databaseURL, "://")
	if !found {
		return nil, fmt.Errorf("%w: %q has no scheme", ErrUnsupportedDatabase, databaseURL)
	}

	switch scheme {
	case "file":
		if rest == "" {
			return nil, fmt.Errorf("%w: file url needs a directory", ErrUnsupportedDatabase)
		}

		logger.InfoContext(ctx, "Using file persistence", "root", rest)

		return file.NewPersistence(rest), nil
	case "postgres", "postgresql":
		store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}

		return store, nil
	default:
		return nil, fmt.Errorf("%w: scheme %q", ErrUnsupportedDatabase, scheme)
	}
}
