package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/dealdrip/dealdrip/pkg/persistence"
	"github.com/dealdrip/dealdrip/pkg/persistence/file"
	"github.com/dealdrip/dealdrip/pkg/persistence/postgresql"
)

var supportedPersistenceProviders = []string{"file", "postgresql", "postgres"}

func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch parsePersistenceProvider(databaseURL) {
	case "postgresql", "postgres":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	default:
		return file.NewPersistence(strings.TrimPrefix(databaseURL, "file://")), nil
	}
}

func parsePersistenceProvider(databaseURL string) string {
	parts := strings.Split(databaseURL, "://")

	provider := parts[0]
	for _, supported := range supportedPersistenceProviders {
		if provider == supported {
			return provider
		}
	}

	return "file"
}
