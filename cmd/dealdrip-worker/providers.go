package main

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dealdrip/dealdrip/pkg/channels"
	"github.com/dealdrip/dealdrip/pkg/models"
)

// consoleProvider stands in for a real delivery provider. It logs the message
// and hands back a generated provider reference, which is enough for local
// development and staging environments without provider credentials.
func consoleProvider(logger *slog.Logger, channel models.Channel) channels.Provider {
	providerLogger := logger.With("provider", "console", "channel", channel)

	return func(ctx context.Context, from, to, message string) (string, error) {
		ref := uuid.New().String()

		providerLogger.InfoContext(ctx, "Delivering message",
			"from", from,
			"to", to,
			"bytes", len(message),
			"provider_ref", ref,
		)

		return ref, nil
	}
}
