package auth

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/etekaf/backend/internal/models"
)

// EnsureAdmin upserts the configured bootstrap admin. An empty password leaves accounts untouched.
func EnsureAdmin(ctx context.Context, store UserStore, username, password string, logger *zap.Logger) error {
	if password == "" {
		logger.Warn("ADMIN_PASSWORD not set, skipping bootstrap admin")
		return nil
	}
	if existing, err := store.GetByUsername(ctx, username); err == nil &&
		existing.Role == models.RoleAdmin && passwordMatches(existing.Password, password) {
		return nil
	}
	hash, err := HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	u, err := store.Upsert(ctx, username, hash, models.RoleAdmin)
	if err != nil {
		return fmt.Errorf("upsert admin: %w", err)
	}
	logger.Info("bootstrap admin ready", zap.String("username", u.Username))
	return nil
}
