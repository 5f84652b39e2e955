package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/steveterryp/copov3/internal/models"
	"github.com/steveterryp/copov3/internal/services"
)

const (
	bootstrapEmailEnv    = "COPOV_ADMIN_EMAIL"
	bootstrapPasswordEnv = "COPOV_ADMIN_PASSWORD"
)

// bootstrapSuperAdmin creates the initial super admin account on an empty
// database. The credentials come from the environment; without them a fresh
// install starts with no accounts and a warning is logged.
func bootstrapSuperAdmin(ctx context.Context, db *gorm.DB, users *services.UserService, log *zap.Logger) error {
	var count int64
	if err := db.WithContext(ctx).Model(&models.User{}).Count(&count).Error; err != nil {
		return fmt.Errorf("bootstrap: count users: %w", err)
	}
	if count > 0 {
		return nil
	}

	email := strings.TrimSpace(os.Getenv(bootstrapEmailEnv))
	password := os.Getenv(bootstrapPasswordEnv)
	if email == "" || password == "" {
		log.Warn("no users exist and bootstrap credentials are not set",
			zap.String("email_env", bootstrapEmailEnv),
			zap.String("password_env", bootstrapPasswordEnv))
		return nil
	}

	user, err := users.CreateUser(ctx, services.CreateUserInput{
		Email:    email,
		Name:     "Administrator",
		Password: password,
		Role:     models.RoleSuperAdmin,
	})
	if err != nil {
		return fmt.Errorf("bootstrap: create super admin: %w", err)
	}

	// Accounts start inactive; the bootstrap admin must be able to sign in
	// immediately.
	if err := users.Verify(ctx, user.ID); err != nil {
		return fmt.Errorf("bootstrap: activate super admin: %w", err)
	}

	log.Info("bootstrap super admin created", zap.String("email", email))
	return nil
}
