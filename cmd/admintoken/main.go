// Command admintoken prints an access token for an existing admin. Admin
// tokens are never issued over the open user endpoint, so this is how the
// first one is obtained after ADMIN_EMAILS bootstrapped the account.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"oldruby-market/internal/config"
	"oldruby-market/internal/database"
	"oldruby-market/internal/domain"
	"oldruby-market/internal/logger"
	"oldruby-market/internal/repository"
	"oldruby-market/internal/service"

	"go.uber.org/zap"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: admintoken <email>")
		os.Exit(2)
	}

	cfg := config.Load()

	log, err := logger.New(cfg.Server.Env, "error")
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	token, err := issue(cfg, os.Args[1])
	if err != nil {
		log.Fatal("Failed to issue admin token", zap.Error(err))
	}
	fmt.Println(token)
}

func issue(cfg *config.Config, email string) (string, error) {
	email, err := domain.NormalizeEmail(email)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		return "", err
	}
	defer db.Close()

	user, err := repository.NewUserRepository(db.DB()).GetOne(ctx, repository.UserByEmail(email))
	if err != nil {
		return "", err
	}
	if user.Role != domain.RoleAdmin {
		return "", fmt.Errorf("%s is a %s, not an admin: %w", email, user.Role, domain.ErrConflict)
	}

	tokens := service.NewTokenService(cfg.JWT.Secret, time.Duration(cfg.JWT.AccessExpiry)*time.Minute)
	return tokens.Issue(user)
}
