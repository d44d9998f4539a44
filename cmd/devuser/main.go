package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/chickfarms/chickfarms-api/internal/config"
	"github.com/chickfarms/chickfarms-api/internal/domain/user"
	"github.com/chickfarms/chickfarms-api/internal/pkg/database"
	"github.com/chickfarms/chickfarms-api/internal/pkg/jwt"
)

// devuser creates a local account, optionally under a referrer, and prints
// an access token for it. Development only.
func main() {
	username := flag.String("username", "", "username of the new account")
	referrer := flag.String("ref", "", "referral code of the inviting user")
	admin := flag.Bool("admin", false, "create an admin account")
	flag.Parse()

	cfg := config.Load()
	if cfg.IsProduction() {
		log.Fatal("devuser refuses to run with ENV=production")
	}
	if strings.TrimSpace(*username) == "" {
		log.Fatal("-username is required")
	}

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.ClosePostgres(db)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := database.EnsureSchema(ctx, db); err != nil {
		log.Fatalf("Failed to prepare schema: %v", err)
	}

	repo := user.NewRepository(db)
	u := &user.User{Username: strings.TrimSpace(*username)}
	if *admin {
		u.Role = user.RoleAdmin
	}
	if code := strings.ToUpper(strings.TrimSpace(*referrer)); code != "" {
		if _, err := repo.GetByReferralCode(ctx, code); err != nil {
			if errors.Is(err, user.ErrUserNotFound) {
				log.Fatalf("No user owns referral code %q", code)
			}
			log.Fatalf("Failed to resolve referral code: %v", err)
		}
		u.ReferredBy = &code
	}

	if err := repo.Create(ctx, u); err != nil {
		log.Fatalf("Failed to create user: %v", err)
	}

	tokens := jwt.NewService(cfg.JWTSecret, cfg.JWTAccessTTL)
	token, err := tokens.GenerateAccessToken(u.ID, string(u.Role))
	if err != nil {
		log.Fatalf("Failed to issue token: %v", err)
	}

	fmt.Println("--- User created ---")
	fmt.Printf("id:            %s\n", u.ID)
	fmt.Printf("username:      %s\n", u.Username)
	fmt.Printf("role:          %s\n", u.Role)
	fmt.Printf("referral_code: %s\n", u.ReferralCode)
	if u.ReferredBy != nil {
		fmt.Printf("referred_by:   %s\n", *u.ReferredBy)
	}
	fmt.Printf("access_token:  %s\n", token)
	fmt.Printf("expires_at:    %s\n", time.Now().Add(tokens.GetAccessTTL()).Format(time.RFC3339))
}
