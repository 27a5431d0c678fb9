// seed inserts development users for local testing: go run ./cmd/seed.
// Idempotent: users whose email already exists are skipped.
package main

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"authgate/internal/config"
	"authgate/internal/db"
	"authgate/internal/security"
	"authgate/internal/user/domain"
	userrepo "authgate/internal/user/repository"
)

// devPassword satisfies the signup password rules so the seeded users can also reset it.
const devPassword = "Dev-Password-123"

var seedUsers = []struct {
	email string
	phone string
	roles []string
}{
	{"dev@example.com", "919800000001", []string{"admin"}},
	{"member@example.com", "919800000002", []string{"member"}},
	{"emailonly@example.com", "", []string{"member"}},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}
	if cfg.Env == "production" {
		log.Fatal("refusing to seed when APP_ENV=production")
	}

	ctx := context.Background()
	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	hasher, err := security.NewPasswordHasher(cfg.PasswordHasher, cfg.BcryptCost)
	if err != nil {
		log.Fatalf("hasher: %v", err)
	}
	passwordHash, err := hasher.Hash(devPassword)
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}

	users := userrepo.NewPostgresRepository(pool)
	now := time.Now().UTC()
	for _, su := range seedUsers {
		u := &domain.User{
			ID:           uuid.NewString(),
			Email:        su.email,
			Phone:        su.phone,
			PasswordHash: passwordHash,
			Roles:        su.roles,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		err := users.Create(ctx, u)
		switch {
		case errors.Is(err, userrepo.ErrEmailTaken):
			log.Printf("%s exists, skipping", su.email)
		case err != nil:
			log.Fatalf("create %s: %v", su.email, err)
		default:
			log.Printf("created %s (%s)", su.email, u.ID)
		}
	}
	log.Printf("password for seeded users: %s", devPassword)
}
