package main

import (
	"context"
	"fmt"
	"log"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"spotex/internal/config"
	"spotex/internal/db"
)

// Seed the database with demo traders. Safe to run repeatedly.
func main() {
	ctx := context.Background()
	cfg := config.Load()

	database, err := db.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close(ctx)

	seedUsers := []struct {
		name    string
		email   string
		balance string
		btc     string
		eth     string
	}{
		{"Alice Trader", "alice@example.com", "10000", "1", "10"},
		{"Bob Trader", "bob@example.com", "10000", "1", "10"},
	}

	for _, su := range seedUsers {
		var id int
		err := database.Pool.QueryRow(ctx, "SELECT id FROM users WHERE email = $1", su.email).Scan(&id)
		if err == nil {
			fmt.Printf("User %s already exists (id %d), skipping\n", su.email, id)
			continue
		}

		hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("Failed to hash password: %v", err)
		}

		user, err := database.CreateUser(ctx, su.name, su.email, string(hash),
			decimal.RequireFromString(su.balance))
		if err != nil {
			log.Fatalf("Failed to create user %s: %v", su.email, err)
		}

		if err := database.GrantAsset(ctx, user.ID, "BTC", decimal.RequireFromString(su.btc)); err != nil {
			log.Fatalf("Failed to grant BTC: %v", err)
		}
		if err := database.GrantAsset(ctx, user.ID, "ETH", decimal.RequireFromString(su.eth)); err != nil {
			log.Fatalf("Failed to grant ETH: %v", err)
		}

		fmt.Printf("Created %s (id %d) with balance %s, 1 BTC, 10 ETH\n", su.email, user.ID, su.balance)
	}
}
