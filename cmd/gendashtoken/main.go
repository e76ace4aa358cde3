// Command gendashtoken mints a dashboard API token for a user and prints
// the bearer value to use against the /api endpoints.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"prebuildd/config"
	"prebuildd/core"
	"prebuildd/db"
	"prebuildd/models"
	"prebuildd/services/tokens"
	"prebuildd/services/users"
)

func main() {
	if len(os.Args) != 2 {
		log.Fatalf("usage: gendashtoken <user-id>")
	}
	userID := os.Args[1]

	log.Printf("🔑 Generating dashboard token for user %s...", userID)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("❌ Failed to load configuration: %v", err)
	}

	dbConn, err := db.NewConnection(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer dbConn.Close()

	usersRepo := db.NewPostgresUsersRepository(dbConn, cfg.DatabaseSchema)
	tokensRepo := db.NewPostgresTokensRepository(dbConn, cfg.DatabaseSchema)
	usersService := users.NewUsersService(usersRepo)
	tokensService := tokens.NewTokensService(tokensRepo)

	ctx := context.Background()

	userOpt, err := usersService.GetUserByID(ctx, userID)
	if err != nil {
		log.Fatalf("❌ Failed to load user: %v", err)
	}
	if _, found := userOpt.Get(); !found {
		log.Fatalf("❌ User not found: %s", userID)
	}

	value, err := core.NewSecretKey("dash")
	if err != nil {
		log.Fatalf("❌ Failed to generate token: %v", err)
	}

	if err := usersService.BindIdentity(ctx, models.Identity{
		AuthProviderID: core.InternalAuthProviderID,
		AuthID:         userID,
		AuthName:       core.InternalAuthProviderID,
		UserID:         userID,
	}); err != nil {
		log.Fatalf("❌ Failed to bind internal identity: %v", err)
	}

	if err := tokensService.ReplaceToken(ctx, core.InternalAuthProviderID, userID, models.Token{
		Value:  value,
		Scopes: []string{core.DashboardTokenScope},
	}); err != nil {
		log.Fatalf("❌ Failed to store token: %v", err)
	}

	fmt.Printf("Bearer token: %s\n", core.WebhookSecretToken(userID, value))
	log.Printf("✅ Dashboard token generated")
}
