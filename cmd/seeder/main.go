package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	InitialBalance = 500000 // merchant starting balance in rupees
	DemoSecret     = "demo-api-secret"
)

func main() {
	dbURL := os.Getenv("DB_SOURCE")
	if dbURL == "" {
		log.Fatal("DB_SOURCE environment variable is required")
	}
	tokenSecret := os.Getenv("TOKEN_SECRET")
	if tokenSecret == "" {
		log.Fatal("TOKEN_SECRET environment variable is required")
	}

	ctx := context.Background()
	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v\n", err)
	}
	defer conn.Close(ctx)

	log.Println("--- Seeding Database ---")

	var count int
	conn.QueryRow(ctx, "SELECT COUNT(*) FROM merchants").Scan(&count)
	if count > 0 {
		log.Printf("Database already has %d merchants. Skipping.", count)
		return
	}

	merchantID := uuid.NewString()
	userID := uuid.NewString()

	_, err = conn.Exec(ctx,
		"INSERT INTO merchants (id, name, email, mid, wallet_balance, daily_txn_limit) VALUES ($1,$2,$3,$4,$5,$6)",
		merchantID, "Demo Traders", "demo@arthapay.in", "MID0001", InitialBalance, 0)
	if err != nil {
		log.Fatalf("Merchant insert failed: %v", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(DemoSecret), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("Secret hash failed: %v", err)
	}
	_, err = conn.Exec(ctx,
		"INSERT INTO merchant_users (id, merchant_id, email, secret_hash) VALUES ($1,$2,$3,$4)",
		userID, merchantID, "demo@arthapay.in", string(hash))
	if err != nil {
		log.Fatalf("User insert failed: %v", err)
	}

	_, err = conn.Exec(ctx,
		"INSERT INTO merchant_balances (merchant_id, available_balance) VALUES ($1,$2)",
		merchantID, InitialBalance)
	if err != nil {
		log.Fatalf("Balance insert failed: %v", err)
	}

	keys, _ := json.Marshal(map[string]string{
		"encryption_key": "dev-encryption-key",
		"header_key":     "dev-header-key",
	})
	_, err = conn.Exec(ctx,
		`INSERT INTO connector_accounts
		 (id, merchant_id, connector_id, connector_account_id, terminal_id, integration_keys, is_primary, active)
		 VALUES ($1,$2,$3,$4,$5,$6,TRUE,TRUE)`,
		uuid.NewString(), merchantID, "demo-gateway", "CA0001", "T0001", keys)
	if err != nil {
		log.Fatalf("Connector insert failed: %v", err)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":    userID,
		"secret": DemoSecret,
		"exp":    time.Now().Add(24 * time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(tokenSecret))
	if err != nil {
		log.Fatalf("Token signing failed: %v", err)
	}

	log.Printf("Seeded merchant %s with balance %d", merchantID, InitialBalance)
	log.Printf("Bearer token for local testing:\n%s", signed)
}
