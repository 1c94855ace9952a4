package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/gridwatch/vms/internal/data"
	"github.com/gridwatch/vms/internal/tokens"
	"github.com/gridwatch/vms/internal/users"
)

// Creates the initial operator account so a fresh install can log in.
// Idempotent: an already-registered email exits cleanly.
func main() {
	email := os.Getenv("ADMIN_EMAIL")
	password := os.Getenv("ADMIN_PASSWORD")
	if email == "" || password == "" {
		log.Fatal("ADMIN_EMAIL and ADMIN_PASSWORD are required")
	}

	db, err := sql.Open("postgres", dsnFromEnv())
	if err != nil {
		log.Fatalf("db open: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatalf("db ping: %v", err)
	}

	// The token manager is unused during seeding; any key satisfies the service.
	svc := users.NewService(data.UserModel{DB: db}, tokens.NewManager("seed"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	u, err := svc.Register(ctx, email, password)
	if err != nil {
		if errors.Is(err, users.ErrEmailTaken) {
			log.Printf("account %s already exists, nothing to do", email)
			return
		}
		log.Fatalf("register: %v", err)
	}
	log.Printf("created account %s (%s)", u.Email, u.ID)
}

func dsnFromEnv() string {
	host := envOr("DB_HOST", "localhost")
	port := envOr("DB_PORT", "5432")
	sslmode := envOr("DB_SSLMODE", "disable")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		os.Getenv("DB_USER"), os.Getenv("DB_PASSWORD"), host, port, os.Getenv("DB_NAME"), sslmode)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
