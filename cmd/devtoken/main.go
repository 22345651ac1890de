// Command devtoken prints an access token signed with JWT_SECRET, for
// calling a local API without the account service.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/example/ec-storefront/internal/auth"
	"github.com/example/ec-storefront/internal/config"
)

func main() {
	userID := flag.String("user", "dev-user", "user id claim")
	email := flag.String("email", "dev@example.com", "email claim")
	role := flag.String("role", "customer", "role claim (customer or admin)")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET is not set (or run with APP_ENV=development)")
	}

	token, expiresAt, err := auth.NewJWTService(cfg.JWTSecret, *ttl).GenerateAccessToken(*userID, *email, *role)
	if err != nil {
		log.Fatalf("sign token: %v", err)
	}
	fmt.Println(token)
	log.Printf("expires at %s", expiresAt.Format(time.RFC3339))
}
