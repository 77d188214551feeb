// Command certmesh-token mints an operator JWT for the management API.
// Run it on the host with the same JWT_SECRET the server uses; the token
// is printed to stdout.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/auth"
)

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	operator := flag.String("operator", "", "operator name recorded as the token subject")
	role := flag.String("role", "operator", "role claim embedded in the token")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	issuer := flag.String("issuer", getEnv("JWT_ISSUER", "certmesh"), "issuer claim")
	flag.Parse()

	if *operator == "" {
		log.Fatalf("-operator is required")
	}

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatalf("JWT_SECRET is required")
	}
	auth.InitJWT(secret)

	token, err := auth.GenerateToken(*operator, *role, time.Now().Add(*ttl), *issuer)
	if err != nil {
		log.Fatalf("Failed to generate token: %v", err)
	}

	fmt.Println(token)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
