// Command devtoken выпускает bearer-токен для локальной разработки: devtoken -user <id> [-email a@b] [-ttl 24h].
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/HasheemYodhin/ys/internal/auth"
	"github.com/HasheemYodhin/ys/internal/config"
	"github.com/HasheemYodhin/ys/internal/logger"
)

func main() {
	logger.SetPrefix("devtoken")
	userID := flag.String("user", "", "user id (sub_id claim)")
	email := flag.String("email", "", "e-mail (sub/email claims)")
	ttl := flag.Duration("ttl", 0, "token lifetime, JWT_TTL_MINUTES by default")
	flag.Parse()

	if *userID == "" && *email == "" {
		fmt.Fprintln(os.Stderr, "usage: devtoken -user <id> | -email <address>")
		os.Exit(2)
	}
	cfg := config.Load()
	lifetime := cfg.JWTTTL
	if *ttl > 0 {
		lifetime = *ttl
	}
	if lifetime <= 0 {
		lifetime = 24 * time.Hour
	}
	token, err := auth.NewVerifier(cfg.JWTSecret).Issue(*userID, *email, lifetime)
	if err != nil {
		logger.Errorf("issue token: %v", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
