package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/logger"
	"github.com/stemsi/exstem-session/internal/service"
)

// issue-token mints a candidate JWT signed with JWT_SECRET. Production tokens
// come from the identity provider; this is for local runs and load tests.
func main() {
	var (
		candidateID string
		expiry      time.Duration
		count       int
	)
	flag.StringVar(&candidateID, "candidate", "", "Candidate id (token subject); used as a prefix when -n > 1")
	flag.DurationVar(&expiry, "expiry", 0, "Token lifetime (defaults to JWT_EXPIRY_HOURS)")
	flag.IntVar(&count, "n", 1, "Number of tokens to issue")
	flag.Parse()

	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	if candidateID == "" {
		fmt.Fprintln(os.Stderr, "Usage: issue-token -candidate <id> [-expiry 3h] [-n 1]")
		os.Exit(2)
	}
	if expiry <= 0 {
		expiry = cfg.JWTExpiry
	}

	auth := service.NewAuthService(cfg.JWTSecret, expiry)
	for i := 1; i <= count; i++ {
		subject := candidateID
		if count > 1 {
			subject = fmt.Sprintf("%s-%04d", candidateID, i)
		}
		token, err := auth.GenerateCandidateToken(subject)
		if err != nil {
			log.Fatal().Err(err).Str("candidate_id", subject).Msg("Failed to issue token")
		}
		fmt.Printf("%s\t%s\n", subject, token)
	}
}
