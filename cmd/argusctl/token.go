package main

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/BrandonDHaskell/Argus/internal/argus/types"
	"github.com/BrandonDHaskell/Argus/internal/auth"
)

func runToken(args []string) error {
	var (
		secret  string
		subject string
		role    string
		ttl     time.Duration
	)
	fs := pflag.NewFlagSet("argusctl token", pflag.ContinueOnError)
	fs.StringVar(&secret, "secret", envDefault("ARGUS_JWT_SECRET", ""), "signing secret (default $ARGUS_JWT_SECRET)")
	fs.StringVar(&subject, "sub", "", "subject: the student or admin id")
	fs.StringVar(&role, "role", string(types.RoleStudent), "student | recruiter | admin")
	fs.DurationVar(&ttl, "ttl", 168*time.Hour, "token lifetime; 0 never expires")

	if done, err := parseFlags(fs, args); done || err != nil {
		return err
	}
	if secret == "" {
		return fmt.Errorf("--secret or ARGUS_JWT_SECRET is required")
	}

	tok, err := auth.NewTokenIssuer([]byte(secret), ttl).Issue(subject, types.Role(role))
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}
