// Command tokengen mints a bearer token for a ledger client.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/baharkarakas/bank-ledger/internal/auth"
	"github.com/baharkarakas/bank-ledger/internal/config"
)

func main() {
	sub := flag.String("sub", "", "client id placed in the token subject")
	role := flag.String("role", "client", "role claim")
	flag.Parse()

	if *sub == "" {
		fmt.Fprintln(os.Stderr, "usage: tokengen -sub <client> [-role <role>]")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}
	if !cfg.AuthEnabled() {
		slog.Error("JWT_SECRET is empty; auth is disabled")
		os.Exit(1)
	}

	tok, exp, err := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL).Issue(*sub, *role)
	if err != nil {
		slog.Error("issue token", "err", err)
		os.Exit(1)
	}
	fmt.Println(tok)
	slog.Info("token issued", "sub", *sub, "expires", exp)
}
