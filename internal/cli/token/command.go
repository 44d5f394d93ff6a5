package token

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Anvoria/keyrelay/internal/cli"
	"github.com/Anvoria/keyrelay/internal/domain/auth"
)

// Command mints operator bearer tokens for the session API
type Command struct{}

func (c *Command) Name() string {
	return "token"
}

func (c *Command) Description() string {
	return "Mint API bearer tokens (mint)"
}

func (c *Command) Run(args []string) error {
	if len(args) < 1 || args[0] != "mint" {
		c.printUsage()
		if len(args) < 1 {
			return fmt.Errorf("subcommand required")
		}
		return fmt.Errorf("unknown subcommand: %s", args[0])
	}
	return c.runMint(args[1:])
}

func (c *Command) printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: keyrelay-cli token mint [args]\n\n")
	fmt.Fprintf(os.Stderr, "  -sub <subject>      Token subject (required)\n")
	fmt.Fprintf(os.Stderr, "  -scopes <list>      Comma-separated scopes (default: %s,%s,%s)\n", auth.ScopeRead, auth.ScopeWrite, auth.ScopeRelay)
	fmt.Fprintf(os.Stderr, "  -ttl <duration>     Token lifetime (default: 24h)\n")
}

func (c *Command) runMint(args []string) error {
	fs := flag.NewFlagSet("mint", flag.ContinueOnError)
	sub := fs.String("sub", "", "Token subject (required)")
	scopes := fs.String("scopes", strings.Join([]string{auth.ScopeRead, auth.ScopeWrite, auth.ScopeRelay}, ","), "Comma-separated scopes")
	ttl := fs.Duration("ttl", 24*time.Hour, "Token lifetime")
	configPath := fs.String("config", "", "Config file (overrides CONFIG_PATH)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *sub == "" {
		return fmt.Errorf("subject is required")
	}
	if *ttl <= 0 {
		return fmt.Errorf("ttl must be positive")
	}

	cfg, _, err := cli.LoadConfig(*configPath)
	if err != nil {
		return err
	}

	keyStore, err := auth.LoadKeys(cfg.Auth.KeysPath, cfg.Auth.ActiveKID)
	if err != nil {
		return fmt.Errorf("failed to load keys: %w", err)
	}

	signed, err := keyStore.Mint(auth.MintOptions{
		Subject:  *sub,
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
		Scopes:   splitScopes(*scopes),
		TTL:      *ttl,
	})
	if err != nil {
		return fmt.Errorf("failed to mint token: %w", err)
	}

	fmt.Println(signed)
	return nil
}

func splitScopes(s string) []string {
	var out []string
	for _, scope := range strings.Split(s, ",") {
		if scope = strings.TrimSpace(scope); scope != "" {
			out = append(out, scope)
		}
	}
	return out
}
