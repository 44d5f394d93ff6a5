package keys

import (
	"crypto/rsa"
	"flag"
	"fmt"
	"os"

	"github.com/Anvoria/keyrelay/internal/cli"
	"github.com/Anvoria/keyrelay/internal/domain/auth"
	"github.com/lestrrat-go/jwx/v3/jwk"
)

// Command manages the RSA keys that sign operator tokens
type Command struct{}

func (c *Command) Name() string {
	return "keys"
}

func (c *Command) Description() string {
	return "Manage token signing keys (generate, list)"
}

func (c *Command) Run(args []string) error {
	if len(args) < 1 {
		c.printUsage()
		return fmt.Errorf("subcommand required")
	}

	switch args[0] {
	case "generate":
		return c.runGenerate(args[1:])
	case "list":
		return c.runList(args[1:])
	default:
		c.printUsage()
		return fmt.Errorf("unknown subcommand: %s", args[0])
	}
}

func (c *Command) printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: keyrelay-cli keys <subcommand> [args]\n\n")
	fmt.Fprintf(os.Stderr, "Subcommands:\n")
	fmt.Fprintf(os.Stderr, "  generate              Generate a new RSA key pair\n")
	fmt.Fprintf(os.Stderr, "    -kid <id>           Key ID (required)\n")
	fmt.Fprintf(os.Stderr, "    -bits <size>        Key size: 2048, 3072, or 4096 (default: 2048)\n")
	fmt.Fprintf(os.Stderr, "    -path <dir>         Keys directory (overrides config)\n")
	fmt.Fprintf(os.Stderr, "  list                  List available keys\n")
	fmt.Fprintf(os.Stderr, "    -path <dir>         Keys directory (overrides config)\n")
}

func (c *Command) runGenerate(args []string) error {
	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	kid := fs.String("kid", "", "Key ID (required)")
	bits := fs.Int("bits", 2048, "Key size in bits (2048, 3072, or 4096)")
	path := fs.String("path", "", "Keys directory path (overrides config)")
	configPath := fs.String("config", "", "Config file (overrides CONFIG_PATH)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *kid == "" {
		return fmt.Errorf("key ID is required")
	}

	dir, activeKID, err := keysPath(*path, *configPath)
	if err != nil {
		return err
	}

	fmt.Printf("Generating %d-bit RSA key pair...\n", *bits)
	if err := auth.GenerateKeyPair(dir, *kid, *bits); err != nil {
		return err
	}

	fmt.Printf("Key pair generated successfully\n")
	fmt.Printf("  Key ID: %s\n", *kid)
	fmt.Printf("  Path:   %s\n", dir)
	if activeKID != *kid {
		fmt.Printf("\nSet auth.active_kid: %s in the config to sign with this key\n", *kid)
	}
	return nil
}

func (c *Command) runList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	path := fs.String("path", "", "Keys directory path (overrides config)")
	configPath := fs.String("config", "", "Config file (overrides CONFIG_PATH)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	dir, activeKID, err := keysPath(*path, *configPath)
	if err != nil {
		return err
	}

	keyStore, err := auth.LoadKeys(dir, activeKID)
	if err != nil {
		return fmt.Errorf("failed to load keys: %w", err)
	}

	set := keyStore.JWKS()
	if set.Len() == 0 {
		fmt.Printf("No keys found in %s\n", dir)
		return nil
	}

	fmt.Printf("Keys in %s:\n\n", dir)
	for i := 0; i < set.Len(); i++ {
		key, ok := set.Key(i)
		if !ok {
			continue
		}
		kid, _ := key.KeyID()

		marker := ""
		if kid == "key-"+activeKID || kid == activeKID {
			marker = " (ACTIVE)"
		}

		var raw any
		if err := jwk.Export(key, &raw); err != nil {
			fmt.Fprintf(os.Stderr, "  %s: skipped (%v)\n", kid, err)
			continue
		}
		pub, ok := raw.(*rsa.PublicKey)
		if !ok {
			fmt.Fprintf(os.Stderr, "  %s: skipped (not an RSA key)\n", kid)
			continue
		}
		fmt.Printf("  %s%s\n", kid, marker)
		fmt.Printf("    Key size: %d bits\n", pub.N.BitLen())
	}
	return nil
}

// keysPath resolves the keys directory from the flag or the config file
func keysPath(override, configPath string) (dir, activeKID string, err error) {
	if override != "" {
		return override, "", nil
	}
	cfg, _, err := cli.LoadConfig(configPath)
	if err != nil {
		return "", "", err
	}
	if cfg.Auth.KeysPath == "" {
		return "", "", fmt.Errorf("auth.keys_path is not set, pass -path")
	}
	return cfg.Auth.KeysPath, cfg.Auth.ActiveKID, nil
}
