package main

import (
	"fmt"
	"os"

	"github.com/Anvoria/keyrelay/internal/cli"
	"github.com/Anvoria/keyrelay/internal/cli/keys"
	"github.com/Anvoria/keyrelay/internal/cli/migrate"
	"github.com/Anvoria/keyrelay/internal/cli/sessions"
	"github.com/Anvoria/keyrelay/internal/cli/token"
)

func main() {
	registry := cli.NewRegistry()

	registry.Register(&keys.Command{})
	registry.Register(&token.Command{})
	registry.Register(&sessions.Command{})
	registry.Register(&migrate.Command{})

	if err := registry.Run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
