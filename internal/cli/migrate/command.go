package migrate

import (
	"fmt"
	"os"

	"github.com/Anvoria/keyrelay/internal/cli"
	"github.com/Anvoria/keyrelay/internal/database"
	"github.com/Anvoria/keyrelay/internal/migrations"
)

// Command applies or rolls back schema migrations
type Command struct{}

func (c *Command) Name() string {
	return "migrate"
}

func (c *Command) Description() string {
	return "Apply or roll back database migrations (up, down)"
}

func (c *Command) Run(args []string) error {
	if len(args) < 1 {
		c.printUsage()
		return fmt.Errorf("subcommand required")
	}

	direction := migrations.Direction(args[0])
	if direction != migrations.Up && direction != migrations.Down {
		c.printUsage()
		return fmt.Errorf("unknown subcommand: %s", args[0])
	}

	cfg, _, err := cli.LoadConfig("")
	if err != nil {
		return err
	}

	db, err := database.Open(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close(db)

	if err := migrations.Run(&cfg.Database, db, direction); err != nil {
		return err
	}
	fmt.Printf("Migrations %s complete\n", direction)
	return nil
}

func (c *Command) printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: keyrelay-cli migrate <up|down>\n")
}
