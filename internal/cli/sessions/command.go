package sessions

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/Anvoria/keyrelay/internal/cache"
	"github.com/Anvoria/keyrelay/internal/cli"
	"github.com/Anvoria/keyrelay/internal/config"
	"github.com/Anvoria/keyrelay/internal/database"
	"github.com/Anvoria/keyrelay/internal/domain/session"
	"github.com/Anvoria/keyrelay/internal/migrations"
)

// Command inspects and maintains the session index
type Command struct{}

func (c *Command) Name() string {
	return "sessions"
}

func (c *Command) Description() string {
	return "Inspect and maintain sessions (show, list, sweep)"
}

func (c *Command) Run(args []string) error {
	if len(args) < 1 {
		c.printUsage()
		return fmt.Errorf("subcommand required")
	}

	switch args[0] {
	case "show":
		return c.runShow(args[1:])
	case "list":
		return c.runList(args[1:])
	case "sweep":
		return c.runSweep(args[1:])
	default:
		c.printUsage()
		return fmt.Errorf("unknown subcommand: %s", args[0])
	}
}

func (c *Command) printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: keyrelay-cli sessions <subcommand> [args]\n\n")
	fmt.Fprintf(os.Stderr, "Subcommands:\n")
	fmt.Fprintf(os.Stderr, "  show <sessionPublicKey>   Print a session and its status\n")
	fmt.Fprintf(os.Stderr, "  list <owner>              List sessions delegated by a main wallet\n")
	fmt.Fprintf(os.Stderr, "  sweep                     Revoke expired sessions once\n")
	fmt.Fprintf(os.Stderr, "    -batch <n>              Maximum sessions per sweep (default: config)\n")
}

func (c *Command) runShow(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("session public key required")
	}

	return withRepository(func(cfg *config.Config, repo session.Repository) error {
		sess, err := repo.FindBySessionKey(context.Background(), args[0])
		if err != nil {
			return err
		}
		return printJSON(session.Info{Session: sess, Status: sess.StatusAt(time.Now())})
	})
}

func (c *Command) runList(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("owner public key required")
	}

	return withRepository(func(cfg *config.Config, repo session.Repository) error {
		sessions, err := repo.FindByOwner(context.Background(), args[0])
		if err != nil {
			return err
		}
		now := time.Now()
		out := make([]session.Info, 0, len(sessions))
		for i := range sessions {
			out = append(out, session.Info{Session: &sessions[i], Status: sessions[i].StatusAt(now)})
		}
		return printJSON(out)
	})
}

func (c *Command) runSweep(args []string) error {
	fs := flag.NewFlagSet("sweep", flag.ContinueOnError)
	batch := fs.Int("batch", 0, "Maximum sessions per sweep batch")
	if err := fs.Parse(args); err != nil {
		return err
	}

	return withRepository(func(cfg *config.Config, repo session.Repository) error {
		opts := session.ReaperOptions{BatchSize: cfg.Reaper.BatchSize}
		if *batch > 0 {
			opts.BatchSize = *batch
		}

		if cfg.Redis.Enabled {
			client, err := cache.ConnectRedis(&cfg.Redis)
			if err != nil {
				return err
			}
			defer client.Close()
			opts.Cache = cache.NewRevocationCache(client)
		}

		res, err := session.NewReaper(repo, opts).Drain(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("Sweep %s: found %d, revoked %d, failed %d\n", res.RunID, res.Found, res.Revoked, res.Failed)
		return nil
	})
}

func withRepository(fn func(cfg *config.Config, repo session.Repository) error) error {
	cfg, _, err := cli.LoadConfig("")
	if err != nil {
		return err
	}
	if cfg.Database.Driver == config.DriverMemory {
		return fmt.Errorf("the memory driver has no persistent sessions to inspect")
	}

	db, err := database.Open(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close(db)

	if err := migrations.RunMigrations(&cfg.Database, db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return fn(cfg, session.NewRepository(db))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
