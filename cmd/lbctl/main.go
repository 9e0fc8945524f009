package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	_ "time/tzdata"

	"github.com/urfave/cli/v2"

	"github.com/scoreboard-engine/internal/app"
	"github.com/scoreboard-engine/internal/config"
	"github.com/scoreboard-engine/internal/domain"
)

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:   "lbctl",
		Usage:  "backup, restore and maintenance for the scoreboard engine",
		Writer: out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "path to the configuration file",
				EnvVars: []string{"SCOREBOARD_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "backup-dir",
				Usage: "override maintenance.backup_dir",
			},
		},
		Commands: []*cli.Command{
			backupCommand(),
			restoreCommand(),
			listCommand(),
			statsCommand(),
			cleanupCommand(),
			rebuildCommand(),
			sweepCommand(),
			produceCommand(),
		},
	}
}

// loadConfig reads the config file named by --config
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if dir := c.String("backup-dir"); dir != "" {
		cfg.Maintenance.BackupDir = dir
	}
	return cfg, nil
}

// withApp wires the engine for the duration of one command
func withApp(c *cli.Context, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()}))

	a, err := app.New(c.Context, cfg, false, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(c.Context, a)
}

func printJSON(c *cli.Context, v interface{}) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func scopeFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "scope",
		Value: string(domain.ScopeFull),
		Usage: "full, scores, personal_bests, validation_rules or rankings",
	}
}

func backupCommand() *cli.Command {
	return &cli.Command{
		Name:  "backup",
		Usage: "write a backup artifact",
		Flags: []cli.Flag{scopeFlag()},
		Action: func(c *cli.Context) error {
			scope, err := domain.ParseBackupScope(c.String("scope"))
			if err != nil {
				return err
			}
			return withApp(c, func(ctx context.Context, a *app.App) error {
				res, err := a.Backups.CreateBackup(ctx, scope)
				if err != nil {
					return err
				}
				return printJSON(c, res)
			})
		},
	}
}

func restoreCommand() *cli.Command {
	return &cli.Command{
		Name:  "restore",
		Usage: "restore a backup artifact",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Required: true, Usage: "backup artifact path"},
			scopeFlag(),
		},
		Action: func(c *cli.Context) error {
			scope, err := domain.ParseBackupScope(c.String("scope"))
			if err != nil {
				return err
			}
			return withApp(c, func(ctx context.Context, a *app.App) error {
				res, err := a.Backups.RestoreBackup(ctx, c.String("file"), scope)
				if err != nil {
					return err
				}
				return printJSON(c, res)
			})
		},
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "list backup artifacts, newest first",
		Action: func(c *cli.Context) error {
			return withApp(c, func(_ context.Context, a *app.App) error {
				infos, err := a.Backups.ListBackups()
				if err != nil {
					return err
				}
				for _, info := range infos {
					fmt.Fprintf(c.App.Writer, "%s\t%s\t%d bytes\t%s\n",
						info.Name, info.Scope, info.SizeBytes, info.CreatedAt.Format("2006-01-02 15:04:05"))
				}
				return nil
			})
		},
	}
}

func statsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "summarize backup artifacts",
		Action: func(c *cli.Context) error {
			return withApp(c, func(_ context.Context, a *app.App) error {
				stats, err := a.Backups.BackupStats()
				if err != nil {
					return err
				}
				return printJSON(c, stats)
			})
		},
	}
}

func cleanupCommand() *cli.Command {
	return &cli.Command{
		Name:  "cleanup",
		Usage: "remove backup artifacts older than the retention period",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "days", Usage: "retention in days (defaults to maintenance.retention_days)"},
		},
		Action: func(c *cli.Context) error {
			return withApp(c, func(_ context.Context, a *app.App) error {
				days := c.Int("days")
				if days == 0 {
					days = a.Config.Maintenance.RetentionDays
				}
				removed, err := a.Backups.CleanupOldBackups(days)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "removed %d backup(s)\n", len(removed))
				return nil
			})
		},
	}
}

func rebuildCommand() *cli.Command {
	return &cli.Command{
		Name:  "rebuild",
		Usage: "recompute rankings from valid scores",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "game", Usage: "game ID (all games when omitted)"},
		},
		Action: func(c *cli.Context) error {
			return withApp(c, func(ctx context.Context, a *app.App) error {
				if err := a.Backups.RebuildRankingsCache(ctx, c.Int64("game")); err != nil {
					return err
				}
				fmt.Fprintln(c.App.Writer, "rankings rebuilt")
				return nil
			})
		},
	}
}

func sweepCommand() *cli.Command {
	return &cli.Command{
		Name:  "sweep",
		Usage: "invalidate scores that fail the advanced rules",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "player", Usage: "limit to one player"},
			&cli.Int64Flag{Name: "game", Usage: "limit to one game"},
		},
		Action: func(c *cli.Context) error {
			return withApp(c, func(ctx context.Context, a *app.App) error {
				res, err := a.Backups.InvalidateSuspiciousScores(ctx, c.Int64("player"), c.Int64("game"))
				if err != nil {
					return err
				}
				return printJSON(c, res)
			})
		},
	}
}
