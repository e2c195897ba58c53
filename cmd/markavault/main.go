package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/awnumar/memguard"
	"github.com/dustin/go-humanize"
	"github.com/semmidev/markavault/internal/app"
	"github.com/semmidev/markavault/internal/config"
	"github.com/semmidev/markavault/internal/domain"
	"github.com/semmidev/markavault/internal/infrastructure/logger"
	"github.com/semmidev/markavault/internal/usecase"
	"github.com/urfave/cli/v2"
)

var version = "dev"

func main() {
	err := newCLI().Run(os.Args)
	memguard.Purge()
	if err != nil {
		log.Fatal(err)
	}
}

func newCLI() *cli.App {
	return &cli.App{
		Name:                 "markavault",
		Usage:                "Backup, restore and cloud sync for the Marka data file",
		Version:              version,
		EnableBashCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file",
				Value:   "configs/config.yaml",
				EnvVars: []string{"MARKAVAULT_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Run the scheduler for automatic backups and sync",
				Action: runDaemon,
			},
			{
				Name:  "backup",
				Usage: "Create a backup now",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "no-compress", Usage: "skip the compress stage"},
					&cli.BoolFlag{Name: "no-encrypt", Usage: "skip the encrypt stage"},
					&cli.BoolFlag{Name: "upload", Usage: "also upload to every provider"},
				},
				Action: createBackup,
			},
			{
				Name:      "restore",
				Usage:     "Restore the data file from an artifact",
				ArgsUsage: "<artifact>",
				Action:    restoreBackup,
			},
			{
				Name:   "list",
				Usage:  "List local backups, newest first",
				Action: listBackups,
			},
			{
				Name:   "push",
				Usage:  "Snapshot and upload to every provider",
				Action: push,
			},
			{
				Name:  "pull",
				Usage: "Download and restore the newest synced artifact",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Usage: "object key to pull instead of the newest"},
					&cli.StringFlag{Name: "provider", Usage: "provider to pull --name from"},
				},
				Action: pull,
			},
			{
				Name:   "status",
				Usage:  "Show sync state and recent history",
				Action: status,
			},
			{
				Name:  "drive-auth",
				Usage: "Obtain a Google Drive refresh token",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "client-secret", Usage: "OAuth client secret JSON", Required: true},
					&cli.StringFlag{Name: "addr", Usage: "listen address", Value: "localhost:8085"},
				},
				Action: driveAuth,
			},
		},
	}
}

// withApp loads the config, builds the application and hands it to fn with
// a context cancelled on SIGINT or SIGTERM.
func withApp(c *cli.Context, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	application, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize app: %w", err)
	}
	defer application.Shutdown()

	return exitCode(fn(ctx, application))
}

// exitCode maps an unrecoverable restore to exit status 2 so scripts can tell
// it apart from an ordinary failure.
func exitCode(err error) error {
	if err == nil {
		return nil
	}
	if domain.OutcomeOf(err) == domain.OutcomeUnrecoverable {
		return cli.Exit(fmt.Sprintf("UNRECOVERABLE: %v (shadow copies were kept next to the data file)", err), 2)
	}
	return err
}

func runDaemon(c *cli.Context) error {
	return withApp(c, func(ctx context.Context, a *app.App) error {
		return a.Run(ctx)
	})
}

func createBackup(c *cli.Context) error {
	return withApp(c, func(ctx context.Context, a *app.App) error {
		opts := usecase.DefaultBackupOptions()
		opts.Compress = !c.Bool("no-compress")
		opts.Encrypt = !c.Bool("no-encrypt")
		opts.Upload = c.Bool("upload")

		artifact, err := a.Orchestrator().CreateBackup(ctx, opts)
		if err != nil {
			return err
		}
		fmt.Printf("Backup created: %s (%s)\n", artifact.LocalPath, humanize.Bytes(uint64(artifact.SizeBytes)))
		return nil
	})
}

func restoreBackup(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return cli.Exit("restore needs an artifact path", 1)
	}
	return withApp(c, func(ctx context.Context, a *app.App) error {
		result, err := a.Orchestrator().RestoreBackup(ctx, path)
		if result != nil {
			printRestore(result)
		}
		return err
	})
}

func listBackups(c *cli.Context) error {
	return withApp(c, func(ctx context.Context, a *app.App) error {
		artifacts, err := a.Orchestrator().ListBackups(ctx)
		if err != nil {
			return err
		}
		if len(artifacts) == 0 {
			fmt.Println("No backups found")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSIZE\tKIND\tCREATED")
		for _, art := range artifacts {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", art.Name, humanize.Bytes(uint64(art.SizeBytes)), art.Kind, humanize.Time(art.CreatedAt))
		}
		return w.Flush()
	})
}

func push(c *cli.Context) error {
	return withApp(c, func(ctx context.Context, a *app.App) error {
		report, err := a.Orchestrator().SyncToCloud(ctx)
		if report != nil {
			fmt.Printf("Cycle %s: %s in %s\n", report.CycleID, report.Artifact.Name, report.Duration.Round(time.Millisecond))
			for _, res := range report.Results {
				if res.Err != nil {
					fmt.Printf("  %-12s FAILED  %v\n", res.Provider, res.Err)
				} else {
					fmt.Printf("  %-12s ok\n", res.Provider)
				}
			}
		}
		return err
	})
}

func pull(c *cli.Context) error {
	name, provider := c.String("name"), c.String("provider")
	if name != "" && provider == "" {
		return cli.Exit("--name needs --provider", 1)
	}
	return withApp(c, func(ctx context.Context, a *app.App) error {
		var (
			result *domain.RestoreResult
			err    error
		)
		if name != "" {
			result, err = a.Orchestrator().PullArtifact(ctx, provider, name)
		} else {
			result, err = a.Orchestrator().SyncFromCloud(ctx)
		}
		if errors.Is(err, domain.ErrNoArtifact) {
			fmt.Println("Nothing to pull")
			return nil
		}
		if result != nil {
			printRestore(result)
		}
		return err
	})
}

func status(c *cli.Context) error {
	return withApp(c, func(ctx context.Context, a *app.App) error {
		state := a.Orchestrator().SyncStatus()
		fmt.Printf("Sync status: %s\n", state.Status)
		if state.LastSyncAt != nil {
			fmt.Printf("Last sync:   %s (%s)\n", state.LastSyncAt.Format(time.RFC3339), humanize.Time(*state.LastSyncAt))
		}
		if state.LastError != "" {
			fmt.Printf("Last error:  %s\n", state.LastError)
		}
		fmt.Printf("Providers:   %v\n", a.ProviderNames())

		records, err := a.History(ctx, 10)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}

		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "WHEN\tTYPE\tARTIFACT\tSIZE\tPROVIDERS")
		for _, r := range records {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%v\n", humanize.Time(r.CreatedAt), r.Type, r.ArtifactName, humanize.Bytes(uint64(r.SizeBytes)), r.Providers)
		}
		return w.Flush()
	})
}

func driveAuth(c *cli.Context) error {
	lg, err := logger.New(config.AppConfig{Name: "markavault", LogLevel: "info"})
	if err != nil {
		return err
	}
	defer lg.Close()

	addr := c.String("addr")
	auth, err := app.NewDriveAuth(lg, c.String("client-secret"), "http://"+addr+"/auth/google/callback")
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	auth.Start(addr)
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := auth.Shutdown(shutdownCtx); err != nil {
			lg.Errorf("%v", err)
		}
	}()

	token, err := auth.Wait(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("refresh_token: %s\n", token.RefreshToken)
	return nil
}

func printRestore(result *domain.RestoreResult) {
	fmt.Printf("Restore %s: %s", result.ArtifactPath, result.State)
	if result.Duration > 0 {
		fmt.Printf(" in %s", result.Duration.Round(time.Millisecond))
	}
	fmt.Println()
	for _, w := range result.Warnings {
		fmt.Printf("  warning: %s\n", w)
	}
}
