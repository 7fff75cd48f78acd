package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "workflowguard",
		Short:         "Rejects pull requests that add CI workflow definitions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCommand(), newDBCommand(), newRejectCommand(), newCancelRunCommand())
	return root
}

func newServeCommand() *cobra.Command {
	var addr, policyFile string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}
			if policyFile != "" {
				if err := cfg.LoadPolicy(policyFile); err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := NewApp(ctx, cfg, NewMetrics())
			if err != nil {
				return err
			}
			defer app.Close()
			return app.Serve(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default \":$PORT\")")
	cmd.Flags().StringVar(&policyFile, "policy", "", "YAML policy file (overrides POLICY_FILE)")
	return cmd
}

func newDBCommand() *cobra.Command {
	db := &cobra.Command{
		Use:   "db",
		Short: "Token store maintenance",
	}
	db.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create the token table in the Postgres store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return errors.New("missing configuration: DATABASE_URL")
			}
			store, err := OpenPostgresTokenStore(cmd.Context(), cfg.DatabaseURL, cfg.TokenEncryptionKey)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "token store initialized")
			return nil
		},
	})
	return db
}

func newRejectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reject <installation-id> <owner/repo> <pr-number>",
		Short: "Evaluate a pull request now and reject it if it adds a workflow",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			installationID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("installation id: %w", err)
			}
			number, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("pull request number: %w", err)
			}
			return withApp(cmd.Context(), func(ctx context.Context, app *App) error {
				return app.orchestrator.RejectPullRequest(ctx, installationID, args[1], number)
			})
		},
	}
}

func newCancelRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel-run <installation-id> <owner/repo> <run-id> [pr-number...]",
		Short: "Cancel a workflow run if one of its pull requests adds its workflow",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			installationID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("installation id: %w", err)
			}
			runID, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil {
				return fmt.Errorf("run id: %w", err)
			}
			var prs []int
			for _, arg := range args[3:] {
				n, err := strconv.Atoi(arg)
				if err != nil {
					return fmt.Errorf("pull request number %q: %w", arg, err)
				}
				prs = append(prs, n)
			}
			return withApp(cmd.Context(), func(ctx context.Context, app *App) error {
				return app.orchestrator.CancelAddedWorkflowRun(ctx, installationID, args[1], runID, prs)
			})
		},
	}
}

// withApp runs fn against a metrics-less App bounded by JOB_TIMEOUT.
func withApp(ctx context.Context, fn func(context.Context, *App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	app, err := NewApp(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, cancel := context.WithTimeout(ctx, cfg.JobTimeout)
	defer cancel()
	return fn(ctx, app)
}
