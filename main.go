package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"shortsgen/auth"
	"shortsgen/candidate"
	"shortsgen/config"
	"shortsgen/db"
	"shortsgen/ingest"
	"shortsgen/ratelimit"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "shortsgen",
		Short:        "Candidate queue and ingest service for short-form videos",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd(), ingestCmd(), reclaimCmd(), migrateCmd(), hashPasswordCmd())
	return root
}

// setup loads config and builds the logger shared by every command.
func setup() (*config.Config, *zap.SugaredLogger, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}
	logger, err := newLogger(cfg.LogJSON)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("build logger: %w", err)
	}
	return cfg, logger.Sugar(), func() { logger.Sync() }, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with the optional ingest scheduler and reclaimer",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, flush, err := setup()
			if err != nil {
				return err
			}
			defer flush()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := newApp(ctx, cfg, log, true)
			if err != nil {
				return err
			}
			defer app.Close(context.Background())
			return app.serve(ctx)
		},
	}
}

func (a *App) serve(ctx context.Context) error {
	cfg := a.cfg
	rl := ratelimit.New(cfg.RateLimitRPS, cfg.RateLimitBurst)

	var wg sync.WaitGroup
	background := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}
	background(rl.Run)
	background(func(ctx context.Context) {
		a.queue.RunReclaimer(ctx, cfg.ReservationTTL, cfg.ReclaimInterval)
	})
	background(func(ctx context.Context) {
		a.runner.Schedule(ctx, cfg.IngestInterval)
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.router(rl),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		a.log.Infow("Server listening", "port", cfg.Port, "env", cfg.AppEnv, "debug_routes", !cfg.IsProduction())
		errc <- srv.ListenAndServe()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		a.log.Infow("Shutting down")
	case serveErr = <-errc:
		if serveErr == http.ErrServerClosed {
			serveErr = nil
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Warnw("Server shutdown failed", "error", err)
	}
	wg.Wait()
	return serveErr
}

func ingestCmd() *cobra.Command {
	var (
		kind, language string
		sources        []string
		preview        bool
	)
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Run one ingest pass over the source catalog and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, flush, err := setup()
			if err != nil {
				return err
			}
			defer flush()

			ctx := cmd.Context()
			app, err := newApp(ctx, cfg, log, true)
			if err != nil {
				return err
			}
			defer app.Close(context.Background())

			f := ingest.RunFilter{Kind: candidate.Kind(kind), Language: language, Sources: sources}
			var out interface{}
			if preview {
				out, err = app.runner.Preview(ctx, f)
			} else {
				out, err = app.runner.Run(ctx, f)
			}
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "only sources of this kind (joke, news, meme)")
	cmd.Flags().StringVar(&language, "language", "", "only sources in this language")
	cmd.Flags().StringSliceVar(&sources, "source", nil, "only these sources (name or source label)")
	cmd.Flags().BoolVar(&preview, "preview", false, "fetch without inserting")
	return cmd
}

func reclaimCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "reclaim",
		Short: "Return stale reservations to pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, flush, err := setup()
			if err != nil {
				return err
			}
			defer flush()

			app, err := newApp(cmd.Context(), cfg, log, false)
			if err != nil {
				return err
			}
			defer app.Close(context.Background())

			n, err := app.queue.ReclaimStale(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reclaimed %d reservations\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 2*time.Hour, "reservation age considered stale")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending SQL migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, flush, err := setup()
			if err != nil {
				return err
			}
			defer flush()

			dialect, ok := cfg.SQLDialect()
			if !ok {
				return fmt.Errorf("migrate requires a SQL driver, got %q", cfg.DBDriver)
			}
			d, err := db.Open(cmd.Context(), dialect, cfg.DBDSN)
			if err != nil {
				return err
			}
			defer d.Close()
			applied, err := db.Migrate(cmd.Context(), d)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			}
			for _, v := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", v)
			}
			return nil
		},
	}
}

func hashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Print the bcrypt hash to use as OPERATOR_PASSWORD_HASH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := auth.HashPassword(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
