package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/codewatch/codewatch-go/internal/access"
	"github.com/codewatch/codewatch-go/internal/agent"
	"github.com/codewatch/codewatch-go/internal/api"
	"github.com/codewatch/codewatch-go/internal/audit"
	"github.com/codewatch/codewatch-go/internal/events"
	"github.com/codewatch/codewatch-go/internal/github"
	"github.com/codewatch/codewatch-go/internal/gitrepo"
	"github.com/codewatch/codewatch-go/internal/janitor"
	"github.com/codewatch/codewatch-go/internal/llm"
	"github.com/codewatch/codewatch-go/internal/logging"
	"github.com/codewatch/codewatch-go/internal/metrics"
	"github.com/codewatch/codewatch-go/internal/ownership"
	"github.com/codewatch/codewatch-go/internal/planner"
	"github.com/codewatch/codewatch-go/internal/progress"
	"github.com/codewatch/codewatch-go/internal/store"
	"github.com/codewatch/codewatch-go/internal/tokens"
)

var migrateOnStart bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the CodeWatch audit service",
	Long: `Start the HTTP API, the audit runner, and the background janitor.

The service needs PostgreSQL (DATABASE_URL) and listens on the configured
address (default :8080). Pass --migrate to apply the schema on startup.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&migrateOnStart, "migrate", false, "apply the database schema before serving")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := logging.Initialize(logging.DefaultConfig(verbose)); err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}

	if cfg.Database.URL == "" {
		return fmt.Errorf("database URL is not configured (set DATABASE_URL or database.url)")
	}

	st, err := store.NewPostgresStore(cfg.Database.URL, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	if migrateOnStart {
		if err := st.Migrate(ctx); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	if err := st.Ping(ctx); err != nil {
		return fmt.Errorf("database ping: %w", err)
	}

	gh := github.NewClient(cfg.GitHub.Token, cfg.GitHub.RateLimit)
	gateway := llm.NewClient(cfg.LLM.Model, cfg.LLM.MaxOutputTokens)
	checkouts := gitrepo.NewManager(cfg.Repos.RootDir)
	accountant := tokens.NewAccountant(st)
	recorder := metrics.NewRecorder(nil)

	bus := progress.NewBus(st, nil)
	if cfg.Events.NATSURL != "" {
		pub, err := events.Connect(cfg.Events.NATSURL)
		if err != nil {
			logging.Warn("nats unavailable, progress events disabled", "error", err)
		} else {
			defer pub.Close()
			bus = progress.NewBus(st, pub)
		}
	}

	orch := audit.New(audit.Deps{
		Store:   st,
		Repos:   checkouts,
		LLM:     gateway,
		Planner: planner.New(gateway),
		Mapper:  agent.New(gateway, st),
		GitHub:  gh,
		Bus:     bus,
		Tokens:  accountant,
		Metrics: recorder,
	})
	runner := audit.NewRunner(orch, cfg.Audit.Timeout)

	resolver := ownership.NewResolver(gh, st)
	server := api.NewServer(api.Config{
		Store:      st,
		GitHub:     gh,
		Gate:       access.NewGate(resolver),
		Disclosure: access.NewDisclosure(st, gh),
		Ownership:  resolver,
		Runner:     runner,
		Repos:      checkouts,
		Accountant: accountant,
		Counter:    gateway,
		ServiceKey: cfg.LLM.ServiceKey,
		Model:      cfg.LLM.Model,
		Metrics:    recorder,
	})

	jan, err := janitor.New(st, cfg.Audit.Timeout)
	if err != nil {
		return err
	}
	if err := jan.Start(cfg.Audit.JanitorInterval); err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logging.Info("codewatch serving", "addr", cfg.Server.Addr, "version", Version)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logging.Info("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logging.Warn("http shutdown", "error", err)
		}

		if err := jan.Stop(); err != nil {
			logging.Warn("janitor stop", "error", err)
		}

		// Give running audits a chance to finish before the process exits.
		drainCtx, drainCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer drainCancel()
		return runner.Shutdown(drainCtx)
	})
	return g.Wait()
}
