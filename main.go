package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"citypulse/api"
	"citypulse/config"
	"citypulse/metrics"
	"citypulse/services"
	"citypulse/source/agenda"
	"citypulse/source/places"
	"citypulse/storage"
	"citypulse/utils"
)

func main() {
	root := &cobra.Command{
		Use:           "citypulse",
		Short:         "City catalog acquisition and synchronization pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newSyncCmd())

	if err := root.Execute(); err != nil {
		utils.NewLogger().Error("%v", err)
		os.Exit(1)
	}
}

// app bundles the wired collaborators shared by both commands.
type app struct {
	cfg     *config.Config
	catalog *config.Catalog
	store   storage.Catalog
	orch    *services.Orchestrator
	logger  *utils.Logger
	metrics *metrics.Pipeline
	reg     *prometheus.Registry
}

func buildApp(ctx context.Context) (*app, error) {
	logger := utils.NewLogger()
	cfg := config.Load()

	catalog, err := config.LoadCatalog(cfg.CatalogFile)
	if err != nil {
		return nil, err
	}

	store, err := storage.NewPostgres(ctx, cfg.DSN(), logger)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	placesSrc := places.New(cfg, logger)
	agendaSrc := agenda.New(catalog.Agenda, cfg.FetchTimeout, logger)
	norm := services.NewNormalizer(catalog.Agenda)
	orch := services.NewOrchestrator(placesSrc, agendaSrc, store, norm, catalog,
		cfg.MaxPerCategory, logger, m)

	return &app{
		cfg:     cfg,
		catalog: catalog,
		store:   store,
		orch:    orch,
		logger:  logger,
		metrics: m,
		reg:     reg,
	}, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sync cycle loop and the HTTP façade",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer a.store.Close()

			snapshots, err := storage.NewSnapshotWriter(a.cfg.SnapshotDir)
			if err != nil {
				return err
			}
			notifier := services.NewNotifier(a.cfg, a.logger)
			sched := services.NewScheduler(a.orch, a.store, snapshots, notifier,
				a.cfg.SyncInterval, a.logger, a.metrics)

			server := &http.Server{
				Addr:    a.cfg.ListenAddr,
				Handler: api.NewServer(a.store, a.catalog, a.orch, a.logger, a.reg),
			}

			schedDone := make(chan struct{})
			go func() {
				sched.Run(ctx)
				close(schedDone)
			}()

			a.logger.Info("[main] Façade listening on %s", a.cfg.ListenAddr)
			serveErr := make(chan error, 1)
			go func() {
				serveErr <- server.ListenAndServe()
			}()

			select {
			case err := <-serveErr:
				stop()
				<-schedDone
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn("[main] façade shutdown: %v", err)
			}
			<-schedDone

			if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			a.logger.Info("[main] Stopped")
			return nil
		},
	}
}

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run a single acquisition pass and print its summary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer a.store.Close()

			report := a.orch.RunOnce(ctx)

			placeCount, err := a.store.CountPlaces(ctx)
			if err != nil {
				return err
			}
			eventCount, err := a.store.CountEvents(ctx)
			if err != nil {
				return err
			}
			total := placeCount + eventCount

			if err := a.store.AppendAudit(ctx, total); err != nil {
				a.logger.Error("[main] audit write failed: %v", err)
			}

			services.PrintSummary(report, total)
			return nil
		},
	}
}
