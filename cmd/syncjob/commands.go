package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"partner_sync/internal/app"
	"partner_sync/internal/domain/geiq"
	"partner_sync/internal/eligibility"
	"partner_sync/internal/infra/config"
	idb "partner_sync/internal/infra/database"
	"partner_sync/internal/infra/logger"
	"partner_sync/internal/infra/metrics"
	"partner_sync/internal/infra/partner"
	"partner_sync/internal/infra/scheduler"
)

type flags struct {
	wetRun bool
	delay  time.Duration
}

// deps holds everything a command needs; close releases it.
type deps struct {
	cfg     *config.AppConfig
	log     *logrus.Logger
	db      *sql.DB
	metrics *metrics.Metrics
	client  *partner.Client
	rules   *eligibility.RuleTable
	now     func() time.Time
}

func (d *deps) close() {
	if d.db != nil {
		_ = d.db.Close()
	}
}

func (d *deps) options(wetRun bool) app.Options {
	return app.Options{WetRun: wetRun, Logger: d.log, Metrics: d.metrics, Now: d.now}
}

func (d *deps) referentialSync(wetRun bool) *app.ReferentialSync {
	return app.NewReferentialSync(partner.NewReferentialSource(d.client), idb.NewRegistry(d.db, 0), d.options(wetRun))
}

func (d *deps) geiqSync(wetRun bool) *app.GeiqSync {
	return app.NewGeiqSync(partner.NewGeiqSource(d.client), idb.NewRegistry(d.db, 0), d.rules, d.options(wetRun))
}

func (d *deps) assessment() geiq.Assessment {
	return geiq.Assessment{
		ID:           d.cfg.GeiqAssessmentID,
		CampaignYear: d.cfg.CampaignYearOr(d.now()),
		AntennaIDs:   d.cfg.GeiqAntennaIDs,
	}
}

func newRootCmd() *cobra.Command {
	f := &flags{}
	root := &cobra.Command{
		Use:           "syncjob",
		Short:         "Synchronise partner API data into the local database",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&f.wetRun, "wet-run", false, "write changes (default is a dry run)")
	root.PersistentFlags().DurationVar(&f.delay, "delay", 0, "minimum delay between partner requests (overrides PARTNER_DELAY)")

	root.AddCommand(
		&cobra.Command{
			Use:   "sync-referential",
			Short: "Sync ROME codes and appellations",
			RunE: func(cmd *cobra.Command, _ []string) error {
				d, err := setup(cmd, f)
				if err != nil {
					return err
				}
				defer d.close()
				_, err = d.referentialSync(f.wetRun).Run(cmd.Context())
				return err
			},
		},
		&cobra.Command{
			Use:   "sync-geiq",
			Short: "Sync the GEIQ employees, contracts and pre-qualifications of an assessment",
			RunE: func(cmd *cobra.Command, _ []string) error {
				d, err := setup(cmd, f)
				if err != nil {
					return err
				}
				defer d.close()
				_, err = d.geiqSync(f.wetRun).Run(cmd.Context(), d.assessment())
				return err
			},
		},
		&cobra.Command{
			Use:   "schedule",
			Short: "Run the syncs on CRON_SPEC_SYNC and serve metrics until interrupted",
			RunE: func(cmd *cobra.Command, _ []string) error {
				d, err := setup(cmd, f)
				if err != nil {
					return err
				}
				defer d.close()
				return schedule(cmd.Context(), d, f.wetRun)
			},
		},
	)
	return root
}

func setup(cmd *cobra.Command, f *flags) (*deps, error) {
	ctx := cmd.Context()
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("could not load application configuration: %w", err)
	}
	if cmd.Flags().Changed("delay") {
		cfg.PartnerDelay = f.delay
	}
	log := logger.New(cfg)
	log.WithFields(logrus.Fields{"log_level": cfg.LogLevel, "environment": cfg.Environment, "wet_run": f.wetRun}).
		Info("Configuration loaded")

	rules, err := eligibility.LoadRules(cfg.RulesPath)
	if err != nil {
		return nil, err
	}

	client, err := partner.NewClient(partner.Config{
		BaseURL:     cfg.PartnerBaseURL,
		Token:       cfg.PartnerToken,
		Concurrency: cfg.PartnerConcurrency,
		Delay:       cfg.PartnerDelay,
		Timeout:     cfg.PartnerTimeout,
		Logger:      log,
	})
	if err != nil {
		return nil, err
	}

	db, err := idb.NewPostgresConnection(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}
	log.Info("Database connection established")

	return &deps{cfg: cfg, log: log, db: db, metrics: metrics.New(), client: client, rules: rules, now: time.Now}, nil
}

func schedule(ctx context.Context, d *deps, wetRun bool) error {
	jobs := []scheduler.Job{{
		Name:    app.JobReferential,
		Spec:    d.cfg.CronSpecSync,
		Timeout: time.Hour,
		Run: func(ctx context.Context) error {
			_, err := d.referentialSync(wetRun).Run(ctx)
			return err
		},
	}}
	if d.cfg.GeiqAssessmentID > 0 {
		jobs = append(jobs, scheduler.Job{
			Name:    app.JobGEIQ,
			Spec:    d.cfg.CronSpecSync,
			Timeout: time.Hour,
			Run: func(ctx context.Context) error {
				_, err := d.geiqSync(wetRun).Run(ctx, d.assessment())
				return err
			},
		})
	}

	sched := scheduler.NewSyncScheduler(d.log, time.Local, jobs...)
	if err := sched.Start(); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", d.metrics.Handler())
	srv := &http.Server{Addr: d.cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	serveErr := make(chan error, 1)
	go func() {
		d.log.WithField("addr", d.cfg.MetricsAddr).Info("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	var err error
	select {
	case <-ctx.Done():
		d.log.Info("Shutting down application...")
	case err = <-serveErr:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	sched.Stop()
	d.log.Info("Application shut down gracefully.")
	return err
}
