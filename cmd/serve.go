package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/lead-intake/internal/api"
	"github.com/sells-group/lead-intake/internal/approval"
	"github.com/sells-group/lead-intake/internal/config"
	"github.com/sells-group/lead-intake/internal/enrich"
	"github.com/sells-group/lead-intake/internal/lead"
	"github.com/sells-group/lead-intake/internal/notify"
	"github.com/sells-group/lead-intake/internal/phonejob"
	"github.com/sells-group/lead-intake/internal/resilience"
	"github.com/sells-group/lead-intake/internal/webhook"
	"github.com/sells-group/lead-intake/pkg/anthropic"
	"github.com/sells-group/lead-intake/pkg/apollo"
	"github.com/sells-group/lead-intake/pkg/exa"
	"github.com/sells-group/lead-intake/pkg/notion"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the lead intake API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := newServerEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           env.Handler,
			ReadHeaderTimeout: 10 * time.Second,
		}
		return runServer(ctx, srv, env, time.Duration(cfg.Server.ShutdownTimeoutSecs)*time.Second)
	},
}

// serverEnv holds the services behind the API and their lifecycles.
type serverEnv struct {
	Handler   http.Handler
	Jobs      *phonejob.Store
	Approvals *approval.Store
	Leads     *lead.Service
}

// newServerEnv wires every service from cfg and starts the phone job
// sweeper. Features whose credentials are missing are left disabled.
func newServerEnv(ctx context.Context, cfg *config.Config) (*serverEnv, error) {
	log := zap.L()
	env := &serverEnv{}

	env.Jobs = phonejob.NewStore(
		phonejob.WithRetention(cfg.PhoneJobs.PhoneJobRetention()),
		phonejob.WithSweepInterval(cfg.PhoneJobs.SweepInterval()),
	)

	var contacts apollo.Client
	if cfg.Apollo.Key != "" {
		contacts = apollo.NewClient(cfg.Apollo.Key,
			apollo.WithBaseURL(cfg.Apollo.BaseURL),
			apollo.WithRateLimit(cfg.Apollo.RateLimit),
			apollo.WithRetry(resilience.NewRetryConfig(cfg.Apollo.RetryAttempts, cfg.Apollo.RetryBackoffMs, cfg.Apollo.RetryMaxBackoffMs)),
			apollo.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Apollo.TimeoutSecs) * time.Second}),
		)
	} else {
		log.Warn("serve: apollo.key not set, enrichment requests will fail")
	}

	enricher := enrich.NewService(contacts, env.Jobs, enrich.Config{
		PublicBaseURL: cfg.Server.PublicBaseURL,
		BatchSize:     cfg.Enrich.BatchSize,
		BatchDelay:    time.Duration(cfg.Enrich.BatchDelayMs) * time.Millisecond,
		CompanyDelay:  time.Duration(cfg.Enrich.CompanyDelayMs) * time.Millisecond,
		DefaultLimit:  cfg.Enrich.DefaultLimit,
		MaxLimit:      cfg.Enrich.MaxLimit,
	})

	deps := api.Deps{
		Enrich:        enricher,
		Jobs:          env.Jobs,
		Callbacks:     webhook.NewReceiver(env.Jobs),
		SearchResults: cfg.Exa.NumResults,
	}

	var search exa.Client
	if cfg.Exa.Key != "" {
		search = exa.NewClient(cfg.Exa.Key, exa.WithBaseURL(cfg.Exa.BaseURL))
		deps.Search = search
	} else {
		log.Warn("serve: exa.key not set, company search disabled")
	}

	approvals, err := approval.NewSQLite(cfg.Approvals.DSN)
	if err != nil {
		return nil, err
	}
	if err := approvals.Migrate(ctx); err != nil {
		approvals.Close() //nolint:errcheck
		return nil, err
	}
	env.Approvals = approvals
	deps.Approvals = approvals

	if cfg.Notion.Token != "" && cfg.Notion.LeadDB != "" {
		crm := notion.NewClient(cfg.Notion.Token, notion.WithRateLimit(cfg.Notion.RateLimit))
		approvals.OnDecision(approval.NotionRecorder(crm, cfg.Notion.LeadDB))
	} else {
		log.Info("serve: notion not configured, approved leads will not be recorded in the CRM")
	}

	if cfg.Anthropic.Key != "" {
		opts := []lead.Option{lead.WithModel(cfg.Anthropic.Model, cfg.Anthropic.MaxTokens)}
		if search != nil {
			opts = append(opts, lead.WithSearch(search))
		}
		env.Leads = lead.NewService(
			anthropic.NewClient(cfg.Anthropic.Key),
			approvals,
			notify.New(cfg.Slack.WebhookURL, cfg.Server.PublicBaseURL),
			opts...,
		)
		deps.Leads = env.Leads
	} else {
		log.Warn("serve: anthropic.key not set, lead submissions disabled")
	}

	env.Handler = api.NewRouter(deps, api.Options{AllowedOrigins: cfg.Server.AllowedOrigins})
	env.Jobs.Start(ctx)
	return env, nil
}

// Close stops the sweeper, drains in-flight lead processing and closes the
// approval database.
func (e *serverEnv) Close() {
	e.Jobs.Stop()
	if e.Leads != nil {
		e.Leads.Wait()
	}
	if err := e.Approvals.Close(); err != nil {
		zap.L().Warn("serve: close approvals", zap.Error(err))
	}
}

// runServer serves until ctx is cancelled, then shuts down gracefully.
func runServer(ctx context.Context, srv *http.Server, env *serverEnv, shutdownTimeout time.Duration) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		zap.L().Info("serve: listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "serve: listen")
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		zap.L().Info("serve: shutting down", zap.Int("phone_jobs", env.Jobs.Len()))

		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			return eris.Wrap(err, "serve: shutdown")
		}
		return nil
	})

	return g.Wait()
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
