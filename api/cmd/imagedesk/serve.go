package imagedesk

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/imagedesk/imagedesk/api/pkg/auth"
	"github.com/imagedesk/imagedesk/api/pkg/config"
	"github.com/imagedesk/imagedesk/api/pkg/display"
	"github.com/imagedesk/imagedesk/api/pkg/execution"
	"github.com/imagedesk/imagedesk/api/pkg/janitor"
	"github.com/imagedesk/imagedesk/api/pkg/orchestrator"
	"github.com/imagedesk/imagedesk/api/pkg/pubsub"
	"github.com/imagedesk/imagedesk/api/pkg/server"
	"github.com/imagedesk/imagedesk/api/pkg/store"
	"github.com/imagedesk/imagedesk/api/pkg/system"
)

func NewServeConfig() (*config.ServerConfig, error) {
	serverConfig, err := config.LoadServerConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load server config: %v", err)
	}
	return &serverConfig, nil
}

func NewServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the imagedesk api server.",
		Long:  "Start the imagedesk api server.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := NewServeConfig()
			if err != nil {
				return err
			}
			if err := serve(cmd, cfg); err != nil {
				log.Fatal().Err(err).Msg("failed to run server")
			}
			return nil
		},
	}
	return serveCmd
}

func serve(cmd *cobra.Command, cfg *config.ServerConfig) error {
	system.SetupLogging()

	// main goroutine waits until killed with ctrl+c
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer cancel()

	var db store.Store
	var err error
	if cfg.Store.Type == "sqlite" {
		db, err = store.NewSQLiteStore(cfg.Store.SQLitePath, cfg.Store.AutoMigrate)
	} else {
		db, err = store.NewPostgresStore(cfg.Store)
	}
	if err != nil {
		return err
	}
	defer db.Close()

	ps, err := pubsub.NewInMemoryNats()
	if err != nil {
		return err
	}
	defer ps.Close()

	jan := janitor.NewJanitor(janitor.JanitorOptions{
		AppURL:          cfg.WebServer.URL,
		SlackWebhookURL: cfg.Janitor.SlackWebhookURL,
		SentryDSN:       cfg.Janitor.SentryDSN,
		IgnoreUsers:     cfg.Janitor.IgnoreUsers,
	})
	if err := jan.Initialize(); err != nil {
		return err
	}

	execClient := execution.NewAgentClient(cfg.Execution.AgentURL, cfg.Execution.Token, cfg.Execution.RequestTimeout)
	displayGateway := display.NewGuacamoleClient(cfg.Guacamole)

	orch, err := orchestrator.New(orchestrator.Options{
		Config:  cfg,
		Store:   db,
		Exec:    execClient,
		Display: displayGateway,
		PubSub:  ps,
		Janitor: jan,
	})
	if err != nil {
		return err
	}
	if err := orch.Start(ctx); err != nil {
		return err
	}

	sweeper, err := orchestrator.NewSweeper(orch)
	if err != nil {
		return err
	}

	authenticator := auth.NewJWTAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.AdminUserIDs)

	apiServer, err := server.NewServer(server.Options{
		Config:        cfg,
		Store:         db,
		Orchestrator:  orch,
		Sweeper:       sweeper,
		Exec:          execClient,
		PubSub:        ps,
		Authenticator: authenticator,
		Janitor:       jan,
	})
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sweeper.Start(ctx)
	})
	g.Go(func() error {
		return apiServer.ListenAndServe(ctx)
	})

	log.Info().Int("pool_capacity", orch.Pool().Capacity()).Msg("imagedesk server running")
	return g.Wait()
}
