package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vango-go/vai-interview/pkg/gateway/blobstore"
	"github.com/vango-go/vai-interview/pkg/gateway/config"
	"github.com/vango-go/vai-interview/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-interview/pkg/gateway/scoring"
	gatewayserver "github.com/vango-go/vai-interview/pkg/gateway/server"
	"github.com/vango-go/vai-interview/pkg/gateway/store"
	"github.com/vango-go/vai-interview/pkg/gateway/tokens"
	"github.com/vango-go/vai-interview/pkg/metrics"
)

type serveDeps struct {
	loadConfig   func() (config.Config, error)
	openBackends func(ctx context.Context, cfg config.Config, logger *slog.Logger) (gatewayserver.Deps, func(), error)
	listen       func(srv *http.Server) error
}

func defaultServeDeps() serveDeps {
	return serveDeps{
		loadConfig:   config.LoadFromEnv,
		openBackends: openBackends,
		listen:       (*http.Server).ListenAndServe,
	}
}

func newServeCmd(deps serveDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the interview gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), nil))
			return runServe(cmd.Context(), logger, deps)
		},
	}
	return cmd
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}
}

// openBackends connects the store and blob storage and picks the token minter.
func openBackends(ctx context.Context, cfg config.Config, logger *slog.Logger) (gatewayserver.Deps, func(), error) {
	st, err := store.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL, logger)
	if err != nil {
		return gatewayserver.Deps{}, nil, fmt.Errorf("open store: %w", err)
	}
	cleanup := func() { _ = st.Close() }

	var blobs blobstore.Store
	switch cfg.Storage {
	case config.StorageAzure:
		az, err := blobstore.NewAzure(blobstore.AzureConfig{
			AccountURL:  cfg.AzureAccountURL,
			Container:   cfg.AzureContainer,
			AccountName: cfg.AzureAccountName,
			AccountKey:  cfg.AzureAccountKey,
			Logger:      logger,
		})
		if err != nil {
			cleanup()
			return gatewayserver.Deps{}, nil, err
		}
		if err := az.EnsureContainer(ctx); err != nil {
			cleanup()
			return gatewayserver.Deps{}, nil, err
		}
		blobs = az
	default:
		fs, err := blobstore.NewFS(cfg.StorageDir, logger)
		if err != nil {
			cleanup()
			return gatewayserver.Deps{}, nil, err
		}
		blobs = fs
	}

	var minter tokens.Minter
	switch cfg.Minter {
	case config.MinterOpenAI:
		m, err := tokens.NewOpenAI(tokens.OpenAIConfig{
			BaseURL: cfg.OpenAIBaseURL,
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.RealtimeModel,
			Voice:   cfg.RealtimeVoice,
			Logger:  logger,
			Retries: 2,
		})
		if err != nil {
			cleanup()
			return gatewayserver.Deps{}, nil, err
		}
		minter = m
	default:
		if cfg.StaticToken == "" {
			logger.Warn("no static token configured, issuing random development tokens")
		}
		minter = tokens.Static{Token: cfg.StaticToken, TTL: cfg.TokenTTL}
	}

	return gatewayserver.Deps{
		Store:   st,
		Blobs:   blobs,
		Minter:  minter,
		Scorer:  scoring.New(scoring.DefaultThresholds),
		Metrics: metrics.New("interview_gateway"),
		Logger:  logger,
	}, cleanup, nil
}

func runServe(ctx context.Context, logger *slog.Logger, deps serveDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.openBackends == nil {
		return errors.New("missing openBackends dependency")
	}
	if deps.listen == nil {
		return errors.New("missing listen dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	backends, cleanup, err := deps.openBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	lc := &lifecycle.Lifecycle{}
	backends.Lifecycle = lc
	if backends.Logger == nil {
		backends.Logger = logger
	}
	gw := gatewayserver.New(cfg, backends)
	httpSrv := buildHTTPServer(cfg, gw.Handler())

	logger.Info("starting gateway",
		"addr", cfg.Addr,
		"auth_mode", cfg.AuthMode,
		"storage", cfg.Storage,
		"db_driver", cfg.DatabaseDriver,
		"minter", cfg.Minter,
	)

	g, gctx := errgroup.WithContext(ctx)
	serving := make(chan struct{})
	g.Go(func() error {
		defer close(serving)
		if err := deps.listen(httpSrv); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-serving:
			return nil
		}
		logger.Info("shutdown requested, draining")
		lc.SetDraining(true)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		if !lc.Wait(shutdownCtx) {
			logger.Warn("finalize calls still running after grace period")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("gateway stopped")
	return nil
}

