package cli

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/egehanasal/apidouble/internal/chaos"
	"github.com/egehanasal/apidouble/internal/config"
	"github.com/egehanasal/apidouble/internal/engine"
	"github.com/egehanasal/apidouble/internal/httpapi"
	"github.com/egehanasal/apidouble/internal/matcher"
)

func newStartCmd(configPath *string) *cobra.Command {
	var (
		port        int
		mode        string
		target      string
		dbPath      string
		storageType string
		strategy    string
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the proxy server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			// flags override file config
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if mode != "" {
				cfg.Server.Mode = mode
			}
			if target != "" {
				cfg.Target.URL = target
			}
			if dbPath != "" {
				cfg.Storage.Path = dbPath
			}
			if storageType != "" {
				cfg.Storage.Type = storageType
			}
			if strategy != "" {
				cfg.Matching.Strategy = strategy
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			log := newLogger()
			defer log.Sync()

			return serve(cmd, cfg, log)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 3001, "listen port")
	cmd.Flags().StringVarP(&mode, "mode", "m", "", "mode: mock, proxy or intercept")
	cmd.Flags().StringVarP(&target, "target", "t", "", "upstream base URL")
	cmd.Flags().StringVar(&dbPath, "db", "", "storage path")
	cmd.Flags().StringVar(&storageType, "storage", "", "storage type: lowdb, sqlite or redis")
	cmd.Flags().StringVar(&strategy, "strategy", "", "matching strategy: exact, smart or fuzzy")
	return cmd
}

func serve(cmd *cobra.Command, cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStorage(cmd, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("storage close failed", zap.Error(err))
		}
	}()

	strategy, err := matcher.ParseStrategy(cfg.Matching.Strategy)
	if err != nil {
		return err
	}
	m := matcher.New(matcher.NewConfig(strategy, orNil(cfg.Matching.IgnoreHeaders), cfg.Matching.IgnoreQueryParams))

	inj := chaos.New(log)
	if cfg.Chaos.Enabled {
		inj.SetEnabled(true)
		if cfg.Chaos.Latency.Max > 0 || cfg.Chaos.Latency.Min > 0 {
			if err := inj.SetDefaultLatency(&cfg.Chaos.Latency); err != nil {
				return err
			}
		}
		if cfg.Chaos.ErrorRate > 0 {
			if err := inj.SetDefaultError(&chaos.ErrorConfig{
				Rate:    cfg.Chaos.ErrorRate,
				Status:  500,
				Message: "injected by chaos engine",
			}); err != nil {
				return err
			}
		}
	}

	eng, err := engine.New(store, m, inj, nil, nil, engine.Options{
		Mode:            engine.Mode(cfg.Server.Mode),
		Target:          cfg.Target.URL,
		UpstreamTimeout: cfg.UpstreamTimeout(),
	}, log)
	if err != nil {
		return err
	}

	srv := httpapi.NewServer(cfg, eng, log)
	return srv.Run(ctx)
}

// orNil keeps a nil slice nil so the matcher falls back to its defaults.
func orNil(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}
