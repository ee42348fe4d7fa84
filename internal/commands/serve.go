package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"liveclass/internal/app"
	"liveclass/internal/config"
	"liveclass/pkg/logger"
)

type serveOptions struct {
	configPath string
	host       string
	port       int
	dev        bool
}

func newServeCommand() *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay",
		Long: `Run the relay until SIGINT or SIGTERM.

Configuration is read from, lowest precedence first: built-in defaults, a .env
file in the working directory, LIVECLASS_* environment variables, the YAML file
given with --config and finally the flags below.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")
	cmd.Flags().StringVar(&opts.host, "host", "", "listen host (overrides config)")
	cmd.Flags().IntVarP(&opts.port, "port", "p", 0, "listen port (overrides config)")
	cmd.Flags().BoolVar(&opts.dev, "dev", false, "development mode: console logging and gin debug output")
	return cmd
}

func (o *serveOptions) load(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfigWithPrecedence(o.configPath)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("host") {
		cfg.HTTP.Host = o.host
	}
	if cmd.Flags().Changed("port") {
		cfg.HTTP.Port = o.port
	}
	if o.dev {
		cfg.Mode = config.ModeDevelopment
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := logger.Init(cfg.Log, cfg.Mode); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	application, err := app.NewApplication(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	logger.Info("received shutdown signal", zap.String("addr", application.GetAddr()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	return application.Stop(shutdownCtx)
}
