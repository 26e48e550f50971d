package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/manthysbr/runagent/internal/adapters/memory"
	"github.com/manthysbr/runagent/internal/adapters/process"
	"github.com/manthysbr/runagent/internal/config"
	"github.com/manthysbr/runagent/internal/core/services"
	"github.com/manthysbr/runagent/internal/logging"
	"github.com/manthysbr/runagent/pkg/agent"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(os.Stdout).ExecuteContext(ctx); err != nil {
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error("runagent failed", "error", err)
		stop()
		os.Exit(1)
	}
}

func newRootCommand(out io.Writer) *cobra.Command {
	v := config.NewViper()
	var configFile string

	cmd := &cobra.Command{
		Use:           "runagent",
		Short:         "Remote execution agent: runs commands and syncs files in workdirs over HTTP",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v, configFile)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, out)
		},
	}

	flags := cmd.Flags()
	flags.IntP("port", "p", 0, "port to listen on")
	flags.String("host", "127.0.0.1", "interface to bind, keep it on a trusted network")
	flags.String("socket", "", "Unix socket path, overrides host and port")
	flags.StringVar(&configFile, "config", "", "config file (yaml, toml or json)")

	mustBind(v, "listen.port", cmd, "port")
	mustBind(v, "listen.host", cmd, "host")
	mustBind(v, "listen.socket", cmd, "socket")
	return cmd
}

func mustBind(v *viper.Viper, key string, cmd *cobra.Command, flag string) {
	if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", flag, err))
	}
}

func run(ctx context.Context, cfg *config.Config, out io.Writer) error {
	logger, logCloser, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	}, out)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	logger.Info("starting runagent", "addr", cfg.Addr())

	execMode, err := cfg.ExecutableMode()
	if err != nil {
		return err
	}

	// Adapters
	registry := memory.NewRegistry()
	runner := process.NewRunner(logger)

	// Services
	hub := services.NewNotificationHub(logger)
	pool := services.NewExecutionPool(logger, services.PoolConfig{MaxConcurrent: cfg.Jobs.MaxConcurrent})
	jobs := services.NewJobRunner(logger, registry, runner, hub, pool)
	files := services.NewFileSyncService(logger, services.SyncConfig{
		ExecutableMode:  execMode,
		HashConcurrency: cfg.Sync.HashConcurrency,
	})

	server, err := agent.NewServer(logger, agent.Config{
		Addr:             net.JoinHostPort(cfg.Listen.Host, strconv.Itoa(cfg.Listen.Port)),
		SocketPath:       cfg.Listen.Socket,
		MaxBodyBytes:     cfg.Limits.MaxBodyBytes,
		ValidateRequests: cfg.API.ValidateRequests,
		CORSOrigins:      cfg.API.CORSOrigins,
	}, jobs, files)
	if err != nil {
		return fmt.Errorf("failed to build api server: %w", err)
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(server.Start)

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down")

		// Release blocked waiters first, Shutdown waits for their responses.
		pool.Close()
		hub.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("api server shutdown: %w", err)
		}
		if err := pool.Wait(shutdownCtx); err != nil {
			logger.Warn("jobs still running at exit", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("runagent stopped")
	return nil
}
