// Command rpcmgmtd hosts the JSON-RPC management core as a standalone
// process: it reads configuration via viper, assembles the registry,
// dispatcher, engine and transport, and runs the server until interrupted.
// file: cmd/rpcmgmtd/main.go
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/trafficctl/rpcmgmt/internal/config"
	"github.com/trafficctl/rpcmgmt/internal/logging"
	"github.com/trafficctl/rpcmgmt/internal/rpc/dispatch"
	"github.com/trafficctl/rpcmgmt/internal/rpc/engine"
	"github.com/trafficctl/rpcmgmt/internal/rpc/registry"
	"github.com/trafficctl/rpcmgmt/internal/rpc/server"
	"github.com/trafficctl/rpcmgmt/internal/rpc/transport"
)

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "rpcmgmtd",
	Short: "In-process JSON-RPC 2.0 management core, exposed over a Unix domain socket",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the management socket and block until interrupted",
	RunE:  runServe,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: none, flags/env/defaults apply)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")

	serveCmd.Flags().String("sock-path", config.DefaultSockPath, "management socket path")
	serveCmd.Flags().String("lock-path", config.DefaultLockPath, "lock file path")
	serveCmd.Flags().Int("backlog", config.DefaultBacklog, "listen backlog")
	serveCmd.Flags().Int("max-retries", config.DefaultMaxRetries, "max retries on transient transport errors")
	serveCmd.Flags().Bool("restricted", true, "restrict the socket to the server's own uid")
	serveCmd.Flags().Int("max-request-size", config.DefaultMaxRequestSize, "maximum accepted request size in bytes")

	_ = viper.BindPFlag("rpc.comm_config.sock_path_name", serveCmd.Flags().Lookup("sock-path"))
	_ = viper.BindPFlag("rpc.comm_config.lock_path_name", serveCmd.Flags().Lookup("lock-path"))
	_ = viper.BindPFlag("rpc.comm_config.backlog", serveCmd.Flags().Lookup("backlog"))
	_ = viper.BindPFlag("rpc.comm_config.max_retry_on_transient_errors", serveCmd.Flags().Lookup("max-retries"))
	_ = viper.BindPFlag("rpc.comm_config.restricted_api", serveCmd.Flags().Lookup("restricted"))
	_ = viper.BindPFlag("rpc.comm_config.incoming_request_max_size", serveCmd.Flags().Lookup("max-request-size"))

	rootCmd.AddCommand(serveCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
	viper.SetEnvPrefix("RPCMGMTD")
	viper.AutomaticEnv()

	if cfgFile != "" {
		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not read config file %s: %v\n", cfgFile, err)
		}
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := newLogger(logLevel)

	for _, key := range config.Unrecognized(viper.GetViper()) {
		logger.Warn("ignoring unrecognised configuration key", "key", key)
	}

	opts := config.Load(viper.GetViper())
	if !opts.Enabled {
		logger.Info("rpc.enabled is false, exiting without starting the server")
		return nil
	}
	if opts.CommType != config.CommUnixSocket {
		return fmt.Errorf("unsupported rpc.comm_type %d: only %d (unix socket) is implemented", opts.CommType, config.CommUnixSocket)
	}

	reg := registry.New(logger)
	disp := dispatch.New(reg)
	eng := engine.New(disp)
	tr := transport.New(opts.CommConfig, eng, logger)

	srv, err := server.New(tr, logger, nil, nil)
	if err != nil {
		return fmt.Errorf("failed to build server: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting rpc management server", "sock_path", opts.CommConfig.SockPathName)
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	<-ctx.Done()
	logger.Info("shutting down rpc management server")
	return srv.Stop(context.Background())
}

func newLogger(level string) logging.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return logging.NewSlogLogger(handler)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
