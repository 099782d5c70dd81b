package cmd

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/VictoriaMetrics/metrics"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"frame-server/dispatch"
	"frame-server/logging"
	"frame-server/middleware"
	"frame-server/protocol"
	"frame-server/server"
)

var ServeCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start the frame server",
	Long:    `Start the frame server with the specified configuration. Every flag can also be set via environment variable, prefixed with FRAME_SERVER_ (e.g. FRAME_SERVER_ADDR=:9000); a .env file in the working directory is loaded first.`,
	PreRunE: bindConfig,
	RunE:    runServe,
}

func init() {
	ServeCmd.PersistentFlags().String("addr", "0.0.0.0:7420", "address to listen on")
	ServeCmd.PersistentFlags().Duration("poll-interval", server.DefaultPollInterval, "per-read deadline of a connection worker; bounds shutdown latency")
	ServeCmd.PersistentFlags().Duration("grace-period", server.DefaultGracePeriod, "delay after all workers have joined, for OS socket teardown")
	ServeCmd.PersistentFlags().Duration("write-timeout", server.DefaultWriteTimeout, "deadline for writing one response")
	ServeCmd.PersistentFlags().Int("max-body-bytes", protocol.DefaultMaxBodySize, "largest frame body accepted from a client")
	ServeCmd.PersistentFlags().Float64("rate-limit", 0, "requests per second allowed across all connections (0 = unlimited)")
	ServeCmd.PersistentFlags().Int("rate-burst", 1, "token bucket burst for --rate-limit")
	ServeCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	ServeCmd.PersistentFlags().String("metrics-addr", "", "optional address for the Prometheus /metrics endpoint (empty = disabled)")
}

// bindConfig loads .env, binds flags to viper, and enables the
// FRAME_SERVER_* environment variables.
func bindConfig(cmd *cobra.Command, _ []string) error {
	// A missing .env file is fine.
	godotenv.Load()

	viper.SetEnvPrefix("FRAME_SERVER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	return viper.BindPFlags(cmd.Flags())
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger, err := logging.New(viper.GetString("log-level"))
	if err != nil {
		return err
	}
	defer logger.Sync()

	svr := server.NewServer(server.Config{
		PollInterval: viper.GetDuration("poll-interval"),
		GracePeriod:  viper.GetDuration("grace-period"),
		WriteTimeout: viper.GetDuration("write-timeout"),
		MaxBodySize:  viper.GetInt("max-body-bytes"),
	}, dispatch.Default(), logger)

	svr.Use(middleware.RecoveryMiddleware(logger))
	svr.Use(middleware.LoggingMiddleware(logger))
	if limit := viper.GetFloat64("rate-limit"); limit > 0 {
		svr.Use(middleware.RateLimitMiddleware(limit, viper.GetInt("rate-burst")))
	}

	if metricsAddr := viper.GetString("metrics-addr"); metricsAddr != "" {
		go func() {
			http.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
				metrics.WritePrometheus(w, true)
			})
			logger.Info("metrics endpoint", zap.String("addr", metricsAddr))
			if err := http.ListenAndServe(metricsAddr, nil); err != nil {
				logger.Warn("metrics endpoint failed", zap.Error(err))
			}
		}()
	}

	// Stop on SIGINT/SIGTERM; Serve returns nil once the listener closes.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("signal received", zap.String("signal", sig.String()))
		svr.Stop()
	}()

	addr := viper.GetString("addr")
	if err := svr.Serve("tcp", addr); err != nil {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}

	// Serve returned because of Stop; make sure the drain finished before
	// the process exits (Stop is idempotent).
	svr.Stop()
	return nil
}
