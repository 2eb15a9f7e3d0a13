// Package cli provides the command-line interface for the collaboration
// backend. One binary carries every service as a subcommand:
//
//	scribe gateway     websocket edge (sessions, rooms, fan-out)
//	scribe reconciler  operational-transform engine
//	scribe presence    presence tracker HTTP API
//	scribe archiver    snapshot archiver and read API
//	scribe bridge      legacy RabbitMQ event bridge
//	scribe token       issue a signed socket token
//	scribe version     print build information
//
// All services share one configuration file; each reads only the
// sections it needs. Environment variables with the SCRIBE_ prefix
// override file values (SCRIBE_GATEWAY_PORT, SCRIBE_KAFKA_BROKERS, ...).
package cli

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"scribe.evalgo.org/common"
	"scribe.evalgo.org/config"
)

// cfgFile holds the path given via --config. Empty means config.yaml is
// searched in ., $HOME/.scribe and /etc/scribe.
var cfgFile string

// RootCmd is the entry point; running it without a subcommand prints
// usage.
var RootCmd = &cobra.Command{
	Use:   "scribe",
	Short: "horizontally scalable real-time collaborative editing backend",
	Long: `Scribe Collaboration Backend

A set of services for real-time collaborative text editing:
- gateway: websocket sessions, room membership and cross-instance fan-out
- reconciler: per-document operational transformation over the shared log
- presence: ephemeral cursor and selection tracking
- archiver: version history snapshots in object storage
- bridge: forwards document events to the legacy RabbitMQ exchange

Configuration is read from a YAML file (--config, or config.yaml in
., $HOME/.scribe, /etc/scribe) and overridden by SCRIBE_* environment
variables.`,
}

func init() {
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is config.yaml in ., $HOME/.scribe, /etc/scribe)")
}

// Execute runs the root command.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the configuration and applies the logging section to
// the global logger before any service code runs.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig("SCRIBE", cfgFile)
	if err != nil {
		return nil, err
	}

	common.ConfigureLogger(common.LoggerConfig{
		Level:      common.LogLevel(cfg.Logging.Level),
		Format:     cfg.Logging.Format,
		TimeFormat: time.RFC3339,
	})
	return cfg, nil
}

// waitForShutdown blocks until SIGINT or SIGTERM.
func waitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
}
