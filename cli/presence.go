package cli

import (
	"context"

	"github.com/spf13/cobra"

	"scribe.evalgo.org/common"
	httpserver "scribe.evalgo.org/http"
	"scribe.evalgo.org/presence"
	"scribe.evalgo.org/pubsub"
	"scribe.evalgo.org/version"
)

func init() {
	RootCmd.AddCommand(presenceCmd)
	presenceCmd.Flags().Int("port", 0, "override presence.port")
}

var presenceCmd = &cobra.Command{
	Use:   "presence",
	Short: "run the presence tracker",
	Long: `Runs the presence tracker HTTP API. Cursor positions and
selections live in Redis under short TTLs; records that stop being
refreshed simply disappear.`,
	Run: runPresence,
}

func runPresence(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		common.Logger.WithError(err).Fatal("configuration error")
	}
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Presence.Port = port
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisClient, err := pubsub.Connect(ctx, cfg.Redis.URL)
	if err != nil {
		common.Logger.WithError(err).Fatal("failed to connect to redis")
	}
	defer redisClient.Close()

	store := presence.NewStore(redisClient, presence.StoreConfig{
		RecordTTL: cfg.Presence.RecordTTL,
		IndexTTL:  cfg.Presence.IndexTTL,
	})

	serverCfg := httpserver.DefaultServerConfig()
	serverCfg.Port = cfg.Presence.Port
	serverCfg.Debug = cfg.Server.Debug
	serverCfg.ReadTimeout = cfg.Server.ReadTimeout
	serverCfg.WriteTimeout = cfg.Server.WriteTimeout
	serverCfg.ShutdownTimeout = cfg.Server.ShutdownTimeout

	e := httpserver.NewEchoServer(serverCfg)
	presence.SetupRoutes(e, &presence.Handlers{Store: store})
	httpserver.RegisterHealthRoutes(e, "presence", version.GetVersion(), func() error {
		return redisClient.Ping(ctx).Err()
	})

	go func() {
		if err := httpserver.StartServer(e, serverCfg); err != nil {
			common.Logger.WithError(err).Info("http server stopped")
		}
	}()

	common.Logger.WithField("port", cfg.Presence.Port).Info("presence tracker started")
	waitForShutdown()

	common.Logger.Info("shutting down presence tracker")
	if err := httpserver.GracefulShutdown(e, cfg.Server.ShutdownTimeout); err != nil {
		common.Logger.WithError(err).Error("shutdown error")
	}
}
