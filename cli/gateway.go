package cli

import (
	"context"

	"github.com/spf13/cobra"

	"scribe.evalgo.org/common"
	"scribe.evalgo.org/db"
	"scribe.evalgo.org/gateway"
	httpserver "scribe.evalgo.org/http"
	"scribe.evalgo.org/presence"
	"scribe.evalgo.org/pubsub"
	"scribe.evalgo.org/security"
	"scribe.evalgo.org/stream"
	"scribe.evalgo.org/version"
)

func init() {
	RootCmd.AddCommand(gatewayCmd)
	gatewayCmd.Flags().Int("port", 0, "override gateway.port")
}

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "run the collaboration gateway",
	Long: `Runs the websocket edge of the collaboration backend: client
sessions, room membership, Redis fan-out across instances and the
operation batch writer. Reconciliation acknowledgements and document
lifecycle events are consumed from the shared log under per-instance
consumer groups so every gateway sees every record.`,
	Run: runGateway,
}

func runGateway(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		common.Logger.WithError(err).Fatal("configuration error")
	}
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Gateway.Port = port
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	producer, err := stream.NewProducer(stream.ProducerConfig{
		Brokers:  cfg.Kafka.Brokers,
		ClientID: cfg.Kafka.ClientID,
		Retries:  cfg.Kafka.ProduceRetries,
		Backoff:  cfg.Kafka.ProduceBackoff,
	})
	if err != nil {
		common.Logger.WithError(err).Fatal("failed to connect producer")
	}
	defer producer.Close()

	gormDB, err := db.Open(db.Config{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		common.Logger.WithError(err).Fatal("failed to connect to database")
	}

	redisClient, err := pubsub.Connect(ctx, cfg.Redis.URL)
	if err != nil {
		common.Logger.WithError(err).Fatal("failed to connect to redis")
	}
	defer redisClient.Close()

	var access gateway.AccessChecker
	if cfg.Gateway.DocumentServiceURL != "" {
		access = gateway.NewDocumentServiceClient(cfg.Gateway.DocumentServiceURL)
	}
	var presenceClient *presence.Client
	if cfg.Gateway.PresenceURL != "" {
		presenceClient = presence.NewClient(cfg.Gateway.PresenceURL)
	}

	svc := gateway.NewService(
		gateway.ServiceConfig{SendBuffer: cfg.Gateway.SendBuffer},
		security.NewJWTService(cfg.Security.JWTSecret),
		producer,
		db.NewOperationStore(gormDB),
		cfg.Gateway.BatchSize,
		cfg.Gateway.BatchInterval,
		redisClient,
		presenceClient,
		access,
	)
	svc.Start(ctx)

	// Acks and events fan out to every instance, so each gateway joins
	// under its own group and reads from the end.
	updates, err := stream.NewGroupConsumer(stream.ConsumerConfig{
		Brokers:  cfg.Kafka.Brokers,
		Group:    svc.UpdatesGroup(),
		Topics:   []string{stream.TopicUpdates},
		ClientID: cfg.Kafka.ClientID,
	})
	if err != nil {
		common.Logger.WithError(err).Fatal("failed to join updates consumer group")
	}
	events, err := stream.NewGroupConsumer(stream.ConsumerConfig{
		Brokers:  cfg.Kafka.Brokers,
		Group:    svc.EventsGroup(),
		Topics:   []string{stream.TopicEvents},
		ClientID: cfg.Kafka.ClientID,
	})
	if err != nil {
		common.Logger.WithError(err).Fatal("failed to join events consumer group")
	}
	go updates.Run(ctx, svc.HandleRecord)
	go events.Run(ctx, svc.HandleRecord)

	// Zero read/write timeouts: the server carries long-lived websocket
	// connections that timeouts would sever.
	serverCfg := httpserver.ServerConfig{
		Port:            cfg.Gateway.Port,
		Debug:           cfg.Server.Debug,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		AllowedOrigins:  []string{"*"},
	}
	e := httpserver.NewEchoServer(serverCfg)
	e.GET("/ws", svc.HandleWebSocket)
	httpserver.RegisterHealthRoutes(e, "gateway", version.GetVersion(), func() error {
		return redisClient.Ping(ctx).Err()
	})

	go func() {
		if err := httpserver.StartServer(e, serverCfg); err != nil {
			common.Logger.WithError(err).Info("http server stopped")
		}
	}()

	common.Logger.WithField("instance", svc.InstanceID()).Info("gateway started")
	waitForShutdown()

	common.Logger.Info("shutting down gateway")
	updates.Stop()
	events.Stop()
	svc.Shutdown()
	cancel()
	if err := httpserver.GracefulShutdown(e, cfg.Server.ShutdownTimeout); err != nil {
		common.Logger.WithError(err).Error("shutdown error")
	}
}
