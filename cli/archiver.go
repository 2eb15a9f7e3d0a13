package cli

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/spf13/cobra"

	"scribe.evalgo.org/archive"
	"scribe.evalgo.org/common"
	httpserver "scribe.evalgo.org/http"
	"scribe.evalgo.org/storage"
	"scribe.evalgo.org/stream"
	"scribe.evalgo.org/version"
)

func init() {
	RootCmd.AddCommand(archiverCmd)
	archiverCmd.Flags().Int("port", 0, "override archiver.port")
}

var archiverCmd = &cobra.Command{
	Use:   "archiver",
	Short: "run the snapshot archiver",
	Long: `Runs the snapshot archiver: reconciled document snapshots are
consumed from the shared log and written to object storage, and a small
HTTP API lists archived versions and issues signed download URLs.`,
	Run: runArchiver,
}

func runArchiver(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		common.Logger.WithError(err).Fatal("configuration error")
	}
	if cfg.S3.Bucket == "" {
		common.Logger.Fatal("s3.bucket is required")
	}
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Archiver.Port = port
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := storage.NewS3Client(ctx, storage.Config{
		Endpoint:     cfg.S3.Endpoint,
		Region:       cfg.S3.Region,
		AccessKey:    cfg.S3.AccessKey,
		SecretKey:    cfg.S3.SecretKey,
		Bucket:       cfg.S3.Bucket,
		UsePathStyle: cfg.S3.UsePathStyle,
	})
	if err != nil {
		common.Logger.WithError(err).Fatal("failed to configure object store")
	}

	store := storage.NewBlobStore(client, s3.NewPresignClient(client), cfg.S3.Bucket)
	if err := store.EnsureBucket(ctx); err != nil {
		common.Logger.WithError(err).Fatal("failed to ensure bucket")
	}

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

	archiver := archive.NewArchiver(store, stream.NewDLQ(producer, instanceName()), cfg.Archiver.Prefix)

	snapshots, err := stream.NewGroupConsumer(stream.ConsumerConfig{
		Brokers:  cfg.Kafka.Brokers,
		Group:    cfg.Archiver.Group,
		Topics:   []string{stream.TopicSnapshots},
		ClientID: cfg.Kafka.ClientID,
	})
	if err != nil {
		common.Logger.WithError(err).Fatal("failed to join snapshots consumer group")
	}
	go snapshots.Run(ctx, archiver.HandleSnapshot)

	serverCfg := httpserver.DefaultServerConfig()
	serverCfg.Port = cfg.Archiver.Port
	serverCfg.Debug = cfg.Server.Debug
	serverCfg.ReadTimeout = cfg.Server.ReadTimeout
	serverCfg.WriteTimeout = cfg.Server.WriteTimeout
	serverCfg.ShutdownTimeout = cfg.Server.ShutdownTimeout

	e := httpserver.NewEchoServer(serverCfg)
	archive.SetupRoutes(e, &archive.Handlers{
		Store:      store,
		Archiver:   archiver,
		PresignTTL: cfg.Archiver.PresignTTL,
	}, echojwt.WithConfig(echojwt.Config{
		SigningKey: []byte(cfg.Security.JWTSecret),
	}))
	httpserver.RegisterHealthRoutes(e, "archiver", version.GetVersion(), nil)

	go func() {
		if err := httpserver.StartServer(e, serverCfg); err != nil {
			common.Logger.WithError(err).Info("http server stopped")
		}
	}()

	common.Logger.WithField("bucket", cfg.S3.Bucket).Info("archiver started")
	waitForShutdown()

	common.Logger.Info("shutting down archiver")
	snapshots.Stop()
	cancel()
	if err := httpserver.GracefulShutdown(e, cfg.Server.ShutdownTimeout); err != nil {
		common.Logger.WithError(err).Error("shutdown error")
	}
}
