package cli

import (
	"context"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"scribe.evalgo.org/common"
	"scribe.evalgo.org/db"
	"scribe.evalgo.org/reconcile"
	"scribe.evalgo.org/stream"
)

func init() {
	RootCmd.AddCommand(reconcilerCmd)
}

var reconcilerCmd = &cobra.Command{
	Use:   "reconciler",
	Short: "run the reconciliation engine",
	Long: `Runs the operational-transformation engine. Raw client edits are
consumed from the shared log in a shared consumer group, transformed
against concurrent history, applied to the canonical document and
acknowledged on the updates topic. Document lifecycle events are
consumed under a per-instance group to invalidate cached buffers on
every instance.`,
	Run: runReconciler,
}

// instanceName tags DLQ entries and per-instance consumer groups.
func instanceName() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return uuid.NewString()
}

func runReconciler(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		common.Logger.WithError(err).Fatal("configuration error")
	}
	if cfg.Database.DSN == "" {
		common.Logger.Fatal("database.dsn is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	primary, err := db.Open(db.Config{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		common.Logger.WithError(err).Fatal("failed to connect to database")
	}
	replica, err := db.OpenReplica(db.Config{
		ReplicaDSN:      cfg.Database.ReplicaDSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, primary)
	if err != nil {
		common.Logger.WithError(err).Fatal("failed to connect to read replica")
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

	instance := instanceName()
	engine := reconcile.NewEngine(reconcile.Config{
		Workers:       cfg.Reconciler.Workers,
		HistoryLimit:  cfg.Reconciler.HistoryLimit,
		FlushInterval: cfg.Reconciler.FlushInterval,
		EvictInterval: cfg.Reconciler.EvictInterval,
		IdleTTL:       cfg.Reconciler.IdleTTL,
	}, db.NewDocumentStore(primary, replica), producer, stream.NewDLQ(producer, instance))
	engine.Start(ctx)

	// Edits are partitioned by document id across the shared group;
	// FromStart so a fresh group replays unprocessed history.
	changes, err := stream.NewGroupConsumer(stream.ConsumerConfig{
		Brokers:   cfg.Kafka.Brokers,
		Group:     cfg.Reconciler.Group,
		Topics:    []string{stream.TopicChanges},
		ClientID:  cfg.Kafka.ClientID,
		FromStart: true,
	})
	if err != nil {
		common.Logger.WithError(err).Fatal("failed to join changes consumer group")
	}
	// Lifecycle events must invalidate buffers on every instance.
	events, err := stream.NewGroupConsumer(stream.ConsumerConfig{
		Brokers:  cfg.Kafka.Brokers,
		Group:    cfg.Reconciler.Group + "-events-" + instance,
		Topics:   []string{stream.TopicEvents},
		ClientID: cfg.Kafka.ClientID,
	})
	if err != nil {
		common.Logger.WithError(err).Fatal("failed to join events consumer group")
	}
	go changes.Run(ctx, engine.HandleChange)
	go events.Run(ctx, engine.HandleEvent)

	common.Logger.WithField("workers", cfg.Reconciler.Workers).Info("reconciler started")
	waitForShutdown()

	common.Logger.Info("shutting down reconciler")
	changes.Stop()
	events.Stop()
	engine.Stop()
	cancel()
}
