package cli

import (
	"context"

	"github.com/spf13/cobra"

	"scribe.evalgo.org/bridge"
	"scribe.evalgo.org/common"
	"scribe.evalgo.org/queue"
	"scribe.evalgo.org/stream"
)

func init() {
	RootCmd.AddCommand(bridgeCmd)
}

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "run the legacy event bridge",
	Long: `Runs the legacy event bridge: document lifecycle events are
consumed from the shared log and re-published onto the RabbitMQ topic
exchange for consumers that have not moved to the log.`,
	Run: runBridge,
}

func runBridge(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		common.Logger.WithError(err).Fatal("configuration error")
	}
	if cfg.AMQP.URL == "" {
		common.Logger.Fatal("amqp.url is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rabbit, err := queue.NewRabbitMQService(queue.Config{
		URL:      cfg.AMQP.URL,
		Exchange: cfg.AMQP.Exchange,
	})
	if err != nil {
		common.Logger.WithError(err).Fatal("failed to connect to RabbitMQ")
	}
	defer rabbit.Close()

	b := bridge.New(rabbit, cfg.Bridge.RoutingPrefix)

	events, err := stream.NewGroupConsumer(stream.ConsumerConfig{
		Brokers:   cfg.Kafka.Brokers,
		Group:     cfg.Bridge.Group,
		Topics:    []string{stream.TopicEvents},
		ClientID:  cfg.Kafka.ClientID,
		FromStart: true,
	})
	if err != nil {
		common.Logger.WithError(err).Fatal("failed to join events consumer group")
	}
	go events.Run(ctx, b.HandleEvent)

	common.Logger.WithField("exchange", cfg.AMQP.Exchange).Info("bridge started")
	waitForShutdown()

	common.Logger.Info("shutting down bridge")
	events.Stop()
	cancel()
}
