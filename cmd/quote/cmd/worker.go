package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"quote-engine/internal/dispatch"
	"quote-engine/pkg/rabbitmq"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Serve offloaded calculations from RabbitMQ",
	Long: `Consume calculation requests from AMQP_QUEUE and reply on each request's
reply queue. Requests priced under another rate table version are answered
with the worker's version so the caller can fall back.`,
	Args: cobra.NoArgs,
	RunE: runWorker,
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	b, err := openBackends(ctx)
	if err != nil {
		return err
	}
	defer b.close()

	table, _, err := b.pricingSetup(ctx)
	if err != nil {
		return err
	}

	client, err := rabbitmq.NewClient(cfg.AMQP.URL)
	if err != nil {
		return err
	}
	defer client.Close()

	worker := dispatch.NewWorker(client, cfg.AMQP.Queue, dispatch.NewHandler(table).Serve, log)
	if err := worker.Run(ctx); err != nil {
		log.Error("Worker stopped with error", zap.Error(err))
		return err
	}
	return nil
}
