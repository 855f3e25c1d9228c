package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/maltedev/trustpilot-scraper/internal/database"
	"github.com/maltedev/trustpilot-scraper/internal/events"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

func NewEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Tail company events from the Redis stream",
		Long: `Events joins a consumer group on the company stream and prints one line
per COMPANY_EXTRACTED event relayed by "serve". Messages are acknowledged
after they are printed.`,
		Args: cobra.NoArgs,
		RunE: runEventsCmd,
	}

	cmd.Flags().String("stream", database.DefaultStream, "Redis stream to read")
	cmd.Flags().String("group", "trustpilot-scraper-tail", "Consumer group name")
	cmd.Flags().String("consumer", defaultConsumerName(), "Consumer name within the group")
	cmd.Flags().StringP("country", "c", "", "Only print companies from this country code")

	return cmd
}

func runEventsCmd(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}

	stream, _ := cmd.Flags().GetString("stream")
	group, _ := cmd.Flags().GetString("group")
	consumerName, _ := cmd.Flags().GetString("consumer")
	country, _ := cmd.Flags().GetString("country")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	consumer := events.NewConsumer(redisClient, events.ConsumerConfig{
		Stream:   stream,
		Group:    group,
		Consumer: consumerName,
		Country:  country,
	}, logger)

	out := cmd.OutOrStdout()
	err = consumer.Run(ctx, func(_ context.Context, event *events.CompanyEvent) error {
		printEvent(out, event)
		return nil
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func printEvent(w io.Writer, event *events.CompanyEvent) {
	company := event.Payload.Company
	state := "updated"
	if event.Payload.IsNew {
		state = "new"
	}
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
		event.Timestamp, company.Country, state, company.CompanyName, company.TrustpilotURL)
}

func defaultConsumerName() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "consumer-1"
}
