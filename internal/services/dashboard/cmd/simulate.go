package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/LeonardoBeccarini/agribot_dashboard/internal/simulator"
	"github.com/LeonardoBeccarini/agribot_dashboard/pkg/broker"
)

func (c *cli) brokerConfig(clientID string) *broker.Config {
	mq := c.settings.Transport.MQTT
	return &broker.Config{
		URL:      mq.Broker,
		User:     mq.User,
		Password: mq.Password,
		ClientID: clientID,
		Logger:   c.log,
	}
}

func (c *cli) simulateCommand() *cobra.Command {
	var (
		interval time.Duration
		probes   int
		halfLife time.Duration
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a simulated robot on the MQTT broker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client, err := broker.Connect(ctx, c.brokerConfig("agribot-simulator"), nil)
			if err != nil {
				return err
			}
			defer broker.Close(client)

			prefix := c.settings.Transport.MQTT.Prefix
			consumer := broker.NewMultiConsumer(client, []string{prefix + "/" + simulator.RunSuffix},
				func(string) byte { return 1 }, nil, c.log)
			gen := simulator.NewGenerator(probes, halfLife, time.Now().UnixNano())
			sim := simulator.New(consumer, broker.NewPublisher(client, nil), gen, prefix, c.log)
			c.log.Info("simulated robot started", "prefix", prefix, "interval", interval)
			return sim.Start(ctx, interval)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "sensor publish interval")
	cmd.Flags().IntVar(&probes, "probes", 4, "number of water probes")
	cmd.Flags().DurationVar(&halfLife, "dry-half-life", 2*time.Hour, "half-life of probe wetness while not spraying")

	var runFor time.Duration
	run := &cobra.Command{
		Use:   "run <stopped|running|paused>",
		Short: "Change the state of a running simulated robot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := simulator.ParseState(args[0])
			if err != nil {
				return err
			}
			payload := simulator.RunCommand{State: state}
			if runFor > 0 {
				payload.Duration = runFor.String()
			}
			b, err := json.Marshal(payload)
			if err != nil {
				return err
			}
			client, err := broker.Connect(cmd.Context(), c.brokerConfig("agribot-simulator-ctl"), nil)
			if err != nil {
				return err
			}
			defer broker.Close(client)
			topic := c.settings.Transport.MQTT.Prefix + "/" + simulator.RunSuffix
			return broker.NewPublisher(client, func(string) byte { return 1 }).Publish(topic, b)
		},
	}
	run.Flags().DurationVar(&runFor, "for", 0, "revert to the previous state after this long")
	cmd.AddCommand(run)
	return cmd
}
