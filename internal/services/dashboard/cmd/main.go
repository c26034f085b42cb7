package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/LeonardoBeccarini/agribot_dashboard/internal/catalog"
	"github.com/LeonardoBeccarini/agribot_dashboard/internal/configstore"
	"github.com/LeonardoBeccarini/agribot_dashboard/internal/frames"
	"github.com/LeonardoBeccarini/agribot_dashboard/internal/live"
	"github.com/LeonardoBeccarini/agribot_dashboard/internal/metrics"
	"github.com/LeonardoBeccarini/agribot_dashboard/internal/robot"
	"github.com/LeonardoBeccarini/agribot_dashboard/internal/services/dashboard/app"
	"github.com/LeonardoBeccarini/agribot_dashboard/internal/telemetry"
	"github.com/LeonardoBeccarini/agribot_dashboard/internal/transport"
	"github.com/LeonardoBeccarini/agribot_dashboard/pkg/broker"
)

const shutdownTimeout = 10 * time.Second

// cli carries the state shared by every command.
type cli struct {
	configFile string
	settings   *Settings
	log        *slog.Logger
}

func main() {
	if err := rootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:          "agribot",
		Short:        "AGRIBOT greenhouse robot dashboard backend",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			s, err := loadSettings(newViper(c.configFile), c.configFile != "")
			if err != nil {
				return err
			}
			c.settings = s
			c.log = newLogger(cmd.ErrOrStderr(), s.Log)
			slog.SetDefault(c.log)
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&c.configFile, "config", "c", "", "config file (default: agribot.yaml in ., $HOME/.agribot, /etc/agribot)")
	root.AddCommand(c.serveCommand(), c.configCommand(), c.simulateCommand())
	return root
}

func (c *cli) serveCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dashboard API and the live robot connection",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("addr") {
				c.settings.HTTP.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, c.settings, c.log)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides http.addr")
	return cmd
}

func serve(ctx context.Context, s *Settings, log *slog.Logger) error {
	m, err := metrics.New(nil)
	if err != nil {
		return err
	}

	tr := newTransport(s, log)
	mirror := live.NewMirror(frames.NewRegistry(), log, live.WithTransport(tr), live.WithObserver(m))
	go mirror.Run(ctx, tr.Events())

	robotClient := robot.NewClient(robot.Config{
		BaseURL:         s.Robot.URL,
		Token:           s.Robot.ID,
		Timeout:         s.Robot.Timeout,
		BreakerFailures: s.Robot.BreakerFailures,
		BreakerOpen:     s.Robot.BreakerOpen,
		Observer:        m,
		Logger:          log,
	})

	cloud := catalog.NewCloud(catalog.CloudConfig{
		BaseURL:  s.Cloud.URL,
		UserID:   s.Cloud.UserID,
		DeviceID: s.Robot.ID,
		Token:    s.Cloud.Token,
		Logger:   log,
	})
	var src catalog.Source = cloud
	if s.Catalog.File != "" {
		src = catalog.FileSource{Path: s.Catalog.File}
	}
	cat := catalog.NewCache(src, s.Catalog.StaleAfter, log)
	if _, err := cat.Refresh(ctx, false); err != nil {
		log.Warn("starting without a catalog", "error", err)
	}
	go refreshCatalog(ctx, cat, s.Catalog.StaleAfter, log)

	repo, err := configstore.OpenSQLite(s.DB.Path)
	if err != nil {
		return err
	}
	defer repo.Close()
	store := configstore.New()
	restored, err := configstore.Restore(ctx, repo, cat.Current(), store)
	if err != nil {
		log.Error("restoring saved configuration failed", "error", err)
	}
	log.Info("configuration ready", "restored", restored)

	if s.Influx.URL != "" {
		rec, closeInflux, err := telemetry.NewInflux(telemetry.Config{
			Influx: telemetry.InfluxConfig{
				URL:         s.Influx.URL,
				Token:       s.Influx.Token,
				Org:         s.Influx.Org,
				Bucket:      s.Influx.Bucket,
				Measurement: s.Influx.Measurement,
			},
			Robot:  s.Robot.ID,
			Logger: log,
		})
		if err != nil {
			return err
		}
		defer closeInflux()
		detach := rec.Attach(mirror)
		defer detach()
		go rec.Run(ctx)
		if err := m.TrackTelemetryDrops(rec.Dropped); err != nil {
			return err
		}
	}

	api, err := app.New(app.Config{
		Store:          store,
		Mirror:         mirror,
		Catalog:        cat,
		Robot:          robotClient,
		Cloud:          cloud,
		Repo:           repo,
		Email:          s.Cloud.Email,
		Metrics:        m.Handler(),
		Observer:       m,
		RequestTimeout: s.HTTP.RequestTimeout,
		BodyLimit:      s.HTTP.BodyLimit,
		Logger:         log,
	})
	if err != nil {
		return err
	}

	go func() {
		if err := mirror.Connect(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("robot not connected", "error", err)
		}
	}()

	errc := make(chan error, 1)
	go func() { errc <- api.Start(s.HTTP.Addr) }()

	select {
	case err := <-errc:
		_ = mirror.Disconnect()
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := api.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", "error", err)
	}
	if err := mirror.Disconnect(); err != nil {
		log.Warn("closing robot connection", "error", err)
	}
	return <-errc
}

func newTransport(s *Settings, log *slog.Logger) transport.Transport {
	if strings.EqualFold(s.Transport.Kind, "mqtt") {
		mq := s.Transport.MQTT
		return transport.NewMQTT(transport.MQTTConfig{
			Broker: broker.Config{
				URL:      mq.Broker,
				User:     mq.User,
				Password: mq.Password,
				ClientID: mq.ClientID,
				Logger:   log,
			},
			Prefix: mq.Prefix,
			Logger: log,
		})
	}
	return transport.NewWebSocket(transport.WebSocketConfig{
		URL:    s.Transport.URL,
		Token:  s.Robot.ID,
		Logger: log,
	})
}

// refreshCatalog refetches the catalog once it goes stale.
func refreshCatalog(ctx context.Context, cat *catalog.Cache, every time.Duration, log *slog.Logger) {
	if every <= 0 {
		every = catalog.DefaultStaleAfter
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := cat.Get(ctx); err != nil {
				log.Warn("catalog refresh", "error", err)
			}
		}
	}
}
