// Package app is the dashboard HTTP API over the configuration store and the
// live robot mirror.
package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/LeonardoBeccarini/agribot_dashboard/internal/catalog"
	"github.com/LeonardoBeccarini/agribot_dashboard/internal/configstore"
	"github.com/LeonardoBeccarini/agribot_dashboard/internal/live"
	"github.com/LeonardoBeccarini/agribot_dashboard/internal/model"
	"github.com/LeonardoBeccarini/agribot_dashboard/internal/model/messages"
)

// RobotAPI is the robot REST surface used by the handlers.
type RobotAPI interface {
	Ping(ctx context.Context) (model.PingStatus, error)
	UpdateConfig(ctx context.Context, cfg any) error
	StartScan(ctx context.Context) error
	StopScan(ctx context.Context) error
	RemoveResult(ctx context.Context, key, sid string) error
	WifiScan(ctx context.Context) (messages.WifiScan, error)
	WifiConnect(ctx context.Context, ssid, password string) error
	WifiSetPriority(ctx context.Context, ssid string, priority int) error
}

// CloudStore keeps the saved configuration of an account.
type CloudStore interface {
	UpdateConfig(ctx context.Context, email string, cfg any) error
}

// Catalog provides the plant registry and model lists.
type Catalog interface {
	Current() *catalog.Catalog
	Refresh(ctx context.Context, force bool) (*catalog.Catalog, error)
}

// Observer receives artifact and save outcomes.
type Observer interface {
	ArtifactEncoded(err error)
	ArtifactDecoded(found bool, err error)
	ConfigSaved(err error)
}

type nopObserver struct{}

func (nopObserver) ArtifactEncoded(error)       {}
func (nopObserver) ArtifactDecoded(bool, error) {}
func (nopObserver) ConfigSaved(error)           {}

// Config wires the dashboard dependencies. Store, Mirror and Catalog are required.
type Config struct {
	Store   *configstore.Store
	Mirror  *live.Mirror
	Catalog Catalog
	Robot   RobotAPI
	Cloud   CloudStore
	// Repo persists saved configurations. Optional.
	Repo configstore.Repository
	// Email is the cloud account the configuration is saved under.
	Email string

	Metrics        http.Handler
	Observer       Observer
	RequestTimeout time.Duration
	BodyLimit      string
	Logger         *slog.Logger
	Now            func() time.Time
}

// App serves the dashboard API.
type App struct {
	cfg  Config
	log  *slog.Logger
	obs  Observer
	now  func() time.Time
	echo *echo.Echo

	// writes is held shared by configuration writes and exclusively by Save.
	writes sync.RWMutex
	saving atomic.Bool
}

// New builds the API and its routes.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil || cfg.Mirror == nil || cfg.Catalog == nil {
		return nil, errors.New("app: store, mirror and catalog are required")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	if cfg.BodyLimit == "" {
		cfg.BodyLimit = "10M"
	}
	a := &App{cfg: cfg, obs: cfg.Observer, now: cfg.Now, log: cfg.Logger}
	if a.log == nil {
		a.log = slog.Default()
	}
	a.log = a.log.With("component", "dashboard")
	if a.obs == nil {
		a.obs = nopObserver{}
	}
	if a.now == nil {
		a.now = time.Now
	}
	a.echo = a.routes()
	return a, nil
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler { return a.echo }

func (a *App) routes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(a.cfg.BodyLimit))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency}
			if v.Error != nil {
				a.log.Warn("request failed", append(attrs, "error", v.Error)...)
				return nil
			}
			a.log.Debug("request", attrs...)
			return nil
		},
	}))

	e.GET("/healthz", a.handleHealthz)
	e.GET("/readyz", a.handleReadyz)
	if a.cfg.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(a.cfg.Metrics))
	}

	api := e.Group("/api")
	api.GET("/config", a.handleGetConfig)
	api.PUT("/config", a.handlePutConfig)
	api.POST("/config/save", a.handleSaveConfig)
	api.POST("/config/revert", a.handleRevertConfig)
	api.GET("/config/download", a.handleDownloadConfig)
	api.POST("/config/artifact", a.handleArtifact)
	api.POST("/config/upload", a.handleUpload)

	api.GET("/plants", a.handleListPlants)
	api.POST("/plants/:index/disable", a.handleDisablePlant)
	api.DELETE("/plants/:key", a.handleRemovePlant)

	api.GET("/catalog", a.handleCatalog)
	api.POST("/catalog/refresh", a.handleCatalogRefresh)

	api.GET("/live", a.handleLive)
	api.GET("/live/events", a.handleLiveEvents)
	api.POST("/live/connect", a.handleConnect)
	api.POST("/live/disconnect", a.handleDisconnect)
	api.GET("/frames/:id", a.handleFrame)

	api.POST("/robot/scan", a.handleScan)
	api.GET("/robot/ping", a.handlePing)
	api.GET("/wifi/scan", a.handleWifiScan)
	api.POST("/wifi/connect", a.handleWifiConnect)
	api.POST("/wifi/priority", a.handleWifiPriority)
	return e
}

// Start serves on addr until Shutdown.
func (a *App) Start(addr string) error {
	a.log.Info("dashboard listening", "addr", addr)
	if err := a.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (a *App) Shutdown(ctx context.Context) error { return a.echo.Shutdown(ctx) }

func (a *App) requestContext(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), a.cfg.RequestTimeout)
}
