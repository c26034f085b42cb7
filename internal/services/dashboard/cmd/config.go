package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Settings is the dashboard configuration, read from agribot.yaml and AGRIBOT_*
// environment variables (AGRIBOT_ROBOT_URL overrides robot.url).
type Settings struct {
	HTTP      HTTPSettings
	Log       LogSettings
	Robot     RobotSettings
	Transport TransportSettings
	Cloud     CloudSettings
	Catalog   CatalogSettings
	DB        DBSettings
	Influx    InfluxSettings
}

type HTTPSettings struct {
	Addr           string
	RequestTimeout time.Duration
	BodyLimit      string
}

type LogSettings struct {
	Level  string // debug, info, warn, error
	Format string // text or json
}

type RobotSettings struct {
	URL string
	// ID identifies the robot to the cloud and is its API bearer token.
	ID              string
	Timeout         time.Duration
	BreakerFailures int
	BreakerOpen     time.Duration
}

type TransportSettings struct {
	Kind string // websocket or mqtt
	// URL is the websocket endpoint, ws://robot:8000/ws by default.
	URL  string
	MQTT MQTTSettings
}

type MQTTSettings struct {
	Broker   string
	User     string
	Password string
	ClientID string
	Prefix   string
}

type CloudSettings struct {
	URL    string
	UserID string
	Email  string
	Token  string
}

type CatalogSettings struct {
	// File, when set, replaces the cloud catalog with a local JSON file.
	File       string
	StaleAfter time.Duration
}

type DBSettings struct {
	Path string
}

type InfluxSettings struct {
	URL         string
	Token       string
	Org         string
	Bucket      string
	Measurement string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.requesttimeout", 15*time.Second)
	v.SetDefault("http.bodylimit", "10M")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("robot.url", "http://agribot.local:8000")
	v.SetDefault("robot.timeout", 5*time.Second)
	v.SetDefault("robot.breakerfailures", 3)
	v.SetDefault("robot.breakeropen", 10*time.Second)
	v.SetDefault("transport.kind", "websocket")
	v.SetDefault("transport.url", "ws://agribot.local:8000/ws")
	v.SetDefault("transport.mqtt.broker", "tcp://agribot.local:1883")
	v.SetDefault("transport.mqtt.user", "")
	v.SetDefault("transport.mqtt.password", "")
	v.SetDefault("transport.mqtt.clientid", "agribot-dashboard")
	v.SetDefault("transport.mqtt.prefix", "agribot")
	v.SetDefault("cloud.url", "")
	v.SetDefault("cloud.userid", "")
	v.SetDefault("cloud.email", "")
	v.SetDefault("cloud.token", "")
	v.SetDefault("catalog.file", "")
	v.SetDefault("catalog.staleafter", 10*time.Minute)
	v.SetDefault("db.path", "agribot.db")
	v.SetDefault("influx.url", "")
	v.SetDefault("influx.token", "")
	v.SetDefault("influx.org", "")
	v.SetDefault("influx.bucket", "")
	v.SetDefault("influx.measurement", "agribot_sensor")
}

// newViper returns a viper instance with defaults and env binding. file, when
// set, is read instead of searching the config paths.
func newViper(file string) *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("AGRIBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if file != "" {
		v.SetConfigFile(file)
		return v
	}
	v.SetConfigName("agribot")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home + "/.agribot")
	}
	v.AddConfigPath("/etc/agribot")
	return v
}

// loadSettings reads the configuration. A missing file is not an error when no
// explicit file was given.
func loadSettings(v *viper.Viper, explicit bool) (*Settings, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	s.Transport.MQTT.Prefix = strings.TrimSuffix(s.Transport.MQTT.Prefix, "/")
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate reports every invalid setting at once.
func (s *Settings) Validate() error {
	var errs []error
	if s.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if _, err := parseLevel(s.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if f := strings.ToLower(s.Log.Format); f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("log.format %q: want text or json", s.Log.Format))
	}
	if err := checkURL("robot.url", s.Robot.URL, "http", "https"); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(s.Transport.Kind) {
	case "websocket":
		if err := checkURL("transport.url", s.Transport.URL, "ws", "wss"); err != nil {
			errs = append(errs, err)
		}
	case "mqtt":
		if err := checkURL("transport.mqtt.broker", s.Transport.MQTT.Broker, "tcp", "ssl", "ws", "wss", "mqtt", "mqtts"); err != nil {
			errs = append(errs, err)
		}
	default:
		errs = append(errs, fmt.Errorf("transport.kind %q: want websocket or mqtt", s.Transport.Kind))
	}
	if s.Cloud.URL != "" {
		if err := checkURL("cloud.url", s.Cloud.URL, "http", "https"); err != nil {
			errs = append(errs, err)
		}
	}
	if s.Catalog.StaleAfter < 0 {
		errs = append(errs, errors.New("catalog.staleafter must not be negative"))
	}
	if s.Influx.URL != "" && (s.Influx.Token == "" || s.Influx.Org == "" || s.Influx.Bucket == "") {
		errs = append(errs, errors.New("influx.token, influx.org and influx.bucket are required with influx.url"))
	}
	return errors.Join(errs...)
}

func checkURL(key, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%s %q is not a valid URL", key, raw)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("%s %q: scheme must be one of %s", key, raw, strings.Join(schemes, ", "))
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level %q: %w", s, err)
	}
	return l, nil
}

func newLogger(w io.Writer, s LogSettings) *slog.Logger {
	level, err := parseLevel(s.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(s.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
