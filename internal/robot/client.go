// Package robot is the REST client of the robot's local API.
package robot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/LeonardoBeccarini/agribot_dashboard/internal/model/messages"
)

// Endpoint paths relative to the robot base URL.
const (
	PathPing            = "ping"
	PathUpdateConfig    = "update-config"
	PathStartScan       = "start_scan"
	PathStopScan        = "stop_scan"
	PathRemoveResult    = "remove_result"
	PathWifiScan        = "wifi/scan"
	PathWifiConnect     = "wifi/connect"
	PathWifiSetPriority = "wifi/set-priority"
)

// ErrUnavailable is returned while the circuit breaker is open.
var ErrUnavailable = errors.New("robot: unavailable")

// APIError is a non-2xx answer from the robot.
type APIError struct {
	Endpoint string
	Status   int
	Message  string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("robot %s: status %d", e.Endpoint, e.Status)
	}
	return fmt.Sprintf("robot %s: status %d: %s", e.Endpoint, e.Status, e.Message)
}

// Observer receives the outcome of every call.
type Observer interface {
	RobotCall(endpoint string, err error)
}

// Config configures a Client.
type Config struct {
	BaseURL string
	// Token is the robot id, sent as a bearer token.
	Token   string
	Timeout time.Duration

	// BreakerFailures consecutive failures open the breaker for BreakerOpen.
	BreakerFailures int
	BreakerOpen     time.Duration
	BreakerInterval time.Duration

	HTTPClient *http.Client
	Observer   Observer
	Logger     *slog.Logger
}

// Client calls the robot API through a circuit breaker.
type Client struct {
	base  string
	token string
	http  *http.Client
	cb    *gobreaker.CircuitBreaker
	obs   Observer
	log   *slog.Logger
}

// NewClient returns a client for cfg.BaseURL.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.BreakerFailures <= 0 {
		cfg.BreakerFailures = 3
	}
	if cfg.BreakerOpen <= 0 {
		cfg.BreakerOpen = 10 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "robot")

	fails := uint32(cfg.BreakerFailures)
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "robot",
		Interval: cfg.BreakerInterval,
		Timeout:  cfg.BreakerOpen,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= fails
		},
		// a 4xx answer means the robot is up
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			return err == nil || (errors.As(err, &apiErr) && apiErr.Status < 500)
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			log.Warn("breaker state changed", "from", from.String(), "to", to.String())
		},
	})

	return &Client{
		base:  strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		token: cfg.Token,
		http:  hc,
		cb:    cb,
		obs:   cfg.Observer,
		log:   log,
	}
}

// BreakerState returns the breaker state name.
func (c *Client) BreakerState() string { return c.cb.State().String() }

// Ping asks the robot for its status. A robot that answers with any status other
// than "ok" is reported with OK() false and no error.
func (c *Client) Ping(ctx context.Context) (messages.PingStatus, error) {
	var out messages.PingStatus
	err := c.do(ctx, http.MethodGet, PathPing, nil, &out)
	return out, err
}

// UpdateConfig pushes a configuration to the robot.
func (c *Client) UpdateConfig(ctx context.Context, cfg any) error {
	return c.do(ctx, http.MethodPost, PathUpdateConfig, messages.ConfigPush{Config: cfg}, nil)
}

// StartScan starts a scan run.
func (c *Client) StartScan(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, PathStartScan, struct{}{}, nil)
}

// StopScan stops the running scan.
func (c *Client) StopScan(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, PathStopScan, struct{}{}, nil)
}

// RemoveResult deletes the stored scan result of a plant.
func (c *Client) RemoveResult(ctx context.Context, key, sid string) error {
	return c.do(ctx, http.MethodPost, PathRemoveResult, messages.RemoveResult{Key: key, SID: sid}, nil)
}

// WifiScan lists the networks the robot can see.
func (c *Client) WifiScan(ctx context.Context) (messages.WifiScan, error) {
	var out messages.WifiScan
	if err := c.do(ctx, http.MethodGet, PathWifiScan, nil, &out); err != nil {
		return messages.WifiScan{}, err
	}
	if out.Networks == nil {
		out.Networks = []messages.WifiNetwork{}
	}
	return out, nil
}

// WifiConnect joins a network.
func (c *Client) WifiConnect(ctx context.Context, ssid, password string) error {
	body := map[string]string{"ssid": ssid, "password": password}
	return c.do(ctx, http.MethodPost, PathWifiConnect, body, nil)
}

// WifiSetPriority sets the auto-join priority of a known network.
func (c *Client) WifiSetPriority(ctx context.Context, ssid string, priority int) error {
	body := map[string]any{"ssid": ssid, "priority": priority}
	return c.do(ctx, http.MethodPost, PathWifiSetPriority, body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	_, err := c.cb.Execute(func() (any, error) {
		return nil, c.roundTrip(ctx, method, path, in, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = fmt.Errorf("%w: %s", ErrUnavailable, err)
	}
	if err != nil {
		c.log.Warn("request failed", "endpoint", path, "error", err)
	}
	if c.obs != nil {
		c.obs.RobotCall(path, err)
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("robot %s: encode: %w", path, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+"/"+path, body)
	if err != nil {
		return fmt.Errorf("robot %s: %w", path, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("robot %s: %w", path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("robot %s: read: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Endpoint: path, Status: resp.StatusCode, Message: errorMessage(raw)}
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("robot %s: decode: %w", path, err)
	}
	return nil
}

// errorMessage extracts the error or message field of an error body.
func errorMessage(raw []byte) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &body) != nil {
		return strings.TrimSpace(string(raw))
	}
	if body.Error != "" {
		return body.Error
	}
	return body.Message
}
