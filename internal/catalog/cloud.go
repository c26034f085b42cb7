package catalog

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
)

// DefaultCloudURL is the base of the cloud user API.
const DefaultCloudURL = "https://agribot-hydro-nft-admin.netlify.app/.netlify/functions/api"

// ErrRejected is returned when the cloud answers success=false.
var ErrRejected = errors.New("cloud: request rejected")

// CloudConfig configures a Cloud client.
type CloudConfig struct {
	BaseURL  string
	UserID   string
	DeviceID string
	// Token, when set, is sent as a bearer token.
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Cloud talks to the cloud user API. It fetches the catalog and stores saved
// configurations.
type Cloud struct {
	cfg  CloudConfig
	http *http.Client
	log  *slog.Logger
}

// NewCloud returns a client for cfg.BaseURL, or DefaultCloudURL when empty.
func NewCloud(cfg CloudConfig) *Cloud {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultCloudURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Cloud{cfg: cfg, http: hc, log: log.With("component", "cloud")}
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type checkUpdate struct {
	ID       string `json:"id"`
	DeviceID string `json:"deviceID"`
	IsForce  bool   `json:"isForce"`
}

// Fetch calls user/check-update and builds a catalog from its data.
func (c *Cloud) Fetch(ctx context.Context, force bool) (*Catalog, error) {
	env, err := c.post(ctx, "user/check-update", checkUpdate{ID: c.cfg.UserID, DeviceID: c.cfg.DeviceID, IsForce: force})
	if err != nil {
		return nil, err
	}
	var d Data
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return nil, fmt.Errorf("cloud check-update: decode: %w", err)
		}
	}
	return New(d), nil
}

// UpdateConfig stores cfg as the saved configuration of the account email.
func (c *Cloud) UpdateConfig(ctx context.Context, email string, cfg any) error {
	body := map[string]any{"email": email, "config": cfg}
	_, err := c.post(ctx, "user/update-config", body)
	return err
}

func (c *Cloud) post(ctx context.Context, path string, in any) (envelope, error) {
	b, err := json.Marshal(in)
	if err != nil {
		return envelope{}, fmt.Errorf("cloud %s: encode: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/"+path, bytes.NewReader(b))
	if err != nil {
		return envelope{}, fmt.Errorf("cloud %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return envelope{}, fmt.Errorf("cloud %s: %w", path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return envelope{}, fmt.Errorf("cloud %s: read: %w", path, err)
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := env.Message
		if msg == "" {
			msg = resp.Status
		}
		return envelope{}, fmt.Errorf("cloud %s: %s", path, msg)
	}
	if decodeErr != nil {
		return envelope{}, fmt.Errorf("cloud %s: decode: %w", path, decodeErr)
	}
	if !env.Success {
		c.log.Warn("cloud rejected request", "path", path, "message", env.Message)
		if env.Message != "" {
			return envelope{}, fmt.Errorf("%w: %s", ErrRejected, env.Message)
		}
		return envelope{}, ErrRejected
	}
	return env, nil
}
