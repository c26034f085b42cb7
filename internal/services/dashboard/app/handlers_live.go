package app

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/LeonardoBeccarini/agribot_dashboard/internal/robot"
)

// sseHeartbeat keeps idle event streams open through proxies.
const sseHeartbeat = 25 * time.Second

func (a *App) handleHealthz(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// GET /readyz: "ok" when the robot is connected and the catalog is loaded,
// "degraded" when only one of them holds, 503 "down" otherwise.
func (a *App) handleReadyz(c echo.Context) error {
	st := readyResponse{
		RobotConnected: a.cfg.Mirror.Connected(),
		CatalogPlants:  a.cfg.Catalog.Current().Plants(),
		Saving:         a.saving.Load(),
	}
	switch {
	case st.RobotConnected && st.CatalogPlants > 0:
		st.Status = "ok"
	case st.RobotConnected || st.CatalogPlants > 0:
		st.Status = "degraded"
	default:
		st.Status = "down"
		return c.JSON(http.StatusServiceUnavailable, st)
	}
	return c.JSON(http.StatusOK, st)
}

func (a *App) handleLive(c echo.Context) error {
	return c.JSON(http.StatusOK, a.cfg.Mirror.Snapshot())
}

// GET /api/live/events streams a snapshot after every state change as
// server-sent events. Bursts of changes are coalesced.
func (a *App) handleLiveEvents(c echo.Context) error {
	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")
	w.WriteHeader(http.StatusOK)

	changed := make(chan struct{}, 1)
	unwatch := a.cfg.Mirror.Watch(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unwatch()

	send := func() error {
		b, err := json.Marshal(a.cfg.Mirror.Snapshot())
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: state\ndata: %s\n\n", b); err != nil {
			return err
		}
		w.Flush()
		return nil
	}
	if err := send(); err != nil {
		return nil
	}

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()
	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changed:
			if err := send(); err != nil {
				return nil
			}
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return nil
			}
			w.Flush()
		}
	}
}

func (a *App) handleConnect(c echo.Context) error {
	ctx, cancel := a.requestContext(c)
	defer cancel()
	if err := a.cfg.Mirror.Connect(ctx); err != nil {
		return failFor(c, err)
	}
	return c.JSON(http.StatusOK, a.cfg.Mirror.Snapshot())
}

func (a *App) handleDisconnect(c echo.Context) error {
	if err := a.cfg.Mirror.Disconnect(); err != nil {
		return failFor(c, err)
	}
	return c.JSON(http.StatusOK, a.cfg.Mirror.Snapshot())
}

func (a *App) handleFrame(c echo.Context) error {
	f, ok := a.cfg.Mirror.Frames().Get(c.Param("id"))
	if !ok {
		return fail(c, http.StatusNotFound, fmt.Errorf("frame %q released", c.Param("id")))
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=60, immutable")
	return c.Blob(http.StatusOK, f.Mime, f.Data)
}

// POST /api/robot/scan {"state": bool} starts or stops scanning.
func (a *App) handleScan(c echo.Context) error {
	if a.cfg.Robot == nil {
		return failFor(c, errNoRobot)
	}
	var req scanRequest
	if err := c.Bind(&req); err != nil || req.State == nil {
		return fail(c, http.StatusBadRequest, fmt.Errorf("body must be {\"state\": bool}"))
	}
	ctx, cancel := a.requestContext(c)
	defer cancel()
	if err := robot.ControlScan(ctx, a.cfg.Robot, a.cfg.Mirror, *req.State); err != nil {
		return failFor(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"scanning": *req.State})
}

func (a *App) handlePing(c echo.Context) error {
	if a.cfg.Robot == nil {
		return failFor(c, errNoRobot)
	}
	ctx, cancel := a.requestContext(c)
	defer cancel()
	st, err := a.cfg.Robot.Ping(ctx)
	if err != nil {
		return failFor(c, err)
	}
	return c.JSON(http.StatusOK, pingResponse{Reachable: st.OK(), Status: st})
}

func (a *App) handleWifiScan(c echo.Context) error {
	if a.cfg.Robot == nil {
		return failFor(c, errNoRobot)
	}
	ctx, cancel := a.requestContext(c)
	defer cancel()
	scan, err := a.cfg.Robot.WifiScan(ctx)
	if err != nil {
		return failFor(c, err)
	}
	return c.JSON(http.StatusOK, scan)
}

func (a *App) handleWifiConnect(c echo.Context) error {
	if a.cfg.Robot == nil {
		return failFor(c, errNoRobot)
	}
	var req wifiConnectRequest
	if err := c.Bind(&req); err != nil || req.SSID == "" {
		return fail(c, http.StatusBadRequest, fmt.Errorf("please select a network"))
	}
	ctx, cancel := a.requestContext(c)
	defer cancel()
	if err := a.cfg.Robot.WifiConnect(ctx, req.SSID, req.Password); err != nil {
		return failFor(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"connected_ssid": req.SSID})
}

func (a *App) handleWifiPriority(c echo.Context) error {
	if a.cfg.Robot == nil {
		return failFor(c, errNoRobot)
	}
	var req wifiPriorityRequest
	if err := c.Bind(&req); err != nil || req.SSID == "" {
		return fail(c, http.StatusBadRequest, fmt.Errorf("ssid is required"))
	}
	ctx, cancel := a.requestContext(c)
	defer cancel()
	if err := a.cfg.Robot.WifiSetPriority(ctx, req.SSID, req.Priority); err != nil {
		return failFor(c, err)
	}
	return c.JSON(http.StatusOK, req)
}
