package app

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/LeonardoBeccarini/agribot_dashboard/internal/artifact"
	"github.com/LeonardoBeccarini/agribot_dashboard/internal/live"
	"github.com/LeonardoBeccarini/agribot_dashboard/internal/model"
	"github.com/LeonardoBeccarini/agribot_dashboard/internal/normalize"
	"github.com/LeonardoBeccarini/agribot_dashboard/internal/robot"
)

// ErrBusy is returned while a save is in flight.
var ErrBusy = errors.New("a configuration save is already in progress")

var (
	errNoRobot = errors.New("robot API not configured")
	errNoCloud = errors.New("cloud API not configured")
)

type configResponse struct {
	Config model.Configuration `json:"config"`
	Dirty  bool                `json:"dirty"`
}

type saveResponse struct {
	Success      bool   `json:"success"`
	RobotUpdated bool   `json:"robotUpdated"`
	Persisted    bool   `json:"persisted"`
	Message      string `json:"message,omitempty"`
}

type scanRequest struct {
	State *bool `json:"state"`
}

type wifiConnectRequest struct {
	SSID     string `json:"ssid"`
	Password string `json:"password"`
}

type wifiPriorityRequest struct {
	SSID     string `json:"ssid"`
	Priority int    `json:"priority"`
}

type catalogResponse struct {
	Plants int                                        `json:"plants"`
	Models map[model.ModelKind][]model.DetectionModel `json:"models"`
}

type pingResponse struct {
	Reachable bool             `json:"reachable"`
	Status    model.PingStatus `json:"status"`
}

type readyResponse struct {
	Status         string `json:"status"`
	RobotConnected bool   `json:"robot_connected"`
	CatalogPlants  int    `json:"catalog_plants"`
	Saving         bool   `json:"saving"`
}

type errorBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func fail(c echo.Context, status int, err error) error {
	return c.JSON(status, errorBody{Message: err.Error()})
}

// failFor maps a domain error to its HTTP status. Upstream failures, robot
// APIErrors included, are 502.
func failFor(c echo.Context, err error) error {
	switch {
	case errors.Is(err, ErrBusy),
		errors.Is(err, robot.ErrLivestreaming),
		errors.Is(err, robot.ErrNotConnected):
		return fail(c, http.StatusConflict, err)
	case errors.Is(err, normalize.ErrInvalidJSON),
		errors.Is(err, artifact.ErrNotPNG),
		errors.Is(err, artifact.ErrMalformedChunk),
		errors.Is(err, artifact.ErrCorruptPayload):
		return fail(c, http.StatusBadRequest, err)
	case errors.Is(err, normalize.ErrNotObject),
		errors.Is(err, artifact.ErrNoConfig):
		return fail(c, http.StatusUnprocessableEntity, err)
	case errors.Is(err, robot.ErrUnavailable),
		errors.Is(err, live.ErrNoTransport),
		errors.Is(err, errNoRobot),
		errors.Is(err, errNoCloud):
		return fail(c, http.StatusServiceUnavailable, err)
	}
	return fail(c, http.StatusBadGateway, err)
}
