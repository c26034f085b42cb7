package live

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/LeonardoBeccarini/agribot_dashboard/internal/model/entities"
	"github.com/LeonardoBeccarini/agribot_dashboard/internal/model/messages"
	"github.com/LeonardoBeccarini/agribot_dashboard/internal/transport"
)

var errEmpty = errors.New("empty payload")

func decodeBool(data []byte) (bool, error) {
	var v bool
	err := json.Unmarshal(data, &v)
	return v, err
}

// decodeState accepts an integral JSON number.
func decodeState(data []byte) (int, error) {
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || f < math.MinInt32 || f > math.MaxInt32 {
		return 0, fmt.Errorf("state %v is not an integer", f)
	}
	return int(f), nil
}

func decodeNumber(data []byte) (float64, error) {
	var f float64
	err := json.Unmarshal(data, &f)
	return f, err
}

// decodeObject unmarshals a JSON object over base, so absent keys keep base's values.
func decodeObject[T any](data []byte, base T) (T, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return base, err
	}
	if probe == nil {
		return base, errors.New("payload is not an object")
	}
	out := base
	if err := json.Unmarshal(data, &out); err != nil {
		return base, err
	}
	return out, nil
}

func decodeCameraInfo(data []byte) (entities.CameraInfo, error) {
	return decodeObject(data, entities.DefaultCameraInfo())
}

func decodeLineSensor(data []byte) (entities.LineSensor, error) {
	return decodeObject(data, entities.LineSensor{})
}

func decodeColorSensor(data []byte) (entities.ColorSensor, error) {
	return decodeObject(data, entities.DefaultColorSensor())
}

func decodeWater(data []byte) (entities.WaterReadings, error) {
	type waterEvent struct {
		Readings *[]bool `json:"readings"`
	}
	ev, err := decodeObject(data, waterEvent{})
	if err != nil {
		return nil, err
	}
	if ev.Readings == nil {
		return nil, errors.New("missing readings")
	}
	return entities.WaterReadings(*ev.Readings), nil
}

// decodeResults accepts a JSON string holding an array, or the array itself.
func decodeResults(data []byte) ([]messages.LabelResult, error) {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		data = []byte(s)
	}
	var out []messages.LabelResult
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, errors.New("results are not an array")
	}
	return out, nil
}

func decodeLogs(data []byte) ([]string, error) {
	batch, err := decodeObject(data, messages.LogBatch{})
	if err != nil {
		return nil, err
	}
	return batch.Logs, nil
}

func decodeHistories(data []byte) ([]messages.PlantHistory, error) {
	var out []messages.PlantHistory
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, errors.New("histories are not an array")
	}
	return out, nil
}

// frameBytes returns the image bytes of a frame event. Text events may carry the
// frame as a base64 JSON string.
func frameBytes(ev transport.Event) ([]byte, error) {
	if ev.Binary {
		if len(ev.Data) == 0 {
			return nil, errEmpty
		}
		return ev.Data, nil
	}
	var s string
	if err := json.Unmarshal(ev.Data, &s); err != nil {
		return nil, err
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return nil, errEmpty
	}
	return b, nil
}
