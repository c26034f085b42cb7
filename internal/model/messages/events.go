package messages

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// PlantHistory is one plant detection from the robot history feed.
// Fields other than id, src and timestamp are kept verbatim in Extra.
type PlantHistory struct {
	ID        string         `json:"id"`
	Src       string         `json:"src"`
	Timestamp any            `json:"timestamp"`
	Extra     map[string]any `json:"-"`
}

// UnmarshalJSON accepts any object and moves unknown keys into Extra.
func (p *PlantHistory) UnmarshalJSON(b []byte) error {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("plant history: not an object")
	}
	*p = PlantHistory{Extra: map[string]any{}}
	for k, v := range m {
		switch k {
		case "id":
			switch t := v.(type) {
			case string:
				p.ID = t
			case float64:
				p.ID = strconv.FormatFloat(t, 'f', -1, 64)
			}
		case "src":
			if s, ok := v.(string); ok {
				p.Src = s
			}
		case "timestamp":
			p.Timestamp = v
		default:
			p.Extra[k] = v
		}
	}
	return nil
}

// MarshalJSON flattens Extra back next to the known fields.
func (p PlantHistory) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(p.Extra)+3)
	for k, v := range p.Extra {
		m[k] = v
	}
	m["id"] = p.ID
	m["src"] = p.Src
	m["timestamp"] = p.Timestamp
	return json.Marshal(m)
}

// IdentityKey is the (src, timestamp) pair used to de-duplicate history entries.
func (p PlantHistory) IdentityKey() string {
	ts, _ := json.Marshal(p.Timestamp)
	return p.Src + "\x00" + string(ts)
}

// LogBatch is the payload of the "logs" event.
type LogBatch struct {
	Logs []string `json:"logs"`
}

// WaterSensorEvent is the payload of the "watersensor" event.
type WaterSensorEvent struct {
	Readings []bool `json:"readings"`
}

// LabelResult is one opaque entry of "latest_results".
type LabelResult = json.RawMessage

// PingStatus is the body of GET ping.
type PingStatus struct {
	Status          string `json:"status"`
	IsLivestreaming bool   `json:"is_livestreaming"`
	IsScanning      bool   `json:"is_scanning"`
	RobotLoopState  any    `json:"robot_loop_state"`
	Message         string `json:"message,omitempty"`
}

// OK reports whether the robot answered the ping positively.
func (p PingStatus) OK() bool { return p.Status == "ok" }

// WifiNetwork is one access point seen by the robot.
type WifiNetwork struct {
	SSID     string `json:"ssid"`
	Signal   int    `json:"signal"`
	Known    bool   `json:"known"`
	Priority int    `json:"priority"`
}

// WifiScan is the body of GET wifi/scan.
type WifiScan struct {
	Networks      []WifiNetwork `json:"networks"`
	ConnectedSSID string        `json:"connected_ssid"`
}

// ConfigPush is the body of POST update-config.
type ConfigPush struct {
	Config any `json:"config"`
}

// RemoveResult is the body of POST remove_result.
type RemoveResult struct {
	Key string `json:"key"`
	SID string `json:"sid"`
}
