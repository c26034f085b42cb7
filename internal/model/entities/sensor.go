package entities

// RobotState is the robot main loop state reported on "robot-running".
type RobotState int

const (
	RobotStopped RobotState = 0
	RobotRunning RobotState = 1
	RobotPaused  RobotState = 2
)

// LiveStreamState is the dashboard livestream state reported on "livestream-state".
type LiveStreamState int

const (
	LiveStreamStopped LiveStreamState = 0
	LiveStreamRunning LiveStreamState = 1
	LiveStreamPaused  LiveStreamState = 2
)

func (s RobotState) String() string      { return stateName(int(s)) }
func (s LiveStreamState) String() string { return stateName(int(s)) }

func stateName(v int) string {
	switch v {
	case 0:
		return "stopped"
	case 1:
		return "running"
	case 2:
		return "paused"
	default:
		return "unknown"
	}
}

// LineSensor is a TCRT5000 line-follower reading.
type LineSensor struct {
	Left  bool `json:"left"`
	Right bool `json:"right"`
}

// WaterReadings are the per-probe water sensor states.
type WaterReadings []bool

// ColorRaw holds raw TCS34725 channel counts.
type ColorRaw struct {
	R float64 `json:"r"`
	G float64 `json:"g"`
	B float64 `json:"b"`
	C float64 `json:"c"`
}

// ColorNormalized holds 0..255 normalized channels.
type ColorNormalized struct {
	R float64 `json:"r"`
	G float64 `json:"g"`
	B float64 `json:"b"`
}

// ColorSensor is a TCS34725 color reading.
type ColorSensor struct {
	Raw        ColorRaw        `json:"raw"`
	Normalized ColorNormalized `json:"normalized"`
	ColorName  string          `json:"color_name"`
}

// ColorNameUnset is the color name before the first reading.
const ColorNameUnset = "NOT SET"

// DefaultColorSensor returns the zero reading with the unset color name.
func DefaultColorSensor() ColorSensor {
	return ColorSensor{ColorName: ColorNameUnset}
}
