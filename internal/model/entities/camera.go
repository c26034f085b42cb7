package entities

// CameraInfo describes the robot camera as reported on "camera_info".
type CameraInfo struct {
	Status        string  `json:"status"`
	Resolution    string  `json:"resolution"`
	FPS           float64 `json:"fps"`
	IP            string  `json:"ip"`
	DetectionConf *string `json:"detectionConf"`
}

// DefaultCameraInfo is the camera description shown while disconnected.
func DefaultCameraInfo() CameraInfo {
	return CameraInfo{
		Status:     "false",
		Resolution: "NOT SET",
		FPS:        0,
		IP:         "NOT SET",
	}
}
