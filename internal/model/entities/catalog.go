package entities

import "fmt"

// ModelKind selects one of the three vision model families.
type ModelKind string

const (
	ObjectDetection     ModelKind = "objectDetection"
	StageClassification ModelKind = "stageClassification"
	DiseaseSegmentation ModelKind = "diseaseSegmentation"
)

// ModelKinds lists every kind in configuration order.
var ModelKinds = []ModelKind{ObjectDetection, StageClassification, DiseaseSegmentation}

// ParseModelKind accepts the configuration field name of a kind.
func ParseModelKind(s string) (ModelKind, error) {
	for _, k := range ModelKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown model kind %q", s)
}

// DetectionModel is one published model version with its evaluation metrics.
// Metrics travel as strings on the wire.
type DetectionModel struct {
	ID           any    `json:"id"`
	Version      string `json:"version"`
	Description  string `json:"description"`
	Precision    string `json:"precision"`
	Recall       string `json:"recall"`
	MAP50        string `json:"mAP50"`
	MAP50_95     string `json:"mAP50_95"`
	AccuracyTop1 string `json:"accuracy_top1"`
	AccuracyTop5 string `json:"accuracy_top5"`
}

// Plant is an entry of the plant registry. The registry is keyed by Name.
type Plant struct {
	ID          any    `json:"id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	ImageURL    string `json:"imageUrl,omitempty"`
	Icon        string `json:"icon,omitempty"`
}

// ModelVersion returns the configured version for kind.
func (c Configuration) ModelVersion(kind ModelKind) string {
	switch kind {
	case ObjectDetection:
		return c.ObjectDetection
	case StageClassification:
		return c.StageClassification
	case DiseaseSegmentation:
		return c.DiseaseSegmentation
	}
	return ""
}

// Confidence returns the configured threshold for kind.
func (c Configuration) Confidence(kind ModelKind) float64 {
	switch kind {
	case ObjectDetection:
		return c.ObjectDetectionConfidence
	case StageClassification:
		return c.StageClassificationConfidence
	case DiseaseSegmentation:
		return c.DiseaseSegmentationConfidence
	}
	return 0
}
