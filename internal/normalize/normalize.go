// Package normalize turns untrusted, loosely typed configuration input into a
// valid entities.Configuration. Every field falls back to its default, so the only
// failure is a root value that is not an object.
package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/LeonardoBeccarini/agribot_dashboard/internal/model/entities"
	"github.com/LeonardoBeccarini/agribot_dashboard/pkg/timefmt"
)

var (
	// ErrNotObject is returned when the root input is not a JSON object.
	ErrNotObject = errors.New("invalid configuration: not an object")
	// ErrInvalidJSON is returned by NormalizeJSON for unparsable input.
	ErrInvalidJSON = errors.New("invalid configuration: malformed JSON")
)

// Default spray windows for a disease.
const (
	defaultSprayStart = "12:00"
	defaultSprayEnd   = "14:00"
)

// maxDuration bounds spray durations to values that survive an int round trip.
const maxDuration = math.MaxInt32

// PlantRegistry answers whether a plant name is known.
type PlantRegistry interface {
	HasPlant(name string) bool
}

// ModelSource lists the published models of a kind, newest first.
type ModelSource interface {
	Models(kind entities.ModelKind) []entities.DetectionModel
}

// Normalizer validates configurations against the plant registry and model lists.
// A nil Plants drops every detected plant; a nil Models leaves missing versions empty.
type Normalizer struct {
	Plants PlantRegistry
	Models ModelSource
	// Now supplies the timestamp for detections without a valid one. Defaults to time.Now.
	Now func() time.Time
}

// NormalizeJSON parses b and normalizes the result.
func (n Normalizer) NormalizeJSON(b []byte) (entities.Configuration, error) {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return entities.Configuration{}, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return n.Normalize(v)
}

// Normalize coerces input into a valid configuration. It is idempotent.
func (n Normalizer) Normalize(input any) (entities.Configuration, error) {
	root, ok := object(input)
	if !ok {
		return entities.Configuration{}, ErrNotObject
	}

	sprays, _ := object(root["sprays"])
	cfg := entities.Configuration{
		Sprays: entities.Sprays{
			Spray:    sprayNames(field(sprays, "spray")),
			Active:   sprayActive(field(sprays, "active")),
			Duration: sprayDurations(field(sprays, "duration")),
		},
		Schedule: Schedule(root["schedule"]),

		ObjectDetection:     n.version(entities.ObjectDetection, root["objectDetection"]),
		StageClassification: n.version(entities.StageClassification, root["stageClassification"]),
		DiseaseSegmentation: n.version(entities.DiseaseSegmentation, root["diseaseSegmentation"]),

		ObjectDetectionConfidence:     confidence(root["objectDetectionConfidence"]),
		StageClassificationConfidence: confidence(root["stageClassificationConfidence"]),
		DiseaseSegmentationConfidence: confidence(root["diseaseSegmentationConfidence"]),

		DetectedPlants: n.plants(root["detectedPlants"]),
	}
	return cfg, nil
}

func sprayNames(raw any) []string {
	out := make([]string, entities.SprayChannels)
	list, _ := array(raw)
	for i := range out {
		if i < len(list) {
			out[i], _ = str(list[i])
		}
	}
	return out
}

func sprayActive(raw any) []bool {
	out := make([]bool, entities.SprayChannels)
	list, _ := array(raw)
	for i := range out {
		out[i] = true
		if i < len(list) {
			out[i] = truthy(list[i])
		}
	}
	return out
}

func sprayDurations(raw any) []int {
	out := make([]int, entities.SprayChannels)
	list, _ := array(raw)
	for i := range out {
		out[i] = entities.DefaultSprayDuration
		if i < len(list) {
			out[i] = duration(list[i])
		}
	}
	return out
}

// duration floors a positive number; anything that floors below 1 is the default.
func duration(v any) int {
	f, ok := number(v)
	if !ok || math.IsNaN(f) || f > maxDuration {
		return entities.DefaultSprayDuration
	}
	d := math.Floor(f)
	if d < 1 {
		return entities.DefaultSprayDuration
	}
	return int(d)
}

func confidence(v any) float64 {
	f, ok := number(v)
	if !ok || math.IsNaN(f) || f < 0 || f > 1 {
		return entities.DefaultConfidence
	}
	return f
}

func (n Normalizer) version(kind entities.ModelKind, v any) string {
	if s, ok := str(v); ok && s != "" {
		return s
	}
	if n.Models == nil {
		return ""
	}
	if list := n.Models.Models(kind); len(list) > 0 {
		return list[0].Version
	}
	return ""
}

func (n Normalizer) now() time.Time {
	if n.Now != nil {
		return n.Now()
	}
	return time.Now()
}

func (n Normalizer) plants(raw any) []entities.DetectedPlant {
	out := []entities.DetectedPlant{}
	list, _ := array(raw)
	for _, item := range list {
		p, ok := object(item)
		if !ok {
			continue
		}
		key, ok := str(p["key"])
		if !ok || n.Plants == nil || !n.Plants.HasPlant(key) {
			continue
		}

		ts, _ := str(p["timestamp"])
		if !timefmt.IsValidTimestamp(ts) {
			ts = timefmt.Timestamp(n.now())
		}
		image, _ := str(p["image"])

		out = append(out, entities.DetectedPlant{
			Key:              key,
			Timestamp:        ts,
			Image:            image,
			Disabled:         truthy(p["disabled"]),
			WillSprayEarly:   truthy(p["willSprayEarly"]),
			Disease:          diseases(p["disease"]),
			DiseaseTimeSpray: sprayWindows(p["disease_time_spray"]),
		})
	}
	return out
}

func diseases(raw any) map[string][]bool {
	out := map[string][]bool{}
	m, ok := object(raw)
	if !ok {
		return out
	}
	for name, v := range m {
		list, ok := array(v)
		if !ok {
			out[name] = make([]bool, entities.SprayChannels)
			continue
		}
		checks := make([]bool, len(list))
		for i, c := range list {
			checks[i] = truthy(c)
		}
		out[name] = checks
	}
	return out
}

func sprayWindows(raw any) map[string][2]string {
	out := map[string][2]string{}
	m, ok := object(raw)
	if !ok {
		return out
	}
	for name, v := range m {
		w := [2]string{defaultSprayStart, defaultSprayEnd}
		if list, ok := array(v); ok {
			if len(list) > 0 {
				if s, ok := str(list[0]); ok && timefmt.IsValidClock(s) {
					w[0] = s
				}
			}
			if len(list) > 1 {
				if s, ok := str(list[1]); ok && timefmt.IsValidClock(s) {
					w[1] = s
				}
			}
		}
		out[name] = w
	}
	return out
}
