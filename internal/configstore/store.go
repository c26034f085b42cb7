// Package configstore holds the working configuration of the dashboard and the
// baseline it was last saved as.
package configstore

import (
	"encoding/json"
	"io"
	"reflect"
	"strings"
	"sync"

	"github.com/LeonardoBeccarini/agribot_dashboard/internal/model/entities"
	"github.com/LeonardoBeccarini/agribot_dashboard/internal/reactive"
)

// DownloadFilename is the attachment name of DownloadConfig.
const DownloadFilename = "config.json"

// Candidate is a configuration in which every field may be absent.
// A nil field is replaced by its default when applied.
type Candidate struct {
	DetectedPlants []entities.DetectedPlant
	Sprays         *entities.Sprays
	Schedule       *entities.Schedule

	ObjectDetection     *string
	StageClassification *string
	DiseaseSegmentation *string

	ObjectDetectionConfidence     *float64
	StageClassificationConfidence *float64
	DiseaseSegmentationConfidence *float64
}

// CandidateFrom returns a candidate with every field of cfg present.
func CandidateFrom(cfg entities.Configuration) Candidate {
	c := cfg.Clone()
	return Candidate{
		DetectedPlants:                c.DetectedPlants,
		Sprays:                        &c.Sprays,
		Schedule:                      &c.Schedule,
		ObjectDetection:               &c.ObjectDetection,
		StageClassification:           &c.StageClassification,
		DiseaseSegmentation:           &c.DiseaseSegmentation,
		ObjectDetectionConfidence:     &c.ObjectDetectionConfidence,
		StageClassificationConfidence: &c.StageClassificationConfidence,
		DiseaseSegmentationConfidence: &c.DiseaseSegmentationConfidence,
	}
}

// PlantLookup resolves a detection key to its registry entry.
type PlantLookup interface {
	Plant(key string) (entities.Plant, bool)
}

// Store is the canonical working configuration. Each field lives in its own
// reactive cell. Concurrent writers are serialized and the last write wins.
//
// Subscribers are notified while the write holds the writer lock. They may read
// the store (CurrentConfig, IsDirty, Baseline) but must not write to it.
type Store struct {
	// writeMu serializes writes to the cells and the baseline.
	writeMu sync.Mutex

	// mu guards baseline only and is never held during notifications.
	mu       sync.Mutex
	baseline entities.Configuration

	detectedPlants *reactive.Cell[[]entities.DetectedPlant]
	sprays         *reactive.Cell[entities.Sprays]
	schedule       *reactive.Cell[entities.Schedule]
	versions       map[entities.ModelKind]*reactive.Cell[string]
	confidences    map[entities.ModelKind]*reactive.Cell[float64]
}

// New returns a store holding the default configuration, saved as baseline.
func New() *Store {
	def := entities.DefaultConfiguration()
	s := &Store{
		baseline:       def.Clone(),
		detectedPlants: reactive.NewCell(def.DetectedPlants),
		sprays:         reactive.NewCell(def.Sprays),
		schedule:       reactive.NewCell(def.Schedule),
		versions:       make(map[entities.ModelKind]*reactive.Cell[string], len(entities.ModelKinds)),
		confidences:    make(map[entities.ModelKind]*reactive.Cell[float64], len(entities.ModelKinds)),
	}
	for _, k := range entities.ModelKinds {
		s.versions[k] = reactive.NewCell(def.ModelVersion(k))
		s.confidences[k] = reactive.NewCell(def.Confidence(k))
	}
	return s
}

// ApplyConfig writes every field of c to the working cells, using defaults for absent
// fields. It never fails and leaves the baseline alone.
func (s *Store) ApplyConfig(c Candidate) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.apply(c)
}

func (s *Store) apply(c Candidate) {
	def := entities.DefaultConfiguration()

	if c.DetectedPlants != nil {
		s.detectedPlants.Set(entities.ClonePlants(c.DetectedPlants))
	} else {
		s.detectedPlants.Set(def.DetectedPlants)
	}
	if c.Sprays != nil {
		s.sprays.Set(c.Sprays.Clone())
	} else {
		s.sprays.Set(def.Sprays)
	}
	if c.Schedule != nil {
		s.schedule.Set(c.Schedule.Clone())
	} else {
		s.schedule.Set(def.Schedule)
	}

	versions := map[entities.ModelKind]*string{
		entities.ObjectDetection:     c.ObjectDetection,
		entities.StageClassification: c.StageClassification,
		entities.DiseaseSegmentation: c.DiseaseSegmentation,
	}
	confidences := map[entities.ModelKind]*float64{
		entities.ObjectDetection:     c.ObjectDetectionConfidence,
		entities.StageClassification: c.StageClassificationConfidence,
		entities.DiseaseSegmentation: c.DiseaseSegmentationConfidence,
	}
	for _, k := range entities.ModelKinds {
		if v := versions[k]; v != nil {
			s.versions[k].Set(*v)
		} else {
			s.versions[k].Set(def.ModelVersion(k))
		}
		if v := confidences[k]; v != nil {
			s.confidences[k].Set(*v)
		} else {
			s.confidences[k].Set(def.Confidence(k))
		}
	}
}

// CurrentConfig returns a deep copy of the working configuration.
func (s *Store) CurrentConfig() entities.Configuration {
	return s.current()
}

func (s *Store) current() entities.Configuration {
	c := entities.Configuration{
		DetectedPlants:                s.detectedPlants.Get(),
		Sprays:                        s.sprays.Get(),
		Schedule:                      s.schedule.Get(),
		ObjectDetection:               s.versions[entities.ObjectDetection].Get(),
		StageClassification:           s.versions[entities.StageClassification].Get(),
		DiseaseSegmentation:           s.versions[entities.DiseaseSegmentation].Get(),
		ObjectDetectionConfidence:     s.confidences[entities.ObjectDetection].Get(),
		StageClassificationConfidence: s.confidences[entities.StageClassification].Get(),
		DiseaseSegmentationConfidence: s.confidences[entities.DiseaseSegmentation].Get(),
	}
	return c.Clone()
}

// SaveConfig makes the current snapshot the new baseline.
func (s *Store) SaveConfig() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.setBaseline(s.current())
}

func (s *Store) setBaseline(cfg entities.Configuration) {
	s.mu.Lock()
	s.baseline = cfg
	s.mu.Unlock()
}

// Baseline returns a deep copy of the last saved configuration.
func (s *Store) Baseline() entities.Configuration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseline.Clone()
}

// RevertConfig restores the working cells from the baseline.
func (s *Store) RevertConfig() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.apply(CandidateFrom(s.Baseline()))
}

// IsDirty reports whether the working configuration differs from the baseline.
func (s *Store) IsDirty() bool {
	cur := s.current()
	s.mu.Lock()
	defer s.mu.Unlock()
	return !reflect.DeepEqual(cur, s.baseline)
}

// DownloadConfig writes the snapshot as JSON indented by two spaces.
func (s *Store) DownloadConfig(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(s.CurrentConfig())
}

// DetectedPlants returns a copy of the detected plants.
func (s *Store) DetectedPlants() []entities.DetectedPlant {
	return entities.ClonePlants(s.detectedPlants.Get())
}

// SetDetectedPlants replaces the detected plants.
func (s *Store) SetDetectedPlants(p []entities.DetectedPlant) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.detectedPlants.Set(entities.ClonePlants(p))
}

// Sprays returns a copy of the spray channels.
func (s *Store) Sprays() entities.Sprays { return s.sprays.Get().Clone() }

// SetSprays replaces the spray channels.
func (s *Store) SetSprays(v entities.Sprays) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.sprays.Set(v.Clone())
}

// Schedule returns a copy of the schedule.
func (s *Store) Schedule() entities.Schedule { return s.schedule.Get().Clone() }

// SetSchedule replaces the schedule.
func (s *Store) SetSchedule(v entities.Schedule) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.schedule.Set(v.Clone())
}

// SetModelVersion sets the selected model version of kind. Unknown kinds are ignored.
func (s *Store) SetModelVersion(kind entities.ModelKind, v string) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if c, ok := s.versions[kind]; ok {
		c.Set(v)
	}
}

// SetConfidence sets the threshold of kind. Unknown kinds are ignored.
func (s *Store) SetConfidence(kind entities.ModelKind, v float64) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if c, ok := s.confidences[kind]; ok {
		c.Set(v)
	}
}

// SubscribeDetectedPlants observes the detected plant list. Values passed to fn are shared
// and must not be modified.
func (s *Store) SubscribeDetectedPlants(fn func([]entities.DetectedPlant)) func() {
	return s.detectedPlants.Subscribe(fn)
}

// SubscribeSprays observes the spray channels.
func (s *Store) SubscribeSprays(fn func(entities.Sprays)) func() {
	return s.sprays.Subscribe(fn)
}

// SubscribeSchedule observes the schedule.
func (s *Store) SubscribeSchedule(fn func(entities.Schedule)) func() {
	return s.schedule.Subscribe(fn)
}

// DisablePlant marks the plant at index as disabled. It reports false when the
// index is out of range.
func (s *Store) DisablePlant(index int) bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	plants := entities.ClonePlants(s.detectedPlants.Get())
	if index < 0 || index >= len(plants) {
		return false
	}
	plants[index].Disabled = true
	s.detectedPlants.Set(plants)
	return true
}

// RemovePlant drops every detected plant with key. It returns how many were removed.
func (s *Store) RemovePlant(key string) int {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	cur := s.detectedPlants.Get()
	kept := make([]entities.DetectedPlant, 0, len(cur))
	for _, p := range cur {
		if p.Key != key {
			kept = append(kept, p.Clone())
		}
	}
	s.detectedPlants.Set(kept)
	return len(cur) - len(kept)
}

// FilterDetectedPlants returns the plants whose registry name contains search,
// case-insensitively. Plants missing from the registry only match an empty search.
func FilterDetectedPlants(plants []entities.DetectedPlant, registry PlantLookup, search string) []entities.DetectedPlant {
	needle := strings.ToLower(strings.TrimSpace(search))
	out := []entities.DetectedPlant{}
	for _, p := range plants {
		name := ""
		if registry != nil {
			if entry, ok := registry.Plant(p.Key); ok {
				name = strings.ToLower(entry.Name)
			}
		}
		if strings.Contains(name, needle) {
			out = append(out, p)
		}
	}
	return out
}
