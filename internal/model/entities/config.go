package entities

// SprayChannels is the fixed number of spray nozzles on the robot.
const SprayChannels = 4

// Spray channel defaults.
const (
	DefaultSprayDuration = 2
	DefaultConfidence    = 0.3
	DefaultFrequency     = "monthly"
)

// ValidDays are the canonical weekday names a schedule may use.
var ValidDays = []string{
	"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday",
}

// ValidFrequencies enumerates the schedule repetition periods.
var ValidFrequencies = []string{
	"weekly",
	"bi-weekly",
	"tri-weekly",
	"monthly",
	"bi-monthly",
	"tri-monthly",
	"semi-annual",
	"yearly",
}

// Configuration is the unit of persisted and shared dashboard state.
// It is the localStorage format, the artifact payload and the body pushed to the robot.
type Configuration struct {
	DetectedPlants []DetectedPlant `json:"detectedPlants"`
	Sprays         Sprays          `json:"sprays"`
	Schedule       Schedule        `json:"schedule"`

	ObjectDetection     string `json:"objectDetection"`
	StageClassification string `json:"stageClassification"`
	DiseaseSegmentation string `json:"diseaseSegmentation"`

	ObjectDetectionConfidence     float64 `json:"objectDetectionConfidence"`
	StageClassificationConfidence float64 `json:"stageClassificationConfidence"`
	DiseaseSegmentationConfidence float64 `json:"diseaseSegmentationConfidence"`
}

// Sprays assigns a chemical, an on/off flag and a duration (minutes) to each channel.
type Sprays struct {
	Spray    []string `json:"spray"`
	Active   []bool   `json:"active"`
	Duration []int    `json:"duration"`
}

// Schedule describes when the robot runs.
type Schedule struct {
	Frequency string   `json:"frequency"`
	Runs      []Run    `json:"runs"`
	Days      []string `json:"days"`
}

// Run is one time window, both ends in 24-hour "HH:MM".
type Run struct {
	Time string `json:"time"`
	Upto string `json:"upto"`
}

// DetectedPlant is one detection event from the vision system.
type DetectedPlant struct {
	Key            string `json:"key"`
	Timestamp      string `json:"timestamp"`
	Image          string `json:"image,omitempty"`
	Disabled       bool   `json:"disabled"`
	WillSprayEarly bool   `json:"willSprayEarly"`
	// Disease holds per-check results for each disease name.
	Disease map[string][]bool `json:"disease"`
	// DiseaseTimeSpray maps a disease name to its [start, end] spray window.
	DiseaseTimeSpray map[string][2]string `json:"disease_time_spray"`
}

// DefaultConfiguration returns the hard-coded configuration used when nothing was saved.
func DefaultConfiguration() Configuration {
	return Configuration{
		DetectedPlants: []DetectedPlant{},
		Sprays:         DefaultSprays(),
		Schedule:       DefaultSchedule(),

		ObjectDetectionConfidence:     DefaultConfidence,
		StageClassificationConfidence: DefaultConfidence,
		DiseaseSegmentationConfidence: DefaultConfidence,
	}
}

// DefaultSprays returns four empty, active channels of the default duration.
func DefaultSprays() Sprays {
	s := Sprays{
		Spray:    make([]string, SprayChannels),
		Active:   make([]bool, SprayChannels),
		Duration: make([]int, SprayChannels),
	}
	for i := 0; i < SprayChannels; i++ {
		s.Active[i] = true
		s.Duration[i] = DefaultSprayDuration
	}
	return s
}

// DefaultSchedule runs monthly at morning, noon and evening.
func DefaultSchedule() Schedule {
	return Schedule{
		Frequency: DefaultFrequency,
		Runs: []Run{
			{Time: "06:00", Upto: "07:00"},
			{Time: "12:00", Upto: "13:00"},
			{Time: "18:00", Upto: "19:00"},
		},
		Days: []string{},
	}
}

// Clone returns a structural deep copy. Slices and maps of the copy are never nil,
// so clones of equal content compare equal under reflect.DeepEqual.
func (c Configuration) Clone() Configuration {
	out := c
	out.DetectedPlants = ClonePlants(c.DetectedPlants)
	out.Sprays = c.Sprays.Clone()
	out.Schedule = c.Schedule.Clone()
	return out
}

// Clone deep-copies the spray arrays.
func (s Sprays) Clone() Sprays {
	return Sprays{
		Spray:    append(make([]string, 0, len(s.Spray)), s.Spray...),
		Active:   append(make([]bool, 0, len(s.Active)), s.Active...),
		Duration: append(make([]int, 0, len(s.Duration)), s.Duration...),
	}
}

// Clone deep-copies runs and days.
func (s Schedule) Clone() Schedule {
	return Schedule{
		Frequency: s.Frequency,
		Runs:      append(make([]Run, 0, len(s.Runs)), s.Runs...),
		Days:      append(make([]string, 0, len(s.Days)), s.Days...),
	}
}

// Clone deep-copies the disease maps.
func (p DetectedPlant) Clone() DetectedPlant {
	out := p
	out.Disease = make(map[string][]bool, len(p.Disease))
	for k, v := range p.Disease {
		out.Disease[k] = append(make([]bool, 0, len(v)), v...)
	}
	out.DiseaseTimeSpray = make(map[string][2]string, len(p.DiseaseTimeSpray))
	for k, v := range p.DiseaseTimeSpray {
		out.DiseaseTimeSpray[k] = v
	}
	return out
}

// ClonePlants deep-copies a plant list, returning an empty non-nil slice for nil input.
func ClonePlants(plants []DetectedPlant) []DetectedPlant {
	out := make([]DetectedPlant, 0, len(plants))
	for _, p := range plants {
		out = append(out, p.Clone())
	}
	return out
}

// HasActiveDisease reports whether any check flagged the disease.
func (p DetectedPlant) HasActiveDisease(name string) bool {
	for _, v := range p.Disease[name] {
		if v {
			return true
		}
	}
	return false
}

// IsValidFrequency reports whether f is one of ValidFrequencies.
func IsValidFrequency(f string) bool {
	for _, v := range ValidFrequencies {
		if v == f {
			return true
		}
	}
	return false
}

// IsValidDay reports whether d is one of ValidDays.
func IsValidDay(d string) bool {
	for _, v := range ValidDays {
		if v == d {
			return true
		}
	}
	return false
}
