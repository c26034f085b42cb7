package configstore

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/agribot_dashboard/internal/model/entities"
)

func strPtr(s string) *string { return &s }

func TestNewStoreStartsClean(t *testing.T) {
	s := New()
	assert.False(t, s.IsDirty())
	assert.Equal(t, entities.DefaultConfiguration(), s.CurrentConfig())
}

func TestApplyConfigUsesDefaultsForAbsentFields(t *testing.T) {
	s := New()
	sched := entities.Schedule{Frequency: "weekly", Runs: []entities.Run{{"01:00", "02:00"}}, Days: []string{"Monday"}}
	s.ApplyConfig(Candidate{Schedule: &sched, ObjectDetection: strPtr("v9")})

	cur := s.CurrentConfig()
	assert.Equal(t, sched, cur.Schedule)
	assert.Equal(t, "v9", cur.ObjectDetection)
	assert.Equal(t, entities.DefaultSprays(), cur.Sprays)
	assert.Equal(t, 0.3, cur.DiseaseSegmentationConfidence)

	// applying does not advance the baseline
	assert.Equal(t, entities.DefaultConfiguration(), s.Baseline())

	s.ApplyConfig(Candidate{})
	assert.Equal(t, entities.DefaultConfiguration(), s.CurrentConfig())
}

func TestDirtyTracking(t *testing.T) {
	s := New()
	require.False(t, s.IsDirty())

	sprays := s.Sprays()
	sprays.Spray[1] = "Topaz 100 EC"
	s.SetSprays(sprays)
	assert.True(t, s.IsDirty())

	s.SaveConfig()
	assert.False(t, s.IsDirty())

	s.SetConfidence(entities.StageClassification, 0.8)
	assert.True(t, s.IsDirty())

	s.RevertConfig()
	assert.False(t, s.IsDirty())
	assert.Equal(t, "Topaz 100 EC", s.CurrentConfig().Sprays.Spray[1])
	assert.Equal(t, 0.3, s.CurrentConfig().StageClassificationConfidence)
}

func TestDirtyIsOrderSensitive(t *testing.T) {
	s := New()
	sched := s.Schedule()
	sched.Runs[0], sched.Runs[2] = sched.Runs[2], sched.Runs[0]
	s.SetSchedule(sched)
	assert.True(t, s.IsDirty())

	sched.Runs[0], sched.Runs[2] = sched.Runs[2], sched.Runs[0]
	s.SetSchedule(sched)
	assert.False(t, s.IsDirty())

	sched.Runs = append(sched.Runs, entities.Run{Time: "20:00", Upto: "21:00"})
	s.SetSchedule(sched)
	assert.True(t, s.IsDirty())
}

func TestSnapshotsAreIsolated(t *testing.T) {
	s := New()
	cur := s.CurrentConfig()
	cur.Sprays.Duration[0] = 99
	cur.Schedule.Days = append(cur.Schedule.Days, "Friday")

	assert.False(t, s.IsDirty())
	assert.Equal(t, 2, s.Sprays().Duration[0])
}

func TestDownloadConfig(t *testing.T) {
	s := New()
	s.SetModelVersion(entities.ObjectDetection, "a&b")

	var buf bytes.Buffer
	require.NoError(t, s.DownloadConfig(&buf))

	assert.Contains(t, buf.String(), "\n  \"detectedPlants\": []")
	assert.Contains(t, buf.String(), `"objectDetection": "a&b"`)

	var back entities.Configuration
	require.NoError(t, json.Unmarshal(buf.Bytes(), &back))
	assert.Empty(t, cmp.Diff(s.CurrentConfig(), back.Clone()))
	assert.Equal(t, "config.json", DownloadFilename)
}

func plantsFixture() []entities.DetectedPlant {
	return []entities.DetectedPlant{
		{Key: "lettuce", Timestamp: "2025-01-01 00:00:00"},
		{Key: "tomato", Timestamp: "2025-01-01 00:00:01"},
		{Key: "lettuce", Timestamp: "2025-01-01 00:00:02"},
	}
}

func TestDisableAndRemovePlant(t *testing.T) {
	s := New()
	s.SetDetectedPlants(plantsFixture())

	assert.True(t, s.DisablePlant(1))
	assert.False(t, s.DisablePlant(7))
	assert.False(t, s.DisablePlant(-1))
	assert.True(t, s.DetectedPlants()[1].Disabled)

	assert.Equal(t, 2, s.RemovePlant("lettuce"))
	assert.Equal(t, 0, s.RemovePlant("cactus"))
	require.Len(t, s.DetectedPlants(), 1)
	assert.Equal(t, "tomato", s.DetectedPlants()[0].Key)
}

type lookup map[string]entities.Plant

func (l lookup) Plant(key string) (entities.Plant, bool) {
	p, ok := l[key]
	return p, ok
}

func TestFilterDetectedPlants(t *testing.T) {
	reg := lookup{
		"lettuce": {Name: "Green Lettuce"},
		"tomato":  {Name: "Cherry Tomato"},
	}
	got := FilterDetectedPlants(plantsFixture(), reg, "  LETTUCE ")
	assert.Len(t, got, 2)

	got = FilterDetectedPlants(plantsFixture(), reg, "cherry")
	require.Len(t, got, 1)
	assert.Equal(t, "tomato", got[0].Key)

	assert.Len(t, FilterDetectedPlants(plantsFixture(), nil, ""), 3)
	assert.Empty(t, FilterDetectedPlants(plantsFixture(), nil, "x"))
}

func TestSubscribersSeeWrites(t *testing.T) {
	s := New()
	var seen []int
	unsub := s.SubscribeSprays(func(v entities.Sprays) { seen = append(seen, v.Duration[0]) })
	defer unsub()

	sp := s.Sprays()
	sp.Duration[0] = 5
	s.SetSprays(sp)
	s.RevertConfig()

	assert.Equal(t, []int{2, 5, 2}, seen)
}

func TestSubscribersMayReadTheStore(t *testing.T) {
	s := New()
	var dirty []bool
	var durations []int
	unsub := s.SubscribeSprays(func(entities.Sprays) {
		dirty = append(dirty, s.IsDirty())
		durations = append(durations, s.CurrentConfig().Sprays.Duration[0])
	})
	defer unsub()

	done := make(chan struct{})
	go func() {
		defer close(done)
		sp := s.Sprays()
		sp.Duration[0] = 7
		s.SetSprays(sp)
		s.SaveConfig()
		s.ApplyConfig(Candidate{})
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("write did not return while a subscriber read the store")
	}

	assert.Equal(t, []bool{false, true, true}, dirty)
	assert.Equal(t, []int{2, 7, 2}, durations)
}

func TestConcurrentWritersLastWriteWins(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.SetConfidence(entities.ObjectDetection, float64(i)/100)
			_ = s.IsDirty()
			_ = s.CurrentConfig()
		}(i)
	}
	wg.Wait()
	c := s.CurrentConfig().ObjectDetectionConfidence
	assert.GreaterOrEqual(t, c, 0.0)
	assert.Less(t, c, 0.2)
}

type modelList map[entities.ModelKind][]entities.DetectionModel

func (m modelList) Models(k entities.ModelKind) []entities.DetectionModel { return m[k] }

func TestSQLiteRepositoryRestore(t *testing.T) {
	ctx := context.Background()
	repo, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	defer repo.Close()

	s := New()
	ok, err := Restore(ctx, repo, nil, s)
	require.NoError(t, err)
	assert.False(t, ok)

	first := entities.DefaultConfiguration()
	first.Sprays.Spray[0] = "Water"
	require.NoError(t, repo.Save(ctx, first))

	second := first.Clone()
	second.StageClassification = "s2"
	second.DetectedPlants = []entities.DetectedPlant{{Key: "lettuce", Timestamp: "2025-01-01 00:00:00"}}
	require.NoError(t, repo.Save(ctx, second))

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	ok, err = Restore(ctx, repo, modelList{entities.ObjectDetection: {{Version: "od-1"}}}, s)
	require.NoError(t, err)
	require.True(t, ok)

	cur := s.CurrentConfig()
	assert.False(t, s.IsDirty())
	assert.Equal(t, "s2", cur.StageClassification)
	assert.Equal(t, "od-1", cur.ObjectDetection)
	assert.Equal(t, "", cur.DiseaseSegmentation)
	assert.Equal(t, "Water", cur.Sprays.Spray[0])
	require.Len(t, cur.DetectedPlants, 1)
}
