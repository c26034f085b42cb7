package normalize

import (
	"math"

	"github.com/LeonardoBeccarini/agribot_dashboard/internal/model/entities"
	"github.com/LeonardoBeccarini/agribot_dashboard/pkg/timefmt"
)

const (
	defaultRunTime = "12:00"
	maxRunsPerDay  = 24
	runMinutes     = 60
)

// Schedule normalizes a raw schedule object.
//
// Runs come from the first tier that applies:
//  1. a non-empty "runs" array, each entry coerced on its own;
//  2. a legacy single window given by "time" and/or "upto";
//  3. "runsPerDay" consecutive one-hour windows starting at "defaultTime".
func Schedule(raw any) entities.Schedule {
	m, _ := object(raw)

	freq, _ := str(field(m, "frequency"))
	if !entities.IsValidFrequency(freq) {
		freq = entities.DefaultFrequency
	}

	days := []string{}
	if list, ok := array(field(m, "days")); ok {
		for _, d := range list {
			if s, ok := str(d); ok && entities.IsValidDay(s) {
				days = append(days, s)
			}
		}
	}

	return entities.Schedule{Frequency: freq, Runs: scheduleRuns(m), Days: days}
}

func scheduleRuns(m map[string]any) []entities.Run {
	if list, ok := array(field(m, "runs")); ok && len(list) > 0 {
		runs := make([]entities.Run, 0, len(list))
		for _, r := range list {
			rm, _ := object(r)
			runs = append(runs, window(field(rm, "time"), field(rm, "upto")))
		}
		return runs
	}

	_, hasTime := str(field(m, "time"))
	_, hasUpto := str(field(m, "upto"))
	if hasTime || hasUpto {
		return []entities.Run{window(field(m, "time"), field(m, "upto"))}
	}

	count := 1
	if n, ok := number(field(m, "runsPerDay")); ok && n > 0 {
		count = int(math.Min(maxRunsPerDay, math.Floor(n)))
		if count < 1 {
			count = 1
		}
	}
	base, _ := str(field(m, "defaultTime"))
	if !timefmt.IsValidClock(base) {
		base = defaultRunTime
	}

	runs := make([]entities.Run, count)
	for i := range runs {
		start := timefmt.AddMinutes(base, i*runMinutes)
		runs[i] = entities.Run{Time: start, Upto: timefmt.AddMinutes(start, runMinutes)}
	}
	return runs
}

// window coerces one run: an invalid start becomes 12:00, an invalid end becomes start+60.
func window(rawTime, rawUpto any) entities.Run {
	start, _ := str(rawTime)
	if !timefmt.IsValidClock(start) {
		start = defaultRunTime
	}
	end, _ := str(rawUpto)
	if !timefmt.IsValidClock(end) {
		end = timefmt.AddMinutes(start, runMinutes)
	}
	return entities.Run{Time: start, Upto: end}
}
