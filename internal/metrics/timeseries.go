package metrics

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"testline/internal/domain"
)

const (
	ByDay   = "day"
	ByWeek  = "week"
	ByMonth = "month"
)

type SeriesPoint struct {
	// Period is the first day of the bucket, YYYY-MM-DD.
	Period        string  `json:"period"`
	Label         string  `json:"label"`
	Total         int     `json:"total"`
	Passed        int     `json:"passed"`
	Failed        int     `json:"failed"`
	AvgDuration   float64 `json:"avg_duration"`
	TotalDuration float64 `json:"total_duration"`
}

type Series struct {
	Granularity string        `json:"granularity"`
	Points      []SeriesPoint `json:"points"`
}

func ValidGranularity(g string) bool {
	switch g {
	case ByDay, ByWeek, ByMonth:
		return true
	}
	return false
}

func bucket(t time.Time, granularity string) (time.Time, string) {
	y, m, d := t.UTC().Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	switch granularity {
	case ByWeek:
		// Weeks start on Monday.
		offset := (int(day.Weekday()) + 6) % 7
		start := day.AddDate(0, 0, -offset)
		yr, wk := start.ISOWeek()
		return start, fmt.Sprintf("%d-W%02d", yr, wk)
	case ByMonth:
		start := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
		return start, start.Format("2006-01")
	default:
		return day, day.Format("2006-01-02")
	}
}

// TimeSeries groups executed records into day, week or month buckets.
// Records without an execution date are skipped; durations ignore nulls.
func TimeSeries(records []domain.ExecutionRecord, granularity string) (Series, error) {
	granularity = strings.ToLower(strings.TrimSpace(granularity))
	if granularity == "" {
		granularity = ByDay
	}
	if !ValidGranularity(granularity) {
		return Series{}, fmt.Errorf("unknown granularity %q: use day, week or month", granularity)
	}
	type acc struct {
		point SeriesPoint
		dur   durationAcc
	}
	buckets := map[string]*acc{}
	for _, r := range records {
		at, ok := r.ExecutedAt()
		if !ok {
			continue
		}
		start, label := bucket(at, granularity)
		key := start.Format("2006-01-02")
		a, ok := buckets[key]
		if !ok {
			a = &acc{point: SeriesPoint{Period: key, Label: label}}
			buckets[key] = a
		}
		a.point.Total++
		switch r.Status {
		case domain.ExecPassed:
			a.point.Passed++
		case domain.ExecFailed:
			a.point.Failed++
		}
		a.dur.add(r.ExecutionTimeMinutes)
	}
	points := make([]SeriesPoint, 0, len(buckets))
	for _, a := range buckets {
		a.point.AvgDuration = a.dur.avg()
		a.point.TotalDuration = float64(a.dur.sum)
		points = append(points, a.point)
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Period < points[j].Period })
	return Series{Granularity: granularity, Points: points}, nil
}
