// Package metrics aggregates execution records into report snapshots.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"testline/internal/domain"
)

const DefaultTrendDays = 30

type ProjectStats struct {
	ProjectID        string  `json:"project_id"`
	Name             string  `json:"name"`
	Total            int     `json:"total"`
	Passed           int     `json:"passed"`
	Failed           int     `json:"failed"`
	PassRate         float64 `json:"pass_rate"`
	AvgExecutionTime float64 `json:"avg_execution_time"`
	LastExecution    *string `json:"last_execution,omitempty" format:"date-time"`
}

type AssigneeStats struct {
	ExecutorID       string  `json:"executor_id"`
	Name             string  `json:"name"`
	Executions       int     `json:"executions"`
	Passed           int     `json:"passed"`
	Failed           int     `json:"failed"`
	PassRate         float64 `json:"pass_rate"`
	AvgExecutionTime float64 `json:"avg_execution_time"`
}

type TrendPoint struct {
	Date   string `json:"date"`
	Label  string `json:"label"`
	Total  int    `json:"total"`
	Passed int    `json:"passed"`
	Failed int    `json:"failed"`
}

// Snapshot is the aggregate view over a filtered execution collection.
type Snapshot struct {
	Total               int             `json:"total"`
	StatusCounts        map[string]int  `json:"status_counts"`
	ExecutedCount       int             `json:"executed_count"`
	PassRate            float64         `json:"pass_rate"`
	AvgExecutionTime    float64         `json:"avg_execution_time"`
	TotalExecutionTime  float64         `json:"total_execution_time"`
	UniqueExecutors     int             `json:"unique_executors"`
	ProjectsBreakdown   []ProjectStats  `json:"projects_breakdown"`
	AssigneePerformance []AssigneeStats `json:"assignee_performance"`
	Trends              []TrendPoint    `json:"trends"`
}

// Result is either complete or partial. A partial result carries the stages
// that finished and the cause that stopped the rest; fields of unfinished
// stages hold their zero values.
type Result struct {
	Snapshot
	Stages []string
	Cause  error
}

func (r Result) Complete() bool { return r.Cause == nil }

// Stage names in computation order.
const (
	StageCounts    = "counts"
	StageDurations = "durations"
	StageExecutors = "executors"
	StageProjects  = "projects"
	StageAssignees = "assignees"
	StageTrends    = "trends"
)

type Calculator struct {
	Log       *zap.Logger
	Now       func() time.Time
	TrendDays int
}

func (c Calculator) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c Calculator) log() *zap.Logger {
	if c.Log != nil {
		return c.Log
	}
	return zap.NewNop()
}

func emptySnapshot() Snapshot {
	counts := make(map[string]int, len(domain.ExecutionStatuses()))
	for _, s := range domain.ExecutionStatuses() {
		counts[s] = 0
	}
	return Snapshot{
		StatusCounts:        counts,
		ProjectsBreakdown:   []ProjectStats{},
		AssigneePerformance: []AssigneeStats{},
		Trends:              []TrendPoint{},
	}
}

// Compute builds a snapshot stage by stage. Cancellation or a failure inside a
// stage stops the computation and yields a partial result; it never panics.
func (c Calculator) Compute(ctx context.Context, records []domain.ExecutionRecord) Result {
	res := Result{Snapshot: emptySnapshot()}
	stages := []struct {
		name string
		fn   func(*Snapshot, []domain.ExecutionRecord)
	}{
		{StageCounts, countStatuses},
		{StageDurations, durations},
		{StageExecutors, uniqueExecutors},
		{StageProjects, projectBreakdown},
		{StageAssignees, assigneePerformance},
		{StageTrends, func(s *Snapshot, recs []domain.ExecutionRecord) { s.Trends = c.trends(recs) }},
	}
	for _, st := range stages {
		if err := ctx.Err(); err != nil {
			res.Cause = fmt.Errorf("metrics %s: %w", st.name, err)
			break
		}
		if err := runStage(&res.Snapshot, records, st.fn); err != nil {
			res.Cause = fmt.Errorf("metrics %s: %w", st.name, err)
			break
		}
		res.Stages = append(res.Stages, st.name)
	}
	if res.Cause != nil {
		c.log().Warn("execution metrics incomplete",
			zap.Error(res.Cause),
			zap.Int("records", len(records)),
			zap.Strings("completed_stages", res.Stages))
	}
	return res
}

var errStagePanic = errors.New("stage panicked")

func runStage(s *Snapshot, records []domain.ExecutionRecord, fn func(*Snapshot, []domain.ExecutionRecord)) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errStagePanic, r)
		}
	}()
	fn(s, records)
	return nil
}

// PassRate is passed over denominator as a percentage, 0 when denominator is 0.
func PassRate(passed, denominator int) float64 {
	if denominator <= 0 {
		return 0
	}
	return round2(float64(passed) / float64(denominator) * 100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

type durationAcc struct {
	sum   int
	count int
}

func (d *durationAcc) add(m *int) {
	if m == nil {
		return
	}
	d.sum += *m
	d.count++
}

func (d durationAcc) avg() float64 {
	if d.count == 0 {
		return 0
	}
	return round2(float64(d.sum) / float64(d.count))
}

func countStatuses(s *Snapshot, records []domain.ExecutionRecord) {
	s.Total = len(records)
	for _, r := range records {
		s.StatusCounts[r.Status]++
		if domain.Executed(r.Status) {
			s.ExecutedCount++
		}
	}
	s.PassRate = PassRate(s.StatusCounts[domain.ExecPassed], s.ExecutedCount)
}

func durations(s *Snapshot, records []domain.ExecutionRecord) {
	var acc durationAcc
	for _, r := range records {
		acc.add(r.ExecutionTimeMinutes)
	}
	s.AvgExecutionTime = acc.avg()
	s.TotalExecutionTime = float64(acc.sum)
}

func uniqueExecutors(s *Snapshot, records []domain.ExecutionRecord) {
	seen := map[string]struct{}{}
	for _, r := range records {
		if r.ExecutorID != nil {
			seen[*r.ExecutorID] = struct{}{}
		}
	}
	s.UniqueExecutors = len(seen)
}

func projectBreakdown(s *Snapshot, records []domain.ExecutionRecord) {
	type acc struct {
		stats ProjectStats
		dur   durationAcc
		last  time.Time
	}
	byID := map[string]*acc{}
	for _, r := range records {
		a, ok := byID[r.ProjectID]
		if !ok {
			a = &acc{stats: ProjectStats{ProjectID: r.ProjectID, Name: r.ProjectName}}
			byID[r.ProjectID] = a
		}
		a.stats.Total++
		switch r.Status {
		case domain.ExecPassed:
			a.stats.Passed++
		case domain.ExecFailed:
			a.stats.Failed++
		}
		a.dur.add(r.ExecutionTimeMinutes)
		if at, ok := r.ExecutedAt(); ok && at.After(a.last) {
			a.last = at
			v := at.UTC().Format(time.RFC3339)
			a.stats.LastExecution = &v
		}
	}
	out := make([]ProjectStats, 0, len(byID))
	for _, a := range byID {
		a.stats.PassRate = PassRate(a.stats.Passed, a.stats.Passed+a.stats.Failed)
		a.stats.AvgExecutionTime = a.dur.avg()
		out = append(out, a.stats)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].Name < out[j].Name
	})
	s.ProjectsBreakdown = out
}

func assigneePerformance(s *Snapshot, records []domain.ExecutionRecord) {
	type acc struct {
		stats AssigneeStats
		dur   durationAcc
	}
	byID := map[string]*acc{}
	for _, r := range records {
		if r.ExecutorID == nil {
			continue
		}
		a, ok := byID[*r.ExecutorID]
		if !ok {
			a = &acc{stats: AssigneeStats{ExecutorID: *r.ExecutorID, Name: r.ExecutorName()}}
			byID[*r.ExecutorID] = a
		}
		a.stats.Executions++
		switch r.Status {
		case domain.ExecPassed:
			a.stats.Passed++
		case domain.ExecFailed:
			a.stats.Failed++
		}
		a.dur.add(r.ExecutionTimeMinutes)
	}
	out := make([]AssigneeStats, 0, len(byID))
	for _, a := range byID {
		a.stats.PassRate = PassRate(a.stats.Passed, a.stats.Passed+a.stats.Failed)
		a.stats.AvgExecutionTime = a.dur.avg()
		out = append(out, a.stats)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Executions != out[j].Executions {
			return out[i].Executions > out[j].Executions
		}
		return out[i].Name < out[j].Name
	})
	s.AssigneePerformance = out
}

// trends returns one point per calendar day (UTC) for the window ending
// today, oldest first.
func (c Calculator) trends(records []domain.ExecutionRecord) []TrendPoint {
	days := c.TrendDays
	if days <= 0 {
		days = DefaultTrendDays
	}
	y, m, d := c.now().UTC().Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	points := make([]TrendPoint, days)
	index := make(map[string]int, days)
	for i := 0; i < days; i++ {
		day := today.AddDate(0, 0, i-days+1)
		key := day.Format("2006-01-02")
		points[i] = TrendPoint{Date: key, Label: day.Format("01/02")}
		index[key] = i
	}
	for _, r := range records {
		at, ok := r.ExecutedAt()
		if !ok {
			continue
		}
		i, ok := index[at.UTC().Format("2006-01-02")]
		if !ok {
			continue
		}
		points[i].Total++
		switch r.Status {
		case domain.ExecPassed:
			points[i].Passed++
		case domain.ExecFailed:
			points[i].Failed++
		}
	}
	return points
}
