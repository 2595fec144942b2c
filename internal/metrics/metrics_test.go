package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"testline/internal/domain"
)

var fixedNow = time.Date(2024, 6, 30, 15, 0, 0, 0, time.UTC)

func strp(s string) *string { return &s }
func intp(i int) *int       { return &i }

func rec(status string, opts ...func(*domain.ExecutionRecord)) domain.ExecutionRecord {
	r := domain.ExecutionRecord{ID: status, Status: status, ProjectID: "p1", ProjectName: "Payments"}
	for _, o := range opts {
		o(&r)
	}
	return r
}

func at(ts string) func(*domain.ExecutionRecord) {
	return func(r *domain.ExecutionRecord) { r.ExecutionDate = strp(ts) }
}

func minutes(m int) func(*domain.ExecutionRecord) {
	return func(r *domain.ExecutionRecord) { r.ExecutionTimeMinutes = intp(m) }
}

func by(id, full string) func(*domain.ExecutionRecord) {
	return func(r *domain.ExecutionRecord) {
		r.ExecutorID = strp(id)
		r.ExecutorUsername = strp(id)
		if full != "" {
			r.ExecutorFullName = strp(full)
		}
	}
}

func project(id, name string) func(*domain.ExecutionRecord) {
	return func(r *domain.ExecutionRecord) { r.ProjectID, r.ProjectName = id, name }
}

func calc() Calculator {
	return Calculator{Now: func() time.Time { return fixedNow }}
}

func TestEmptyCollection(t *testing.T) {
	res := calc().Compute(context.Background(), nil)
	require.True(t, res.Complete())
	assert.Equal(t, 0, res.Total)
	assert.Equal(t, 0.0, res.PassRate)
	assert.Equal(t, 0.0, res.AvgExecutionTime)
	assert.Empty(t, res.ProjectsBreakdown)
	assert.Empty(t, res.AssigneePerformance)
	assert.Len(t, res.Trends, 30)
	for _, p := range res.Trends {
		assert.Zero(t, p.Total)
	}
	assert.Len(t, res.StatusCounts, 6)
}

func TestPassRateScenario(t *testing.T) {
	var records []domain.ExecutionRecord
	for i := 0; i < 6; i++ {
		records = append(records, rec(domain.ExecPassed))
	}
	records = append(records, rec(domain.ExecFailed), rec(domain.ExecFailed), rec(domain.ExecSkipped), rec(domain.ExecNotExecuted))

	res := calc().Compute(context.Background(), records)
	require.True(t, res.Complete())
	assert.Equal(t, 10, res.Total)
	assert.Equal(t, 9, res.ExecutedCount)
	assert.InDelta(t, 66.67, res.PassRate, 0.01)

	sum := 0
	for _, n := range res.StatusCounts {
		sum += n
	}
	assert.Equal(t, res.Total, sum)

	require.Len(t, res.ProjectsBreakdown, 1)
	assert.InDelta(t, 75.0, res.ProjectsBreakdown[0].PassRate, 0.001, "project rate uses passed+failed")
}

func TestPassRateZeroWhenNothingExecuted(t *testing.T) {
	res := calc().Compute(context.Background(), []domain.ExecutionRecord{rec(domain.ExecNotExecuted), rec(domain.ExecInProgress)})
	assert.Equal(t, 0.0, res.PassRate)
	assert.Equal(t, 0, res.ExecutedCount)
}

func TestDurationsIgnoreNulls(t *testing.T) {
	records := []domain.ExecutionRecord{
		rec(domain.ExecPassed, minutes(10)),
		rec(domain.ExecFailed, minutes(5)),
		rec(domain.ExecPassed),
	}
	res := calc().Compute(context.Background(), records)
	assert.InDelta(t, 7.5, res.AvgExecutionTime, 0.001)
	assert.Equal(t, 15.0, res.TotalExecutionTime)

	allNull := calc().Compute(context.Background(), []domain.ExecutionRecord{rec(domain.ExecPassed)})
	assert.Equal(t, 0.0, allNull.AvgExecutionTime)
}

func TestBreakdownsOrdering(t *testing.T) {
	records := []domain.ExecutionRecord{
		rec(domain.ExecPassed, project("p2", "Checkout"), by("u1", "Ada Lovelace")),
		rec(domain.ExecPassed, project("p2", "Checkout"), by("u2", "")),
		rec(domain.ExecFailed, project("p2", "Checkout"), by("u2", "")),
		rec(domain.ExecPassed, project("p1", "Payments"), by("u2", "")),
		rec(domain.ExecBlocked, project("p1", "Payments")),
	}
	res := calc().Compute(context.Background(), records)
	require.Len(t, res.ProjectsBreakdown, 2)
	assert.Equal(t, "Checkout", res.ProjectsBreakdown[0].Name)
	assert.Equal(t, 3, res.ProjectsBreakdown[0].Total)

	require.Len(t, res.AssigneePerformance, 2)
	assert.Equal(t, "u2", res.AssigneePerformance[0].Name)
	assert.Equal(t, 3, res.AssigneePerformance[0].Executions)
	assert.InDelta(t, 66.67, res.AssigneePerformance[0].PassRate, 0.01)
	assert.Equal(t, "Ada Lovelace", res.AssigneePerformance[1].Name)
	assert.Equal(t, 2, res.UniqueExecutors)
}

func TestTrendsWindow(t *testing.T) {
	records := []domain.ExecutionRecord{
		rec(domain.ExecPassed, at("2024-06-30T01:00:00Z")),
		rec(domain.ExecFailed, at("2024-06-30T23:59:00Z")),
		rec(domain.ExecPassed, at("2024-06-01T12:00:00Z")),
		rec(domain.ExecPassed, at("2024-05-31T12:00:00Z")),
		rec(domain.ExecPassed),
	}
	res := calc().Compute(context.Background(), records)
	require.Len(t, res.Trends, 30)
	first, last := res.Trends[0], res.Trends[29]
	assert.Equal(t, "2024-06-01", first.Date)
	assert.Equal(t, "06/01", first.Label)
	assert.Equal(t, 1, first.Total)
	assert.Equal(t, "2024-06-30", last.Date)
	assert.Equal(t, 2, last.Total)
	assert.Equal(t, 1, last.Passed)
	assert.Equal(t, 1, last.Failed)
}

func TestCancelledContextYieldsPartial(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := calc().Compute(ctx, []domain.ExecutionRecord{rec(domain.ExecPassed)})
	require.False(t, res.Complete())
	assert.ErrorIs(t, res.Cause, context.Canceled)
	assert.Empty(t, res.Stages)
	assert.Equal(t, 0, res.Total)
	assert.NotNil(t, res.ProjectsBreakdown)
}

func TestRunStageRecoversPanic(t *testing.T) {
	s := emptySnapshot()
	err := runStage(&s, nil, func(*Snapshot, []domain.ExecutionRecord) { panic("boom") })
	require.Error(t, err)
	assert.True(t, errors.Is(err, errStagePanic))
}

func TestTimeSeries(t *testing.T) {
	records := []domain.ExecutionRecord{
		rec(domain.ExecPassed, at("2024-06-03T10:00:00Z"), minutes(4)),
		rec(domain.ExecFailed, at("2024-06-05T10:00:00Z"), minutes(6)),
		rec(domain.ExecPassed, at("2024-06-10T10:00:00Z")),
		rec(domain.ExecPassed, at("2024-07-01T10:00:00Z"), minutes(1)),
		rec(domain.ExecPassed),
	}
	week, err := TimeSeries(records, "week")
	require.NoError(t, err)
	require.Len(t, week.Points, 3)
	assert.Equal(t, "2024-06-03", week.Points[0].Period)
	assert.Equal(t, 2, week.Points[0].Total)
	assert.InDelta(t, 5.0, week.Points[0].AvgDuration, 0.001)
	assert.Equal(t, 0.0, week.Points[1].AvgDuration)

	month, err := TimeSeries(records, ByMonth)
	require.NoError(t, err)
	require.Len(t, month.Points, 2)
	assert.Equal(t, "2024-06", month.Points[0].Label)
	assert.Equal(t, 3, month.Points[0].Total)

	empty, err := TimeSeries(nil, ByDay)
	require.NoError(t, err)
	assert.NotNil(t, empty.Points)
	assert.Empty(t, empty.Points)

	_, err = TimeSeries(records, "hour")
	assert.Error(t, err)
}
