package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"testline/internal/domain"
	"testline/internal/metrics"
	"testline/internal/repo"
)

// ReportPageSize is the number of executions per report page.
const ReportPageSize = 20

type Dashboard struct {
	repo.Counts
	TotalExecutions  int                      `json:"total_executions"`
	PassedExecutions int                      `json:"passed_executions"`
	PassRate         float64                  `json:"pass_rate"`
	RecentCount      int                      `json:"recent_executions_count"`
	RecentDays       int                      `json:"recent_days"`
	Recent           []domain.ExecutionRecord `json:"recent_executions"`
}

// Dashboard summarises everything the acting user owns.
func (e Engine) Dashboard(ctx context.Context, scope domain.Scope) (Dashboard, error) {
	counts, err := e.Repo.CountOwned(ctx, scope)
	if err != nil {
		return Dashboard{}, err
	}
	records, err := e.Repo.ListExecutionRecords(ctx, scope, repo.ExecutionFilter{Order: repo.OrderRecent})
	if err != nil {
		return Dashboard{}, err
	}
	c := e.cfg().Reports
	d := Dashboard{
		Counts:          counts,
		TotalExecutions: len(records),
		RecentDays:      c.RecentDays,
		Recent:          []domain.ExecutionRecord{},
	}
	since := e.now().Add(-time.Duration(c.RecentDays) * 24 * time.Hour)
	executed := 0
	for _, r := range records {
		if domain.Executed(r.Status) {
			executed++
			if r.Status == domain.ExecPassed {
				d.PassedExecutions++
			}
		}
		at, ok := r.ExecutedAt()
		if !ok {
			continue
		}
		if !at.Before(since) {
			d.RecentCount++
		}
		if len(d.Recent) < c.DashboardRecent {
			d.Recent = append(d.Recent, r)
		}
	}
	d.PassRate = metrics.PassRate(d.PassedExecutions, executed)
	return d, nil
}

// checkFilter validates report filter values that refer to other entities.
func (e Engine) checkFilter(ctx context.Context, scope domain.Scope, f repo.ExecutionFilter) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	if f.Status != "" && !domain.ValidExecutionStatus(f.Status) {
		return domain.ValidationErrors{{Field: "status", Message: "Select a valid choice."}}
	}
	if f.Order != "" && f.Order != repo.OrderPriority && f.Order != repo.OrderRecent {
		return invalid("unknown order %q", f.Order)
	}
	if f.DateFrom != nil && f.DateTo != nil && f.DateTo.Before(*f.DateFrom) {
		return domain.ValidationErrors{{Field: "date_to", Message: "date_to must not be before date_from"}}
	}
	if f.EpicID != "" && f.ProjectID != "" {
		epic, err := e.Repo.GetEpic(ctx, scope, f.EpicID)
		if err != nil {
			return err
		}
		if epic.ProjectID != f.ProjectID {
			return domain.ValidationErrors{{Field: "epic", Message: "epic does not belong to the selected project"}}
		}
	}
	return nil
}

type ReportPage struct {
	Records   []domain.ExecutionRecord `json:"records"`
	Total     int                      `json:"total"`
	Page      int                      `json:"page"`
	PageSize  int                      `json:"page_size"`
	Pages     int                      `json:"pages"`
	DateRange string                   `json:"date_range"`
}

// ExecutionReport lists filtered executions, newest first. Out-of-range
// pages are clamped to the last page.
func (e Engine) ExecutionReport(ctx context.Context, scope domain.Scope, f repo.ExecutionFilter, page int) (ReportPage, error) {
	if err := e.checkFilter(ctx, scope, f); err != nil {
		return ReportPage{}, err
	}
	total, err := e.Repo.CountExecutionRecords(ctx, scope, f)
	if err != nil {
		return ReportPage{}, err
	}
	pages := (total + ReportPageSize - 1) / ReportPageSize
	if pages == 0 {
		pages = 1
	}
	if page < 1 {
		page = 1
	}
	if page > pages {
		page = pages
	}
	f.Order = repo.OrderRecent
	f.Limit = ReportPageSize
	f.Offset = (page - 1) * ReportPageSize
	records, err := e.Repo.ListExecutionRecords(ctx, scope, f)
	if err != nil {
		return ReportPage{}, err
	}
	if records == nil {
		records = []domain.ExecutionRecord{}
	}
	return ReportPage{
		Records:   records,
		Total:     total,
		Page:      page,
		PageSize:  ReportPageSize,
		Pages:     pages,
		DateRange: f.DateRange(),
	}, nil
}

func (e Engine) filteredRecords(ctx context.Context, scope domain.Scope, f repo.ExecutionFilter) ([]domain.ExecutionRecord, error) {
	if err := e.checkFilter(ctx, scope, f); err != nil {
		return nil, err
	}
	f.Limit, f.Offset = 0, 0
	if f.Order == "" {
		f.Order = repo.OrderRecent
	}
	return e.Repo.ListExecutionRecords(ctx, scope, f)
}

// ExecutionMetrics computes the metrics snapshot over the filtered
// executions. A partial result is logged and returned with its cause.
func (e Engine) ExecutionMetrics(ctx context.Context, scope domain.Scope, f repo.ExecutionFilter) (metrics.Result, error) {
	records, err := e.filteredRecords(ctx, scope, f)
	if err != nil {
		return metrics.Result{}, err
	}
	res := e.calculator().Compute(ctx, records)
	if !res.Complete() {
		e.log().Warn("partial execution metrics", zap.String("user_id", scope.UserID), zap.Strings("stages", res.Stages), zap.Error(res.Cause))
	}
	return res, nil
}

// ExecutionTimeSeries buckets the filtered executions by day, week or month.
func (e Engine) ExecutionTimeSeries(ctx context.Context, scope domain.Scope, f repo.ExecutionFilter, granularity string) (metrics.Series, error) {
	if granularity == "" {
		granularity = metrics.ByDay
	}
	if !metrics.ValidGranularity(granularity) {
		return metrics.Series{}, invalid("granularity must be day, week or month, got %q", granularity)
	}
	records, err := e.filteredRecords(ctx, scope, f)
	if err != nil {
		return metrics.Series{}, err
	}
	return metrics.TimeSeries(records, granularity)
}

// ExportTestCasesExcel writes the test cases matching f to an xlsx workbook.
func (e Engine) ExportTestCasesExcel(ctx context.Context, scope domain.Scope, f repo.TestCaseFilter) ([]byte, error) {
	f.Limit, f.Cursor = 0, repo.Cursor{}
	cases, err := e.Repo.ListTestCases(ctx, scope, f)
	if err != nil {
		return nil, err
	}
	return e.exporter().TestCasesExcel(cases)
}

func (e Engine) ExportExecutionsExcel(ctx context.Context, scope domain.Scope, f repo.ExecutionFilter) ([]byte, error) {
	f.Order = repo.OrderRecent
	records, err := e.filteredRecords(ctx, scope, f)
	if err != nil {
		return nil, err
	}
	return e.exporter().ExecutionsExcel(records)
}

// ExportExecutionsPDF renders the filtered executions with their summary.
// A partial summary still produces a report from the stages that finished.
func (e Engine) ExportExecutionsPDF(ctx context.Context, scope domain.Scope, f repo.ExecutionFilter) ([]byte, error) {
	f.Order = repo.OrderRecent
	records, err := e.filteredRecords(ctx, scope, f)
	if err != nil {
		return nil, err
	}
	summary := e.calculator().Compute(ctx, records)
	if !summary.Complete() {
		e.log().Warn("pdf export with partial summary", zap.String("user_id", scope.UserID), zap.Error(summary.Cause))
	}
	return e.exporter().ExecutionsPDF(records, summary.Snapshot, f.DateRange())
}

// ListEvents lists the audit events caused by the acting user.
func (e Engine) ListEvents(ctx context.Context, scope domain.Scope, f repo.EventFilter) ([]domain.Event, error) {
	return e.Repo.ListEvents(ctx, scope, f)
}
