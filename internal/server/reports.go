package server

import (
	"context"
	"fmt"
	"mime/multipart"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"testline/internal/engine"
	"testline/internal/importer"
	"testline/internal/metrics"
	"testline/internal/repo"
)

const (
	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	pdfContentType  = "application/pdf"
)

// reportQuery is the shared execution filter of reports, metrics and
// execution exports. Dates are YYYY-MM-DD; date_to includes the whole day.
type reportQuery struct {
	DateFrom   string `query:"date_from" doc:"YYYY-MM-DD"`
	DateTo     string `query:"date_to" doc:"YYYY-MM-DD, inclusive"`
	ProjectID  string `query:"project_id"`
	EpicID     string `query:"epic_id"`
	StoryID    string `query:"story_id"`
	Status     string `query:"status"`
	ExecutorID string `query:"executor_id"`
	RunID      string `query:"run_id"`
}

func (q reportQuery) filter() (repo.ExecutionFilter, error) {
	from, err := repo.ParseDate(q.DateFrom)
	if err != nil {
		return repo.ExecutionFilter{}, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"date_from": q.DateFrom})
	}
	to, err := repo.ParseDate(q.DateTo)
	if err != nil {
		return repo.ExecutionFilter{}, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"date_to": q.DateTo})
	}
	return repo.ExecutionFilter{
		DateFrom:   from,
		DateTo:     to,
		ProjectID:  q.ProjectID,
		EpicID:     q.EpicID,
		StoryID:    q.StoryID,
		Status:     q.Status,
		ExecutorID: q.ExecutorID,
		RunID:      q.RunID,
	}, nil
}

type fileOutput struct {
	ContentType        string `header:"Content-Type"`
	ContentDisposition string `header:"Content-Disposition"`
	Body               []byte
}

func download(data []byte, contentType, filename string) *fileOutput {
	return &fileOutput{
		ContentType:        contentType,
		ContentDisposition: fmt.Sprintf("attachment; filename=%q", filename),
		Body:               data,
	}
}

func registerReports(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "dashboard",
		Method:      http.MethodGet,
		Path:        "/dashboard",
		Summary:     "Counts, pass rate and recent executions of the current user",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body engine.Dashboard `json:"body"`
	}, error) {
		scope, err := requireScope(ctx)
		if err != nil {
			return nil, err
		}
		d, err := e.Dashboard(ctx, scope)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.Dashboard `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "execution-report",
		Method:      http.MethodGet,
		Path:        "/reports/executions",
		Summary:     "Filtered executions, newest first",
		Errors:      crudErrors,
	}, func(ctx context.Context, input *struct {
		reportQuery
		Page int `query:"page" default:"1"`
	}) (*struct {
		Body engine.ReportPage `json:"body"`
	}, error) {
		scope, err := requireScope(ctx)
		if err != nil {
			return nil, err
		}
		f, err := input.filter()
		if err != nil {
			return nil, err
		}
		p, err := e.ExecutionReport(ctx, scope, f, input.Page)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ReportPage `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "execution-metrics",
		Method:      http.MethodGet,
		Path:        "/reports/metrics",
		Summary:     "Execution metrics snapshot",
		Description: "complete is false when a stage failed; the finished stages are listed and partial_cause says why.",
		Errors:      crudErrors,
	}, func(ctx context.Context, input *reportQuery) (*struct {
		Body MetricsResponse `json:"body"`
	}, error) {
		scope, err := requireScope(ctx)
		if err != nil {
			return nil, err
		}
		f, err := input.filter()
		if err != nil {
			return nil, err
		}
		res, err := e.ExecutionMetrics(ctx, scope, f)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MetricsResponse `json:"body"`
		}{Body: metricsResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "execution-timeseries",
		Method:      http.MethodGet,
		Path:        "/reports/timeseries",
		Summary:     "Executions bucketed by day, week or month",
		Errors:      crudErrors,
	}, func(ctx context.Context, input *struct {
		reportQuery
		Granularity string `query:"granularity" enum:"day,week,month" default:"day"`
	}) (*struct {
		Body metrics.Series `json:"body"`
	}, error) {
		scope, err := requireScope(ctx)
		if err != nil {
			return nil, err
		}
		f, err := input.filter()
		if err != nil {
			return nil, err
		}
		series, err := e.ExecutionTimeSeries(ctx, scope, f, input.Granularity)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body metrics.Series `json:"body"`
		}{Body: series}, nil
	})
}

func registerExports(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "export-test-cases",
		Method:      http.MethodGet,
		Path:        "/exports/test-cases.xlsx",
		Summary:     "Export test cases to Excel",
		Errors:      crudErrors,
	}, func(ctx context.Context, input *testCaseQuery) (*fileOutput, error) {
		scope, err := requireScope(ctx)
		if err != nil {
			return nil, err
		}
		data, err := e.ExportTestCasesExcel(ctx, scope, input.filter())
		if err != nil {
			return nil, handleError(err)
		}
		return download(data, xlsxContentType, "test_cases.xlsx"), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "export-executions-xlsx",
		Method:      http.MethodGet,
		Path:        "/exports/executions.xlsx",
		Summary:     "Export filtered executions to Excel",
		Errors:      crudErrors,
	}, func(ctx context.Context, input *reportQuery) (*fileOutput, error) {
		scope, err := requireScope(ctx)
		if err != nil {
			return nil, err
		}
		f, err := input.filter()
		if err != nil {
			return nil, err
		}
		data, err := e.ExportExecutionsExcel(ctx, scope, f)
		if err != nil {
			return nil, handleError(err)
		}
		return download(data, xlsxContentType, "test_executions.xlsx"), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "export-executions-pdf",
		Method:      http.MethodGet,
		Path:        "/exports/executions.pdf",
		Summary:     "Execution report as PDF",
		Errors:      crudErrors,
	}, func(ctx context.Context, input *reportQuery) (*fileOutput, error) {
		scope, err := requireScope(ctx)
		if err != nil {
			return nil, err
		}
		f, err := input.filter()
		if err != nil {
			return nil, err
		}
		data, err := e.ExportExecutionsPDF(ctx, scope, f)
		if err != nil {
			return nil, handleError(err)
		}
		return download(data, pdfContentType, "test_execution_report.pdf"), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "import-template",
		Method:      http.MethodGet,
		Path:        "/exports/import-template.xlsx",
		Summary:     "Excel template for test case import",
	}, func(ctx context.Context, _ *struct{}) (*fileOutput, error) {
		data, err := e.ImportTemplate()
		if err != nil {
			return nil, handleError(err)
		}
		return download(data, xlsxContentType, "test_case_import_template.xlsx"), nil
	})
}

func registerImport(api huma.API, e engine.Engine) {
	var maxBytes int64 = 10 << 20
	if e.Config != nil && e.Config.Import.MaxUploadBytes > 0 {
		maxBytes = e.Config.Import.MaxUploadBytes
	}
	huma.Register(api, huma.Operation{
		OperationID: "import-test-cases",
		Method:      http.MethodPost,
		Path:        "/stories/{story_id}/import",
		Summary:     "Import test cases from an Excel upload",
		Description: "Multipart field \"file\". The result lists every row error; nothing is saved unless all rows are valid.",
		// The body may exceed the upload limit by the multipart framing; the
		// limit itself is enforced on the file size.
		MaxBodyBytes: maxBytes + 1<<20,
		Errors:       crudErrors,
	}, func(ctx context.Context, input *struct {
		StoryID string `path:"story_id"`
		RawBody multipart.Form
	}) (*struct {
		Body importer.Result `json:"body"`
	}, error) {
		scope, err := requireScope(ctx)
		if err != nil {
			return nil, err
		}
		files := input.RawBody.File["file"]
		if len(files) == 0 {
			return &struct {
				Body importer.Result `json:"body"`
			}{Body: importer.Failed("No file uploaded")}, nil
		}
		fh := files[0]
		f, err := fh.Open()
		if err != nil {
			return nil, handleError(err)
		}
		defer f.Close()
		res, err := e.ImportTestCases(ctx, scope, input.StoryID, fh.Filename, fh.Size, f)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body importer.Result `json:"body"`
		}{Body: res}, nil
	})
}
