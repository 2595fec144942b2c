package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"testline/internal/domain"
	"testline/internal/engine"
	"testline/internal/metrics"
	"testline/internal/repo"
)

// reportFlags carries the execution filter shared by report, metrics and the
// execution exports.
type reportFlags struct {
	dateFrom, dateTo string
	f                repo.ExecutionFilter
}

func (r *reportFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&r.dateFrom, "from", "", "start date YYYY-MM-DD")
	cmd.Flags().StringVar(&r.dateTo, "to", "", "end date YYYY-MM-DD, inclusive")
	cmd.Flags().StringVar(&r.f.ProjectID, "project", "", "project filter")
	cmd.Flags().StringVar(&r.f.EpicID, "epic", "", "epic filter")
	cmd.Flags().StringVar(&r.f.StoryID, "story", "", "story filter")
	cmd.Flags().StringVar(&r.f.Status, "status", "", "execution status filter")
	cmd.Flags().StringVar(&r.f.ExecutorID, "executor", "", "executor user id")
	cmd.Flags().StringVar(&r.f.RunID, "run", "", "run filter")
}

func (r *reportFlags) filter() (repo.ExecutionFilter, error) {
	f := r.f
	var err error
	if f.DateFrom, err = repo.ParseDate(r.dateFrom); err != nil {
		return f, fmt.Errorf("--from: %w", err)
	}
	if f.DateTo, err = repo.ParseDate(r.dateTo); err != nil {
		return f, fmt.Errorf("--to: %w", err)
	}
	return f, nil
}

func importCmd() *cobra.Command {
	var storyID string
	cmd := &cobra.Command{
		Use:   "import <file.xlsx>",
		Short: "Import test cases from an Excel workbook into a user story",
		Long: `Reads the first sheet. Row 1 must hold the headers Name, Description,
Test Steps, Expected Results, Priority and Is Automated. Every row is validated
first; nothing is saved unless all rows are valid. Use "tl export template" for
a starting workbook.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			info, err := os.Stat(path)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				if err := e.CheckUpload(filepath.Base(path), info.Size()); err != nil {
					return err
				}
				file, err := os.Open(path)
				if err != nil {
					return err
				}
				defer file.Close()
				res, err := e.ImportTestCases(ctx, scope, storyID, filepath.Base(path), info.Size(), file)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				if !res.Success {
					if res.Error != "" {
						fmt.Println(res.Error)
					}
					for _, rowErr := range res.RowErrors {
						fmt.Println(" -", rowErr)
					}
					return fmt.Errorf("import failed")
				}
				fmt.Printf("imported %d test cases\n", res.CreatedCount)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&storyID, "story", "", "target user story id")
	_ = cmd.MarkFlagRequired("story")
	return cmd
}

func exportCmd() *cobra.Command {
	export := &cobra.Command{Use: "export", Short: "Export Excel and PDF files"}

	var out string
	var tcFilter repo.TestCaseFilter
	testCases := &cobra.Command{
		Use:   "testcases",
		Short: "Export test cases to Excel",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				data, err := e.ExportTestCasesExcel(ctx, scope, tcFilter)
				if err != nil {
					return err
				}
				return writeOutput(out, "test_cases.xlsx", data)
			})
		},
	}
	testCases.Flags().StringVarP(&out, "out", "o", "", "output file")
	testCases.Flags().StringVar(&tcFilter.ProjectID, "project", "", "project filter")
	testCases.Flags().StringVar(&tcFilter.EpicID, "epic", "", "epic filter")
	testCases.Flags().StringVar(&tcFilter.StoryID, "story", "", "story filter")
	testCases.Flags().StringVar(&tcFilter.Status, "status", "", "status filter")
	testCases.Flags().StringVar(&tcFilter.Priority, "priority", "", "priority filter")
	testCases.Flags().StringVar(&tcFilter.Search, "q", "", "search")

	var xf reportFlags
	executions := &cobra.Command{
		Use:   "executions",
		Short: "Export filtered executions to Excel",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := xf.filter()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				data, err := e.ExportExecutionsExcel(ctx, scope, f)
				if err != nil {
					return err
				}
				return writeOutput(out, "test_executions.xlsx", data)
			})
		},
	}
	executions.Flags().StringVarP(&out, "out", "o", "", "output file")
	xf.bind(executions)

	var pf reportFlags
	pdf := &cobra.Command{
		Use:   "pdf",
		Short: "Execution report as PDF",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := pf.filter()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				data, err := e.ExportExecutionsPDF(ctx, scope, f)
				if err != nil {
					return err
				}
				return writeOutput(out, "test_execution_report.pdf", data)
			})
		},
	}
	pdf.Flags().StringVarP(&out, "out", "o", "", "output file")
	pf.bind(pdf)

	template := &cobra.Command{
		Use:   "template",
		Short: "Excel template for test case import",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ domain.Scope) error {
				data, err := e.ImportTemplate()
				if err != nil {
					return err
				}
				return writeOutput(out, "test_case_import_template.xlsx", data)
			})
		},
	}
	template.Flags().StringVarP(&out, "out", "o", "", "output file")

	export.AddCommand(testCases, executions, pdf, template)
	return export
}

func writeOutput(path, fallback string, data []byte) error {
	if path == "" {
		path = fallback
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	if viper.GetBool("json") {
		return printJSON(map[string]any{"path": path, "bytes": len(data)})
	}
	fmt.Printf("wrote %s (%d bytes)\n", path, len(data))
	return nil
}

func dashboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Counts, pass rate and recent executions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				d, err := e.Dashboard(ctx, scope)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(d)
				}
				tw := newTable("Projects", "Epics", "Stories", "Test cases", "Suites", "Runs")
				tw.AppendRow(table.Row{d.Projects, d.Epics, d.Stories, d.TestCases, d.Suites, d.Runs})
				tw.Render()
				fmt.Printf("executions: %d  passed: %d  pass rate: %.2f%%\n", d.TotalExecutions, d.PassedExecutions, d.PassRate)
				fmt.Printf("executions in the last %d days: %d\n", d.RecentDays, d.RecentCount)
				if len(d.Recent) > 0 {
					renderRecords(d.Recent)
				}
				return nil
			})
		},
	}
}

func reportCmd() *cobra.Command {
	var rf reportFlags
	var page int
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Filtered executions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := rf.filter()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				p, err := e.ExecutionReport(ctx, scope, f, page)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p)
				}
				fmt.Println(p.DateRange)
				renderRecords(p.Records)
				fmt.Printf("page %d of %d (%d executions)\n", p.Page, p.Pages, p.Total)
				return nil
			})
		},
	}
	rf.bind(cmd)
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	return cmd
}

func metricsCmd() *cobra.Command {
	m := &cobra.Command{
		Use:   "metrics",
		Short: "Execution metrics",
		Long:  "Metrics are computed in stages. When a stage fails the finished stages are still shown and the result is marked partial.",
	}

	var rf reportFlags
	summary := &cobra.Command{
		Use:   "summary",
		Short: "Totals, status counts, pass rate and durations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMetrics(cmd, &rf, printMetrics)
		},
	}
	rf.bind(summary)

	var pf reportFlags
	projects := &cobra.Command{
		Use:   "projects",
		Short: "Per-project breakdown",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMetrics(cmd, &pf, func(res metrics.Result) error {
				if viper.GetBool("json") {
					return printJSON(res.ProjectsBreakdown)
				}
				tw := newTable("Project", "Total", "Passed", "Failed", "Pass rate", "Avg min", "Last execution")
				for _, p := range res.ProjectsBreakdown {
					tw.AppendRow(table.Row{p.Name, p.Total, p.Passed, p.Failed, p.PassRate, p.AvgExecutionTime, stringOrEmpty(p.LastExecution)})
				}
				tw.Render()
				return partialNote(res)
			})
		},
	}
	pf.bind(projects)

	var af reportFlags
	assignees := &cobra.Command{
		Use:   "assignees",
		Short: "Per-executor performance",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMetrics(cmd, &af, func(res metrics.Result) error {
				if viper.GetBool("json") {
					return printJSON(res.AssigneePerformance)
				}
				tw := newTable("Executor", "Executions", "Passed", "Failed", "Pass rate", "Avg min")
				for _, a := range res.AssigneePerformance {
					tw.AppendRow(table.Row{a.Name, a.Executions, a.Passed, a.Failed, a.PassRate, a.AvgExecutionTime})
				}
				tw.Render()
				return partialNote(res)
			})
		},
	}
	af.bind(assignees)

	var tf reportFlags
	trends := &cobra.Command{
		Use:   "trends",
		Short: "Daily totals over the trend window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMetrics(cmd, &tf, func(res metrics.Result) error {
				if viper.GetBool("json") {
					return printJSON(res.Trends)
				}
				tw := newTable("Date", "Total", "Passed", "Failed")
				for _, p := range res.Trends {
					tw.AppendRow(table.Row{p.Date, p.Total, p.Passed, p.Failed})
				}
				tw.Render()
				return partialNote(res)
			})
		},
	}
	tf.bind(trends)

	var sf reportFlags
	var granularity string
	series := &cobra.Command{
		Use:   "timeseries",
		Short: "Executions bucketed by day, week or month",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := sf.filter()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				s, err := e.ExecutionTimeSeries(ctx, scope, f, granularity)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				tw := newTable("Period", "Total", "Passed", "Failed", "Avg min", "Total min")
				for _, p := range s.Points {
					tw.AppendRow(table.Row{p.Label, p.Total, p.Passed, p.Failed, p.AvgDuration, p.TotalDuration})
				}
				tw.Render()
				return nil
			})
		},
	}
	sf.bind(series)
	series.Flags().StringVar(&granularity, "granularity", metrics.ByDay, "day|week|month")

	m.AddCommand(summary, projects, assignees, trends, series)
	return m
}

func withMetrics(cmd *cobra.Command, rf *reportFlags, show func(metrics.Result) error) error {
	f, err := rf.filter()
	if err != nil {
		return err
	}
	return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
		res, err := e.ExecutionMetrics(ctx, scope, f)
		if err != nil {
			return err
		}
		return show(res)
	})
}

func printMetrics(res metrics.Result) error {
	if viper.GetBool("json") {
		return printJSON(map[string]any{
			"metrics":       res.Snapshot,
			"complete":      res.Complete(),
			"stages":        res.Stages,
			"partial_cause": errString(res.Cause),
		})
	}
	tw := newTable("Total", "Executed", "Pass rate", "Avg min", "Total min", "Executors")
	tw.AppendRow(table.Row{res.Total, res.ExecutedCount, res.PassRate, res.AvgExecutionTime, res.TotalExecutionTime, res.UniqueExecutors})
	tw.Render()
	counts := make([]string, 0, len(res.StatusCounts))
	for _, s := range domain.ExecutionStatuses() {
		if n, ok := res.StatusCounts[s]; ok {
			counts = append(counts, fmt.Sprintf("%s=%d", s, n))
		}
	}
	if len(counts) > 0 {
		fmt.Println(strings.Join(counts, " "))
	}
	return partialNote(res)
}

func partialNote(res metrics.Result) error {
	if !res.Complete() {
		fmt.Fprintf(os.Stderr, "partial result (completed stages: %s): %v\n", strings.Join(res.Stages, ", "), res.Cause)
	}
	return nil
}
