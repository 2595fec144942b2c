package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"testline/internal/domain"
	"testline/internal/engine"
	"testline/internal/repo"
)

func suiteCmd() *cobra.Command {
	suite := &cobra.Command{Use: "suite", Short: "Manage test suites"}

	var name, description string
	var caseIDs []string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a suite",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				s, err := e.CreateSuite(ctx, scope, domain.TestSuite{Name: name, Description: description, TestCaseIDs: caseIDs})
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "suite name")
	create.Flags().StringVar(&description, "description", "", "description")
	create.Flags().StringSliceVar(&caseIDs, "cases", nil, "member test case ids")
	_ = create.MarkFlagRequired("name")

	var f repo.SuiteFilter
	list := &cobra.Command{
		Use:   "list",
		Short: "List suites",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				items, err := e.ListSuites(ctx, scope, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Name", "Cases", "Created")
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, s.Name, len(s.TestCaseIDs), s.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&f.ProjectID, "project", "", "suites holding cases of this project")
	list.Flags().StringVar(&f.Search, "q", "", "search")
	list.Flags().IntVar(&f.Limit, "limit", 0, "max rows")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a suite",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				s, err := e.GetSuite(ctx, scope, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}

	update := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a suite; --cases replaces the membership",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			upd := engine.SuiteUpdate{
				Name:        optionalString(cmd, "name", name),
				Description: optionalString(cmd, "description", description),
			}
			if cmd.Flags().Changed("cases") {
				ids := caseIDs
				upd.TestCaseIDs = &ids
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				s, err := e.UpdateSuite(ctx, scope, args[0], upd)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	update.Flags().StringVar(&name, "name", "", "suite name")
	update.Flags().StringVar(&description, "description", "", "description")
	update.Flags().StringSliceVar(&caseIDs, "cases", nil, "member test case ids")

	stats := &cobra.Command{
		Use:   "stats [id]",
		Short: "Member statistics per suite",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			suiteID := ""
			if len(args) == 1 {
				suiteID = args[0]
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				items, err := e.SuiteStatistics(ctx, scope, suiteID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("Suite", "Name", "Total", "Automated", "Manual")
				for _, s := range items {
					tw.AppendRow(table.Row{s.SuiteID, s.Name, s.Total, s.Automated, s.Manual})
				}
				tw.Render()
				return nil
			})
		},
	}

	suite.AddCommand(create, list, show, update, stats, deleteCmd("suite", func(ctx context.Context, e engine.Engine, scope domain.Scope, id string) error {
		return e.DeleteSuite(ctx, scope, id)
	}))
	return suite
}

func runCmd() *cobra.Command {
	run := &cobra.Command{
		Use:   "run",
		Short: "Manage test runs",
		Long:  "A run groups executions. Bulk execution reuses the execution a test case already has in the run.",
	}

	var name, description, status, scheduled string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an empty run",
		RunE: func(cmd *cobra.Command, args []string) error {
			r := domain.TestRun{Name: name, Description: description, Status: status}
			if scheduled != "" {
				r.ScheduledDate = &scheduled
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				created, err := e.CreateRun(ctx, scope, r)
				if err != nil {
					return err
				}
				return printJSONOrTable(created)
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "run name")
	create.Flags().StringVar(&description, "description", "", "description")
	create.Flags().StringVar(&status, "status", "", "not_started|in_progress|completed|cancelled")
	create.Flags().StringVar(&scheduled, "scheduled", "", "scheduled date (RFC3339)")
	_ = create.MarkFlagRequired("name")

	var suiteID string
	fromSuite := &cobra.Command{
		Use:   "from-suite",
		Short: "Create a run with one pending execution per suite member",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				r, n, err := e.CreateRunFromSuite(ctx, scope, suiteID, name, description)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"run": r, "executions": n})
				}
				fmt.Printf("created run %s (%s) with %d executions\n", r.Name, r.ID, n)
				return nil
			})
		},
	}
	fromSuite.Flags().StringVar(&suiteID, "suite", "", "source suite id")
	fromSuite.Flags().StringVar(&name, "name", "", "run name")
	fromSuite.Flags().StringVar(&description, "description", "", "description")
	_ = fromSuite.MarkFlagRequired("suite")
	_ = fromSuite.MarkFlagRequired("name")

	var f repo.RunFilter
	list := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				items, err := e.ListRuns(ctx, scope, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Name", "Status", "Scheduled", "Created")
				for _, r := range items {
					tw.AppendRow(table.Row{r.ID, r.Name, r.Status, stringOrEmpty(r.ScheduledDate), r.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&f.Status, "status", "", "status filter")
	list.Flags().StringVar(&f.CreatedFrom, "created-from", "", "RFC3339 lower bound")
	list.Flags().StringVar(&f.CreatedTo, "created-to", "", "RFC3339 upper bound")
	list.Flags().StringVar(&f.Search, "q", "", "search")
	list.Flags().IntVar(&f.Limit, "limit", 0, "max rows")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				r, err := e.GetRun(ctx, scope, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}

	update := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			upd := engine.RunUpdate{
				Name:          optionalString(cmd, "name", name),
				Description:   optionalString(cmd, "description", description),
				Status:        optionalString(cmd, "status", status),
				ScheduledDate: optionalString(cmd, "scheduled", scheduled),
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				r, err := e.UpdateRun(ctx, scope, args[0], upd)
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	update.Flags().StringVar(&name, "name", "", "run name")
	update.Flags().StringVar(&description, "description", "", "description")
	update.Flags().StringVar(&status, "status", "", "not_started|in_progress|completed|cancelled")
	update.Flags().StringVar(&scheduled, "scheduled", "", "scheduled date (RFC3339); empty clears")

	executions := &cobra.Command{
		Use:   "executions <id>",
		Short: "Executions of a run, highest priority first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				records, err := e.RunExecutions(ctx, scope, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(records)
				}
				renderRecords(records)
				return nil
			})
		},
	}

	summary := &cobra.Command{
		Use:   "summary <id>",
		Short: "Metrics restricted to one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				res, err := e.RunSummary(ctx, scope, args[0])
				if err != nil {
					return err
				}
				return printMetrics(res)
			})
		},
	}

	run.AddCommand(create, fromSuite, list, show, update, executions, summary, deleteCmd("run", func(ctx context.Context, e engine.Engine, scope domain.Scope, id string) error {
		return e.DeleteRun(ctx, scope, id)
	}))
	return run
}

// stepFile is one entry of the YAML steps file given to exec record.
type stepFile struct {
	StepNumber      int    `yaml:"step_number"`
	StepDescription string `yaml:"description"`
	ExpectedResult  string `yaml:"expected"`
	ActualResult    string `yaml:"actual"`
	Status          string `yaml:"status"`
	Comments        string `yaml:"comments"`
}

func loadSteps(path string) ([]engine.StepInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw []stepFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	steps := make([]engine.StepInput, 0, len(raw))
	for _, s := range raw {
		steps = append(steps, engine.StepInput(s))
	}
	return steps, nil
}

func execCmd() *cobra.Command {
	exec := &cobra.Command{
		Use:     "exec",
		Aliases: []string{"execution"},
		Short:   "Record and inspect executions",
	}

	var status, comments, notes, stepsPath string
	var minutes int
	record := &cobra.Command{
		Use:   "record <execution-id>",
		Short: "Record the outcome of an execution",
		Long: `Records a status on an execution; you become its executor.
--steps reads a YAML list of steps, upserted by step_number:
  - step_number: 1
    description: Open the checkout page
    expected: The cart is listed
    actual: The cart is listed
    status: passed`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := engine.RecordInput{Status: status, Comments: comments, Notes: notes}
			if cmd.Flags().Changed("minutes") {
				in.Duration = &minutes
			}
			if stepsPath != "" {
				steps, err := loadSteps(stepsPath)
				if err != nil {
					return err
				}
				in.Steps = steps
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				x, err := e.RecordExecution(ctx, scope, args[0], in)
				if err != nil {
					return err
				}
				return printJSONOrTable(x)
			})
		},
	}
	record.Flags().StringVar(&status, "status", "", "not_executed|in_progress|passed|failed|skipped|blocked")
	record.Flags().StringVar(&comments, "comments", "", "comments")
	record.Flags().StringVar(&notes, "notes", "", "notes")
	record.Flags().IntVar(&minutes, "minutes", 0, "execution time in minutes")
	record.Flags().StringVar(&stepsPath, "steps", "", "YAML file of steps")
	_ = record.MarkFlagRequired("status")

	show := &cobra.Command{
		Use:   "show <execution-id>",
		Short: "Show an execution with its steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				d, err := e.ExecutionDetail(ctx, scope, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(d)
				}
				fmt.Printf("%s  %s\n", d.TestCaseName, d.StatusLabel)
				fmt.Printf("run: %s  priority: %s\n", d.TestRunName, d.PriorityLabel)
				fmt.Printf("executor: %s  executed: %s  duration: %s\n", d.Executor, d.ExecutedOn, d.Duration)
				if d.Comments != "" {
					fmt.Println("comments:", d.Comments)
				}
				if len(d.Steps) > 0 {
					tw := newTable("#", "Step", "Expected", "Actual", "Status")
					for _, st := range d.Steps {
						tw.AppendRow(table.Row{st.StepNumber, st.StepDescription, st.ExpectedResult, st.ActualResult, st.StatusLabel})
					}
					tw.Render()
				}
				return nil
			})
		},
	}

	exec.AddCommand(record, show)
	return exec
}

func bulkCmd() *cobra.Command {
	var req engine.BulkRequest
	cmd := &cobra.Command{
		Use:   "bulk <status> <test-case-id>...",
		Short: "Apply one status to many test cases",
		Long: `Creates or updates one execution per test case. Without --run the executions
go to your "Bulk Execution - <minute>" run, so repeating the command within the
same minute updates instead of duplicating.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Status = args[0]
			req.TestCaseIDs = args[1:]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				res, err := e.BulkExecute(ctx, scope, req)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("%s in run %s (%d created, %d updated)\n", res.Message, res.TestRunID, res.Created, res.Updated)
				if len(res.Unresolved) > 0 {
					fmt.Println("skipped:", strings.Join(res.Unresolved, ", "))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&req.Comments, "comments", "", "comments stored on every execution")
	cmd.Flags().StringVar(&req.RunID, "run", "", "target an existing run")
	return cmd
}

func renderRecords(records []domain.ExecutionRecord) {
	tw := newTable("ID", "Test case", "Priority", "Run", "Executor", "Status", "Executed")
	for _, r := range records {
		executor := r.ExecutorName()
		if executor == "" {
			executor = "N/A"
		}
		tw.AppendRow(table.Row{
			r.ID,
			r.TestCaseName,
			domain.PriorityLabel(r.TestCasePriority),
			r.TestRunName,
			executor,
			domain.ExecutionStatusLabel(r.Status),
			stringOrEmpty(r.ExecutionDate),
		})
	}
	tw.Render()
}
