package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"testline/internal/domain"
	"testline/internal/engine"
	"testline/internal/repo"
)

func projectCmd() *cobra.Command {
	proj := &cobra.Command{
		Use:   "project",
		Short: "Manage projects",
		Long:  "Projects are the top of the hierarchy. Deleting a project removes its epics, stories and test cases.",
	}

	var name, description, status string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				p, err := e.CreateProject(ctx, scope, domain.Project{Name: name, Description: description, Status: status})
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "project name")
	create.Flags().StringVar(&description, "description", "", "description")
	create.Flags().StringVar(&status, "status", "", "active|inactive|completed")
	_ = create.MarkFlagRequired("name")

	var f repo.ProjectFilter
	list := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				items, err := e.ListProjects(ctx, scope, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Name", "Status", "Created")
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, p.Status, p.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&f.Status, "status", "", "status filter")
	list.Flags().StringVar(&f.Search, "q", "", "search name and description")
	list.Flags().IntVar(&f.Limit, "limit", 0, "max rows")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				p, err := e.GetProject(ctx, scope, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}

	update := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			upd := engine.ProjectUpdate{
				Name:        optionalString(cmd, "name", name),
				Description: optionalString(cmd, "description", description),
				Status:      optionalString(cmd, "status", status),
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				p, err := e.UpdateProject(ctx, scope, args[0], upd)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	update.Flags().StringVar(&name, "name", "", "project name")
	update.Flags().StringVar(&description, "description", "", "description")
	update.Flags().StringVar(&status, "status", "", "active|inactive|completed")

	proj.AddCommand(create, list, show, update, deleteCmd("project", func(ctx context.Context, e engine.Engine, scope domain.Scope, id string) error {
		return e.DeleteProject(ctx, scope, id)
	}), childrenCmd(repo.KindProject, "epics"), projectTreeCmd())
	return proj
}

func projectTreeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tree <id>",
		Short: "Print the epics and stories of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				p, err := e.GetProject(ctx, scope, args[0])
				if err != nil {
					return err
				}
				epics, err := e.ChildrenOf(ctx, scope, repo.KindProject, p.ID)
				if err != nil {
					return err
				}
				type node struct {
					domain.Child
					Stories []domain.Child `json:"stories"`
				}
				nodes := make([]node, 0, len(epics))
				for _, ep := range epics {
					stories, err := e.ChildrenOf(ctx, scope, repo.KindEpic, ep.ID)
					if err != nil {
						return err
					}
					nodes = append(nodes, node{Child: ep, Stories: stories})
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"project": p, "epics": nodes})
				}
				fmt.Printf("%s (%s)\n", p.Name, p.ID)
				for i, n := range nodes {
					branch, indent := "├─", "│  "
					if i == len(nodes)-1 {
						branch, indent = "└─", "   "
					}
					fmt.Printf("%s %s (%s)\n", branch, n.Name, n.ID)
					for j, s := range n.Stories {
						leaf := "├─"
						if j == len(n.Stories)-1 {
							leaf = "└─"
						}
						fmt.Printf("%s%s %s (%s)\n", indent, leaf, s.Name, s.ID)
					}
				}
				return nil
			})
		},
	}
}

func epicCmd() *cobra.Command {
	epic := &cobra.Command{Use: "epic", Short: "Manage epics"}

	var projectID, name, description, status string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an epic under a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				ep, err := e.CreateEpic(ctx, scope, domain.Epic{ProjectID: projectID, Name: name, Description: description, Status: status})
				if err != nil {
					return err
				}
				return printJSONOrTable(ep)
			})
		},
	}
	create.Flags().StringVar(&projectID, "project", "", "parent project id")
	create.Flags().StringVar(&name, "name", "", "epic name")
	create.Flags().StringVar(&description, "description", "", "description")
	create.Flags().StringVar(&status, "status", "", "open|in_progress|closed")
	_ = create.MarkFlagRequired("project")
	_ = create.MarkFlagRequired("name")

	var f repo.EpicFilter
	list := &cobra.Command{
		Use:   "list",
		Short: "List epics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				items, err := e.ListEpics(ctx, scope, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Project", "Name", "Status")
				for _, ep := range items {
					tw.AppendRow(table.Row{ep.ID, ep.ProjectID, ep.Name, ep.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&f.ProjectID, "project", "", "project filter")
	list.Flags().StringVar(&f.Status, "status", "", "status filter")
	list.Flags().StringVar(&f.Search, "q", "", "search")
	list.Flags().IntVar(&f.Limit, "limit", 0, "max rows")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show an epic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				ep, err := e.GetEpic(ctx, scope, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(ep)
			})
		},
	}

	update := &cobra.Command{
		Use:   "update <id>",
		Short: "Update an epic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			upd := engine.EpicUpdate{
				Name:        optionalString(cmd, "name", name),
				Description: optionalString(cmd, "description", description),
				Status:      optionalString(cmd, "status", status),
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				ep, err := e.UpdateEpic(ctx, scope, args[0], upd)
				if err != nil {
					return err
				}
				return printJSONOrTable(ep)
			})
		},
	}
	update.Flags().StringVar(&name, "name", "", "epic name")
	update.Flags().StringVar(&description, "description", "", "description")
	update.Flags().StringVar(&status, "status", "", "open|in_progress|closed")

	epic.AddCommand(create, list, show, update, deleteCmd("epic", func(ctx context.Context, e engine.Engine, scope domain.Scope, id string) error {
		return e.DeleteEpic(ctx, scope, id)
	}), childrenCmd(repo.KindEpic, "stories"))
	return epic
}

func storyCmd() *cobra.Command {
	story := &cobra.Command{Use: "story", Short: "Manage user stories"}

	var epicID, name, description, criteria, status, priority, assignee string
	var points int
	var clearPoints bool
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a user story under an epic",
		RunE: func(cmd *cobra.Command, args []string) error {
			s := domain.UserStory{
				EpicID:             epicID,
				Name:               name,
				Description:        description,
				AcceptanceCriteria: criteria,
				Status:             status,
				Priority:           priority,
			}
			if cmd.Flags().Changed("points") {
				s.StoryPoints = &points
			}
			if assignee != "" {
				s.AssigneeID = &assignee
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				created, err := e.CreateStory(ctx, scope, s)
				if err != nil {
					return err
				}
				return printJSONOrTable(created)
			})
		},
	}
	create.Flags().StringVar(&epicID, "epic", "", "parent epic id")
	create.Flags().StringVar(&name, "name", "", "story name")
	create.Flags().StringVar(&description, "description", "", "description")
	create.Flags().StringVar(&criteria, "acceptance", "", "acceptance criteria")
	create.Flags().StringVar(&status, "status", "", "todo|in_progress|testing|done")
	create.Flags().StringVar(&priority, "priority", "", "low|medium|high|critical")
	create.Flags().IntVar(&points, "points", 0, "story points (1-100)")
	create.Flags().StringVar(&assignee, "assignee", "", "assignee user id")
	_ = create.MarkFlagRequired("epic")
	_ = create.MarkFlagRequired("name")

	var f repo.StoryFilter
	list := &cobra.Command{
		Use:   "list",
		Short: "List user stories",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				items, err := e.ListStories(ctx, scope, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Epic", "Name", "Status", "Priority", "Points")
				for _, s := range items {
					pts := ""
					if s.StoryPoints != nil {
						pts = fmt.Sprint(*s.StoryPoints)
					}
					tw.AppendRow(table.Row{s.ID, s.EpicID, s.Name, s.Status, s.Priority, pts})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&f.ProjectID, "project", "", "project filter")
	list.Flags().StringVar(&f.EpicID, "epic", "", "epic filter")
	list.Flags().StringVar(&f.Status, "status", "", "status filter")
	list.Flags().StringVar(&f.Priority, "priority", "", "priority filter")
	list.Flags().StringVar(&f.Search, "q", "", "search")
	list.Flags().IntVar(&f.Limit, "limit", 0, "max rows")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a user story",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				s, err := e.GetStory(ctx, scope, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}

	update := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a user story",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			upd := engine.StoryUpdate{
				Name:               optionalString(cmd, "name", name),
				Description:        optionalString(cmd, "description", description),
				AcceptanceCriteria: optionalString(cmd, "acceptance", criteria),
				Status:             optionalString(cmd, "status", status),
				Priority:           optionalString(cmd, "priority", priority),
				AssigneeID:         optionalString(cmd, "assignee", assignee),
				ClearStoryPoints:   clearPoints,
			}
			if cmd.Flags().Changed("points") {
				upd.StoryPoints = &points
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				s, err := e.UpdateStory(ctx, scope, args[0], upd)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	update.Flags().StringVar(&name, "name", "", "story name")
	update.Flags().StringVar(&description, "description", "", "description")
	update.Flags().StringVar(&criteria, "acceptance", "", "acceptance criteria")
	update.Flags().StringVar(&status, "status", "", "todo|in_progress|testing|done")
	update.Flags().StringVar(&priority, "priority", "", "low|medium|high|critical")
	update.Flags().IntVar(&points, "points", 0, "story points (1-100)")
	update.Flags().BoolVar(&clearPoints, "clear-points", false, "remove the estimate")
	update.Flags().StringVar(&assignee, "assignee", "", "assignee user id; empty clears")

	story.AddCommand(create, list, show, update, deleteCmd("story", func(ctx context.Context, e engine.Engine, scope domain.Scope, id string) error {
		return e.DeleteStory(ctx, scope, id)
	}))
	return story
}

func testCaseCmd() *cobra.Command {
	tc := &cobra.Command{
		Use:     "testcase",
		Aliases: []string{"tc"},
		Short:   "Manage test cases",
		Long:    "A test case belongs to one user story. Names need at least 5 characters, steps and expected results at least 10.",
	}

	var storyID, name, description, steps, expected, status, execStatus, priority, assignee string
	var automated bool
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a test case",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := domain.TestCase{
				UserStoryID:     storyID,
				Name:            name,
				Description:     description,
				TestSteps:       steps,
				ExpectedResults: expected,
				Status:          status,
				Priority:        priority,
				IsAutomated:     automated,
			}
			if assignee != "" {
				c.AssigneeID = &assignee
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				row, err := e.CreateTestCase(ctx, scope, c)
				if err != nil {
					return err
				}
				return printJSONOrTable(row)
			})
		},
	}
	create.Flags().StringVar(&storyID, "story", "", "parent user story id")
	create.Flags().StringVar(&name, "name", "", "test case name")
	create.Flags().StringVar(&description, "description", "", "description")
	create.Flags().StringVar(&steps, "steps", "", "test steps")
	create.Flags().StringVar(&expected, "expected", "", "expected results")
	create.Flags().StringVar(&status, "status", "", "draft|ready|blocked")
	create.Flags().StringVar(&priority, "priority", "", "low|medium|high|critical")
	create.Flags().BoolVar(&automated, "automated", false, "automated test")
	create.Flags().StringVar(&assignee, "assignee", "", "assignee user id")
	for _, flag := range []string{"story", "name", "steps", "expected"} {
		_ = create.MarkFlagRequired(flag)
	}

	var f repo.TestCaseFilter
	list := &cobra.Command{
		Use:   "list",
		Short: "List test cases",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				items, err := e.ListTestCases(ctx, scope, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Name", "Story", "Priority", "Status", "Execution")
				for _, row := range items {
					tw.AppendRow(table.Row{row.ID, row.Name, row.StoryName, domain.PriorityLabel(row.Priority), row.Status, domain.CaseExecutionStatusLabel(row.ExecutionStatus)})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&f.ProjectID, "project", "", "project filter")
	list.Flags().StringVar(&f.EpicID, "epic", "", "epic filter")
	list.Flags().StringVar(&f.StoryID, "story", "", "story filter")
	list.Flags().StringVar(&f.Status, "status", "", "status filter")
	list.Flags().StringVar(&f.Priority, "priority", "", "priority filter")
	list.Flags().StringVar(&f.ExecutionStatus, "execution-status", "", "execution status filter")
	list.Flags().StringVar(&f.Search, "q", "", "search names across the hierarchy")
	list.Flags().IntVar(&f.Limit, "limit", 0, "max rows")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a test case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				row, err := e.GetTestCase(ctx, scope, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(row)
			})
		},
	}

	update := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a test case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			upd := engine.TestCaseUpdate{
				Name:            optionalString(cmd, "name", name),
				Description:     optionalString(cmd, "description", description),
				TestSteps:       optionalString(cmd, "steps", steps),
				ExpectedResults: optionalString(cmd, "expected", expected),
				Status:          optionalString(cmd, "status", status),
				ExecutionStatus: optionalString(cmd, "execution-status", execStatus),
				Priority:        optionalString(cmd, "priority", priority),
				UserStoryID:     optionalString(cmd, "story", storyID),
				AssigneeID:      optionalString(cmd, "assignee", assignee),
			}
			if cmd.Flags().Changed("automated") {
				upd.IsAutomated = &automated
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				row, err := e.UpdateTestCase(ctx, scope, args[0], upd)
				if err != nil {
					return err
				}
				return printJSONOrTable(row)
			})
		},
	}
	update.Flags().StringVar(&storyID, "story", "", "move to another user story")
	update.Flags().StringVar(&name, "name", "", "test case name")
	update.Flags().StringVar(&description, "description", "", "description")
	update.Flags().StringVar(&steps, "steps", "", "test steps")
	update.Flags().StringVar(&expected, "expected", "", "expected results")
	update.Flags().StringVar(&status, "status", "", "draft|ready|blocked")
	update.Flags().StringVar(&execStatus, "execution-status", "", "not_executed|passed|failed|skipped")
	update.Flags().StringVar(&priority, "priority", "", "low|medium|high|critical")
	update.Flags().BoolVar(&automated, "automated", false, "automated test")
	update.Flags().StringVar(&assignee, "assignee", "", "assignee user id; empty clears")

	mark := &cobra.Command{
		Use:   "mark <id> <status>",
		Short: "Quick-mark the execution status of a test case",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				row, err := e.MarkTestCase(ctx, scope, args[0], args[1])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(row)
				}
				fmt.Printf("%s marked %s\n", row.ID, domain.CaseExecutionStatusLabel(row.ExecutionStatus))
				return nil
			})
		},
	}

	tc.AddCommand(create, list, show, update, mark, deleteCmd("test case", func(ctx context.Context, e engine.Engine, scope domain.Scope, id string) error {
		return e.DeleteTestCase(ctx, scope, id)
	}))
	return tc
}

func deleteCmd(noun string, del func(context.Context, engine.Engine, domain.Scope, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a " + noun,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				if err := del(ctx, e, scope, args[0]); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"deleted": args[0]})
				}
				fmt.Printf("deleted %s %s\n", noun, args[0])
				return nil
			})
		},
	}
}

func childrenCmd(kind, noun string) *cobra.Command {
	return &cobra.Command{
		Use:   noun + " <id>",
		Short: "List the direct " + noun + " of a " + kind,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				children, err := e.ChildrenOf(ctx, scope, kind, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(children)
				}
				tw := newTable("ID", strings.ToUpper(noun[:1])+noun[1:])
				for _, c := range children {
					tw.AppendRow(table.Row{c.ID, c.Name})
				}
				tw.Render()
				return nil
			})
		},
	}
}
