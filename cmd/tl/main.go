package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"testline/internal/app"
	"testline/internal/config"
	"testline/internal/domain"
	"testline/internal/engine"
	"testline/internal/repo"
	"testline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "tl",
	Short: "Testline CLI",
	Long: `Testline manages test cases and their executions.
Core concepts:
- Hierarchy: projects hold epics, epics hold user stories, stories hold test cases.
- Ownership: you see and change only what lives under projects you own.
- Suites: named sets of test cases; a run can be created from a suite.
- Runs and executions: one execution per (test case, run) records the outcome and its steps.
- Bulk execution: mark many test cases at once; re-running updates instead of duplicating.
- Reports: filter executions by date, project, epic, status, executor or run, then compute metrics or export Excel/PDF.
- Workspace: .testline/testline.db next to an optional testline.yml.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if strings.TrimSpace(viper.GetString("workspace")) == "" {
			return fmt.Errorf("--workspace must not be empty")
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix(config.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().StringP("user", "u", app.DefaultUser, "acting user id or username")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user", rootCmd.PersistentFlags().Lookup("user"))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(epicCmd())
	rootCmd.AddCommand(storyCmd())
	rootCmd.AddCommand(testCaseCmd())
	rootCmd.AddCommand(suiteCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(execCmd())
	rootCmd.AddCommand(bulkCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(dashboardCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(metricsCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "testline.yml holds server, auth, logging, import, export, report and webhook settings. TESTLINE_* environment variables override it.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			out, err := cfg.Marshal()
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate testline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": errString(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default testline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func userCmd() *cobra.Command {
	usr := &cobra.Command{Use: "user", Short: "Manage users"}
	usr.AddCommand(userAddCmd())
	usr.AddCommand(userListCmd())
	usr.AddCommand(whoamiCmd())
	return usr
}

func userAddCmd() *cobra.Command {
	var id, fullName string
	cmd := &cobra.Command{
		Use:   "add <username>",
		Short: "Register a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ domain.Scope) error {
				u, err := e.CreateUser(ctx, domain.User{ID: id, Username: args[0], FullName: fullName})
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "user id (defaults to the username)")
	cmd.Flags().StringVar(&fullName, "full-name", "", "display name")
	return cmd
}

func userListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ domain.Scope) error {
				users, err := e.ListUsers(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(users)
				}
				tw := newTable("ID", "Username", "Full name", "Created")
				for _, u := range users {
					tw.AppendRow(table.Row{u.ID, u.Username, u.FullName, u.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				u, err := e.GetUser(ctx, scope.UserID)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
}

func apiKeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "apikey", Short: "Manage API keys of the acting user"}

	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key; the key is shown once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				k, plain, err := e.CreateAPIKey(ctx, scope, name)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"id": k.ID, "name": k.Name, "key": plain})
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "key label")

	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				keys, err := e.ListAPIKeys(ctx, scope)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := newTable("ID", "Name", "Created")
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}

	revoke := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				return e.DeleteAPIKey(ctx, scope, args[0])
			})
		},
	}

	key.AddCommand(create, list, revoke)
	return key
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Audit event log",
		Long:  "Every change appends an event: creations, updates, deletions, imports, recordings and bulk executions.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilter
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				events, err := e.ListEvents(ctx, scope, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable("ID", "Time", "Type", "Entity", "Actor")
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + ":" + evt.EntityID, evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&f.Limit, "limit", "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ws, err := app.Open(ctx, viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer ws.Close()
			cfg := ws.Config
			if !cmd.Flags().Changed("addr") {
				addr = cfg.Server.Addr
			}
			if !cmd.Flags().Changed("base-path") && cfg.Server.BasePath != "" {
				basePath = cfg.Server.BasePath
			}
			authCfg := server.AuthConfig{
				JWTSecret:             cfg.Auth.JWTSecret,
				AllowLegacyUserHeader: cfg.Auth.AllowLegacyUserHeader,
			}
			if authCfg.JWTSecret == "" && !authCfg.AllowLegacyUserHeader {
				return fmt.Errorf("auth.jwt_secret (or %s_AUTH_JWT_SECRET) is required when the legacy user header is disabled", config.EnvPrefix)
			}
			handler, err := server.New(server.Config{Engine: ws.Engine, BasePath: basePath, Auth: authCfg, Log: ws.Log})
			if err != nil {
				return err
			}
			if server.StartWebhookDispatcher(ctx, ws.Engine) {
				ws.Log.Info("webhook dispatcher started", zap.Int("webhooks", len(cfg.Notifications.Webhooks)))
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			ws.Log.Info("serving Testline API",
				zap.String("addr", addr),
				zap.String("base_path", basePath),
				zap.String("openapi", basePath+"/openapi.json"),
				zap.String("docs", "/docs"))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

// --- helpers ---

// withEngine opens the workspace and resolves the acting user from --user.
func withEngine(ctx context.Context, fn func(context.Context, engine.Engine, domain.Scope) error) error {
	ws, err := app.Open(ctx, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer ws.Close()
	scope, err := app.ResolveScope(ctx, ws.Engine, viper.GetString("user"))
	if err != nil {
		return err
	}
	return fn(ctx, ws.Engine, scope)
}

func newTable(header ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row(header))
	return tw
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func optionalString(cmd *cobra.Command, flag, value string) *string {
	if !cmd.Flags().Changed(flag) {
		return nil
	}
	return &value
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
