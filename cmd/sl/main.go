package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"shipline/internal/config"
	"shipline/internal/db"
	"shipline/internal/domain"
	"shipline/internal/engine"
	"shipline/internal/llm"
	"shipline/internal/migrate"
	"shipline/internal/repo"
	"shipline/internal/runner"
	"shipline/internal/server"
	"shipline/internal/workspace"

	pipeerr "shipline/internal/errors"
)

var rootCmd = &cobra.Command{
	Use:   "sl",
	Short: "Shipline CLI",
	Long: `Shipline turns a product requirements document into reviewed pull
requests through a pipeline of agents: a designer drafts the
architecture, a planner breaks it into epics, stories and tasks, a
worker implements each task, a debugger runs the tests and fixes
failures within an iteration budget, and a reviewer signs off on the
result. Artifacts land in the workspace (design.json, tickets.json,
one directory per task, pr_*.json) and every state change is recorded
in the event log ('sl log tail').`,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(pipeerr.ExitCode(err))
	}
}

func initConfig() {
	viper.SetEnvPrefix("SHIPLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", "./workspace", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(designCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(prCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(doctorCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default shipline.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws := viper.GetString("workspace")
			if _, err := workspace.New(ws); err != nil {
				return err
			}
			path := config.Path(ws)
			if _, err := os.Stat(path); err == nil {
				return pipeerr.Newf(pipeerr.EUsage, "%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	return cmd
}

func runCmd() *cobra.Command {
	var prdPath string
	var parallel int
	var requireReview bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full pipeline for a PRD",
		Long:  "Design, plan and implement a PRD end to end, producing reviewed pull request records in the workspace.",
		RunE: func(cmd *cobra.Command, args []string) error {
			prd, err := loadPRD(prdPath)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.RunOptions{Parallel: parallel, RequireReview: requireReview}
				if !cmd.Flags().Changed("require-review") {
					opts.RequireReview = e.Config.Pipeline.RequireReview
				}
				res, err := e.RunPipeline(ctx, prd, opts)
				if err != nil {
					return err
				}
				if res.AwaitingReview {
					fmt.Printf("design written to %s; review it, then run 'sl design approve' and re-run\n",
						e.WS.DesignPath())
					return nil
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				printRunSummary(res)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&prdPath, "prd", "", "path to PRD JSON file")
	cmd.Flags().IntVar(&parallel, "parallel", 0, "max tasks processed concurrently (default from config)")
	cmd.Flags().BoolVar(&requireReview, "require-review", false, "stop after design until a human approves it")
	_ = cmd.MarkFlagRequired("prd")
	return cmd
}

func printRunSummary(res engine.RunResult) {
	fmt.Printf("run %s: %s\n", res.Run.ID, res.Run.Status)
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"PR", "Task", "Status", "Files"})
	for _, pr := range res.PullRequests {
		t.AppendRow(table.Row{pr.ID, pr.TaskID, pr.Status, len(pr.FilesChanged)})
	}
	t.Render()
	for _, f := range res.Failures {
		fmt.Printf("task %s failed: %v\n", f.TaskID, f.Err)
	}
}

func designCmd() *cobra.Command {
	var prdPath string
	cmd := &cobra.Command{
		Use:   "design",
		Short: "Generate an architecture design from a PRD",
		RunE: func(cmd *cobra.Command, args []string) error {
			prd, err := loadPRD(prdPath)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				design, err := e.DesignPRD(ctx, "", prd)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(design)
				}
				fmt.Printf("design %q with %d components written to %s\n",
					design.Title, len(design.Components), e.WS.DesignPath())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&prdPath, "prd", "", "path to PRD JSON file")
	_ = cmd.MarkFlagRequired("prd")
	cmd.AddCommand(designApproveCmd())
	return cmd
}

func designApproveCmd() *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   "approve",
		Short: "Mark the workspace design as human-reviewed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				design, err := e.ApproveDesign(notes)
				if err != nil {
					return err
				}
				fmt.Printf("design %q approved\n", design.Title)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "review notes")
	return cmd
}

func planCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Break the workspace design into epics, stories and tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var design domain.Design
				if err := e.WS.LoadJSON(e.WS.DesignPath(), &design); err != nil {
					return err
				}
				epics, err := e.PlanDesign(ctx, "", design)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(epics)
				}
				tasks := domain.AllTasks(epics)
				fmt.Printf("%d epics, %d tasks written to %s\n", len(epics), len(tasks), e.WS.TicketsPath())
				return nil
			})
		},
	}
	return cmd
}

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "task", Short: "Inspect tasks"}
	cmd.AddCommand(taskListCmd())
	cmd.AddCommand(taskShowCmd())
	return cmd
}

func taskListCmd() *cobra.Command {
	var runID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks for a run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				id, err := resolveRunID(ctx, r, runID)
				if err != nil {
					return err
				}
				tasks, err := r.ListTasks(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				t := table.NewWriter()
				t.SetOutputMirror(os.Stdout)
				t.AppendHeader(table.Row{"ID", "Title", "Status", "Priority"})
				for _, task := range tasks {
					t.AppendRow(table.Row{task.ID, task.Title, task.Status, task.Priority})
				}
				t.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "run id (default: latest)")
	return cmd
}

func taskShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				task, err := r.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(task)
			})
		},
	}
	return cmd
}

func prCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "pr", Short: "Inspect pull requests"}
	cmd.AddCommand(prListCmd())
	cmd.AddCommand(prShowCmd())
	return cmd
}

func prListCmd() *cobra.Command {
	var runID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pull requests for a run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				id, err := resolveRunID(ctx, r, runID)
				if err != nil {
					return err
				}
				prs, err := r.ListPRs(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(prs)
				}
				t := table.NewWriter()
				t.SetOutputMirror(os.Stdout)
				t.AppendHeader(table.Row{"ID", "Task", "Status", "Branch", "Files"})
				for _, pr := range prs {
					t.AppendRow(table.Row{pr.ID, pr.TaskID, pr.Status, pr.BranchName, len(pr.FilesChanged)})
				}
				t.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "run id (default: latest)")
	return cmd
}

func prShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a pull request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				pr, err := r.GetPR(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(pr)
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: run transitions, ticket changes, pull request updates.",
	}
	cmd.AddCommand(logTailCmd())
	return cmd
}

func logTailCmd() *cobra.Command {
	var n int
	var runID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.ListEvents(ctx, runID, n)
				if err != nil {
					return err
				}
				return printJSON(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&runID, "run", "", "run id filter")
	return cmd
}

func doctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check workspace, config, database and credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws := viper.GetString("workspace")
			report := func(name string, err error) {
				if err != nil {
					fmt.Printf("  [fail] %s: %v\n", name, err)
					return
				}
				fmt.Printf("  [ ok ] %s\n", name)
			}
			fmt.Println("shipline doctor")
			_, wsErr := workspace.New(ws)
			report("workspace "+ws, wsErr)
			cfg, cfgErr := config.Load(ws)
			report("config "+config.Path(ws), cfgErr)
			conn, dbErr := db.Open(db.Config{Workspace: ws})
			if dbErr == nil {
				dbErr = migrate.Migrate(conn)
				conn.Close()
			}
			report("database "+db.Path(ws), dbErr)
			if cfgErr == nil {
				var keyErr error
				if llm.ConfigFromEnv(cfg.Model.Name).APIKey == "" {
					keyErr = fmt.Errorf("SHIPLINE_API_KEY / ANTHROPIC_API_KEY not set")
				}
				report("model credentials", keyErr)
				_, cmdErr := runner.LookCommand(cfg.Debug.TestCommand)
				report(fmt.Sprintf("test command %q", strings.Join(cfg.Debug.TestCommand, " ")), cmdErr)
			}
			return nil
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the read-only HTTP status API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws := viper.GetString("workspace")
			cfg, err := config.Load(ws)
			if err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: ws})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if addr == "" {
				addr = "127.0.0.1:8787"
			}
			authCfg := server.AuthConfig{JWTSecret: cfg.Server.JWTSecret, StaticKey: cfg.Server.AuthKey}
			if s := os.Getenv("SHIPLINE_JWT_SECRET"); s != "" {
				authCfg.JWTSecret = s
			}
			handler := server.New(server.Config{Repo: repo.Repo{DB: conn}, BasePath: basePath, Auth: authCfg})
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Shipline API on http://%s%s (OpenAPI at %s/openapi.json)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func loadPRD(path string) (domain.PRD, error) {
	var prd domain.PRD
	data, err := os.ReadFile(path)
	if err != nil {
		return prd, pipeerr.Wrap(pipeerr.EUsage, "read prd", err)
	}
	if err := json.Unmarshal(data, &prd); err != nil {
		return prd, pipeerr.Wrap(pipeerr.ESchemaParse, "parse prd "+path, err)
	}
	if err := prd.Validate(); err != nil {
		return prd, pipeerr.Wrap(pipeerr.EUsage, "invalid prd", err)
	}
	return prd, nil
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	wsDir := viper.GetString("workspace")
	ws, err := workspace.New(wsDir)
	if err != nil {
		return err
	}
	cfg, err := config.Load(wsDir)
	if err != nil {
		return err
	}
	client, err := llm.New(llm.ConfigFromEnv(cfg.Model.Name))
	if err != nil {
		return err
	}
	conn, err := db.Open(db.Config{Workspace: wsDir})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer log.Sync()
	e := engine.New(conn, cfg, client, runner.NewRealRunner(), ws, log)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

// resolveRunID defaults to the most recent run when none is given.
func resolveRunID(ctx context.Context, r repo.Repo, runID string) (string, error) {
	if runID != "" {
		return runID, nil
	}
	runs, err := r.ListRuns(ctx)
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return "", pipeerr.New(pipeerr.EUsage, "no runs yet; use 'sl run --prd <file>'")
	}
	return runs[0].ID, nil
}

func newLogger() (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.DisableStacktrace = true
	return cfg.Build()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
