package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"codereview/internal/app"
	"codereview/internal/config"
	"codereview/internal/domain"
	"codereview/internal/engine"
	"codereview/internal/migrate"
	"codereview/internal/repo"
	"codereview/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "crv",
	Short: "Code review CLI",
	Long: `crv submits code for AI review and sells the full report behind a one-time unlock.
- Task: a title, a description and the code to review. Starts pending.
- Evaluate: asks the model for a score, strengths and improvements, then stores them and marks the task evaluated.
- Report: the score is always visible once evaluated; strengths and categorized improvements need an unlock.
- Unlock: records a payment for the task and opens the full report. It happens once per task.
- Serve: runs the HTTP API with the same operations.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CODEREVIEW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	slog.SetDefault(newLogger(viper.GetString("log-level")))
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", app.DefaultActor, "acting user id")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(evaluateCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(orderCmd())
	rootCmd.AddCommand(reportsCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(serveCmd())
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage codereview.yml",
		Long:  "Config holds the model, pricing, payment, server and webhook settings. Secrets come from the environment only.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if r, ok := a.Store.(repo.Repo); ok {
					v, err := migrate.Version(ctx, r.DB)
					if err != nil {
						return err
					}
					fmt.Printf("sqlite schema at version %d\n", v)
					return nil
				}
				fmt.Printf("%s schema ready\n", a.Backend)
				return nil
			})
		},
	}
	return cmd
}

func evaluateCmd() *cobra.Command {
	var in engine.EvaluateInput
	var codeFile string
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Review code without storing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := readCode(in.Code, codeFile)
			if err != nil {
				return err
			}
			in.Code = code
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rev, err := e.EvaluateDraft(ctx, in)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"score":        rev.Score(),
					"strengths":    rev.Strengths(),
					"improvements": rev.Improvements(),
				})
			})
		},
	}
	cmd.Flags().StringVar(&in.Title, "title", "", "task title")
	cmd.Flags().StringVar(&in.Description, "description", "", "task description")
	cmd.Flags().StringVar(&in.Code, "code", "", "code to review")
	cmd.Flags().StringVar(&codeFile, "code-file", "", "read code from file (- for stdin)")
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage review tasks"}
	task.AddCommand(taskSubmitCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskEvaluateCmd())
	task.AddCommand(taskReportCmd())
	task.AddCommand(taskUnlockCmd())
	task.AddCommand(taskEventsCmd())
	return task
}

func taskSubmitCmd() *cobra.Command {
	var in engine.SubmitInput
	var codeFile string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit code for review",
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := readCode(in.Code, codeFile)
			if err != nil {
				return err
			}
			in.Code = code
			in.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.SubmitTask(ctx, in)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&in.Title, "title", "", "task title")
	cmd.Flags().StringVar(&in.Description, "description", "", "task description")
	cmd.Flags().StringVar(&in.Code, "code", "", "code to review")
	cmd.Flags().StringVar(&codeFile, "code-file", "", "read code from file (- for stdin)")
	return cmd
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	var unlocked string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			if unlocked != "" {
				v := unlocked == "true"
				if !v && unlocked != "false" {
					return fmt.Errorf("--unlocked must be true or false")
				}
				f.Unlocked = &v
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.ListTasks(ctx, viper.GetString("actor-id"), f)
				if err != nil {
					return err
				}
				return printTasks(tasks)
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter (pending, evaluated)")
	cmd.Flags().StringVar(&unlocked, "unlocked", "", "unlocked filter (true, false)")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max tasks")
	return cmd
}

func taskShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.GetTask(ctx, viper.GetString("actor-id"), args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t.Summary())
			})
		},
	}
	return cmd
}

func taskEvaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate <id>",
		Short: "Review a stored task and save the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.Evaluate(ctx, viper.GetString("actor-id"), args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t.Summary())
			})
		},
	}
	return cmd
}

func taskReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report <id>",
		Short: "Show the review report; details need an unlock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rep, err := e.Report(ctx, viper.GetString("actor-id"), args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rep)
				}
				printReport(rep)
				return nil
			})
		},
	}
	return cmd
}

func taskUnlockCmd() *cobra.Command {
	var in engine.UnlockInput
	cmd := &cobra.Command{
		Use:   "unlock <id>",
		Short: "Record a payment and unlock the full report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor := viper.GetString("actor-id")
			in.TaskID = args[0]
			in.UserID = actor
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				outcome, err := e.Unlock(ctx, actor, in)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"success": true, "outcome": outcome})
			})
		},
	}
	cmd.Flags().StringVar(&in.OrderID, "order-id", "", "provider order id")
	cmd.Flags().StringVar(&in.PaymentID, "payment-id", "", "provider payment id")
	cmd.Flags().StringVar(&in.Signature, "signature", "", "provider payment signature")
	return cmd
}

func taskEventsCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "events <id>",
		Short: "Show the event history of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				evts, err := e.TaskEvents(ctx, viper.GetString("actor-id"), args[0], n, 0)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Actor", "Payload"})
				for _, evt := range evts {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.ActorID, evt.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	return cmd
}

func orderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order <task-id>",
		Short: "Create a payment order for unlocking a report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				order, err := e.CreateOrder(ctx, viper.GetString("actor-id"), args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(order)
			})
		},
	}
	return cmd
}

func reportsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "reports",
		Short: "List your unlocked reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.ListReports(ctx, viper.GetString("actor-id"), repo.TaskFilters{Limit: limit})
				if err != nil {
					return err
				}
				return printTasks(tasks)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "max reports")
	return cmd
}

func apiKeyCmd() *cobra.Command {
	keys := &cobra.Command{Use: "apikey", Short: "Manage API keys for the HTTP API"}
	keys.AddCommand(apiKeyCreateCmd())
	keys.AddCommand(apiKeyListCmd())
	keys.AddCommand(apiKeyDeleteCmd())
	return keys
}

func apiKeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key; the secret is shown once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				key, secret, err := e.CreateAPIKey(ctx, viper.GetString("actor-id"), name)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"id": key.ID, "name": key.Name, "key": secret, "created_at": key.CreatedAt})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key name")
	return cmd
}

func apiKeyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				keys, err := e.ListAPIKeys(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func apiKeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteAPIKey(ctx, viper.GetString("actor-id"), args[0])
			})
		},
	}
	return cmd
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			secrets := config.LoadSecrets(nil)
			if secrets.JWTSecret == "" {
				return fmt.Errorf("%s is required to sign tokens", config.EnvJWTSecret)
			}
			token, err := server.SignToken(secrets.JWTSecret, viper.GetString("actor-id"), ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devLogin bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withApp(ctx, func(ctx context.Context, a *app.App) error {
				if a.Secrets.JWTSecret == "" {
					return fmt.Errorf("%s is required for bearer auth", config.EnvJWTSecret)
				}
				if !cmd.Flags().Changed("base-path") && a.Config.Server.BasePath != "" {
					basePath = a.Config.Server.BasePath
				}
				authCfg := server.AuthConfig{
					JWTSecret: a.Secrets.JWTSecret,
					DevLogin:  devLogin || a.Config.Server.DevLogin,
					Logger:    a.Logger,
				}
				if authCfg.DevLogin {
					a.Logger.Warn("dev login enabled; anyone can mint tokens")
				}
				handler, err := server.New(server.Config{
					Engine:    a.Engine,
					BasePath:  basePath,
					Auth:      authCfg,
					RateLimit: a.Config.Server.RateLimit,
				})
				if err != nil {
					return err
				}
				server.StartWebhookDispatcher(ctx, a.Store, a.Config, a.Logger)
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				a.Logger.Info("serving", "addr", addr, "base_path", basePath, "storage", a.Backend)
				fmt.Printf("Serving Code Review API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "expose POST /auth/dev/login")
	return cmd
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(ctx, app.Options{
		Workspace: viper.GetString("workspace"),
		Secrets:   config.LoadSecrets(nil),
		Logger:    slog.Default(),
	})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withApp(ctx, func(ctx context.Context, a *app.App) error {
		return fn(ctx, a.Engine)
	})
}

func readCode(inline, path string) (string, error) {
	if path == "" {
		return inline, nil
	}
	if inline != "" {
		return "", fmt.Errorf("use either --code or --code-file")
	}
	if path == "-" {
		b, err := io.ReadAll(os.Stdin)
		return string(b), err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func printTasks(tasks []domain.Task) error {
	if viper.GetBool("json") {
		summaries := make([]domain.TaskSummary, 0, len(tasks))
		for _, t := range tasks {
			summaries = append(summaries, t.Summary())
		}
		return printJSON(summaries)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Title", "Status", "Score", "Unlocked", "Created"})
	for _, t := range tasks {
		score := ""
		if t.AIScore != nil {
			score = fmt.Sprintf("%g", *t.AIScore)
		}
		tw.AppendRow(table.Row{t.ID, t.Title, t.Status, score, t.IsReportUnlocked, t.CreatedAt})
	}
	tw.Render()
	return nil
}

func printReport(rep engine.Report) {
	fmt.Printf("%s (%s)\n", rep.Task.Title, rep.Task.ID)
	if !rep.Evaluated {
		fmt.Println("Not evaluated yet.")
		return
	}
	if rep.Score != nil {
		fmt.Printf("Score: %g\n", *rep.Score)
	}
	if rep.Sections == nil && rep.Strengths == nil {
		fmt.Printf("Report locked. Unlock %s for %d %s.\n", rep.Price.DisplayName, rep.Price.Amount, rep.Price.Currency)
		return
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetTitle("Strengths")
	for _, s := range rep.Strengths {
		tw.AppendRow(table.Row{s})
	}
	tw.Render()
	for _, sec := range rep.Sections {
		st := table.NewWriter()
		st.SetOutputMirror(os.Stdout)
		st.SetTitle(sec.Title)
		for _, item := range sec.Items {
			text := item.Before
			if item.Code != nil {
				text += "\n" + *item.Code
				if item.After != "" {
					text += "\n" + item.After
				}
			}
			st.AppendRow(table.Row{text})
		}
		st.Render()
	}
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
