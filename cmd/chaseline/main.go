package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"chaseline/internal/app"
	"chaseline/internal/config"
	"chaseline/internal/db"
	"chaseline/internal/domain"
	"chaseline/internal/engine"
	"chaseline/internal/logging"
	"chaseline/internal/migrate"
	"chaseline/internal/repo"
	"chaseline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "chaseline",
	Short: "Chaseline CLI",
	Long: `Chaseline chases outstanding documents and letters of authority for
financial advisors. Register clients and chase items; the engine sends chases
on a backoff schedule, escalates through email, SMS and phone, predicts which
items will stall, and learns how quickly each provider really responds.
State lives in the .chaseline workspace database; tune behavior with
chaseline.yml (chaseline config init).`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
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
	viper.SetEnvPrefix("CHASELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	logging.Init(logLevel(), viper.GetString("log-format"))
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log-format", rootCmd.PersistentFlags().Lookup("log-format"))
}

func registerCommands() {
	rootCmd.AddCommand(clientCmd())
	rootCmd.AddCommand(chaseCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(tickCmd())
	rootCmd.AddCommand(processCmd())
	rootCmd.AddCommand(providerCmd())
	rootCmd.AddCommand(agentCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func clientCmd() *cobra.Command {
	client := &cobra.Command{Use: "client", Short: "Manage clients"}
	client.AddCommand(clientAddCmd())
	client.AddCommand(clientListCmd())
	client.AddCommand(clientShowCmd())
	return client
}

func clientAddCmd() *cobra.Command {
	var opts engine.ClientCreateOptions
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a client",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.CreateClient(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "client id (optional)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "client name")
	cmd.Flags().StringVar(&opts.Email, "email", "", "email address")
	cmd.Flags().StringVar(&opts.Phone, "phone", "", "phone number")
	cmd.Flags().StringVar(&opts.RiskProfile, "risk-profile", "", "risk profile note")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func clientListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListClients(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Email", "Phone"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.ID, c.Name, c.Email, c.Phone})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func clientShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				c, err := r.GetClient(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	return cmd
}

func chaseCmd() *cobra.Command {
	chase := &cobra.Command{
		Use:   "chase",
		Short: "Manage chase items",
		Long:  "Chase items track one outstanding document (chased from the client) or letter of authority (chased from the provider) until a response arrives, it completes, or it fails.",
	}
	chase.AddCommand(chaseCreateCmd())
	chase.AddCommand(chaseListCmd())
	chase.AddCommand(chaseShowCmd())
	chase.AddCommand(chaseRiskCmd())
	chase.AddCommand(chaseReceiveCmd())
	chase.AddCommand(chaseCompleteCmd())
	chase.AddCommand(chaseFailCmd())
	return chase
}

func chaseCreateCmd() *cobra.Command {
	var opts engine.ChaseCreateOptions
	var chaseType, priority string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a chase item",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Type = domain.ChaseType(chaseType)
			opts.Priority = domain.Priority(priority)
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				it, err := e.CreateChase(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "chase id (optional)")
	cmd.Flags().StringVar(&opts.ClientID, "client", "", "client id")
	cmd.Flags().StringVar(&chaseType, "type", "document", "chase type (document, loa)")
	cmd.Flags().StringVar(&opts.ProviderID, "provider", "", "provider id (required for loa)")
	cmd.Flags().StringVar(&opts.Description, "description", "", "what is being chased")
	cmd.Flags().StringVar(&priority, "priority", "medium", "priority (low, medium, high)")
	_ = cmd.MarkFlagRequired("client")
	return cmd
}

func chaseListCmd() *cobra.Command {
	var f repo.ItemFilter
	var status, chaseType string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List chase items",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Status = domain.ChaseStatus(status)
			f.Type = domain.ChaseType(chaseType)
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListItems(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Client", "Type", "Status", "Priority", "Attempts", "Risk", "Next Action"})
				for _, it := range items {
					next := ""
					if it.NextActionAt != nil {
						next = it.NextActionAt.Format(time.RFC3339)
					}
					tw.AppendRow(table.Row{it.ID, it.ClientID, it.Type, it.Status, it.Priority, it.Attempts, fmt.Sprintf("%.2f", it.RiskScore), next})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&chaseType, "type", "", "type filter")
	cmd.Flags().StringVar(&f.ClientID, "client", "", "client filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows")
	return cmd
}

func chaseShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a chase item with its activity log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				it, err := r.GetItem(ctx, args[0])
				if err != nil {
					return err
				}
				activities, err := r.ListItemActivities(ctx, it.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"item":       it,
					"activities": activities,
				})
			})
		},
	}
	return cmd
}

func chaseRiskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "risk <id>",
		Short: "Show the risk assessment for a chase item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				it, err := e.Repo.GetItem(ctx, args[0])
				if err != nil {
					return err
				}
				var profile *domain.ProviderProfile
				if it.ProviderID != nil {
					p, err := e.Profiles.Get(ctx, *it.ProviderID)
					if err != nil {
						return err
					}
					profile = &p
				}
				a := engine.NewPredictor(e.Config).Assess(it, profile, time.Now())
				return printJSONOrTable(a)
			})
		},
	}
	return cmd
}

func chaseReceiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "receive <id>",
		Short: "Record that a response arrived",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				it, err := e.RecordResponse(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	return cmd
}

func chaseCompleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Close a chase item out",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				it, err := e.CompleteChase(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	return cmd
}

func chaseFailCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "fail <id>",
		Short: "Fail a chase item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				it, err := e.FailChase(ctx, args[0], reason)
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "failure reason")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the chase engine until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o := engine.NewOrchestrator(e, nil)
				err := o.Run(ctx)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		},
	}
	return cmd
}

func tickCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Run one scheduler pass over due items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o := engine.NewOrchestrator(e, nil)
				stats, err := o.Tick(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(stats)
			})
		},
	}
	return cmd
}

func processCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process <id>",
		Short: "Process one chase item now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o := engine.NewOrchestrator(e, nil)
				if err := o.ProcessOne(ctx, args[0]); err != nil {
					return err
				}
				it, err := e.Repo.GetItem(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	return cmd
}

func providerCmd() *cobra.Command {
	provider := &cobra.Command{Use: "provider", Short: "Provider latency profiles"}
	provider.AddCommand(providerListCmd())
	provider.AddCommand(providerShowCmd())
	return provider
}

func providerListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List provider profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListProviderProfiles(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Provider", "Name", "Mean Days", "P90 Days", "Samples", "Overdue Rate"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ProviderID, p.Name, fmt.Sprintf("%.1f", p.MeanDays), fmt.Sprintf("%.1f", p.P90Days), p.SampleCount, fmt.Sprintf("%.0f%%", p.OverdueRate()*100)})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func providerShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a provider profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Profiles.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func agentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Show chase agent statuses",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o := engine.NewOrchestrator(e, nil)
				return printJSONOrTable(o.Agents.Statuses())
			})
		},
	}
	return cmd
}

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Dashboard analytics snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				snap, err := e.Snapshot(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(snap)
				}
				fmt.Printf("Items: %d total, %d overdue, %d high risk\n", snap.TotalItems, snap.OverdueItems, snap.HighRiskItems)
				fmt.Printf("Completed today: %d (avg %.1f days)\n", snap.CompletedToday, snap.AvgCompletionDays)
				fmt.Println("By status:")
				for status, c := range snap.ByStatus {
					fmt.Printf("  %s: %d\n", status, c)
				}
				return nil
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Activity log"}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var action string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail recent activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.LatestActivities(ctx, n, action)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of records")
	cmd.Flags().StringVar(&action, "action", "", "action filter")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Workspace config"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default chaseline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
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

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.ResolveConfig(viper.GetString("workspace"))
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
		Short: "Validate chaseline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			_ = cfg
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	key.AddCommand(apikeyCreateCmd())
	key.AddCommand(apikeyListCmd())
	key.AddCommand(apikeyDeleteCmd())
	return key
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				raw := uuid.New().String()
				key := domain.APIKey{
					ID:      uuid.New().String(),
					ActorID: viper.GetString("actor-id"),
					Name:    name,
					KeyHash: repo.HashAPIKey(raw),
				}
				if err := r.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				// The raw key is shown once and never stored.
				return printJSONOrTable(map[string]string{
					"id":       key.ID,
					"actor_id": key.ActorID,
					"key":      raw,
				})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "filter by actor id")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var withEngineLoop, anonymous bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o := engine.NewOrchestrator(e, nil)
				authCfg := server.AuthConfig{
					JWTSecret:      os.Getenv("CHASELINE_JWT_SECRET"),
					AllowAnonymous: anonymous,
				}
				if authCfg.JWTSecret == "" && !anonymous {
					return fmt.Errorf("CHASELINE_JWT_SECRET is required for bearer auth (or pass --anonymous for local use)")
				}
				handler, err := server.New(server.Config{
					Engine:       e,
					Orchestrator: o,
					BasePath:     basePath,
					Auth:         authCfg,
				})
				if err != nil {
					return err
				}
				server.StartWebhookDispatcher(e)
				if withEngineLoop {
					go func() {
						if err := o.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
							fmt.Println("engine stopped:", err)
						}
					}()
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Chaseline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&withEngineLoop, "with-engine", true, "run the chase engine alongside the API")
	cmd.Flags().BoolVar(&anonymous, "anonymous", false, "disable auth (local development only)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := app.ResolveConfig(workspace)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
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

func logLevel() slog.Level {
	switch strings.ToLower(viper.GetString("log-level")) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
