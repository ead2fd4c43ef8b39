package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pathfinder/internal/app"
	"pathfinder/internal/config"
	"pathfinder/internal/db"
	"pathfinder/internal/domain"
	"pathfinder/internal/engine"
	"pathfinder/internal/migrate"
	"pathfinder/internal/repo"
	"pathfinder/internal/server"
	"pathfinder/internal/workflow"
)

var rootCmd = &cobra.Command{
	Use:   "pf",
	Short: "Pathfinder CLI",
	Long: `Pathfinder runs the HR system design workflow for a company.
Core concepts:
- Workspace: the .pathfinder directory holding the SQLite database, plus an optional pathfinder.yml.
- Project: one company's design engagement, moving not_started -> in_progress -> locked.
- Steps: diagnosis and ceo_philosophy form the gate; organization, performance and compensation follow;
  then consultant_review and ceo_approval. The dashboard opens once the project is locked.
- Step statuses: not_started, in_progress, submitted, approved, rejected, locked.
- Roles: admin, ceo, hr_manager, consultant. Each action names the roles allowed to take it.
- Audit: every transition is recorded; view it with 'pf audit tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("PATHFINDER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "", "acting user id")
	rootCmd.PersistentFlags().String("project", "", "project id (defaults to the only project)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(companyCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(roleRequestCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(stepCmd())
	rootCmd.AddCommand(reviewCmd())
	rootCmd.AddCommand(decideCmd())
	rootCmd.AddCommand(lockCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- config ---

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default pathfinder.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cmd.AddCommand(initCmd)
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate pathfinder.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(viper.GetString("workspace")); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	})
	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "migrate", Short: "Database migrations"}
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
			if err != nil {
				return err
			}
			defer conn.Close()
			current, latest, err := migrate.Status(conn)
			if err != nil {
				return err
			}
			fmt.Printf("schema version %d (latest %d)\n", current, latest)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
			if err != nil {
				return err
			}
			defer conn.Close()
			return migrate.Migrate(conn)
		},
	})
	return cmd
}

// --- identity ---

func companyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "company", Short: "Manage companies"}
	var id, name string
	add := &cobra.Command{
		Use:   "add",
		Short: "Register a company",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.CreateCompany(ctx, engine.CompanyCreateOptions{ID: id, Name: name, ActorID: viper.GetString("actor-id")})
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	add.Flags().StringVar(&id, "id", "", "company id (generated when empty)")
	add.Flags().StringVar(&name, "name", "", "company name")
	cmd.AddCommand(add)
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List companies",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListCompanies(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	})
	return cmd
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "user", Short: "Manage users"}
	var opts engine.UserCreateOptions
	var role string
	add := &cobra.Command{
		Use:   "add",
		Short: "Register a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.Role = workflow.Role(role)
				opts.ActorID = viper.GetString("actor-id")
				u, err := e.CreateUser(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	add.Flags().StringVar(&opts.ID, "id", "", "user id (generated when empty)")
	add.Flags().StringVar(&opts.Email, "email", "", "email address")
	add.Flags().StringVar(&opts.Name, "name", "", "display name")
	add.Flags().StringVar(&role, "role", "", "admin, ceo, hr_manager or consultant")
	add.Flags().StringVar(&opts.CompanyID, "company", "", "company id")
	cmd.AddCommand(add)

	var company string
	list := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListUsers(ctx, nil, company, nil)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Email", "Role", "Company")
				for _, u := range items {
					tw.AppendRow(table.Row{u.ID, u.Email, u.Role, u.CompanyID})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&company, "company", "", "company filter")
	cmd.AddCommand(list)
	cmd.AddCommand(&cobra.Command{
		Use:   "whoami",
		Short: "Show the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.Whoami(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	})
	return cmd
}

func roleRequestCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "role-request", Short: "CEO role requests"}
	var company string
	create := &cobra.Command{
		Use:   "create",
		Short: "Request the CEO role for a company",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rr, err := e.CreateRoleRequest(ctx, engine.RoleRequestInput{UserID: viper.GetString("actor-id"), CompanyID: company})
				if err != nil {
					return err
				}
				return printJSONOrTable(rr)
			})
		},
	}
	create.Flags().StringVar(&company, "company", "", "company id")
	cmd.AddCommand(create)

	var reason string
	resolve := func(use, short string, fn func(engine.Engine) func(context.Context, engine.ResolveRoleRequestInput) (domain.CeoRoleRequest, error)) *cobra.Command {
		c := &cobra.Command{
			Use:   use + " <id>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
					rr, err := fn(e)(ctx, engine.ResolveRoleRequestInput{ID: args[0], ActorID: viper.GetString("actor-id"), Reason: reason})
					if err != nil {
						return err
					}
					return printJSONOrTable(rr)
				})
			},
		}
		c.Flags().StringVar(&reason, "reason", "", "reason (required when rejecting)")
		return c
	}
	cmd.AddCommand(resolve("approve", "Approve a pending request", func(e engine.Engine) func(context.Context, engine.ResolveRoleRequestInput) (domain.CeoRoleRequest, error) {
		return e.ApproveRoleRequest
	}))
	cmd.AddCommand(resolve("reject", "Reject a pending request", func(e engine.Engine) func(context.Context, engine.ResolveRoleRequestInput) (domain.CeoRoleRequest, error) {
		return e.RejectRoleRequest
	}))

	var status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List requests (admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.RoleRequestsFor(ctx, viper.GetString("actor-id"), status)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "User", "Company", "Status", "Created")
				for _, rr := range items {
					tw.AppendRow(table.Row{rr.ID, rr.UserID, rr.CompanyID, rr.Status, rr.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&status, "status", "", "pending, approved or rejected")
	cmd.AddCommand(list)
	return cmd
}

// --- projects ---

func projectCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "project", Short: "Manage design projects"}
	var id, company string
	start := &cobra.Command{
		Use:   "start",
		Short: "Start a company design project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.StartProject(ctx, engine.StartProjectOptions{ID: id, CompanyID: company, ActorID: viper.GetString("actor-id")})
				if err != nil {
					return err
				}
				return printResult(res)
			})
		},
	}
	start.Flags().StringVar(&id, "id", "", "project id (generated when empty)")
	start.Flags().StringVar(&company, "company", "", "company id")
	cmd.AddCommand(start)

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				p, err := e.ViewProject(ctx, viper.GetString("actor-id"), projectID)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	})

	var f repo.ProjectFilters
	list := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ProjectsFor(ctx, viper.GetString("actor-id"), f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Company", "Status", "Current Step", "Updated")
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.CompanyID, p.Status, p.CurrentStep, p.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&f.CompanyID, "company", "", "company filter")
	list.Flags().StringVar(&f.Status, "status", "", "status filter")
	list.Flags().IntVar(&f.Limit, "limit", 50, "max projects")
	cmd.AddCommand(list)
	return cmd
}

func stepCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "step", Short: "Work on project steps"}
	cmd.AddCommand(&cobra.Command{
		Use:   "state",
		Short: "Show derived step state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				if _, err := e.ViewProject(ctx, viper.GetString("actor-id"), projectID); err != nil {
					return err
				}
				st, err := e.StepState(ctx, projectID)
				if err != nil {
					return err
				}
				return printState(st)
			})
		},
	})

	var payload, payloadFile string
	withPayload := func(c *cobra.Command) *cobra.Command {
		c.Flags().StringVar(&payload, "payload", "", "step payload as JSON")
		c.Flags().StringVar(&payloadFile, "payload-file", "", "read step payload from file")
		return c
	}
	readPayload := func() (json.RawMessage, error) {
		if payloadFile != "" {
			data, err := os.ReadFile(payloadFile)
			if err != nil {
				return nil, err
			}
			return json.RawMessage(data), nil
		}
		if payload != "" {
			return json.RawMessage(payload), nil
		}
		return nil, nil
	}
	var reason string
	action := func(use, short string, fn func(engine.Engine) func(context.Context, engine.StepInput) (engine.Result, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <step>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				raw, err := readPayload()
				if err != nil {
					return err
				}
				return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
					res, err := fn(e)(ctx, engine.StepInput{
						ProjectID: projectID,
						Step:      workflow.Step(args[0]),
						ActorID:   viper.GetString("actor-id"),
						Payload:   raw,
						Reason:    reason,
					})
					if err != nil {
						return err
					}
					return printResult(res)
				})
			},
		}
	}
	cmd.AddCommand(withPayload(action("draft", "Save a step draft", func(e engine.Engine) func(context.Context, engine.StepInput) (engine.Result, error) {
		return e.SaveDraft
	})))
	cmd.AddCommand(withPayload(action("submit", "Submit a step", func(e engine.Engine) func(context.Context, engine.StepInput) (engine.Result, error) {
		return e.SubmitStep
	})))
	cmd.AddCommand(action("approve", "Approve a submitted step", func(e engine.Engine) func(context.Context, engine.StepInput) (engine.Result, error) {
		return e.ApproveStep
	}))
	reject := action("reject", "Reject a submitted step", func(e engine.Engine) func(context.Context, engine.StepInput) (engine.Result, error) {
		return e.RejectStep
	})
	reject.Flags().StringVar(&reason, "reason", "", "rejection reason")
	cmd.AddCommand(reject)

	var comments string
	changes := &cobra.Command{
		Use:   "request-changes <step>",
		Short: "CEO requests changes to a step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				res, err := e.RequestChanges(ctx, engine.StepInput{ProjectID: projectID, Step: workflow.Step(args[0]), ActorID: viper.GetString("actor-id"), Reason: comments})
				if err != nil {
					return err
				}
				return printResult(res.Result)
			})
		},
	}
	changes.Flags().StringVar(&comments, "comments", "", "what should change")
	cmd.AddCommand(changes)

	cmd.AddCommand(&cobra.Command{
		Use:   "payloads",
		Short: "List the stored step payloads of a project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				if _, err := e.ViewProject(ctx, viper.GetString("actor-id"), projectID); err != nil {
					return err
				}
				items, err := e.ListPayloads(ctx, projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("Kind", "Created", "Updated", "Bytes")
				for _, p := range items {
					tw.AppendRow(table.Row{p.Kind, p.CreatedAt, p.UpdatedAt, len(p.Data)})
				}
				tw.Render()
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "payload <step>",
		Short: "Show the stored payload of a step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				if _, err := e.ViewProject(ctx, viper.GetString("actor-id"), projectID); err != nil {
					return err
				}
				p, err := e.GetPayload(ctx, projectID, workflow.Step(args[0]))
				if err != nil {
					return err
				}
				fmt.Println(string(p.Data))
				return nil
			})
		},
	})
	return cmd
}

func reviewCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "review", Short: "Consultant reviews"}
	var opinions string
	add := &cobra.Command{
		Use:   "add",
		Short: "Record a consultant review",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				res, err := e.RecordConsultantReview(ctx, engine.ReviewInput{ProjectID: projectID, ActorID: viper.GetString("actor-id"), Opinions: opinions})
				if err != nil {
					return err
				}
				return printResult(res.Result)
			})
		},
	}
	add.Flags().StringVar(&opinions, "opinions", "", "review opinions")
	cmd.AddCommand(add)
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List consultant reviews",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				items, err := e.ListConsultantReviews(ctx, projectID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	})
	return cmd
}

func decideCmd() *cobra.Command {
	var target, comments string
	cmd := &cobra.Command{
		Use:       "decide <approve|request_changes>",
		Short:     "Record the CEO decision",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{domain.DecisionApprove, domain.DecisionRequestChanges},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				res, err := e.RecordCeoDecision(ctx, engine.DecisionInput{
					ProjectID:  projectID,
					ActorID:    viper.GetString("actor-id"),
					Decision:   strings.ReplaceAll(args[0], "-", "_"),
					TargetStep: workflow.Step(target),
					Comments:   comments,
				})
				if err != nil {
					return err
				}
				return printResult(res.Result)
			})
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "step to reopen (request_changes)")
	cmd.Flags().StringVar(&comments, "comments", "", "decision comments")
	return cmd
}

func lockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lock",
		Short: "Lock an approved project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				res, err := e.LockProject(ctx, engine.LockInput{ProjectID: projectID, ActorID: viper.GetString("actor-id")})
				if err != nil {
					return err
				}
				return printResult(res)
			})
		},
	}
}

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "audit", Short: "Audit trail"}
	var f repo.AuditFilters
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show audit entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if f.ProjectID == "" {
					f.ProjectID = viper.GetString("project")
				}
				items, err := e.ListAudit(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "When", "Actor", "Action", "Step")
				for _, a := range items {
					tw.AppendRow(table.Row{a.ID, a.CreatedAt, a.ActorID, a.Action, a.Step})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().StringVar(&f.ActorID, "actor", "", "actor filter")
	tail.Flags().Int64Var(&f.AfterID, "after", 0, "only entries after this id")
	tail.Flags().IntVar(&f.Limit, "n", 50, "number of entries")
	cmd.AddCommand(tail)
	return cmd
}

// --- credentials ---

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Mint a bearer token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("PATHFINDER_JWT_SECRET is required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, err := e.Repo.GetUser(ctx, nil, args[0]); err != nil {
					return fmt.Errorf("user %s: %w", args[0], err)
				}
				if ttl == 0 && e.Config != nil {
					ttl = time.Duration(e.Config.Auth.TokenTTLMinutes) * time.Minute
				}
				token, err := server.SignToken(secret, args[0], ttl)
				if err != nil {
					return err
				}
				fmt.Println(token)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to auth.token_ttl_minutes)")
	return cmd
}

func apiKeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	var name string
	create := &cobra.Command{
		Use:   "create <user-id>",
		Short: "Create an API key; the key is shown once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, err := e.Repo.GetUser(ctx, nil, args[0]); err != nil {
					return fmt.Errorf("user %s: %w", args[0], err)
				}
				buf := make([]byte, 24)
				if _, err := rand.Read(buf); err != nil {
					return err
				}
				key := "pf_" + hex.EncodeToString(buf)
				rec := domain.APIKey{ID: uuid.NewString(), UserID: args[0], Name: name, KeyHash: repo.HashAPIKey(key)}
				if err := e.Repo.InsertAPIKey(ctx, nil, rec); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"id": rec.ID, "user_id": rec.UserID, "key": key})
				}
				fmt.Printf("id:  %s\nkey: %s\n", rec.ID, key)
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "key label")
	cmd.AddCommand(create)

	var user string
	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListAPIKeys(ctx, user)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	list.Flags().StringVar(&user, "user", "", "user filter")
	cmd.AddCommand(list)
	cmd.AddCommand(&cobra.Command{
		Use:   "revoke <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	})
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := app.Bootstrap(viper.GetString("workspace"), os.Stderr)
			if err != nil {
				return err
			}
			defer rt.Close()
			if addr == "" {
				addr = rt.Config.Server.Addr
			}
			if basePath == "" {
				basePath = rt.Config.Server.BasePath
			}
			authCfg := server.AuthConfig{
				JWTSecret:              viper.GetString("jwt-secret"),
				AllowLegacyActorHeader: rt.Config.Auth.AllowLegacyActorHeader,
				Logger:                 rt.Logger,
			}
			if authCfg.JWTSecret == "" && !authCfg.AllowLegacyActorHeader {
				return fmt.Errorf("PATHFINDER_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: rt.Engine, BasePath: basePath, Auth: authCfg, Logger: rt.Logger})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			rt.Logger.Info("serving pathfinder api", "addr", addr, "base_path", basePath)
			fmt.Printf("Serving Pathfinder API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to server.base_path)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	rt, err := app.Bootstrap(viper.GetString("workspace"), os.Stderr)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt.Engine)
}

func withProject(ctx context.Context, fn func(context.Context, engine.Engine, string) error) error {
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		projectID, err := app.ResolveProject(ctx, e.Repo, viper.GetString("project"))
		if err != nil {
			return err
		}
		return fn(ctx, e, projectID)
	})
}

func newTable(header ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row(header))
	return tw
}

func printResult(res engine.Result) error {
	if viper.GetBool("json") {
		return printJSON(res)
	}
	fmt.Printf("project %s: %s (version %d)\n", res.Project.ID, res.Project.Status, res.Project.Version)
	for _, c := range res.Changes {
		fmt.Printf("  %s: %s -> %s\n", c.Step, c.From, c.To)
	}
	return printState(res.State)
}

func printState(st workflow.State) error {
	if viper.GetBool("json") {
		return printJSON(st)
	}
	tw := newTable("Step", "Status", "Enterable", "Current")
	for _, v := range st.Steps {
		current := ""
		if v.Current {
			current = "*"
		}
		tw.AppendRow(table.Row{v.Step, v.Status, v.Enterable, current})
	}
	tw.SetCaption("project %s, current step %s", st.ProjectStatus, st.Current)
	tw.Render()
	return nil
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
