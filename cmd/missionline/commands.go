package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"missionline/internal/app"
	"missionline/internal/domain"
	"missionline/internal/engine"
	"missionline/internal/patterns"
	"missionline/internal/repo"
	"missionline/internal/server"
	missionlinesdk "missionline/sdk/go"
)

func generateCmd() *cobra.Command {
	var refresh, dryRun bool
	var payloadArg, remote, token, apiKey string
	cmd := &cobra.Command{
		Use:   "generate <" + strings.Join(engine.TaskNames(), "|") + ">",
		Short: "Generate missions or coaching feedback",
		Long: `Runs one generation locally against the workspace database, or against a
running server with --server. --payload takes inline JSON or @file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readPayload(payloadArg)
			if err != nil {
				return err
			}
			if remote == "" {
				remote = viper.GetString("server")
			}
			if remote != "" {
				return generateRemote(cmd.Context(), remote, token, apiKey, args[0], refresh, payload)
			}
			user, err := requireUser()
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				req := engine.Request{UserID: user, Type: args[0], Refresh: refresh, Payload: payload}
				if dryRun {
					c, prompt, err := rt.Engine.Preview(ctx, req)
					if err != nil {
						return err
					}
					fmt.Fprintf(os.Stderr, "history window %s..%s, %d fingerprints\n", c.Since, c.Today, len(c.History))
					fmt.Println(string(prompt))
					return nil
				}
				res, err := rt.Engine.Generate(ctx, req)
				if err != nil {
					return err
				}
				if len(res.Warnings) > 0 {
					fmt.Fprintln(os.Stderr, "persistence warnings:", engine.WarningCodes(res.Warnings))
				}
				return printRaw(res.Data)
			})
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "count against the refresh quota")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the composed prompt without generating")
	cmd.Flags().StringVar(&payloadArg, "payload", "", "payload JSON object or @file")
	cmd.Flags().StringVar(&remote, "server", "", "server URL (default $MISSIONLINE_SERVER)")
	cmd.Flags().StringVar(&token, "token", "", "bearer token (default $MISSIONLINE_TOKEN)")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key (default $MISSIONLINE_API_KEY)")
	return cmd
}

func generateRemote(ctx context.Context, baseURL, token, apiKey, taskType string, refresh bool, payload json.RawMessage) error {
	c := missionlinesdk.New(baseURL)
	c.BearerToken = firstNonEmpty(token, viper.GetString("token"))
	c.APIKey = firstNonEmpty(apiKey, viper.GetString("api_key"))
	var body map[string]any
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &body); err != nil {
			return fmt.Errorf("payload must be a JSON object: %w", err)
		}
	}
	res, err := c.Generate(ctx, taskType, refresh, body)
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, "request id:", res.RequestID)
	if len(res.Warnings) > 0 {
		fmt.Fprintln(os.Stderr, "persistence warnings:", strings.Join(res.Warnings, ","))
	}
	return printRaw(res.Data)
}

func readPayload(arg string) (json.RawMessage, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return nil, nil
	}
	data := []byte(arg)
	if strings.HasPrefix(arg, "@") {
		b, err := os.ReadFile(strings.TrimPrefix(arg, "@"))
		if err != nil {
			return nil, err
		}
		data = b
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}
	return data, nil
}

func printRaw(data json.RawMessage) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		fmt.Println(string(data))
		return nil
	}
	return printJSON(v)
}

func goalsCmd() *cobra.Command {
	goals := &cobra.Command{Use: "goals", Short: "Manage a user's goals"}
	goals.AddCommand(goalsListCmd())
	goals.AddCommand(goalsSetCmd())
	return goals
}

func goalsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List goals",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := requireUser()
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				items, err := rt.Engine.ListGoals(ctx, user)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, g := range items {
					rows = append(rows, table.Row{g.Category, g.Target, g.Completed, g.UpdatedAt})
				}
				return printJSONOrTable(items, table.Row{"Category", "Target", "Completed", "Updated"}, rows)
			})
		},
	}
}

func goalsSetCmd() *cobra.Command {
	var target, details string
	var completed bool
	cmd := &cobra.Command{
		Use:   "set <category>",
		Short: "Create or replace the goal for a category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := requireUser()
			if err != nil {
				return err
			}
			raw, err := readPayload(details)
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				g, err := rt.Engine.SetGoal(ctx, engine.GoalInput{
					UserID:    user,
					Category:  args[0],
					Target:    target,
					Details:   raw,
					Completed: completed,
				})
				if err != nil {
					return err
				}
				return printJSON(g)
			})
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "goal target text")
	cmd.Flags().StringVar(&details, "details", "", "details JSON object or @file")
	cmd.Flags().BoolVar(&completed, "completed", false, "mark the goal completed")
	return cmd
}

func fingerprintsCmd() *cobra.Command {
	fp := &cobra.Command{Use: "fingerprints", Short: "Inspect mission fingerprints"}
	var days int
	list := &cobra.Command{
		Use:   "list",
		Short: "Recent fingerprints, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := requireUser()
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				items, err := rt.Engine.RecentFingerprints(ctx, user, days)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, f := range items {
					rows = append(rows, table.Row{f.Date, f.Category, f.PatternID, f.ActionVerb, f.Tool, f.Place, f.SocialContext, f.Mechanic})
				}
				return printJSONOrTable(items, table.Row{"Date", "Category", "Pattern", "Verb", "Tool", "Place", "Social", "Mechanic"}, rows)
			})
		},
	}
	list.Flags().IntVar(&days, "days", 0, "trailing days (0 uses history.window_days)")
	fp.AddCommand(list)
	return fp
}

func quotaCmd() *cobra.Command {
	q := &cobra.Command{Use: "quota", Short: "Inspect refresh quotas"}
	var date, category string
	show := &cobra.Command{
		Use:   "show",
		Short: "Show refresh counters for a day",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := requireUser()
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				items, err := rt.Engine.Quotas(ctx, user, date, category)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, s := range items {
					rows = append(rows, table.Row{s.Date, s.Category, s.Count, s.Ceiling, s.Remaining})
				}
				return printJSONOrTable(items, table.Row{"Date", "Category", "Count", "Ceiling", "Remaining"}, rows)
			})
		},
	}
	show.Flags().StringVar(&date, "date", "", "YYYY-MM-DD (default today, UTC)")
	show.Flags().StringVar(&category, "category", "", "single counter")
	q.AddCommand(show)
	return q
}

func patternsCmd() *cobra.Command {
	p := &cobra.Command{Use: "patterns", Short: "Inspect the mission pattern library"}
	var pool string
	list := &cobra.Command{
		Use:   "list",
		Short: "List patterns by pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				lib := rt.Engine.Selector.Library
				pools := map[string][]patternRow{}
				for name, items := range lib.Daily {
					pools["daily."+name] = toPatternRows(items)
				}
				pools["funplay.archetypes"] = toPatternRows(lib.Funplay.Archetypes)
				pools["funplay.mechanics"] = toPatternRows(lib.Funplay.Mechanics)
				pools["funplay.twists"] = toPatternRows(lib.Funplay.Twists)
				if pool != "" {
					items, ok := pools[pool]
					if !ok {
						return fmt.Errorf("unknown pool %s; one of %s", pool, strings.Join(sortedKeys(pools), ", "))
					}
					pools = map[string][]patternRow{pool: items}
				}
				var rows []table.Row
				for _, name := range sortedKeys(pools) {
					for _, r := range pools[name] {
						rows = append(rows, table.Row{name, r.ID, r.Brief})
					}
				}
				return printJSONOrTable(pools, table.Row{"Pool", "ID", "Brief"}, rows)
			})
		},
	}
	list.Flags().StringVar(&pool, "pool", "", "only this pool, e.g. daily.body_wellness")
	p.AddCommand(list)
	return p
}

type patternRow struct {
	ID    string `json:"id"`
	Brief string `json:"brief"`
}

func toPatternRows(items []patterns.Pattern) []patternRow {
	out := make([]patternRow, 0, len(items))
	for _, it := range items {
		out = append(out, patternRow{ID: it.ID, Brief: it.Brief})
	}
	return out
}

func apikeyCmd() *cobra.Command {
	k := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	k.AddCommand(apikeyCreateCmd())
	k.AddCommand(apikeyListCmd())
	k.AddCommand(apikeyDeleteCmd())
	return k
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	var saveEnv bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for --user; the key is shown once",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := requireUser()
			if err != nil {
				return err
			}
			secret, err := newAPIKey()
			if err != nil {
				return err
			}
			key := domain.APIKey{ID: uuid.NewString(), ActorID: user, Name: name, KeyHash: repo.HashAPIKey(secret)}
			err = withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.InsertAPIKey(ctx, nil, key)
			})
			if err != nil {
				return err
			}
			if saveEnv {
				if err := setEnvValue(filepath.Join(viper.GetString("workspace"), ".env"), "MISSIONLINE_API_KEY", secret); err != nil {
					return err
				}
			}
			return printJSON(map[string]string{"id": key.ID, "user_id": user, "key": secret})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "label")
	cmd.Flags().BoolVar(&saveEnv, "save-env", false, "store the key as MISSIONLINE_API_KEY in the workspace .env")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List API keys (all users unless --user is set)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAPIKeys(ctx, strings.TrimSpace(viper.GetString("user")))
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for i := range items {
					items[i].KeyHash = ""
					rows = append(rows, table.Row{items[i].ID, items[i].ActorID, items[i].Name, items[i].CreatedAt})
				}
				return printJSONOrTable(items, table.Row{"ID", "User", "Name", "Created"}, rows)
			})
		},
	}
}

func apikeyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
}

func tokenCmd() *cobra.Command {
	t := &cobra.Command{Use: "token", Short: "Bearer tokens"}
	var ttl time.Duration
	var saveEnv bool
	mint := &cobra.Command{
		Use:   "mint",
		Short: "Sign a JWT for --user with the configured secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := requireUser()
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			signed, exp, err := server.SignToken(cfg.Auth.JWTSecret, user, ttl, time.Now().UTC())
			if err != nil {
				return err
			}
			if saveEnv {
				if err := setEnvValue(filepath.Join(viper.GetString("workspace"), ".env"), "MISSIONLINE_TOKEN", signed); err != nil {
					return err
				}
			}
			return printJSON(map[string]string{"token": signed, "expires_at": exp.Format(time.RFC3339)})
		},
	}
	mint.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	mint.Flags().BoolVar(&saveEnv, "save-env", false, "store the token as MISSIONLINE_TOKEN in the workspace .env")
	t.AddCommand(mint)
	return t
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Event log"}
	var n int
	var evtType string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Latest events (all users unless --user is set)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, strings.TrimSpace(viper.GetString("user")), evtType, n)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(events))
				for _, e := range events {
					rows = append(rows, table.Row{e.ID, e.TS, e.Type, e.UserID, e.EntityKind, e.EntityID})
				}
				return printJSONOrTable(events, table.Row{"ID", "TS", "Type", "User", "Kind", "Entity"}, rows)
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().StringVar(&evtType, "type", "", "event type filter")
	l.AddCommand(tail)
	return l
}

func newAPIKey() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "ml_" + hex.EncodeToString(b), nil
}

// setEnvValue sets key in a dotenv file, keeping the other entries.
func setEnvValue(path, key, value string) error {
	env, err := godotenv.Read(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		env = map[string]string{}
	}
	env[key] = value
	return godotenv.Write(env, path)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
