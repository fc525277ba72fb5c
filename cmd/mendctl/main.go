// Mendctl is the command-line client for the mendd daemon.
//
// It submits tasks, inspects their lifecycle, and works the human
// review queue over the daemon's HTTP API.
//
// Usage:
//
//	mendctl submit --description "Test the OAuth login flow" --feature auth
//	mendctl tasks list
//	mendctl escalations list --unresolved
//	mendctl escalations resolve <task-id> --root-cause selector_drift --fix-strategy update_selector
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	serverURL  string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "mendctl",
	Short: "Client for the mendd task orchestration daemon",
	Long: `Mendctl talks to a running mendd daemon.

Tasks are submitted with a description and a feature identifier; the
daemon scores complexity, routes to a generation tier, and drives the
task through execution, validation, and regression-safe repair. Tasks
automation cannot fix land in the escalation queue, which mendctl lists
in priority order and resolves with annotations.`,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("MENDD_SERVER", "http://localhost:8087"), "mendd server URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output JSON")

	rootCmd.AddCommand(submitCmd())
	rootCmd.AddCommand(tasksCmd())
	rootCmd.AddCommand(escalationsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func submitCmd() *cobra.Command {
	var description, feature string
	var complexityOverride int

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{
				"description": description,
				"feature":     feature,
			}
			if cmd.Flags().Changed("complexity") {
				body["complexity_override"] = complexityOverride
			}

			var t taskView
			if err := call(http.MethodPost, "/api/v1/tasks", body, &t); err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(t)
			}

			fmt.Printf("accepted task %s (feature %s)\n", t.ID, t.Feature)
			return nil
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "what to author or fix")
	cmd.Flags().StringVar(&feature, "feature", "", "owning feature identifier")
	cmd.Flags().IntVar(&complexityOverride, "complexity", 0, "manual complexity score (bypasses the estimator)")
	_ = cmd.MarkFlagRequired("description")
	_ = cmd.MarkFlagRequired("feature")
	return cmd
}

func tasksCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "tasks", Short: "Inspect tasks"}
	cmd.AddCommand(tasksListCmd())
	cmd.AddCommand(tasksGetCmd())
	return cmd
}

// taskView mirrors the daemon's task JSON.
type taskView struct {
	ID              string    `json:"id"`
	Description     string    `json:"description"`
	Feature         string    `json:"feature"`
	ComplexityScore int       `json:"complexity_score"`
	Tier            string    `json:"tier"`
	Status          string    `json:"status"`
	Reason          string    `json:"reason,omitempty"`
	Attempts        int       `json:"attempts"`
	Cost            string    `json:"cost"`
	Cap             string    `json:"cap"`
	HITLRef         string    `json:"hitl_ref,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

func tasksListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			var tasks []taskView
			if err := call(http.MethodGet, "/api/v1/tasks", nil, &tasks); err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(tasks)
			}

			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "Feature", "Status", "Tier", "Score", "Attempts", "Cost"})
			for _, t := range tasks {
				tw.AppendRow(table.Row{short(t.ID), t.Feature, t.Status, t.Tier, t.ComplexityScore, t.Attempts, t.Cost})
			}
			tw.Render()
			return nil
		},
	}
}

func tasksGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var t taskView
			if err := call(http.MethodGet, "/api/v1/tasks/"+args[0], nil, &t); err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(t)
			}

			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendRow(table.Row{"ID", t.ID})
			tw.AppendRow(table.Row{"Feature", t.Feature})
			tw.AppendRow(table.Row{"Status", t.Status})
			if t.Reason != "" {
				tw.AppendRow(table.Row{"Reason", t.Reason})
			}
			tw.AppendRow(table.Row{"Tier", t.Tier})
			tw.AppendRow(table.Row{"Complexity", t.ComplexityScore})
			tw.AppendRow(table.Row{"Attempts", t.Attempts})
			tw.AppendRow(table.Row{"Cost / Cap", fmt.Sprintf("%s / %s", t.Cost, t.Cap)})
			if t.HITLRef != "" {
				tw.AppendRow(table.Row{"Escalation", t.HITLRef})
			}
			tw.AppendRow(table.Row{"Created", t.CreatedAt.Format(time.RFC3339)})
			tw.Render()
			return nil
		},
	}
}

func escalationsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "escalations", Short: "Work the human review queue"}
	cmd.AddCommand(escalationsListCmd())
	cmd.AddCommand(escalationsGetCmd())
	cmd.AddCommand(escalationsResolveCmd())
	cmd.AddCommand(escalationsStatsCmd())
	return cmd
}

// entryView mirrors the daemon's escalation entry JSON.
type entryView struct {
	TaskID     string    `json:"task_id"`
	Priority   float64   `json:"priority"`
	Severity   string    `json:"severity"`
	Reason     string    `json:"reason"`
	Diagnosis  string    `json:"diagnosis"`
	Confidence float64   `json:"confidence"`
	Attempts   int       `json:"attempts"`
	Feature    string    `json:"feature"`
	Critical   bool      `json:"critical"`
	Resolved   bool      `json:"resolved"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

func escalationsListCmd() *cobra.Command {
	var unresolved, recompute bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List escalations in priority order",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/escalations"
			sep := "?"
			if unresolved {
				path += sep + "resolved=false"
				sep = "&"
			}
			if recompute {
				path += sep + "recompute=true"
			}

			var entries []entryView
			if err := call(http.MethodGet, path, nil, &entries); err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(entries)
			}

			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Task", "Priority", "Severity", "Reason", "Feature", "Attempts", "Resolved"})
			for _, e := range entries {
				tw.AppendRow(table.Row{short(e.TaskID), fmt.Sprintf("%.3f", e.Priority), e.Severity, e.Reason, e.Feature, e.Attempts, e.Resolved})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().BoolVar(&unresolved, "unresolved", false, "only unresolved entries")
	cmd.Flags().BoolVar(&recompute, "recompute", false, "apply priority aging at read time")
	return cmd
}

func escalationsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <task-id>",
		Short: "Show one escalation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var e entryView
			if err := call(http.MethodGet, "/api/v1/escalations/"+args[0], nil, &e); err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(e)
			}

			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendRow(table.Row{"Task", e.TaskID})
			tw.AppendRow(table.Row{"Priority", fmt.Sprintf("%.3f", e.Priority)})
			tw.AppendRow(table.Row{"Severity", e.Severity})
			tw.AppendRow(table.Row{"Reason", e.Reason})
			tw.AppendRow(table.Row{"Diagnosis", e.Diagnosis})
			tw.AppendRow(table.Row{"Confidence", fmt.Sprintf("%.2f", e.Confidence)})
			tw.AppendRow(table.Row{"Attempts", e.Attempts})
			tw.AppendRow(table.Row{"Feature", e.Feature})
			tw.AppendRow(table.Row{"Critical", e.Critical})
			tw.AppendRow(table.Row{"Resolved", e.Resolved})
			tw.AppendRow(table.Row{"Enqueued", e.EnqueuedAt.Format(time.RFC3339)})
			tw.Render()
			return nil
		},
	}
}

func escalationsResolveCmd() *cobra.Command {
	var rootCause, fixStrategy, severity, notes, patch string

	cmd := &cobra.Command{
		Use:   "resolve <task-id>",
		Short: "Resolve an escalation with an annotation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{
				"root_cause":   rootCause,
				"fix_strategy": fixStrategy,
				"severity":     severity,
				"notes":        notes,
				"patch":        patch,
			}

			var e entryView
			if err := call(http.MethodPost, "/api/v1/escalations/"+args[0]+"/resolve", body, &e); err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(e)
			}

			fmt.Printf("resolved %s (%s / %s)\n", e.TaskID, rootCause, fixStrategy)
			return nil
		},
	}
	cmd.Flags().StringVar(&rootCause, "root-cause", "", "root cause: selector_drift, timing_flake, data_dependency, environment, logic_error, other")
	cmd.Flags().StringVar(&fixStrategy, "fix-strategy", "", "fix strategy: wait_for_element, update_selector, update_assertion, add_retry, regenerate, manual_patch, other")
	cmd.Flags().StringVar(&severity, "severity", "", "reviewer-assessed severity")
	cmd.Flags().StringVar(&notes, "notes", "", "free-text notes")
	cmd.Flags().StringVar(&patch, "patch", "", "manually authored patch text")
	_ = cmd.MarkFlagRequired("root-cause")
	_ = cmd.MarkFlagRequired("fix-strategy")
	return cmd
}

func escalationsStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show queue statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			var stats struct {
				Total           int     `json:"total"`
				Unresolved      int     `json:"unresolved"`
				Resolved        int     `json:"resolved"`
				AveragePriority float64 `json:"average_priority"`
				HighPriority    int     `json:"high_priority"`
			}
			if err := call(http.MethodGet, "/api/v1/escalations/stats", nil, &stats); err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(stats)
			}

			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendRow(table.Row{"Total", stats.Total})
			tw.AppendRow(table.Row{"Unresolved", stats.Unresolved})
			tw.AppendRow(table.Row{"Resolved", stats.Resolved})
			tw.AppendRow(table.Row{"Avg priority", fmt.Sprintf("%.3f", stats.AveragePriority)})
			tw.AppendRow(table.Row{"High priority", stats.HighPriority})
			tw.Render()
			return nil
		},
	}
}

// call performs a JSON request against the daemon.
func call(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, serverURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var httpErr struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &httpErr) == nil && httpErr.Message != "" {
			return fmt.Errorf("%s (status %d)", httpErr.Message, resp.StatusCode)
		}
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(data))
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
