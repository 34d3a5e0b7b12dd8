// Package sqlpilotctl implements the operator CLI. Commands are thin
// wrappers over the HTTP API so the CLI never needs database or model
// credentials of its own.
package sqlpilotctl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	app := &app{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:           "sqlpilotctl",
		Short:         "Ask questions of your database and manage the schema index",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&app.baseURL, "base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "API base URL")
	root.PersistentFlags().StringVar(&app.apiKey, "api-key", defaults.APIKey, "API key for authenticated requests")
	root.PersistentFlags().DurationVar(&app.timeout, "timeout", durationOr(defaults.Timeout, 30*time.Second), "HTTP timeout (e.g. 30s)")
	app.httpClient = defaults.HTTPClient

	root.AddCommand(app.askCommand())
	root.AddCommand(app.schemaCommand())
	root.AddCommand(app.conversationCommand())
	root.AddCommand(app.statusCommand("health", "/v1/health"))
	root.AddCommand(app.statusCommand("ready", "/v1/ready"))

	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintf(stderr, "%s %v\n", color.RedString("error:"), err)
		return 1
	}
	return 0
}

type app struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
	stdout     io.Writer
	stderr     io.Writer
}

type askResult struct {
	Status         string   `json:"status"`
	ConversationID string   `json:"conversation_id"`
	Question       string   `json:"question"`
	SQL            string   `json:"sql"`
	Reasoning      string   `json:"reasoning"`
	Columns        []string `json:"columns"`
	Rows           [][]any  `json:"rows"`
	RowCount       int      `json:"row_count"`
	Truncated      bool     `json:"truncated"`
	Untranslated   bool     `json:"untranslated"`
	Rejection      *struct {
		Rule   string `json:"rule"`
		Detail string `json:"detail"`
	} `json:"rejection"`
	DurationMs int64 `json:"duration_ms"`
}

func (a *app) askCommand() *cobra.Command {
	var language, conversationID string
	var maxRows, topK int
	var rawJSON bool

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a natural-language question with a validated SQL query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{"question": strings.Join(args, " ")}
			if language != "" {
				body["language"] = language
			}
			if conversationID != "" {
				body["conversation_id"] = conversationID
			}
			if maxRows > 0 {
				body["max_rows"] = maxRows
			}
			if topK > 0 {
				body["top_k"] = topK
			}

			status, payload, err := a.do(cmd.Context(), http.MethodPost, "/v1/ask", body)
			if err != nil {
				return err
			}
			if rawJSON {
				return a.printJSON(payload)
			}

			var result askResult
			if jsonErr := json.Unmarshal(payload, &result); jsonErr != nil || result.Status == "" {
				return apiError(status, payload)
			}
			a.renderAsk(result)
			if result.Status != "succeeded" {
				return fmt.Errorf("ask %s", result.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&language, "language", "", "question language hint (e.g. ko)")
	cmd.Flags().StringVar(&conversationID, "conversation", "", "conversation to continue")
	cmd.Flags().IntVar(&maxRows, "max-rows", 0, "row cap for the result set")
	cmd.Flags().IntVar(&topK, "top-k", 0, "schema fragments to retrieve")
	cmd.Flags().BoolVar(&rawJSON, "json", false, "print the raw API response")
	return cmd
}

func (a *app) renderAsk(result askResult) {
	statusColor := color.New(color.FgRed)
	switch result.Status {
	case "succeeded":
		statusColor = color.New(color.FgGreen)
	case "rejected", "timed_out":
		statusColor = color.New(color.FgYellow)
	}
	_, _ = fmt.Fprintf(a.stdout, "status: %s  (%dms)\n", statusColor.Sprint(result.Status), result.DurationMs)
	if result.ConversationID != "" {
		_, _ = fmt.Fprintf(a.stdout, "conversation: %s\n", result.ConversationID)
	}
	if result.Untranslated {
		_, _ = fmt.Fprintln(a.stdout, color.YellowString("note: the question could not be translated; it was interpreted as written"))
	}
	if result.Rejection != nil {
		_, _ = fmt.Fprintf(a.stdout, "rejected: %s: %s\n", result.Rejection.Rule, result.Rejection.Detail)
		return
	}
	if result.SQL != "" {
		_, _ = fmt.Fprintf(a.stdout, "\n%s\n", color.CyanString(result.SQL))
	}
	if result.Reasoning != "" {
		_, _ = fmt.Fprintf(a.stdout, "%s\n", result.Reasoning)
	}
	if len(result.Columns) > 0 {
		_, _ = fmt.Fprintf(a.stdout, "\n%s\n", strings.Join(result.Columns, "\t"))
		for _, row := range result.Rows {
			cells := make([]string, 0, len(row))
			for _, cell := range row {
				cells = append(cells, formatCell(cell))
			}
			_, _ = fmt.Fprintln(a.stdout, strings.Join(cells, "\t"))
		}
		suffix := ""
		if result.Truncated {
			suffix = " (truncated)"
		}
		_, _ = fmt.Fprintf(a.stdout, "\n%d rows%s\n", result.RowCount, suffix)
	}
}

func (a *app) schemaCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Inspect and rebuild the schema index",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "rebuild",
		Short: "Pull a fresh schema snapshot and publish a new index version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, payload, err := a.do(cmd.Context(), http.MethodPost, "/v1/schema/rebuild", nil)
			if err != nil {
				return err
			}
			if status >= 400 {
				return apiError(status, payload)
			}
			return a.printJSON(payload)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the active index version and its tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, payload, err := a.do(cmd.Context(), http.MethodGet, "/v1/schema", nil)
			if err != nil {
				return err
			}
			if status >= 400 {
				return apiError(status, payload)
			}
			return a.printJSON(payload)
		},
	})
	return cmd
}

func (a *app) conversationCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "conversation <id>",
		Short: "Show the turns of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, payload, err := a.do(cmd.Context(), http.MethodGet, "/v1/conversations/"+args[0], nil)
			if err != nil {
				return err
			}
			if status >= 400 {
				return apiError(status, payload)
			}
			return a.printJSON(payload)
		},
	}
}

func (a *app) statusCommand(name, path string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: "GET " + path,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, payload, err := a.do(cmd.Context(), http.MethodGet, path, nil)
			if err != nil {
				return err
			}
			if status >= 400 {
				return apiError(status, payload)
			}
			return a.printJSON(payload)
		},
	}
}

func (a *app) do(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(encoded)
	}

	endpoint := strings.TrimRight(a.baseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(a.apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(a.apiKey))
	}

	client := a.httpClient
	if client == nil {
		client = &http.Client{Timeout: a.timeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, payload, nil
}

func (a *app) printJSON(raw []byte) error {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		_, _ = fmt.Fprintln(a.stdout, strings.TrimSpace(string(raw)))
		return nil
	}
	formatted, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(a.stdout, string(formatted))
	return nil
}

func apiError(status int, payload []byte) error {
	var envelope struct {
		ErrorCode string `json:"error_code"`
		Message   string `json:"message"`
	}
	if err := json.Unmarshal(payload, &envelope); err == nil && envelope.ErrorCode != "" {
		return fmt.Errorf("http %d: %s: %s", status, envelope.ErrorCode, envelope.Message)
	}
	return fmt.Errorf("http %d: %s", status, strings.TrimSpace(string(payload)))
}

func formatCell(cell any) string {
	switch v := cell.(type) {
	case nil:
		return "NULL"
	case string:
		return v
	case float64:
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", v), "0"), ".")
	default:
		return fmt.Sprint(v)
	}
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
