package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/tagwarden/tagwarden/internal/app"
	"github.com/tagwarden/tagwarden/pkg/telemetry"
)

var toolDescriptions = map[string]string{
	"check_tag_compliance":       "Scan resources across all enabled regions and report tag policy compliance: score, counts, and an ordered violation list.",
	"find_untagged_resources":    "List resources with no tags or missing required tags, optionally filtered by region and minimum monthly cost.",
	"validate_resource_tags":     "Validate the tags of up to 100 specific resources by ARN against the tagging policy.",
	"get_cost_attribution_gap":   "Report how much monthly spend is not attributable to properly tagged resources, optionally grouped.",
	"suggest_tags":               "Propose values for the policy tags a resource is missing, with confidence and reasoning.",
	"get_tagging_policy":         "Return the active tagging policy document.",
	"generate_compliance_report": "Run a full compliance scan and render it as JSON, CSV, or Markdown.",
	"get_violation_history":      "Aggregate stored compliance snapshots into day, week, or month buckets with a trend.",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the tool surface over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		shutdown, err := telemetry.Init(ctx, "tagwarden", CurrentVersion, cfg.OTELEndpoint)
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		defer shutdown(context.Background())

		a, err := app.Bootstrap(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		srv := server.NewMCPServer("tagwarden", CurrentVersion,
			server.WithToolCapabilities(false),
		)

		for _, name := range a.Dispatcher.ToolNames() {
			schema, ok := a.Dispatcher.SchemaJSON(name)
			if !ok {
				return fmt.Errorf("tool %s has no argument schema", name)
			}
			tool := mcp.NewToolWithRawSchema(name, toolDescriptions[name], json.RawMessage(schema))
			srv.AddTool(tool, makeHandler(a, name))
		}

		logger.Info("serving tool surface on stdio", "tools", len(a.Dispatcher.ToolNames()))
		return server.ServeStdio(srv)
	},
}

// makeHandler adapts one dispatcher tool to the wire protocol. Outcomes are
// returned as JSON text; protocol-level errors only occur when the outcome
// itself cannot be encoded.
func makeHandler(a *app.App, name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID := "local"
		if s := server.ClientSessionFromContext(ctx); s != nil {
			sessionID = s.SessionID()
		}

		raw, err := json.Marshal(req.GetArguments())
		if err != nil {
			return mcp.NewToolResultError("arguments must be a JSON object"), nil
		}

		outcome := a.Dispatcher.Dispatch(ctx, sessionID, name, raw)
		body, err := json.Marshal(outcome)
		if err != nil {
			return nil, err
		}
		return mcp.NewToolResultText(string(body)), nil
	}
}
