package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tagwarden/tagwarden/internal/app"
)

var (
	scanTypes    []string
	scanSeverity string
	scanFormat   string
	scanRecs     bool
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one headless compliance scan and print the result",
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

		a, err := app.Bootstrap(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		var outcome any
		if scanFormat != "" {
			outcome = a.Dispatcher.Dispatch(ctx, "cli", "generate_compliance_report", mustJSON(map[string]any{
				"format":                  scanFormat,
				"include_recommendations": scanRecs,
			}))
		} else {
			params := map[string]any{}
			if len(scanTypes) > 0 {
				params["resource_types"] = scanTypes
			}
			if scanSeverity != "" {
				params["severity"] = scanSeverity
			}
			outcome = a.Dispatcher.Dispatch(ctx, "cli", "check_tag_compliance", mustJSON(params))
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(outcome)
	},
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("encode scan arguments: %v", err))
	}
	return data
}

func init() {
	scanCmd.Flags().StringSliceVar(&scanTypes, "types", nil, "Resource types to scan (service:kind), default all applicable")
	scanCmd.Flags().StringVar(&scanSeverity, "severity", "", "Violation filter: errors_only, warnings_only, all")
	scanCmd.Flags().StringVar(&scanFormat, "report", "", "Render a report instead: json, csv, markdown")
	scanCmd.Flags().BoolVar(&scanRecs, "recommendations", false, "Include recommendations in the report")
}
