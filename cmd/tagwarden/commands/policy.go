package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tagwarden/tagwarden/pkg/policy"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Inspect the tagging policy",
}

var policyValidateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Validate a tag policy file without starting the server",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) > 0 {
			path = args[0]
		} else {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			path = cfg.PolicyPath
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		pol, err := policy.Parse(data)
		if err != nil {
			return err
		}
		fmt.Printf("policy %s: valid (%d required tags, %d optional)\n",
			pol.Version, len(pol.RequiredTags), len(pol.OptionalTags))
		return nil
	},
}

var policyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the active policy as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(cfg.PolicyPath)
		if err != nil {
			return err
		}
		pol, err := policy.Parse(data)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(pol)
	},
}

func init() {
	policyCmd.AddCommand(policyValidateCmd)
	policyCmd.AddCommand(policyShowCmd)
}
