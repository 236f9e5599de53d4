package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/instantcocoa/pulse/alerting"
	"github.com/instantcocoa/pulse/cli/internal/output"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Alert rule file operations",
	Long:  "Commands for validating and inspecting alert rule files.",
}

var rulesValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Validate an alert rule file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rs, err := alerting.LoadRuleSet(args[0])
		if err != nil {
			return fmt.Errorf("invalid rule file: %w", err)
		}

		output.Success("%s: %d rules, %d channels, %d suppressions",
			args[0], len(rs.Rules), len(rs.Channels), len(rs.Suppressions))
		return nil
	},
}

var rulesShowCmd = &cobra.Command{
	Use:   "show <file>",
	Short: "Show the rules in a rule file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rs, err := alerting.LoadRuleSet(args[0])
		if err != nil {
			return fmt.Errorf("invalid rule file: %w", err)
		}

		if cfg.Format == "json" || cfg.Format == "yaml" {
			w := output.NewWriter(cfg.Format)
			return w.Print(rs)
		}

		table := output.Table{
			Headers: []string{"ID", "NAME", "SEVERITY", "ENABLED", "CONDITIONS", "CHANNELS"},
			Rows:    make([][]string, len(rs.Rules)),
		}
		for i, r := range rs.Rules {
			conds := make([]string, len(r.Conditions))
			for j, c := range r.Conditions {
				conds[j] = fmt.Sprintf("%s(%s) %s %g", c.Aggregation, c.Metric, c.Operator, c.Threshold)
			}
			table.Rows[i] = []string{
				r.ID,
				r.Name,
				string(r.Severity),
				fmt.Sprintf("%t", r.Enabled),
				strings.Join(conds, "; "),
				strings.Join(r.Channels, ","),
			}
		}

		w := output.NewWriter("table")
		if err := w.Print(table); err != nil {
			return err
		}

		if len(rs.Channels) > 0 {
			chTable := output.Table{
				Headers: []string{"CHANNEL", "TYPE", "ENABLED"},
				Rows:    make([][]string, len(rs.Channels)),
			}
			for i, ch := range rs.Channels {
				chTable.Rows[i] = []string{ch.ID, ch.Type, fmt.Sprintf("%t", ch.Enabled)}
			}
			fmt.Println()
			if err := w.Print(chTable); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	rulesCmd.AddCommand(rulesValidateCmd)
	rulesCmd.AddCommand(rulesShowCmd)
}
