package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/Freshair129/agentic-agent/internal/memory"
)

var distillCmd = &cobra.Command{
	Use:       "distill [core|sphere]",
	Short:     "Run one distillation sweep and print the report",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{string(memory.TierCore), string(memory.TierSphere)},
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadCore()
		if err != nil {
			return err
		}
		defer c.close()

		report, err := c.gov.RunDistillation(cmd.Context(), memory.Tier(args[0]))
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}
