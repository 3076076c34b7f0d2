package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ellavondegurechaff/redpacket/redpacket"
	"github.com/ellavondegurechaff/redpacket/redpacket/config"
	"github.com/spf13/cobra"
)

var auditCmd = &cobra.Command{
	Use:   "audit <activity-id>",
	Short: "rebuild an activity's aggregates and export an audit report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		activityID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid activity id %q: %w", args[0], err)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		engine := redpacket.New(cfg, version, commit)
		defer engine.Shutdown(config.ShutdownTimeout)
		if err := engine.Setup(cmd.Context()); err != nil {
			return err
		}

		report, err := engine.Auditor.Audit(cmd.Context(), activityID)
		if report != nil {
			out := json.NewEncoder(cmd.OutOrStdout())
			out.SetIndent("", "  ")
			if encErr := out.Encode(report); encErr != nil {
				return encErr
			}
		}
		if err != nil {
			return err
		}
		if !report.Healthy() {
			return fmt.Errorf("activity %d has %d audit issues", activityID, len(report.Issues))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(auditCmd)
}
