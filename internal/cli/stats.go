package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/rcliao/aime/internal/engine"
	"github.com/rcliao/aime/internal/memory"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show memory statistics",
		Args:  cobra.NoArgs,
		Run:   runStats,
	}

	cmd.Flags().StringP("format", "f", "json", "Output format: json or text")

	RootCmd.AddCommand(cmd)
}

func runStats(cmd *cobra.Command, args []string) {
	format, _ := cmd.Flags().GetString("format")

	withEngine(cmd, func(e *engine.Engine) error {
		res, err := e.Handle(cmd.Context(), &engine.GetStats{})
		if err != nil {
			return err
		}
		st := res.(memory.Stats)
		if format == "text" {
			renderStats(os.Stdout, st, e.Config().DBPath)
			return nil
		}
		printJSON(struct {
			memory.Stats
			DBPath  string `json:"dbPath"`
			Backend string `json:"backend"`
			Pending int    `json:"pending"`
			Open    string `json:"openSession,omitempty"`
		}{st, e.Config().DBPath, e.Config().Backend, len(e.Tracker.Pending()), openID(e)})
		return nil
	})
}

func openID(e *engine.Engine) string {
	if cur := e.Tracker.Current(); cur != nil {
		return cur.ID
	}
	return ""
}
