package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/aime/internal/engine"
)

func init() {
	cmd := &cobra.Command{
		Use:   "close",
		Short: "Close the open session",
		Long:  "Close the open session and store it. Sessions waiting for a retry are retried too.",
		Args:  cobra.NoArgs,
		Run:   runClose,
	}

	RootCmd.AddCommand(cmd)
}

func runClose(cmd *cobra.Command, args []string) {
	withEngine(cmd, func(e *engine.Engine) error {
		cur := e.Tracker.Current()
		if _, err := e.Handle(cmd.Context(), &engine.CloseSession{}); err != nil {
			return err
		}
		out := map[string]any{"closed": nil, "pending": len(e.Tracker.Pending())}
		if cur != nil {
			out["closed"] = cur.ID
		}
		printJSON(out)
		return nil
	})
}
