package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/rcliao/aime/internal/engine"
	"github.com/rcliao/aime/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "List the most recent sessions",
		Args:  cobra.NoArgs,
		Run:   runRecent,
	}

	cmd.Flags().IntP("limit", "l", 10, "Max results")
	cmd.Flags().StringP("format", "f", "text", "Output format: json or text")
	cmd.Flags().Bool("ids-only", false, "Only output session ids")

	RootCmd.AddCommand(cmd)
}

func runRecent(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")
	format, _ := cmd.Flags().GetString("format")
	idsOnly, _ := cmd.Flags().GetBool("ids-only")

	withEngine(cmd, func(e *engine.Engine) error {
		res, err := e.Handle(cmd.Context(), &engine.GetRecent{Limit: limit})
		if err != nil {
			return err
		}
		sessions := res.([]*model.Session)

		switch {
		case idsOnly:
			for _, s := range sessions {
				os.Stdout.WriteString(s.ID + "\n")
			}
		case format == "json":
			printJSON(sessions)
		default:
			rows := make([]sessionRow, 0, len(sessions))
			for _, s := range sessions {
				rows = append(rows, sessionRow{Session: s, Score: -1})
			}
			renderSessions(os.Stdout, "Recent sessions", rows)
		}
		return nil
	})
}
