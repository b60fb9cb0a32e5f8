package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/aime/internal/engine"
	"github.com/rcliao/aime/internal/memory"
)

func init() {
	cmd := &cobra.Command{
		Use:   "context [description]",
		Short: "Assemble relevant past sessions for a task",
		Long:  "Search sessions, then greedily pack their narratives into a token budget.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runContext,
	}

	cmd.Flags().IntP("budget", "b", memory.DefaultContextBudget, "Max tokens in output")

	RootCmd.AddCommand(cmd)
}

func runContext(cmd *cobra.Command, args []string) {
	budget, _ := cmd.Flags().GetInt("budget")
	query := strings.Join(args, " ")

	withEngine(cmd, func(e *engine.Engine) error {
		res, err := e.Handle(cmd.Context(), &engine.Context{Query: query, Budget: budget})
		if err != nil {
			return err
		}
		printJSON(res)
		return nil
	})
}
