package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/aime/internal/engine"
)

func init() {
	merge := &cobra.Command{
		Use:   "merge <id> <id> [id...]",
		Short: "Merge sessions into one",
		Long: "Merge two or more sessions into a new session with turns ordered by time. " +
			"The originals are removed; their ids stay in the merged session's linked list.",
		Args: cobra.MinimumNArgs(2),
		Run:  runMerge,
	}

	linked := &cobra.Command{
		Use:   "linked <id>",
		Short: "Find the merged session that absorbed an id",
		Args:  cobra.ExactArgs(1),
		Run:   runLinked,
	}

	RootCmd.AddCommand(merge, linked)
}

func runMerge(cmd *cobra.Command, args []string) {
	withEngine(cmd, func(e *engine.Engine) error {
		res, err := e.Handle(cmd.Context(), &engine.Merge{IDs: args})
		if err != nil {
			return err
		}
		printJSON(res)
		return nil
	})
}

func runLinked(cmd *cobra.Command, args []string) {
	withEngine(cmd, func(e *engine.Engine) error {
		s, err := e.Memory.LinkedFrom(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printJSON(s)
		return nil
	})
}
