package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/aime/internal/engine"
	"github.com/rcliao/aime/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "push [content]",
		Short: "Add a turn to the open session",
		Long: "Add one turn to the open session, opening a new one when the previous " +
			"session has been idle past the inactivity timeout. Content can be a positional arg or piped via stdin.",
		Run: runPush,
	}

	cmd.Flags().StringP("role", "r", "user", "Role: user, assistant, system")
	cmd.Flags().Int64("ts", 0, "Timestamp in Unix milliseconds (default: now)")

	RootCmd.AddCommand(cmd)
}

func runPush(cmd *cobra.Command, args []string) {
	role, _ := cmd.Flags().GetString("role")
	ts, _ := cmd.Flags().GetInt64("ts")

	// Positional arg first, then stdin
	var content string
	if len(args) > 0 {
		content = strings.Join(args, " ")
	} else {
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) == 0 {
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				exitErr("read stdin", err)
			}
			content = string(b)
		}
	}
	if strings.TrimSpace(content) == "" {
		exitErr("push", fmt.Errorf("content is required (positional arg or stdin)"))
	}

	withEngine(cmd, func(e *engine.Engine) error {
		res, err := e.Handle(cmd.Context(), &engine.PushTurn{
			Role:      model.Role(role),
			Content:   strings.TrimSpace(content),
			Timestamp: ts,
		})
		if err != nil {
			return err
		}
		printJSON(res)
		return nil
	})
}
