package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rcliao/aime/internal/engine"
)

func init() {
	cmd := &cobra.Command{
		Use:   "host",
		Short: "Serve requests as newline-delimited JSON on stdin/stdout",
		Long: `Run as a host bridge: read one JSON request per line from stdin, for example
  {"action":"push_turn","role":"user","content":"hi"}
  {"action":"search","query":"postgres vacuum","limit":5}
and write one {"ok":true,"result":...} or {"ok":false,"error":...,"code":...} line per request.
Actions: push_turn, close, set_origin, search, get_session, find_by_origin, get_recent,
get_stats, export, import, merge, concepts, context.`,
		Args: cobra.NoArgs,
		Run:  runHost,
	}

	RootCmd.AddCommand(cmd)
}

func runHost(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cmd.SetContext(ctx)

	withEngine(cmd, func(e *engine.Engine) error {
		return e.Serve(ctx, os.Stdin, os.Stdout)
	})
}
