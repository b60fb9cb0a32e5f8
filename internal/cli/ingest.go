package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rcliao/aime/internal/engine"
	"github.com/rcliao/aime/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Push turns from JSONL on stdin",
		Long: `Read one turn per line from stdin ({"role":"user","content":"...","timestamp":1700000000000})
and push them in order. Turns without a timestamp are stamped with the current time.`,
		Run: runIngest,
	}

	cmd.Flags().Bool("close", false, "Close the open session after the last turn")

	RootCmd.AddCommand(cmd)
}

type ingestResult struct {
	Turns    int      `json:"turns"`
	Sessions []string `json:"sessions"`
	Warnings []string `json:"warnings,omitempty"`
}

func runIngest(cmd *cobra.Command, args []string) {
	closeAfter, _ := cmd.Flags().GetBool("close")

	withEngine(cmd, func(e *engine.Engine) error {
		ctx := cmd.Context()
		out := ingestResult{Sessions: []string{}}
		seen := map[string]bool{}

		sc := bufio.NewScanner(os.Stdin)
		sc.Buffer(make([]byte, 0, 64<<10), 2*model.MaxContentBytes)
		line := 0
		for sc.Scan() {
			line++
			if len(sc.Bytes()) == 0 {
				continue
			}
			var t model.Turn
			if err := json.Unmarshal(sc.Bytes(), &t); err != nil {
				return fmt.Errorf("line %d: %w", line, err)
			}
			res, err := e.Handle(ctx, &engine.PushTurn{Role: t.Role, Content: t.Content, Timestamp: t.Timestamp})
			if err != nil {
				return fmt.Errorf("line %d: %w", line, err)
			}
			pr := res.(*engine.PushResult)
			if pr.Degraded != "" {
				out.Warnings = append(out.Warnings, pr.Degraded)
			}
			if !seen[pr.SessionID] {
				seen[pr.SessionID] = true
				out.Sessions = append(out.Sessions, pr.SessionID)
			}
			out.Turns++
		}
		if err := sc.Err(); err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		if closeAfter {
			if _, err := e.Handle(ctx, &engine.CloseSession{}); err != nil {
				return err
			}
		}
		printJSON(out)
		return nil
	})
}
