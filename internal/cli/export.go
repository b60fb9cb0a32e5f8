package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rcliao/aime/internal/engine"
	"github.com/rcliao/aime/internal/memory"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export all sessions as an .aime archive",
		Long:  "Write every stored session as a versioned, compressed .aime archive to stdout or --out.",
		Args:  cobra.NoArgs,
		Run:   runExport,
	}

	cmd.Flags().StringP("out", "o", "", "Output file (default: stdout)")
	cmd.Flags().Bool("plain", false, "Also include uncompressed sessions")

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	out, _ := cmd.Flags().GetString("out")
	plain, _ := cmd.Flags().GetBool("plain")

	withEngine(cmd, func(e *engine.Engine) error {
		res, err := e.Handle(cmd.Context(), &engine.Export{Plain: plain})
		if err != nil {
			return err
		}
		a := res.(*memory.Archive)
		if out == "" {
			printJSON(a)
			return nil
		}
		b, err := json.MarshalIndent(a, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(out, b, 0o644); err != nil {
			return fmt.Errorf("write archive: %w", err)
		}
		printJSON(map[string]any{
			"path":     out,
			"sessions": a.Index.SessionCount,
			"messages": a.Index.MessageCount,
			"bytes":    len(b),
		})
		return nil
	})
}
