package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/aime/internal/engine"
	"github.com/rcliao/aime/internal/export"
	"github.com/rcliao/aime/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "show [id]",
		Short: "Show one session",
		Long:  "Show a stored session by id, or by origin key with --origin. Use \"current\" for the open session.",
		Args:  cobra.MaximumNArgs(1),
		Run:   runShow,
	}

	cmd.Flags().StringP("format", "f", "md", "Output format: "+strings.Join(export.Formats, ", "))
	cmd.Flags().String("origin", "", "Look the session up by origin key")

	RootCmd.AddCommand(cmd)
}

func runShow(cmd *cobra.Command, args []string) {
	format, _ := cmd.Flags().GetString("format")
	origin, _ := cmd.Flags().GetString("origin")

	exp, err := export.NewExporter(format)
	if err != nil {
		exitErr("show", err)
	}
	if len(args) == 0 && origin == "" {
		exitErr("show", fmt.Errorf("an id or --origin is required"))
	}

	withEngine(cmd, func(e *engine.Engine) error {
		var s *model.Session
		switch {
		case origin != "":
			found, err := e.Memory.FindByOrigin(cmd.Context(), origin)
			if err != nil {
				return err
			}
			s = found
		case args[0] == "current":
			s = e.Tracker.Current()
		default:
			s = e.Memory.GetSession(args[0])
		}
		if s == nil {
			id := origin
			if id == "" {
				id = args[0]
			}
			return &model.NotFoundError{Kind: "session", ID: id}
		}
		return exp.Export(s, os.Stdout)
	})
}
