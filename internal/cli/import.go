package cli

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rcliao/aime/internal/engine"
)

func init() {
	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Replace all sessions with an .aime archive",
		Long: "Import an archive produced by export, from a file or stdin. The archive replaces " +
			"every stored session; nothing changes if it is invalid.",
		Args: cobra.MaximumNArgs(1),
		Run:  runImport,
	}

	RootCmd.AddCommand(cmd)
}

func runImport(cmd *cobra.Command, args []string) {
	var data []byte
	var err error
	if len(args) == 1 && args[0] != "-" {
		data, err = os.ReadFile(args[0])
	} else {
		data, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		exitErr("read archive", err)
	}

	withEngine(cmd, func(e *engine.Engine) error {
		res, err := e.Handle(cmd.Context(), &engine.Import{Archive: data})
		if err != nil {
			return err
		}
		printJSON(res)
		return nil
	})
}
