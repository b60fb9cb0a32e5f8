package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rcliao/aime/internal/engine"
	"github.com/rcliao/aime/internal/memory"
	"github.com/rcliao/aime/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "concepts [content]",
		Short: "List extracted concepts, decisions and code",
		Long:  "List concepts by frequency. With a content argument, look up that one concept of --type.",
		Args:  cobra.MaximumNArgs(1),
		Run:   runConcepts,
	}

	cmd.Flags().StringP("type", "t", "", "Filter by type: concept, decision, code")
	cmd.Flags().IntP("limit", "l", 50, "Max results (0 for all)")
	cmd.Flags().StringP("format", "f", "text", "Output format: json or text")

	RootCmd.AddCommand(cmd)
}

func runConcepts(cmd *cobra.Command, args []string) {
	typ, _ := cmd.Flags().GetString("type")
	limit, _ := cmd.Flags().GetInt("limit")
	format, _ := cmd.Flags().GetString("format")

	ct := model.ConceptType(typ)
	if typ != "" && !model.ValidConceptTypes[ct] {
		exitErr("concepts", &model.ValidationError{Field: "type", Reason: fmt.Sprintf("unknown concept type %q", typ)})
	}
	if len(args) == 1 && typ == "" {
		ct = model.ConceptTerm
	}

	withEngine(cmd, func(e *engine.Engine) error {
		var list []memory.ConceptSummary
		if len(args) == 1 {
			c := e.Memory.FindByConcept(ct, args[0])
			if c == nil {
				return &model.NotFoundError{Kind: string(ct), ID: args[0]}
			}
			list = []memory.ConceptSummary{*c}
		} else {
			res, err := e.Handle(cmd.Context(), &engine.Concepts{Type: ct})
			if err != nil {
				return err
			}
			list = res.([]memory.ConceptSummary)
		}
		if limit > 0 && len(list) > limit {
			list = list[:limit]
		}
		if format == "json" {
			printJSON(list)
			return nil
		}
		renderConcepts(os.Stdout, list)
		return nil
	})
}
