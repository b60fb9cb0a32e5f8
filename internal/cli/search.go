package cli

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/aime/internal/engine"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search sessions",
		Long:  "Rank sessions by fingerprint similarity to the query, or match every keyword with --keyword.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runSearch,
	}

	cmd.Flags().Bool("keyword", false, "Match all query terms literally instead of by similarity")
	cmd.Flags().IntP("limit", "l", 0, "Max results (default: memory.search_limit)")
	cmd.Flags().StringP("format", "f", "json", "Output format: json or text")

	RootCmd.AddCommand(cmd)
}

func runSearch(cmd *cobra.Command, args []string) {
	keyword, _ := cmd.Flags().GetBool("keyword")
	limit, _ := cmd.Flags().GetInt("limit")
	format, _ := cmd.Flags().GetString("format")
	query := strings.Join(args, " ")

	withEngine(cmd, func(e *engine.Engine) error {
		res, err := e.Handle(cmd.Context(), &engine.Search{Query: query, Limit: limit, Keyword: keyword})
		if err != nil {
			return err
		}
		results := res.([]engine.SearchResult)
		if format != "text" {
			printJSON(results)
			return nil
		}
		rows := make([]sessionRow, 0, len(results))
		for _, r := range results {
			s := e.Memory.GetSession(r.ID)
			if s == nil {
				continue
			}
			score := r.Score
			if keyword {
				score = -1
			}
			rows = append(rows, sessionRow{Session: s, Score: score})
		}
		renderSessions(os.Stdout, "Results for "+query, rows)
		return nil
	})
}
