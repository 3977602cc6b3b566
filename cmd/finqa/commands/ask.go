package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/finqa-go/internal/logging"
	"github.com/54b3r/finqa-go/internal/system"
)

// NewAskCmd constructs the `finqa ask` command, which answers one question
// and prints the result.
func NewAskCmd() *cobra.Command {
	var session string
	var showEvaluation bool

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask one question about the knowledge base",
		Long: `Answer one question from the knowledge base and print the analysis,
its confidence and the cited sources.

Passing --session continues a conversation stored in the history database.

Examples:
  finqa ask "贵州茅台2023年营业收入是多少?"
  finqa ask --session research-1 "How did the net margin change?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			sys, _, cleanup, err := openSystem(ctx, log, nil, false)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer cleanup()

			res, err := sys.Analyze(ctx, system.AnalysisRequest{
				Query:     strings.Join(args, " "),
				SessionID: session,
			})
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			printResult(cmd.OutOrStdout(), res, showEvaluation)
			return nil
		},
	}

	cmd.Flags().StringVarP(&session, "session", "s", "", "Conversation session to continue")
	cmd.Flags().BoolVarP(&showEvaluation, "evaluation", "e", false, "Also print the confidence evaluation")

	return cmd
}
