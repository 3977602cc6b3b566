package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/54b3r/finqa-go/internal/logging"
	"github.com/54b3r/finqa-go/internal/system"
)

// exitWords end the REPL.
var exitWords = map[string]bool{"exit": true, "quit": true, "退出": true}

// analyzer is the slice of *system.System the REPL needs.
type analyzer interface {
	Analyze(ctx context.Context, req system.AnalysisRequest) (*system.AnalysisResult, error)
}

// NewChatCmd constructs the `finqa chat` command, an interactive
// question-answering loop over one conversation session.
func NewChatCmd() *cobra.Command {
	var session string
	var showEvaluation bool

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive question-answering session",
		Long: `Start an interactive session. Each line is answered from the knowledge
base with the recent conversation as context.

Type exit, quit or 退出 to leave. Ctrl-C also ends the session.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			sys, _, cleanup, err := openSystem(ctx, log, nil, false)
			if err != nil {
				return fmt.Errorf("chat: %w", err)
			}
			defer cleanup()

			if session == "" {
				session = uuid.NewString()
			}
			return runREPL(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), sys, session, showEvaluation)
		},
	}

	cmd.Flags().StringVarP(&session, "session", "s", "", "Conversation session to continue (default: a new session)")
	cmd.Flags().BoolVarP(&showEvaluation, "evaluation", "e", false, "Also print the confidence evaluation")

	return cmd
}

// runREPL reads questions from in until an exit word, EOF or ctx ends.
// A failed turn is reported and the loop continues.
func runREPL(ctx context.Context, in io.Reader, out io.Writer, a analyzer, session string, showEvaluation bool) error {
	bold := color.New(color.Bold)
	bold.Fprintln(out, "finqa interactive session")
	fmt.Fprintf(out, "session %s, type exit to quit\n", session)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		bold.Fprint(out, "\nquestion: ")

		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(out)
				return nil
			}
			line = strings.TrimSpace(l)
		}

		if exitWords[strings.ToLower(line)] {
			fmt.Fprintln(out, "bye")
			return nil
		}
		if line == "" {
			fmt.Fprintln(out, "please enter a valid question")
			continue
		}

		res, err := a.Analyze(ctx, system.AnalysisRequest{Query: line, SessionID: session})
		if err != nil {
			color.New(color.FgRed).Fprintf(out, "error: %v\n", err)
			continue
		}
		printResult(out, res, showEvaluation)
	}
}
