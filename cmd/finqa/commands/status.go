package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/54b3r/finqa-go/internal/logging"
)

// NewStatusCmd constructs the `finqa status` command, which prints the
// saved state and the live index health as JSON.
func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the system state and index health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()

			sys, _, cleanup, err := openSystem(cmd.Context(), log, nil, false)
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}
			defer cleanup()

			st, err := sys.Status()
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		},
	}
}
