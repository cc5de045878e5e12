package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vadim/dealroom/internal/domain/deal/seed"
)

var seedCmd = &cobra.Command{
	Use:   "seed [file]",
	Short: "Validate a seed fixture",
	Long: `Parse a seed fixture and print a summary. Without a file the built-in
fixture is checked.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSeed,
}

func runSeed(cmd *cobra.Command, args []string) error {
	var (
		fixture *seed.Fixture
		err     error
	)
	if len(args) == 0 {
		fixture, err = seed.Default()
	} else {
		f, openErr := os.Open(args[0])
		if openErr != nil {
			return openErr
		}
		defer f.Close()
		fixture, err = seed.Parse(f)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%d conversations, %d messages\n", len(fixture.Conversations), len(fixture.Messages))
	for _, c := range fixture.Conversations {
		fmt.Fprintf(out, "  %s\t%s\t%s\n", c.ID, c.Participant.Name, c.Context.CurrentStage)
	}
	return nil
}
