package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vadim/dealroom/internal/domain/deal/entity"
	"github.com/vadim/dealroom/internal/domain/deal/tracker"
)

var stagesRole string

var stagesCmd = &cobra.Command{
	Use:   "stages",
	Short: "Print the deal stage table",
	Long: `Print every deal stage with its allowed next stage, overall progress
on entry and the quick actions a role sees once the stage is reached.

Examples:
  dealctl stages
  dealctl stages --role seller`,
	RunE: runStages,
}

func init() {
	stagesCmd.Flags().StringVar(&stagesRole, "role", string(entity.RoleBuyer), "Role: buyer, seller or advisor")
}

func runStages(cmd *cobra.Command, args []string) error {
	role := entity.Role(stagesRole)
	if !role.IsValid() {
		return fmt.Errorf("unknown role %q", stagesRole)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STAGE\tNEXT\tPROGRESS\tACTIONS")

	var state entity.TransactionState
	for _, stage := range entity.Stages {
		// reaching a stage implies the flag its entry requires
		switch stage {
		case entity.StageOffer:
			state.HasNDA = true
		case entity.StageDueDiligence:
			state.HasOffer = true
		case entity.StageTransaction:
			state.HasDueDiligence = true
		case entity.StageCompleted:
			state.HasTransaction = true
		}
		state.CurrentStage = stage

		nextName := "-"
		if next, ok := stage.Next(); ok {
			nextName = string(next)
		}

		var available []string
		for _, a := range tracker.QuickActions(state, role) {
			if a.Available {
				available = append(available, a.ID)
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%d%%\t%s\n",
			stage, nextName, entity.OverallProgress(stage, 0), strings.Join(available, ","))
	}
	return tw.Flush()
}
