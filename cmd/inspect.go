package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/liuxd6825/loadrun/cmd/state"
	"github.com/liuxd6825/loadrun/lib/executor"
	"github.com/liuxd6825/loadrun/lib/types"
)

type inspectStep struct {
	TimeOffset types.Duration `json:"timeOffset"`
	PlannedVUs uint64         `json:"plannedVUs"`
}

type inspectOutput struct {
	Options        Config         `json:"options"`
	Description    string         `json:"description"`
	MaxVUs         uint64         `json:"maxVUs"`
	TotalDuration  types.Duration `json:"totalDuration"`
	ExecutionSteps []inspectStep  `json:"executionSteps"`
}

func getCmdInspect(gs *state.GlobalState) *cobra.Command {
	inspectCmd := &cobra.Command{
		Use:   "inspect [scenario]",
		Short: "Inspect a scenario",
		Long: `Inspect a scenario.

Prints the consolidated options and the VU plan of the ramp as JSON,
without sending any request.`,
		Args: maxArgsWithMsg(1, "arg should be the path to a scenario file"),
		RunE: func(cmd *cobra.Command, args []string) error {
			test, err := loadAndConfigureLocalTest(gs, cmd, args, getConfig)
			if err != nil {
				return err
			}

			config := executor.NewRampingVUsConfig(test.consolidatedConfig.Options)
			out := inspectOutput{
				Options:       test.consolidatedConfig,
				Description:   config.Description(),
				MaxVUs:        config.MaxVUs(),
				TotalDuration: types.Duration(config.Stages.Duration()),
			}
			for _, step := range config.ExecutionSteps() {
				out.ExecutionSteps = append(out.ExecutionSteps, inspectStep{
					TimeOffset: types.Duration(step.TimeOffset),
					PlannedVUs: step.PlannedVUs,
				})
			}

			data, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return err
			}
			printToStdout(gs, string(data)+"\n")
			return nil
		},
	}

	inspectCmd.Flags().SortFlags = false
	inspectCmd.Flags().AddFlagSet(optionFlagSet())
	inspectCmd.Flags().AddFlagSet(runtimeOptionFlagSet(true))
	inspectCmd.Flags().AddFlagSet(configFlagSet())
	return inspectCmd
}
