package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nidhogg/tutor/internal/dataset"
	"github.com/nidhogg/tutor/internal/learn"
)

func newLearnCmd(cfgPath *string) *cobra.Command {
	var (
		name, data string
		opts       learn.Options
		save       bool
	)

	cmd := &cobra.Command{
		Use:   "learn",
		Short: "Improve a skill's instructions against labelled data",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *cfgPath)
			if err != nil {
				return err
			}
			defer a.close()

			s, err := a.skill(name)
			if err != nil {
				return err
			}
			ds, err := dataset.Open(data, a.cfg.Runtime.BatchSize)
			if err != nil {
				return err
			}

			res, learnErr := a.learner.Learn(ctx, s, ds, opts)
			if res != nil {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(res); err != nil {
					return fmt.Errorf("write result: %w", err)
				}
			}
			if learnErr != nil {
				return learnErr
			}
			if save {
				return a.saveSkill(s)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "skill", "s", "", "skill name")
	cmd.Flags().StringVarP(&data, "data", "d", "", "labelled input file (.csv, .jsonl)")
	cmd.Flags().StringVarP(&opts.GroundTruthField, "ground-truth", "g", "", "column holding the expected output")
	cmd.Flags().IntVarP(&opts.Iterations, "iterations", "n", learn.DefaultIterations, "maximum learning iterations")
	cmd.Flags().Float64Var(&opts.TargetAccuracy, "target", 0, "stop once accuracy reaches this value (0 disables)")
	cmd.Flags().IntVar(&opts.MaxErrors, "max-errors", 0, "errors sampled for analysis per iteration (0 uses the default)")
	cmd.Flags().BoolVar(&save, "save", false, "write the improved skill back to the skills directory")
	cmd.MarkFlagRequired("skill")
	cmd.MarkFlagRequired("data")
	cmd.MarkFlagRequired("ground-truth")
	return cmd
}
