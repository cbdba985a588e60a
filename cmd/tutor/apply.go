package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nidhogg/tutor/internal/dataset"
)

func newApplyCmd(cfgPath *string) *cobra.Command {
	var name, data, out string

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply a skill to a CSV or JSONL file",
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

			preds, err := s.Apply(ctx, ds, a.student)
			if err != nil {
				return fmt.Errorf("apply %s: %w", name, err)
			}
			a.logger.Info("skill applied", zap.String("skill", name), zap.Int("rows", preds.Len()))

			var w io.Writer = cmd.OutOrStdout()
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("create output: %w", err)
				}
				defer f.Close()
				w = f
			}
			return dataset.Write(w, out, preds)
		},
	}
	cmd.Flags().StringVarP(&name, "skill", "s", "", "skill name")
	cmd.Flags().StringVarP(&data, "data", "d", "", "input file (.csv, .jsonl)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file; .csv writes CSV, anything else JSONL (default stdout)")
	cmd.MarkFlagRequired("skill")
	cmd.MarkFlagRequired("data")
	return cmd
}
