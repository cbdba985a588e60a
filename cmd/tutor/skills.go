package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nidhogg/tutor/internal/skill"
)

func newSkillsCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skills",
		Short: "List the skills in the skills directory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), *cfgPath)
			if err != nil {
				return err
			}
			defer a.close()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tKIND\tDESCRIPTION")
			for _, s := range a.skills.All() {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Descriptor().Name(), s.Kind(), s.Descriptor().Config().Description)
			}
			return tw.Flush()
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show NAME",
		Short: "Print a skill as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *cfgPath)
			if err != nil {
				return err
			}
			defer a.close()

			s, err := a.skill(args[0])
			if err != nil {
				return err
			}
			return skill.Encode(cmd.OutOrStdout(), s)
		},
	})
	return cmd
}
