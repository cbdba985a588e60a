package main

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nidhogg/tutor/internal/provider"
)

func newProvidersCmd(cfgPath *string) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "providers",
		Short: "Check that each configured provider is reachable",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), *cfgPath)
			if err != nil {
				return err
			}
			defer a.close()

			providers := a.router.ListProviders()
			slices.SortFunc(providers, func(x, y provider.Provider) int { return strings.Compare(x.ID(), y.ID()) })

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tSTATUS")
			for _, p := range providers {
				ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
				status := "ok"
				if err := p.HealthCheck(ctx); err != nil {
					status = err.Error()
				}
				cancel()
				fmt.Fprintf(tw, "%s\t%s\t%s\n", p.ID(), p.Name(), status)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "per-provider check timeout")
	return cmd
}
