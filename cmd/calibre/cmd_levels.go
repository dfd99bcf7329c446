package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/calibre/internal/calibration"
	"github.com/MikeSquared-Agency/calibre/internal/confidence"
)

func newLevelsCmd() *cobra.Command {
	var version int
	cmd := &cobra.Command{
		Use:   "levels",
		Short: "List the confidence levels of a scale version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			set, err := confidence.Load(version)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			mid := calibration.Midpoints(set.Len())
			fmt.Fprintf(out, "Confidence scale v%d (%d levels)\n", set.Version, set.Len())
			for i, label := range set.Labels {
				fmt.Fprintf(out, "  key %s  %-8s  estimate %.4f\n", set.Keys[i], label, mid[i])
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&version, "version", 1, "Confidence scale version")
	return cmd
}
