package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/calibre/internal/calibration"
	"github.com/MikeSquared-Agency/calibre/internal/confidence"
	"github.com/MikeSquared-Agency/calibre/internal/feedback"
)

func newScoreCmd() *cobra.Command {
	var (
		estimates []int
		outcomes  []int
		version   int
	)
	cmd := &cobra.Command{
		Use:     "score",
		Short:   "Score calibration for a list of confidence ratings and outcomes",
		Example: "  calibre score --estimates 1,1,2,3,4,4 --outcomes 1,0,1,0,1,1",
		RunE: func(cmd *cobra.Command, _ []string) error {
			set, err := confidence.Load(version)
			if err != nil {
				return err
			}
			scorer, err := calibration.New(set.CalibrationConfig())
			if err != nil {
				return err
			}
			bins, err := scorer.Bin(estimates, outcomes)
			if err != nil {
				return err
			}
			score, err := scorer.Convert(bins)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CATEGORY\tLABEL\tESTIMATE\tACCURACY\tTRIALS")
			for i := range bins.Counts {
				fmt.Fprintf(tw, "%d\t%s\t%.4f\t%.4f\t%d\n",
					i+1, set.Labels[i], bins.Estimates[i], bins.Accuracies[i], bins.Counts[i])
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "score: %.4f (%d%%)\n", score, feedback.Percent(score))
			return nil
		},
	}

	f := cmd.Flags()
	f.IntSliceVar(&estimates, "estimates", nil, "Confidence category per trial, 1-based (required)")
	f.IntSliceVar(&outcomes, "outcomes", nil, "Outcome per trial, 1 correct or 0 wrong (required)")
	f.IntVar(&version, "version", 1, "Confidence scale version")
	_ = cmd.MarkFlagRequired("estimates")
	_ = cmd.MarkFlagRequired("outcomes")
	return cmd
}
