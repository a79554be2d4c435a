package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/scrypster/cadence/internal/engine"
	"github.com/scrypster/cadence/internal/storage"
	"github.com/scrypster/cadence/pkg/types"
)

func newDetectCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Re-run pattern detection",
	}

	run := func(cmd *cobra.Command, detect func(svc *engine.Service, owner string) ([]*engine.DetectionResult, error)) error {
		owner, err := opts.getOwner()
		if err != nil {
			return err
		}
		svc, closeFn, err := opts.openService(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		results, err := detect(svc, owner)
		if err != nil {
			return fmt.Errorf("detect: %w", err)
		}
		return opts.render(cmd, results, func(w io.Writer) { writeDetections(w, results) })
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "sleep",
			Short: "Detect daily, weekday and weekend sleep patterns",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return run(cmd, func(svc *engine.Service, owner string) ([]*engine.DetectionResult, error) {
					return svc.DetectSleepWakePatterns(cmd.Context(), owner)
				})
			},
		},
		&cobra.Command{
			Use:   "activity TAG",
			Short: "Detect patterns for one activity tag",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return run(cmd, func(svc *engine.Service, owner string) ([]*engine.DetectionResult, error) {
					return svc.DetectActivityPatterns(cmd.Context(), owner, args[0])
				})
			},
		},
	)
	return cmd
}

func newPatternsCmd(opts *options) *cobra.Command {
	var kinds, recurrences []string
	var minConfidence float64
	var all bool
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "List detected patterns, highest confidence first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := opts.getOwner()
			if err != nil {
				return err
			}

			query := storage.PatternQuery{
				OwnerID:       owner,
				MinConfidence: minConfidence,
				Limit:         limit,
				Offset:        offset,
			}
			for _, k := range kinds {
				query.Kinds = append(query.Kinds, types.PatternKind(k))
			}
			for _, r := range recurrences {
				query.RecurrenceClasses = append(query.RecurrenceClasses, types.RecurrenceClass(r))
			}
			if !all {
				active := true
				query.Active = &active
			}

			svc, closeFn, err := opts.openService(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			patterns, err := svc.ListPatterns(cmd.Context(), query)
			if err != nil {
				return fmt.Errorf("patterns: %w", err)
			}
			return opts.render(cmd, patterns, func(w io.Writer) { writePatterns(w, patterns) })
		},
	}

	cmd.Flags().StringSliceVarP(&kinds, "kind", "k", nil, "Filter by kind: sleep_wake, activity")
	cmd.Flags().StringSliceVarP(&recurrences, "recurrence", "r", nil, "Filter by recurrence: daily, weekday, weekend, monday, ...")
	cmd.Flags().Float64Var(&minConfidence, "min-confidence", 0, "Minimum confidence")
	cmd.Flags().BoolVarP(&all, "all", "a", false, "Include deactivated patterns")
	cmd.Flags().IntVar(&limit, "limit", 0, "Max results (default 50)")
	cmd.Flags().IntVar(&offset, "offset", 0, "Results to skip")
	return cmd
}

func newDeactivateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate PATTERN_ID",
		Short: "Deactivate a pattern",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := opts.getOwner()
			if err != nil {
				return err
			}
			svc, closeFn, err := opts.openService(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := svc.DeactivatePattern(cmd.Context(), owner, args[0]); err != nil {
				return fmt.Errorf("deactivate: %w", err)
			}
			result := map[string]string{"id": args[0], "status": "deactivated"}
			return opts.render(cmd, result, func(w io.Writer) {
				fmt.Fprintf(w, "Deactivated %s.\n", args[0])
			})
		},
	}
}

func newStatsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize active patterns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := opts.getOwner()
			if err != nil {
				return err
			}
			svc, closeFn, err := opts.openService(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			stats, err := svc.PatternStats(cmd.Context(), owner)
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			return opts.render(cmd, stats, func(w io.Writer) {
				fmt.Fprintf(w, "Active patterns: %d (mean confidence %.2f)\n", stats.Count, stats.MeanConfidence)
				for kind, n := range stats.CountByKind {
					fmt.Fprintf(w, "  %s: %d\n", kind, n)
				}
				if stats.MostReliable != nil {
					fmt.Fprintf(w, "Most reliable: %s (%.2f)\n", stats.MostReliable.Name, stats.MostReliable.Confidence)
				}
				if stats.LeastReliable != nil {
					fmt.Fprintf(w, "Least reliable: %s (%.2f)\n", stats.LeastReliable.Name, stats.LeastReliable.Confidence)
				}
			})
		},
	}
}
