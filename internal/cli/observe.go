package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/scrypster/cadence/pkg/types"
)

func parseTime(flag, value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s must be RFC3339 (e.g. 2026-03-02T23:00:00Z): %w", flag, err)
	}
	return t, nil
}

func newSleepCmd(opts *options) *cobra.Command {
	var sleepAt, wakeAt, note string
	var quality float64

	cmd := &cobra.Command{
		Use:   "sleep",
		Short: "Log a sleep/wake cycle and re-detect sleep patterns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := opts.getOwner()
			if err != nil {
				return err
			}
			sleep, err := parseTime("sleep", sleepAt)
			if err != nil {
				return err
			}
			wake, err := parseTime("wake", wakeAt)
			if err != nil {
				return err
			}

			input := types.SleepWakeInput{OwnerID: owner, SleepAt: sleep, WakeAt: wake, Note: note}
			if cmd.Flags().Changed("quality") {
				input.Quality = &quality
			}

			svc, closeFn, err := opts.openService(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			res, err := svc.LogSleepWake(cmd.Context(), input)
			if res == nil {
				return fmt.Errorf("sleep: %w", err)
			}
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: logged, but detection failed: %v\n", err)
			}
			return opts.render(cmd, res, func(w io.Writer) {
				fmt.Fprintf(w, "Logged %s of sleep.\n", formatMinutes(res.Log.DurationMinutes))
				writeDetections(w, res.Patterns)
			})
		},
	}

	cmd.Flags().StringVar(&sleepAt, "sleep", "", "Sleep instant, RFC3339 (required)")
	cmd.Flags().StringVar(&wakeAt, "wake", "", "Wake instant, RFC3339 (required)")
	cmd.Flags().Float64VarP(&quality, "quality", "q", 0, "Sleep quality in [0,1]")
	cmd.Flags().StringVar(&note, "note", "", "Free-text note")
	_ = cmd.MarkFlagRequired("sleep")
	_ = cmd.MarkFlagRequired("wake")
	return cmd
}

func newActivityCmd(opts *options) *cobra.Command {
	var startAt, endAt, location, intensity, note string

	cmd := &cobra.Command{
		Use:   "activity TAG",
		Short: "Log an activity and re-detect its patterns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := opts.getOwner()
			if err != nil {
				return err
			}
			start, err := parseTime("start", startAt)
			if err != nil {
				return err
			}

			input := types.ActivityInput{
				OwnerID:   owner,
				Tag:       args[0],
				StartAt:   start,
				Location:  location,
				Intensity: types.Intensity(strings.ToLower(intensity)),
				Note:      note,
			}
			if endAt != "" {
				end, err := parseTime("end", endAt)
				if err != nil {
					return err
				}
				input.EndAt = &end
			}

			svc, closeFn, err := opts.openService(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			res, err := svc.LogActivity(cmd.Context(), input)
			if res == nil {
				return fmt.Errorf("activity: %w", err)
			}
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: logged, but detection failed: %v\n", err)
			}
			return opts.render(cmd, res, func(w io.Writer) {
				fmt.Fprintf(w, "Logged %s.\n", res.Log.Tag)
				writeDetections(w, res.Patterns)
			})
		},
	}

	cmd.Flags().StringVar(&startAt, "start", "", "Start instant, RFC3339 (required)")
	cmd.Flags().StringVar(&endAt, "end", "", "End instant, RFC3339")
	cmd.Flags().StringVarP(&location, "location", "l", "", "Where it happened")
	cmd.Flags().StringVarP(&intensity, "intensity", "i", "", "Intensity: low, medium, high")
	cmd.Flags().StringVar(&note, "note", "", "Free-text note")
	_ = cmd.MarkFlagRequired("start")
	return cmd
}

func newMemoryCmd(opts *options) *cobra.Command {
	var summary string
	var tags []string
	var importance float64

	cmd := &cobra.Command{
		Use:   "memory CONTENT...",
		Short: "Record a memory that context aggregation surfaces as recent activity",
		Args:  cobra.MinimumNArgs(1),
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

			memory, err := svc.RecordMemory(cmd.Context(), types.MemoryInput{
				OwnerID:    owner,
				Content:    strings.Join(args, " "),
				Summary:    summary,
				Tags:       tags,
				Importance: importance,
			})
			if err != nil {
				return fmt.Errorf("memory: %w", err)
			}
			return opts.render(cmd, memory, func(w io.Writer) {
				fmt.Fprintf(w, "Recorded memory %s.\n", memory.ID)
			})
		},
	}

	cmd.Flags().StringVarP(&summary, "summary", "s", "", "Short summary")
	cmd.Flags().StringSliceVarP(&tags, "tags", "t", nil, "Tags (comma-separated)")
	cmd.Flags().Float64Var(&importance, "importance", 0.5, "Importance in [0,1]")
	return cmd
}

func formatMinutes(m int) string {
	return (time.Duration(m) * time.Minute).String()
}
