package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/scrypster/cadence/internal/engine"
	"github.com/scrypster/cadence/pkg/types"
)

func newContextCmd(opts *options) *cobra.Command {
	var minRelevance string
	var noMemories, noPatterns bool

	cmd := &cobra.Command{
		Use:   "context",
		Short: "Aggregate current context from memories, patterns and state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := opts.getOwner()
			if err != nil {
				return err
			}

			aggOpts := engine.AggregateOptions{IncludeMemories: !noMemories, IncludePatterns: !noPatterns}
			if minRelevance != "" {
				level, err := types.ParseRelevanceLevel(minRelevance)
				if err != nil {
					return err
				}
				aggOpts.MinRelevance = &level
			}

			svc, closeFn, err := opts.openService(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			view, err := svc.AggregateContext(cmd.Context(), owner, aggOpts)
			if err != nil {
				return fmt.Errorf("context: %w", err)
			}
			return opts.render(cmd, view, func(w io.Writer) { writeContext(w, view) })
		},
	}

	cmd.Flags().StringVarP(&minRelevance, "min-relevance", "m", "", "Drop items below: minimal, low, medium, high, critical")
	cmd.Flags().BoolVar(&noMemories, "no-memories", false, "Skip wrapping memories")
	cmd.Flags().BoolVar(&noPatterns, "no-patterns", false, "Skip wrapping patterns")
	return cmd
}

func newQueryCmd(opts *options) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "query KEYWORDS...",
		Short: "Rank current context against keywords",
		Args:  cobra.ArbitraryArgs,
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

			matches, err := svc.QueryContext(cmd.Context(), owner, args, limit)
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}
			return opts.render(cmd, matches, func(w io.Writer) { writeMatches(w, matches) })
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", engine.DefaultQueryLimit, "Max results")
	return cmd
}

func newStateCmd(opts *options) *cobra.Command {
	var fields types.StateFields
	var extra []string

	cmd := &cobra.Command{
		Use:   "state",
		Short: "Set the current state (activity, location, mood, energy, focus)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := opts.getOwner()
			if err != nil {
				return err
			}
			for _, kv := range extra {
				k, v, ok := strings.Cut(kv, "=")
				if !ok || k == "" {
					return fmt.Errorf("--set must be key=value, got %q", kv)
				}
				if fields.Extra == nil {
					fields.Extra = make(map[string]string)
				}
				fields.Extra[k] = v
			}

			svc, closeFn, err := opts.openService(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			item, err := svc.UpdateCurrentState(cmd.Context(), owner, fields)
			if err != nil {
				return fmt.Errorf("state: %w", err)
			}
			return opts.render(cmd, item, func(w io.Writer) {
				fmt.Fprintf(w, "Current state: %s (until %s)\n", item.Payload.Describe(), item.ExpiresAt.Format("15:04"))
			})
		},
	}

	cmd.Flags().StringVar(&fields.Activity, "activity", "", "What you are doing")
	cmd.Flags().StringVar(&fields.Location, "location", "", "Where you are")
	cmd.Flags().StringVar(&fields.Mood, "mood", "", "Mood")
	cmd.Flags().StringVar(&fields.Energy, "energy", "", "Energy level")
	cmd.Flags().StringVar(&fields.Focus, "focus", "", "Current focus")
	cmd.Flags().StringArrayVar(&extra, "set", nil, "Extra key=value (repeatable)")
	return cmd
}

func newCleanupCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete expired context items",
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

			n, err := svc.CleanupExpiredContext(cmd.Context(), owner)
			if err != nil {
				return fmt.Errorf("cleanup: %w", err)
			}
			return opts.render(cmd, map[string]int{"deleted": n}, func(w io.Writer) {
				fmt.Fprintf(w, "Deleted %d expired items.\n", n)
			})
		},
	}
}
