package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/scrypster/cadence/internal/engine"
	"github.com/scrypster/cadence/pkg/types"
)

// render writes v as indented JSON, or calls text when --format text.
func (o *options) render(cmd *cobra.Command, v any, text func(w io.Writer)) error {
	w := cmd.OutOrStdout()
	if o.format == FormatText && text != nil {
		text(w)
		return nil
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	fmt.Fprintln(w, string(b))
	return nil
}

func writeDetections(w io.Writer, results []*engine.DetectionResult) {
	if len(results) == 0 {
		fmt.Fprintln(w, "No patterns yet (not enough observations).")
		return
	}
	for _, r := range results {
		status := "updated"
		if r.IsNew {
			status = "new"
		}
		fmt.Fprintf(w, "%s [%s, %s] confidence %.2f (%d samples)\n",
			r.Pattern.Name, r.Pattern.Recurrence, status, r.Pattern.Confidence, r.Pattern.SampleCount)
		for _, insight := range r.Insights {
			fmt.Fprintf(w, "  - %s\n", insight)
		}
	}
}

func writePatterns(w io.Writer, patterns []*types.Pattern) {
	if len(patterns) == 0 {
		fmt.Fprintln(w, "No patterns.")
		return
	}
	for _, p := range patterns {
		state := ""
		if !p.Active {
			state = " (inactive)"
		}
		fmt.Fprintf(w, "%s  %-28s %.2f  %s%s\n", p.ID, p.Name, p.Confidence, p.Description, state)
	}
}

func writeItems(w io.Writer, items []*types.ContextItem) {
	for _, item := range items {
		desc := ""
		if item.Payload != nil {
			desc = item.Payload.Describe()
		}
		fmt.Fprintf(w, "%-8s %.2f  %-15s %-9s %s\n", item.Level, item.Score, item.Category, item.TimeWindow, desc)
	}
}

func writeContext(w io.Writer, view *types.AggregatedContext) {
	if view.Summary.PrimaryActivity != "" {
		fmt.Fprintf(w, "Now: %s\n", view.Summary.PrimaryActivity)
	}
	fmt.Fprintf(w, "Active patterns: %d\n", view.Summary.ActiveGoalCount)
	for _, insight := range view.Summary.KeyInsights {
		fmt.Fprintf(w, "  - %s\n", insight)
	}
	if len(view.Items) > 0 {
		fmt.Fprintln(w)
		writeItems(w, view.Items)
	}
}

func writeMatches(w io.Writer, matches []*engine.QueryMatch) {
	if len(matches) == 0 {
		fmt.Fprintln(w, "No matching context.")
		return
	}
	for _, m := range matches {
		desc := ""
		if m.Item.Payload != nil {
			desc = m.Item.Payload.Describe()
		}
		matched := strings.Join(m.Explanation.MatchedKeywords, ",")
		fmt.Fprintf(w, "%.2f  %-15s %s  [%s]\n", m.Score, m.Item.Category, desc, matched)
	}
}
