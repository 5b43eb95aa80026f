package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/lexleads/internal/monitoring"
)

var (
	statsLookback int
	statsFormat   string
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show run totals, failure rate and usage counters",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initStorage(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		snap, err := env.Collector().Collect(ctx, statsLookback)
		if err != nil {
			return eris.Wrap(err, "collect stats")
		}
		return writeStats(os.Stdout, statsFormat, snap)
	},
}

func init() {
	statsCmd.Flags().IntVar(&statsLookback, "lookback", 0, "only count runs from the last N hours (0 = all history)")
	statsCmd.Flags().StringVar(&statsFormat, "format", "text", "output format: text, json or yaml")
	rootCmd.AddCommand(statsCmd)
}

func writeStats(out io.Writer, format string, snap *monitoring.MetricsSnapshot) error {
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	case "yaml", "yml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(snap); err != nil {
			return eris.Wrap(err, "encode stats")
		}
		return enc.Close()
	case "text", "":
		formatStats(out, snap)
		return nil
	default:
		return eris.Errorf("unknown stats format %q", format)
	}
}

// formatStats writes the snapshot as aligned key/value lines.
func formatStats(out io.Writer, s *monitoring.MetricsSnapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	window := "all history"
	if s.LookbackHours > 0 {
		window = fmt.Sprintf("last %dh", s.LookbackHours)
	}
	_, _ = fmt.Fprintf(w, "Window:\t%s\n", window)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.RunsTotal)
	_, _ = fmt.Fprintf(w, "Complete:\t%d\n", s.RunsComplete)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.RunsFailed)
	_, _ = fmt.Fprintf(w, "Fail rate:\t%.1f%%\n", s.FailRate*100)
	_, _ = fmt.Fprintf(w, "Avg leads:\t%.1f\n", s.AvgLeads)
	if s.AvgElapsedMs > 0 {
		_, _ = fmt.Fprintf(w, "Avg duration:\t%.1fs\n", s.AvgElapsedMs/1000)
	}
	_, _ = fmt.Fprintf(w, "Leads total:\t%d\n", s.LeadsTotal)
	_, _ = fmt.Fprintf(w, "Queries total:\t%d\n", s.QueriesTotal)

	providers := make([]string, 0, len(s.Breakers))
	for p := range s.Breakers {
		providers = append(providers, p)
	}
	sort.Strings(providers)
	for _, p := range providers {
		_, _ = fmt.Fprintf(w, "Breaker %s:\t%s\n", p, s.Breakers[p])
	}
	_ = w.Flush()
}
