package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lexleads/internal/export"
	"github.com/sells-group/lexleads/internal/model"
	"github.com/sells-group/lexleads/internal/publish"
)

var (
	discoverOut     string
	discoverFormat  string
	discoverPublish string
)

var discoverCmd = &cobra.Command{
	Use:   "discover <query>",
	Short: "Run one discovery and export the leads",
	Long:  "Runs intent extraction, search and structuring for the query, then writes the leads to --out (stdout by default) and optionally publishes them to Salesforce or Notion.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		format, err := export.ParseFormat(discoverFormat)
		if err != nil {
			return err
		}
		if format == export.FormatXLSX && (discoverOut == "" || discoverOut == "-") {
			return eris.New("xlsx output requires --out")
		}

		pubs, err := initPublishers(publish.ParseTargets(discoverPublish))
		if err != nil {
			return err
		}

		env, err := initApp(ctx, "discover", statusLogger())
		if err != nil {
			return err
		}
		defer env.Close()

		query := strings.Join(args, " ")
		snap, err := env.Orch.Run(ctx, query)
		if err != nil {
			return err
		}
		if snap.Status == model.StatusError {
			return eris.New(snap.Telemetry.ErrorMessage)
		}

		if err := writeLeads(discoverOut, format, snap.Leads); err != nil {
			return err
		}

		zap.L().Info("discovery complete",
			zap.String("run_id", snap.RunID),
			zap.String("strategy", snap.Strategy),
			zap.Int("leads", len(snap.Leads)),
			zap.Float64("elapsed_s", snap.Telemetry.ElapsedSeconds),
		)

		if len(pubs) == 0 || len(snap.Leads) == 0 {
			return nil
		}
		results, err := publish.All(ctx, pubs, snap.Query, snap.Leads)
		formatPublishResults(os.Stderr, results)
		return err
	},
}

func init() {
	discoverCmd.Flags().StringVarP(&discoverOut, "out", "o", "", "output file (default stdout)")
	discoverCmd.Flags().StringVarP(&discoverFormat, "format", "f", "csv", "output format: csv, xlsx, json or yaml")
	discoverCmd.Flags().StringVar(&discoverPublish, "publish", "", "comma-separated destinations: salesforce, notion")
	rootCmd.AddCommand(discoverCmd)
}

// statusLogger logs each stage transition once.
func statusLogger() func(model.Snapshot) {
	var last model.WorkflowStatus
	return func(s model.Snapshot) {
		if s.Status == last {
			return
		}
		last = s.Status
		zap.L().Info("run status", zap.String("run_id", s.RunID), zap.String("status", string(s.Status)))
	}
}

// writeLeads renders leads to path, or stdout when path is empty or "-".
func writeLeads(path string, format export.Format, leads []model.Lead) error {
	headers := cfg.Export.Headers
	if path == "" || path == "-" {
		return export.Write(os.Stdout, format, leads, headers)
	}

	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "create %s", path)
	}
	if format == export.FormatXLSX {
		err = export.WriteXLSX(f, leads, headers, cfg.Export.SheetName)
	} else {
		err = export.Write(f, format, leads, headers)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return eris.Wrapf(err, "write %s", path)
	}
	zap.L().Info("leads written", zap.String("path", path), zap.String("format", string(format)))
	return nil
}

func formatPublishResults(out io.Writer, results []publish.Result) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TARGET\tCREATED\tERROR")
	for _, r := range results {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\n", r.Target, r.Created, r.Error)
	}
	_ = w.Flush()
}
