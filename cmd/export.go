package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/jobsync/internal/export"
	"github.com/sells-group/jobsync/internal/model"
	"github.com/sells-group/jobsync/pkg/notion"
	"github.com/sells-group/jobsync/pkg/sheets"
)

var (
	exportFormat string
	exportOut    string
	exportStatus string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export jobs to CSV, XLSX, Notion or Google Sheets",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := export.ParseFormat(exportFormat)
		if err != nil {
			return err
		}
		if err := cfg.Validate("export:" + string(format)); err != nil {
			return err
		}

		var status model.Category
		if exportStatus != "" {
			status = model.Category(strings.ToUpper(exportStatus))
			if !status.IsJobStatus() {
				return eris.Errorf("export: unknown status %q", exportStatus)
			}
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		jobs, err := export.LoadJobs(ctx, st, status)
		if err != nil {
			return err
		}
		return runExport(ctx, format, jobs)
	},
}

func runExport(ctx context.Context, format export.Format, jobs []model.Job) error {
	log := zap.L().With(zap.String("format", string(format)), zap.Int("jobs", len(jobs)))

	out := exportOut
	if out == "" {
		out = export.DefaultPath(format, time.Now())
	}

	switch format {
	case export.FormatCSV:
		w := os.Stdout
		if out != "-" {
			f, err := os.Create(out)
			if err != nil {
				return eris.Wrapf(err, "export: create %s", out)
			}
			defer f.Close() //nolint:errcheck
			w = f
		}
		if err := export.WriteCSV(w, jobs); err != nil {
			return err
		}
		log.Info("export written", zap.String("path", out))

	case export.FormatXLSX:
		if err := export.WriteXLSX(out, jobs); err != nil {
			return err
		}
		log.Info("export written", zap.String("path", out))

	case export.FormatNotion:
		client := notion.NewClient(cfg.Export.NotionToken)
		if _, err := export.ToNotion(ctx, client, cfg.Export.NotionDB, jobs); err != nil {
			return err
		}

	case export.FormatSheets:
		client, err := sheets.NewClient(ctx, sheets.Config{CredentialsPath: cfg.Export.SheetsCredsFile})
		if err != nil {
			return err
		}
		if _, err := export.ToSheets(ctx, client, cfg.Export.SheetsID, cfg.Export.SheetsRange, jobs); err != nil {
			return err
		}
		log.Info("export written", zap.String("spreadsheet", cfg.Export.SheetsID))
	}
	return nil
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "csv", "csv, xlsx, notion or sheets")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", `output file for csv/xlsx ("-" writes csv to stdout)`)
	exportCmd.Flags().StringVar(&exportStatus, "status", "", "only export jobs with this status")
	rootCmd.AddCommand(exportCmd)
}
