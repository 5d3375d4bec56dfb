package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"secuflow/internal/logger"
	"secuflow/internal/metrics"
	"secuflow/internal/prepare"
	"secuflow/internal/server"
	"secuflow/internal/service"
	"secuflow/pkg/models"
)

const shutdownTimeout = 10 * time.Second

func serveCommand(params *globalParams) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(params)
			if err != nil {
				return err
			}
			logger.Infof("SecuFlow starting")

			var m *metrics.Metrics
			if cfg.SecuFlow.Metrics.Enabled {
				m = metrics.New()
			}

			svc, err := service.NewFromConfig(cfg, afero.NewOsFs(), m)
			if err != nil {
				return err
			}
			defer svc.Close()

			sc := cfg.SecuFlow.Server
			srv := server.New(server.Config{
				ListenAddress: sc.ListenAddress,
				ReadTimeout:   sc.ReadTimeout,
				WriteTimeout:  sc.WriteTimeout,
				IdleTimeout:   sc.IdleTimeout,
				TokenHashes:   sc.Auth.TokenHashes,
				MetricsPath:   cfg.SecuFlow.Metrics.Path,
			}, svc, m)

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.ListenAndServe()
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			select {
			case err := <-errCh:
				if err != nil {
					logger.Errorf("HTTP server error: %v", err)
				}
				return err
			case <-sigCh:
			}

			logger.Infof("Shutting down")
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				logger.Errorf("Error shutting down HTTP server: %v", err)
			}

			logger.Infof("SecuFlow stopped")
			return nil
		},
	}
}

func analyzeCommand(params *globalParams) *cobra.Command {
	var (
		limit     int
		format    string
		noExplain bool
	)
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Summarize the most recent logs and print incidents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(params)
			if err != nil {
				return err
			}
			if noExplain {
				cfg.SecuFlow.Explainer.APIKey = ""
			}

			svc, err := service.NewFromConfig(cfg, afero.NewOsFs(), nil)
			if err != nil {
				return err
			}
			defer svc.Close()

			window := limit
			if !cmd.Flags().Changed("limit") {
				window = svc.DefaultWindow()
			}
			report, err := svc.Analyze(cmd.Context(), window)
			if err != nil {
				return err
			}

			switch format {
			case "json":
				return writeJSON(cmd.OutOrStdout(), report)
			case "table":
				renderReport(cmd.OutOrStdout(), report)
				return nil
			default:
				return fmt.Errorf("unknown output format: %s", format)
			}
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "number of most recent records to analyze (default: analysis.window)")
	cmd.Flags().StringVarP(&format, "format", "f", "table", "output format: table or json")
	cmd.Flags().BoolVar(&noExplain, "no-explain", false, "skip the text-generation call and use the fallback explanation")
	return cmd
}

func templateCommand(params *globalParams) *cobra.Command {
	return &cobra.Command{
		Use:   "template <event_id>",
		Short: "Print the known templates for an event id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(params)
			if err != nil {
				return err
			}
			svc, err := service.NewFromConfig(cfg, afero.NewOsFs(), nil)
			if err != nil {
				return err
			}
			defer svc.Close()

			match, err := svc.Template(args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), match)
		},
	}
}

func sampleCommand(params *globalParams) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Print the first records of the log source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(params)
			if err != nil {
				return err
			}
			svc, err := service.NewFromConfig(cfg, afero.NewOsFs(), nil)
			if err != nil {
				return err
			}
			defer svc.Close()

			records, err := svc.Sample(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), records)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of records to print")
	return cmd
}

func prepareCommand(params *globalParams) *cobra.Command {
	var (
		input  string
		output string
		format string
	)
	cmd := &cobra.Command{
		Use:   "prepare",
		Short: "Convert a raw Windows log export into the JSON log file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(params)
			if err != nil {
				return err
			}
			if strings.TrimSpace(output) == "" {
				output = cfg.SecuFlow.Logs.Path
			}

			f := prepare.Format(format)
			if f == "" {
				f, err = prepare.DetectFormat(input)
				if err != nil {
					return err
				}
			}

			n, err := prepare.Convert(afero.NewOsFs(), input, output, f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %d logs to %s\n", n, output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "structured CSV or winlogbeat NDJSON export (.zst allowed)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output path (default: logs.path)")
	cmd.Flags().StringVar(&format, "format", "", "input format: csv or winlogbeat (default: from file extension)")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderReport(w io.Writer, report models.Report) {
	s := report.Summary
	fmt.Fprintf(w, "Total events analyzed: %d\n\n", s.TotalEventsAnalyzed)

	events := newTable(w, "Event ID", "Count")
	for _, ec := range s.TopEventIDs {
		events.Append([]string{ec.EventID, strconv.Itoa(ec.Count)})
	}
	events.Render()
	fmt.Fprintln(w)

	sources := newTable(w, "Source", "Count")
	for _, sc := range s.TopSources {
		sources.Append([]string{sc.Source, strconv.Itoa(sc.Count)})
	}
	sources.Render()
	fmt.Fprintln(w)

	for _, note := range s.Notes {
		fmt.Fprintf(w, "Note: %s\n", note)
	}
	fmt.Fprintln(w)

	if len(report.Incidents) == 0 {
		fmt.Fprintln(w, "No incidents detected.")
	} else {
		incidents := newTable(w, "ID", "Severity", "Reason", "Related Event IDs")
		for _, inc := range report.Incidents {
			incidents.Append([]string{
				strconv.Itoa(inc.ID),
				string(inc.Severity),
				inc.Reason,
				strings.Join(inc.RelatedEventIDs, ", "),
			})
		}
		incidents.Render()
	}

	if len(report.RuleMatches) > 0 {
		fmt.Fprintln(w)
		hits := newTable(w, "Rule", "Title", "Level", "Count", "Event IDs")
		for _, rm := range report.RuleMatches {
			hits.Append([]string{rm.RuleID, rm.Title, rm.Level, strconv.Itoa(rm.Count), strings.Join(rm.EventIDs, ", ")})
		}
		hits.Render()
	}

	fmt.Fprintf(w, "\nExplanation:\n%s\n", report.AIExplanation)
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	t := tablewriter.NewWriter(w)
	t.SetHeader(header)
	t.SetAutoWrapText(false)
	t.SetAlignment(tablewriter.ALIGN_LEFT)
	return t
}
