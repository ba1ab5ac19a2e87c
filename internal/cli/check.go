package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"attendance.service/internal/core/consistency"
	"attendance.service/internal/core/model"
	"github.com/spf13/cobra"
)

// ErrHighFindings is returned by check --fail-on-high so cron jobs exit non-zero.
var ErrHighFindings = errors.New("high severity drift found")

// NewCheckCommand creates the one-shot check command.
func NewCheckCommand(rootOpts *RootOptions, open Opener) *cobra.Command {
	var (
		date       string
		failOnHigh bool
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run one validation pass and print the report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if date != "" {
				if _, err := time.Parse(model.DateKeyLayout, date); err != nil {
					return fmt.Errorf("invalid --date %q: want YYYY-MM-DD", date)
				}
			}
			mode, _ := consistency.ParseMode(rootOpts.Mode)

			v, closeFn, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			report, err := v.Run(cmd.Context(), mode, date)
			if werr := writeReport(cmd.OutOrStdout(), rootOpts.Format, report); werr != nil {
				return werr
			}
			if err != nil {
				return err
			}
			if failOnHigh && report.Summary.High > 0 {
				return ErrHighFindings
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "day to validate (YYYY-MM-DD, default today)")
	cmd.Flags().BoolVar(&failOnHigh, "fail-on-high", false, "exit non-zero when HIGH findings are present")
	return cmd
}

func writeReport(w io.Writer, format string, report consistency.Report) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	s := report.Summary
	fmt.Fprintf(w, "%s %s: %d findings (high %d, medium %d, low %d)\n",
		report.Mode, report.DateKey, s.Total, s.High, s.Medium, s.Low)
	for _, f := range report.Findings {
		fmt.Fprintf(w, "  [%s] %s %s %s: %s\n", f.Severity, f.Code, f.UserID, f.DateKey, f.Message)
	}
	if len(report.Repairs) > 0 {
		fmt.Fprintf(w, "repairs: %d ok, %d failed\n", s.Repaired, s.Failed)
		for _, r := range report.Repairs {
			if !r.Success {
				fmt.Fprintf(w, "  %s %s: %s\n", r.Action, r.UserID, r.Error)
			}
		}
	}
	if report.Cancelled {
		fmt.Fprintln(w, "run was cancelled; report is partial")
	}
	return nil
}
