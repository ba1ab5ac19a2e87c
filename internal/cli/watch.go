package cli

import (
	"context"
	"errors"
	"time"

	"attendance.service/internal/core/consistency"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// NewWatchCommand creates the long-running watch command.
func NewWatchCommand(rootOpts *RootOptions, open Opener) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Validate today's data on a fixed interval until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval <= 0 {
				return errors.New("--interval must be positive")
			}
			mode, _ := consistency.ParseMode(rootOpts.Mode)

			v, closeFn, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			log.Info().Str("mode", string(mode)).Dur("interval", interval).Msg("Consistency watch started")
			err = v.Watch(cmd.Context(), mode, interval, func(report consistency.Report) {
				if rootOpts.Format == "json" {
					_ = writeReport(cmd.OutOrStdout(), "json", report)
				}
			})
			if errors.Is(err, context.Canceled) {
				log.Info().Msg("Consistency watch stopped")
				return nil
			}
			return err
		},
	}
	def := rootOpts.Interval
	if def <= 0 {
		def = 15 * time.Minute
	}
	cmd.Flags().DurationVar(&interval, "interval", def, "time between runs")
	return cmd
}
