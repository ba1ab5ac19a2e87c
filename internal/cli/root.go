// Package cli holds the cobra commands of the consistency validator binary.
package cli

import (
	"context"
	"fmt"
	"time"

	"attendance.service/internal/core/consistency"
	"github.com/spf13/cobra"
)

// Opener builds a validator and returns a func that releases its stores.
type Opener func(ctx context.Context) (*consistency.Validator, func(), error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format string // "json" | "text"
	Mode   string
	// Interval is the default for watch --interval.
	Interval time.Duration
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command of the validator.
func NewRootCommand(open Opener, interval time.Duration) *cobra.Command {
	opts := &RootOptions{Interval: interval}

	cmd := &cobra.Command{
		Use:   "validator",
		Short: "Compare the attendance store with the live status mirror",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.Format != "text" && opts.Format != "json" {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if _, err := consistency.ParseMode(opts.Mode); err != nil {
				return err
			}
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Mode, "mode", "report", "report only, or fix the mirror (report|fix)")

	cmd.AddCommand(NewCheckCommand(opts, open))
	cmd.AddCommand(NewWatchCommand(opts, open))

	return cmd
}
