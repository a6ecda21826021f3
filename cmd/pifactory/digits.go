package main

import (
	"fmt"
	"os"
	"strconv"

	pifactory "github.com/DaveMcW/pifactory"
	"github.com/spf13/cobra"
	"golang.org/x/net/context"
)

// NewDigitsCmd implements the digits sub-command, which calculates digits of
// pi locally without any service involvement.
func NewDigitsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "digits start [end]",
		Short: "Print decimal digits of pi calculated locally",
		Long: `Calculates and prints the decimal digits of pi from position start through position end (default: start), in 9-digit blocks.

Digit positions are 1-based; position 0 is special and prints the leading "3." before continuing from position 1. Digits are guaranteed accurate through position 17400; larger positions are calculated but may be wrong.`,
		Args: cobra.MaximumNArgs(2),
		RunE: digitsMain,
	}
}

// Digits sub-command entrypoint. Blocks are written unbuffered as each one is
// calculated, so digits appear as soon as they are known; a requested range
// is widened to whole 9-digit blocks, matching the calculator's output unit.
func digitsMain(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return cmd.Help()
	}
	start, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return fmt.Errorf("cannot parse start position %q: %w", args[0], err)
	}
	end := start
	if len(args) > 1 {
		if end, err = strconv.ParseUint(args[1], 10, 32); err != nil {
			return fmt.Errorf("cannot parse end position %q: %w", args[1], err)
		}
	}
	logger := logger.V(1).WithValues("start", start, "end", end)
	logger.V(0).Info("Calculating digits")
	pifactory.SetLogger(logger)
	ctx := context.Background()

	if start == 0 {
		if _, err := os.Stdout.WriteString("3."); err != nil {
			return fmt.Errorf("failure writing result: %w", err)
		}
		start++
	}
	for offset := start - 1; offset < end; offset += 9 {
		digits, err := pifactory.BlockDigits(ctx, offset)
		if err != nil {
			return fmt.Errorf("failed to calculate digit block at offset %d: %w", offset, err)
		}
		if _, err := os.Stdout.WriteString(digits); err != nil {
			return fmt.Errorf("failure writing result: %w", err)
		}
	}
	fmt.Println() //nolint:forbidigo // This is a deliberate choice
	return nil
}
