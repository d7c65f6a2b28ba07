package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/srg/bleuart/internal/device"
)

var validFormats = []string{"table", "json"}

func newScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan for BLE devices",
		Long: `Scan for Bluetooth Low Energy devices in the vicinity.

Only named LE devices are listed, in discovery order. The index in the first
column can be used to pick a device with 'bleuart connect'.`,
		Args: cobra.NoArgs,
		RunE: runScan,
	}
	cmd.Flags().DurationP("duration", "d", 0, "Scan duration (default from config, 5s)")
	cmd.Flags().StringP("format", "f", "", "Output format (table, json)")
	cmd.Flags().StringSlice("allow", nil, "Only show devices with these addresses")
	cmd.Flags().StringSlice("block", nil, "Hide devices with these addresses")
	return cmd
}

func runScan(cmd *cobra.Command, _ []string) error {
	format, _ := cmd.Flags().GetString("format")
	if format != "" && !slices.Contains(validFormats, format) {
		return fmt.Errorf("invalid format '%s': must be one of %v", format, validFormats)
	}

	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	if format != "" {
		cfg.OutputFormat = format
	}
	if d, _ := cmd.Flags().GetDuration("duration"); d > 0 {
		cfg.ScanTimeout = d
	}
	if allow, _ := cmd.Flags().GetStringSlice("allow"); len(allow) > 0 {
		cfg.AllowList = allow
	}
	if block, _ := cmd.Flags().GetStringSlice("block"); len(block) > 0 {
		cfg.BlockList = block
	}

	client, err := newClient(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create BLE client: %w", err)
	}
	defer func() { _ = client.Close() }()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	progress := NewCountdownProgressPrinter("Scanning for BLE devices", "Scanning", cfg.ScanTimeout)
	progress.Start()

	if err := client.StartScan(); err != nil {
		progress.Stop()
		return err
	}
	recs, err := client.AwaitScan(ctx, nil)
	progress.Stop()
	if errors.Is(err, context.Canceled) {
		// Ctrl+C ends the pass early and shows what was found so far
		_ = client.StopScan()
		recs, err = client.Records(), nil
	}
	if err != nil {
		logger.WithError(err).Error("scan failed")
		return err
	}

	out := cmd.OutOrStdout()
	if cfg.OutputFormat == "json" {
		return displayDevicesJSON(out, recs)
	}
	return displayDevicesTable(out, recs)
}

func displayDevicesTable(out io.Writer, recs []device.Record) error {
	if len(recs) == 0 {
		fmt.Fprintln(out, "No devices discovered")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tNAME\tADDRESS\tRSSI")
	for i, r := range recs {
		name := r.Name()
		if len(name) > 24 {
			name = name[:21] + "..."
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d dBm\n", i, name, r.Address(), r.RSSI())
	}
	return w.Flush()
}

func displayDevicesJSON(out io.Writer, recs []device.Record) error {
	if recs == nil {
		recs = []device.Record{}
	}
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(recs)
}
