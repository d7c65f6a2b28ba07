package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/bleuart/bridge"
)

func newBridgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bridge <address|name>",
		Short: "Create a PTY bridge to a BLE UART device",
		Long: `Creates a bidirectional PTY (pseudoterminal) bridge to a BLE UART device,
allowing applications that expect a serial port to communicate with it.

The bridge creates a virtual serial device (e.g. /dev/pts/5 or /dev/ttys012).
Data written to the PTY is sent to the device's Tx characteristic and
notifications from its Rx characteristic are written to the PTY. The bridge
runs until Ctrl+C or until the device disconnects.

Example:
  bleuart bridge HMSoft
  bleuart bridge --preset nordic --symlink /tmp/ble-uart AA:BB:CC:DD:EE:FF`,
		Args: cobra.ExactArgs(1),
		RunE: runBridge,
	}
	addConnectFlags(cmd)
	cmd.Flags().String("symlink", "", "Create a symlink to the PTY device (e.g. /tmp/ble-uart)")
	cmd.Flags().Int("pty-buffer", 0, "PTY buffer size in bytes per direction (0 for default)")
	return cmd
}

func runBridge(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	symlink, _ := cmd.Flags().GetString("symlink")
	ptyBuffer, _ := cmd.Flags().GetInt("pty-buffer")

	client, err := newClient(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create BLE client: %w", err)
	}
	defer func() { _ = client.Close() }()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	target, _, err := resolveTarget(ctx, cmd, client, cfg, args[0])
	if err != nil {
		return err
	}

	progress := NewProgressPrinter(fmt.Sprintf("Starting bridge for %s", target.Address()), "Connecting", "Running", "Failed")
	progress.Start()
	defer progress.Stop()

	out := cmd.OutOrStdout()
	_, err = bridge.Run(ctx, client, &bridge.Options{
		Target:         target,
		Logger:         logger,
		PtyReadCap:     ptyBuffer,
		PtyWriteCap:    ptyBuffer,
		TTYSymlinkPath: symlink,
	}, progress.Callback(), func(b bridge.Bridge) (struct{}, error) {
		tty := b.TTYName()
		if b.TTYSymlink() != "" {
			tty = fmt.Sprintf("%s -> %s", b.TTYSymlink(), b.TTYName())
		}
		color.New(color.FgGreen).Fprintf(out, "Bridging %s on %s\n", target, tty)

		select {
		case <-ctx.Done():
			logger.Info("Bridge shutting down...")
			return struct{}{}, nil
		case <-b.Done():
			stats := b.Stats()
			logger.WithField("dropped", stats.Stream.DroppedBytes+stats.PTY.DroppedWrite).Debug("Bridge stream ended")
			return struct{}{}, ErrConnectionLost
		}
	})
	return err
}
