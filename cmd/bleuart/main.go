package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// newRootCmd builds the command tree. Tests build a fresh tree per case so
// flag values never leak between executions.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "bleuart",
		Short: "BLE UART client",
		Long: `Serial-style access to Bluetooth Low Energy UART modules (HM-10, Nordic UART Service):

- Scan for nearby BLE peripherals
- Open an interactive terminal session to a UART peripheral
- Bridge a UART peripheral to a PTY for serial tools (screen, minicom, pyserial)

Settings can be kept in a YAML file passed with --config.`,
		Version: formatVersion(version),
	}

	// Silence Cobra's "Error:" prefix - main() prints clean errors
	root.SilenceErrors = true
	root.SetVersionTemplate(fmt.Sprintf("bleuart {{.Version}} (commit %s, built %s)\n", commit, date))

	root.AddCommand(newScanCmd())
	root.AddCommand(newConnectCmd())
	root.AddCommand(newBridgeCmd())

	// Global flags
	root.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().BoolP("verbose", "V", false, "Enable debug logging")
	root.PersistentFlags().String("config", "", "YAML configuration file")
	root.PersistentFlags().String("backend", "", "BLE backend (goble, tinygo); overrides the config file")

	// Add -v as a short flag for --version
	root.Flags().BoolP("version", "v", false, "Show version information")
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}
