package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/bleuart/internal/device"
	"github.com/srg/bleuart/internal/devicefactory"
	"github.com/srg/bleuart/pkg/config"
	"github.com/srg/bleuart/pkg/connection"
	"github.com/srg/bleuart/uart"
)

// settleGrace is added to the disconnect timeout while waiting for teardown.
const settleGrace = time.Second

// CentralFactoryProvider selects the platform backend (can be overridden in tests)
//
//nolint:revive // CentralFactoryProvider name is intentional for test mocking
var CentralFactoryProvider = devicefactory.New

// loadConfig reads --config and applies the global and profile flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if backend, _ := flags.GetString("backend"); backend != "" {
		cfg.Backend = backend
	}
	if flags.Lookup("preset") != nil {
		if flags.Changed("preset") {
			cfg.Preset, _ = flags.GetString("preset")
			cfg.Profile = config.ProfileConfig{}
		}
		for name, dst := range map[string]*string{"service": &cfg.Profile.Service, "rx": &cfg.Profile.Rx, "tx": &cfg.Profile.Tx} {
			if flags.Changed(name) {
				*dst, _ = flags.GetString(name)
			}
		}
		if flags.Changed("address-type") {
			cfg.AddressType, _ = flags.GetString("address-type")
		}
		if flags.Changed("connect-timeout") {
			cfg.ConnectTimeout, _ = flags.GetDuration("connect-timeout")
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// addConnectFlags registers the flags shared by connect and bridge.
func addConnectFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("preset", config.PresetNordic, "UART profile preset (nordic, hm10)")
	flags.String("service", "", "Custom UART service UUID (overrides --preset)")
	flags.String("rx", "", "Custom characteristic notifying device data")
	flags.String("tx", "", "Custom characteristic receiving host data (default: same as --rx)")
	flags.String("address-type", "random", "LE address type (public, random)")
	flags.Duration("connect-timeout", 30*time.Second, "Connection setup timeout (0 to wait forever)")
	flags.Bool("no-scan", false, "Dial the address directly instead of resolving it with a scan")
}

// setup loads configuration and the logger for a command run.
func setup(cmd *cobra.Command) (*config.Config, *logrus.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return nil, nil, err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true
	return cfg, logger, nil
}

func newClient(cfg *config.Config, logger *logrus.Logger) (*uart.Client, error) {
	factory, err := CentralFactoryProvider(cfg.FactoryOptions(), logger)
	if err != nil {
		return nil, err
	}
	opts, err := cfg.ClientOptions()
	if err != nil {
		return nil, err
	}
	return uart.New(factory, opts, logger)
}

// signalContext is cancelled on Ctrl+C or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// resolveTarget finds the peripheral named by query, an address or a device
// name, and returns it with its catalog index. With --no-scan the address is
// dialled as is and the index is -1.
func resolveTarget(ctx context.Context, cmd *cobra.Command, client *uart.Client, cfg *config.Config, query string) (device.Record, int, error) {
	if noScan, _ := cmd.Flags().GetBool("no-scan"); noScan {
		return device.NewRecord(query, query, 0, device.CapLowEnergy), -1, nil
	}

	progress := NewCountdownProgressPrinter(fmt.Sprintf("Looking for %s", query), "Scanning", cfg.ScanTimeout)
	progress.Start()
	defer progress.Stop()

	if err := client.StartScan(); err != nil {
		return device.Record{}, 0, err
	}
	recs, err := client.AwaitScan(ctx, nil)
	if err != nil {
		return device.Record{}, 0, err
	}
	for i, r := range recs {
		if strings.EqualFold(r.Address(), query) || strings.EqualFold(r.Name(), query) {
			return r, i, nil
		}
	}
	return device.Record{}, 0, &device.NotFoundError{Resource: "device", UUIDs: []string{query}}
}

// connectTarget starts the connection and blocks until it is Ready.
func connectTarget(ctx context.Context, client *uart.Client, target device.Record, index int) error {
	progress := NewProgressPrinter(fmt.Sprintf("Connecting to %s", target.Address()), "Connecting")
	progress.Start()
	defer progress.Stop()

	var err error
	if index >= 0 {
		err = client.StartConnect(index)
	} else {
		err = client.StartConnectTo(target)
	}
	if err != nil {
		return err
	}
	if err := client.AwaitReady(ctx, func(p connection.Phase) { progress.Callback()(p.String()) }); err != nil {
		return fmt.Errorf("failed to connect to device %s: %w", target.Address(), err)
	}
	return nil
}

// disconnect starts an orderly teardown and waits until the connection settles.
func disconnect(client *uart.Client, cfg *config.Config, logger *logrus.Logger) {
	if err := client.Disconnect(); err != nil {
		if !errors.Is(err, device.ErrNotConnected) && !errors.Is(err, device.ErrClosed) {
			logger.WithError(err).Debug("Disconnect failed")
		}
		return
	}
	deadline := time.After(cfg.DisconnectTimeout + settleGrace)
	for !client.Phase().IsSettled() {
		select {
		case _, ok := <-client.Notifications():
			if !ok {
				return
			}
		case <-deadline:
			logger.WithField("phase", client.Phase()).Warn("Connection did not settle in time")
			return
		}
	}
}
