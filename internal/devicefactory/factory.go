// Package devicefactory selects the platform backend behind a uart.Client.
package devicefactory

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/bleuart/internal/device"
	"github.com/srg/bleuart/internal/device/bluez"
	goble "github.com/srg/bleuart/internal/device/go-ble"
	"github.com/srg/bleuart/internal/device/tinygo"
	"github.com/srg/bleuart/uart"
)

const (
	BackendGoBLE  = "goble"
	BackendTinyGo = "tinygo"

	probeTimeout = 2 * time.Second
)

// Backends lists the accepted backend names, default first.
var Backends = []string{BackendGoBLE, BackendTinyGo}

// probeAdapter enables the BlueZ power probe; only Linux has BlueZ.
var probeAdapter = runtime.GOOS == "linux"

// Options selects and tunes a backend.
type Options struct {
	Backend        string
	WriteChunkSize int
	WriteDelay     time.Duration
}

// New returns a CentralFactory for the named backend.
func New(opts Options, logger *logrus.Logger) (uart.CentralFactory, error) {
	if logger == nil {
		logger = logrus.New()
	}

	var open uart.CentralFactory
	switch strings.ToLower(opts.Backend) {
	case "", BackendGoBLE:
		gopts := goble.DefaultOptions()
		if opts.WriteChunkSize > 0 {
			gopts.WriteChunkSize = opts.WriteChunkSize
		}
		if opts.WriteDelay > 0 {
			gopts.WriteDelay = opts.WriteDelay
		}
		open = func(emit device.Emitter) (device.Central, error) {
			return goble.NewCentral(emit, gopts, logger)
		}
	case BackendTinyGo:
		open = func(emit device.Emitter) (device.Central, error) {
			return tinygo.NewCentral(emit, logger)
		}
	default:
		return nil, fmt.Errorf("unknown backend %q (expected one of %s)", opts.Backend, strings.Join(Backends, ", "))
	}

	if !probeAdapter {
		return open, nil
	}
	return func(emit device.Emitter) (device.Central, error) {
		c, err := open(refiningEmitter(emit))
		if err != nil {
			return nil, refine(err)
		}
		return c, nil
	}, nil
}

func refine(err error) error {
	if errors.Is(err, device.ErrBluetoothOff) {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	return bluez.Refine(ctx, err)
}

// refiningEmitter reclassifies scan failures once BlueZ confirms the radio is off.
func refiningEmitter(emit device.Emitter) device.Emitter {
	return func(ev device.Event) {
		if f, ok := ev.(device.ScanFailed); ok {
			f.Err = refine(f.Err)
			ev = f
		}
		emit(ev)
	}
}
