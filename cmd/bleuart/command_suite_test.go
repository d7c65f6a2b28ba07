package main

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/bleuart/internal/device"
	"github.com/srg/bleuart/internal/devicefactory"
	"github.com/srg/bleuart/internal/testutils"
	"github.com/srg/bleuart/uart"
)

// Test device addresses for consistent fake device identification
const (
	TestDeviceAddress1 = "00:00:00:00:00:01"
	TestDeviceAddress2 = "00:00:00:00:00:02"
)

// CommandTestSuite extends FakeCentralSuite with command testing utilities.
// Every command runs against the suite's FakeCentral.
type CommandTestSuite struct {
	testutils.FakeCentralSuite

	originalProvider func(devicefactory.Options, *logrus.Logger) (uart.CentralFactory, error)
	originalProgress io.Writer
	factoryOptions   []devicefactory.Options
}

// SetupTest routes CentralFactoryProvider to the fake radio.
func (s *CommandTestSuite) SetupTest() {
	s.FakeCentralSuite.SetupTest()
	s.factoryOptions = nil

	s.originalProvider = CentralFactoryProvider
	s.originalProgress = progressOutput
	progressOutput = io.Discard

	CentralFactoryProvider = func(opts devicefactory.Options, _ *logrus.Logger) (uart.CentralFactory, error) {
		s.factoryOptions = append(s.factoryOptions, opts)
		central := s.Central
		return func(emit device.Emitter) (device.Central, error) {
			central.Attach(emit)
			return central, nil
		}, nil
	}
}

// TearDownTest restores the factory and the progress output.
func (s *CommandTestSuite) TearDownTest() {
	// SetupTest may have skipped before swapping anything
	if s.originalProvider != nil {
		CentralFactoryProvider = s.originalProvider
		progressOutput = s.originalProgress
	}
	s.FakeCentralSuite.TearDownTest()
}

// ExecuteCommand runs a fresh command tree with args, returns its output and error.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	return s.ExecuteCommandContext(context.Background(), new(syncBuffer), args...)
}

// ExecuteCommandContext runs a fresh command tree with ctx, writing stdout and stderr to out.
func (s *CommandTestSuite) ExecuteCommandContext(ctx context.Context, out *syncBuffer, args ...string) (string, error) {
	root := newRootCmd()
	root.SetOut(out)
	root.SetErr(out)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

// syncBuffer is a bytes.Buffer safe for a command writing while the test reads.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
