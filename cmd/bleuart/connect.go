package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/bleuart/uart"
	"golang.org/x/term"
)

// escapeByte (Ctrl+]) ends an interactive session; Ctrl+C is sent to the device.
const escapeByte = 0x1d

// terminalInput is the interactive input (can be overridden in tests)
var terminalInput io.Reader = os.Stdin

func newConnectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connect <address|name>",
		Short: "Open a terminal session to a BLE UART device",
		Long: `Connects to a BLE UART peripheral and relays the terminal to it.

In a terminal the session runs in raw mode: every key is sent to the device,
including Ctrl+C. Press Ctrl+] to end the session. Piped input is sent as it is
read and the session ends --wait after the input is exhausted.

Example:
  bleuart connect HMSoft
  bleuart connect --preset nordic AA:BB:CC:DD:EE:FF
  bleuart connect --send 'AT+VERSION' --wait 2s HMSoft`,
		Args: cobra.ExactArgs(1),
		RunE: runConnect,
	}
	addConnectFlags(cmd)
	cmd.Flags().String("send", "", "Send this text, print the replies for --wait, then exit")
	cmd.Flags().Duration("wait", time.Second, "How long to keep reading after the input is sent")
	cmd.Flags().Bool("transcript", false, "Print a hex dump of the exchanged frames on exit")
	return cmd
}

func runConnect(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	send, _ := cmd.Flags().GetString("send")
	wait, _ := cmd.Flags().GetDuration("wait")
	dump, _ := cmd.Flags().GetBool("transcript")

	client, err := newClient(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create BLE client: %w", err)
	}
	defer func() { _ = client.Close() }()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	target, index, err := resolveTarget(ctx, cmd, client, cfg, args[0])
	if err != nil {
		return err
	}
	if err := connectTarget(ctx, client, target, index); err != nil {
		return err
	}
	defer disconnect(client, cfg, logger)

	stream, err := client.OpenStream()
	if err != nil {
		return err
	}
	defer func() { _ = stream.Close() }()

	status := color.New(color.FgGreen)
	errOut := cmd.ErrOrStderr()

	var input io.Reader
	switch {
	case send != "":
		input = bytes.NewBufferString(send)
	case isTerminal(terminalInput):
		fd := int(terminalInput.(*os.File).Fd())
		state, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("failed to set terminal to raw mode: %w", err)
		}
		defer func() { _ = term.Restore(fd, state) }()
		status.Fprintf(errOut, "Connected to %s. Press Ctrl+] to exit.\r\n", target)
		wait = 0
		input = terminalInput
	default:
		input = terminalInput
	}

	err = relay(ctx, stream, input, cmd.OutOrStdout(), wait, logger)

	if dump {
		hexdump, derr := uart.ConsumeFrames(client.Transcript(), uart.HexDumpConsumerFunc())
		if derr != nil {
			logger.WithError(derr).Warn("Failed to read transcript")
		}
		fmt.Fprint(errOut, hexdump)
	}
	if errors.Is(err, ErrConnectionLost) {
		if cause := client.Snapshot().Cause; cause != nil {
			return fmt.Errorf("%w: %w", ErrConnectionLost, cause)
		}
	}
	return err
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// relay copies input to the stream and the stream to out. It returns when the
// escape byte is typed, ctx is cancelled, the connection is lost, or, when
// linger is positive, linger after input is exhausted.
func relay(ctx context.Context, stream *uart.Stream, input io.Reader, out io.Writer, linger time.Duration, logger *logrus.Logger) error {
	received := make(chan struct{})
	go func() {
		defer close(received)
		if _, err := io.Copy(out, stream); err != nil {
			logger.WithError(err).Debug("Device output copy stopped")
		}
	}()

	inputDone := make(chan error, 1)
	go func() {
		inputDone <- forwardInput(input, stream)
	}()

	var lingerC <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			_ = stream.Close()
			<-received
			return ctx.Err()
		case <-received:
			return ErrConnectionLost
		case err := <-inputDone:
			inputDone = nil
			switch {
			case errors.Is(err, errEscape):
				_ = stream.Close()
				<-received
				return nil
			case err != nil:
				_ = stream.Close()
				<-received
				return err
			}
			if linger <= 0 {
				// Interactive input closed; keep the session until Ctrl+C or a drop.
				continue
			}
			lingerC = time.After(linger)
		case <-lingerC:
			_ = stream.Close()
			<-received
			return nil
		}
	}
}

var errEscape = errors.New("escape")

// forwardInput sends input to the stream until EOF or the escape byte.
func forwardInput(input io.Reader, stream io.Writer) error {
	buf := make([]byte, 256)
	for {
		n, err := input.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if i := bytes.IndexByte(chunk, escapeByte); i >= 0 {
				if i > 0 {
					if _, werr := stream.Write(chunk[:i]); werr != nil {
						return werr
					}
				}
				return errEscape
			}
			if _, werr := stream.Write(chunk); werr != nil {
				return werr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
