package uart

import (
	"context"
	"fmt"

	"github.com/srg/bleuart/internal/device"
	"github.com/srg/bleuart/pkg/connection"
)

// AwaitScan consumes notifications until the running pass finishes and
// returns the frozen catalog. onChange, if set, sees every published list.
func (c *Client) AwaitScan(ctx context.Context, onChange func(names []string)) ([]device.Record, error) {
	for {
		select {
		case <-ctx.Done():
			return c.Records(), ctx.Err()
		case n, ok := <-c.Notifications():
			if !ok {
				return nil, device.ErrClosed
			}
			switch n := n.(type) {
			case DeviceListChanged:
				if onChange != nil {
					onChange(n.Names)
				}
			case ScanningFinished:
				return c.Records(), nil
			case ErrorReported:
				if _, isScan := n.Err.(*device.ScanError); isScan {
					return c.Records(), n.Err
				}
			}
		}
	}
}

// AwaitReady consumes notifications until the connection started by
// StartConnect or StartConnectTo is Ready. A connection that settles first
// returns the cause recorded by the state machine.
func (c *Client) AwaitReady(ctx context.Context, onPhase func(connection.Phase)) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-c.Notifications():
			if !ok {
				return device.ErrClosed
			}
			switch n := n.(type) {
			case PhaseChanged:
				if onPhase != nil {
					onPhase(n.To)
				}
				if n.To.IsSettled() {
					if cause := c.Snapshot().Cause; cause != nil {
						return cause
					}
					return fmt.Errorf("connection ended in phase %s", n.To)
				}
			case ConnectionReady:
				return nil
			}
		}
	}
}
