package client

import (
	"context"
	"fmt"
	"time"

	"github.com/dkeye/busboard/internal/display"
	"github.com/dkeye/busboard/internal/protocol"
)

// Control connects once, seeds a Producer from the initial snapshot, lets
// edit stage changes on it and sends them as a single patch.
func (c *Client) Control(ctx context.Context, edit func(*display.Producer) error) error {
	conn, err := c.Connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	var first protocol.Outbound
	for !first.IsSnapshot() {
		first, err = conn.Read(10 * time.Second)
		if err != nil {
			return fmt.Errorf("wait for snapshot: %w", err)
		}
	}

	p := display.NewProducer(first.State)
	if err := edit(p); err != nil {
		return err
	}
	return p.Flush(conn.SendPatch)
}
