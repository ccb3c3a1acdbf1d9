package client

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-retry"

	"github.com/dkeye/busboard/internal/display"
	"github.com/dkeye/busboard/internal/protocol"
)

// RunViewer keeps a display connected until ctx ends. Every snapshot goes
// through v and the resulting effects are passed to render. A lost
// connection is retried with capped exponential backoff; the backoff starts
// over after each successful connect.
func (c *Client) RunViewer(ctx context.Context, v *display.Viewer, render func([]display.Effect)) error {
	reconnect := false
	for {
		conn, err := c.connectWithRetry(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		v.Reconnected()
		if reconnect {
			if err := conn.RequestSnapshot(); err != nil {
				log.Warn().Err(err).Str("module", "client").Msg("snapshot request")
			}
		}
		reconnect = true

		err = conn.Run(ctx, func(msg protocol.Outbound) {
			switch {
			case msg.IsSnapshot():
				if effects := v.Apply(msg.Type, msg.Version, msg.State); len(effects) > 0 {
					render(effects)
				}
			case msg.Type == protocol.TypeError:
				log.Warn().Str("module", "client").Str("error", msg.Error).Msg("server error")
			}
		})
		if ctx.Err() != nil {
			return nil
		}
		log.Warn().Err(err).Str("module", "client").Msg("reconnecting")
	}
}

func (c *Client) connectWithRetry(ctx context.Context) (*Conn, error) {
	backoff := retry.NewExponential(c.opts.BackoffBase)
	backoff = retry.WithCappedDuration(c.opts.BackoffCap, backoff)
	backoff = retry.WithJitterPercent(10, backoff)

	var conn *Conn
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		cn, err := c.Connect(ctx)
		if errors.Is(err, ErrInvalidCredentials) {
			return err
		}
		if err != nil {
			log.Warn().Err(err).Str("module", "client").Msg("connect failed, retrying")
			return retry.RetryableError(err)
		}
		conn = cn
		return nil
	})
	return conn, err
}
