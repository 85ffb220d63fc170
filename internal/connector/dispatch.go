package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"okx_connector/internal/okx"
	"okx_connector/pkg/telemetry"
)

// streamChannel enumerates the private channels the dispatcher routes
type streamChannel int

const (
	channelUnknown streamChannel = iota
	channelOrders
	channelPositions
	channelFills
	channelAccount
)

// channelOf maps a wire channel name onto the closed routing set
func channelOf(name string) streamChannel {
	switch name {
	case okx.ChannelOrders:
		return channelOrders
	case okx.ChannelPositions:
		return channelPositions
	case okx.ChannelFills:
		return channelFills
	case okx.ChannelAccount:
		return channelAccount
	default:
		return channelUnknown
	}
}

// errorBackoff is how long the dispatcher pauses after a processing
// error before resuming the stream.
const errorBackoff = 5 * time.Second

// RunUserStream consumes the private push stream in arrival order and
// routes each event into the books. Unroutable messages are logged and
// dropped; a processing error pauses briefly and resumes; cancellation
// stops the loop.
func (c *Connector) RunUserStream(ctx context.Context) error {
	streamErr := make(chan error, 1)
	go func() {
		streamErr <- c.stream.Run(ctx)
	}()

	for ev := range c.stream.Events() {
		if err := c.processStreamEvent(ctx, ev); err != nil {
			c.logger.Error("User stream event failed, pausing",
				"channel", ev.Channel, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(errorBackoff):
			}
		}
	}

	return <-streamErr
}

// processStreamEvent routes one stream event. An unknown channel is not
// an error; it is logged and dropped.
func (c *Connector) processStreamEvent(ctx context.Context, ev okx.StreamEvent) error {
	switch channelOf(ev.Channel) {
	case channelOrders:
		var details []okx.OrderDetail
		if err := json.Unmarshal(ev.Data, &details); err != nil {
			return fmt.Errorf("orders event decode failed: %w", err)
		}
		for _, d := range details {
			c.processOrderDetail(ctx, d)
		}

	case channelFills:
		var fills []okx.Fill
		if err := json.Unmarshal(ev.Data, &fills); err != nil {
			return fmt.Errorf("fills event decode failed: %w", err)
		}
		for _, f := range fills {
			c.processFill(ctx, f)
		}

	case channelPositions:
		var details []okx.PositionDetail
		if err := json.Unmarshal(ev.Data, &details); err != nil {
			return fmt.Errorf("positions event decode failed: %w", err)
		}
		for _, p := range details {
			c.applyPositionDetail(p)
		}

	case channelAccount:
		var accounts []okx.AccountBalance
		if err := json.Unmarshal(ev.Data, &accounts); err != nil {
			return fmt.Errorf("account event decode failed: %w", err)
		}
		for _, a := range accounts {
			c.applyBalances(a.Details, false)
		}

	default:
		telemetry.GetGlobalMetrics().IncStreamDropped(ev.Channel)
		c.logger.Warn("Unroutable user stream message dropped", "channel", ev.Channel)
	}

	return nil
}
