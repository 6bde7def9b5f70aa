// Package consumer holds the receive loop shared by analysis modules.
package consumer

import (
	"context"
	"time"

	"NetflowAnalyzer/internal/model"
)

// DefaultPollInterval bounds how long a module waits for a packet before it
// re-checks its cancellation signal.
const DefaultPollInterval = time.Second

// Handler receives the events of a polling loop. Both callbacks run on the
// module's own goroutine.
type Handler struct {
	// OnPacket is called for every packet received.
	OnPacket func(pkt model.FlowPacket)
	// OnTick is called after every loop iteration, whether or not a packet
	// arrived. May be nil.
	OnTick func(now time.Time)
}

// Poll runs the module receive loop until ctx is cancelled. Each iteration
// waits at most interval for a packet, then checks ctx.
func Poll(ctx context.Context, in <-chan model.FlowPacket, interval time.Duration, h Handler) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for ctx.Err() == nil {
		select {
		case pkt := <-in:
			if h.OnPacket != nil {
				h.OnPacket(pkt)
			}
		case <-timer.C:
		case <-ctx.Done():
			return
		}

		if h.OnTick != nil {
			h.OnTick(time.Now())
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(interval)
	}
}
