package model

import "context"

// Module is the contract every analysis module satisfies.
//
// Run is executed in its own goroutine by the manager. It owns all of the
// module's state; nothing else reads or writes it. Run must receive from in
// with a bounded wait so that ctx is re-checked at least once per poll
// interval, must never block indefinitely while handling a packet, and must
// catch and log its own failures. Run returns when ctx is cancelled; the
// input channel is never closed by the manager.
type Module interface {
	Name() string
	Run(ctx context.Context, in <-chan FlowPacket) error
}
