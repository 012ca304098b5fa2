package network

import (
	"context"

	"golang.org/x/time/rate"
)

// FlowControl throttles one peer's send and receive byte rates with
// independent token buckets, per spec §4.8's defaults (≤5MB/s receive,
// ≤1MB/s send), replacing unbounded buffering with drop-with-backpressure:
// Wait blocks the caller instead of ever queuing more than one message's
// worth of unthrottled bytes.
type FlowControl struct {
	recv *rate.Limiter
	send *rate.Limiter
}

// NewFlowControl creates a FlowControl with the given bytes-per-second caps.
// Burst is set to one second's worth of budget so a single max-size message
// is never rejected outright, only delayed.
func NewFlowControl(recvBPS, sendBPS int64) *FlowControl {
	return &FlowControl{
		recv: rate.NewLimiter(rate.Limit(recvBPS), int(recvBPS)),
		send: rate.NewLimiter(rate.Limit(sendBPS), int(sendBPS)),
	}
}

// WaitRecv blocks until n bytes of receive budget are available or ctx is done.
func (f *FlowControl) WaitRecv(ctx context.Context, n int) error {
	return waitBytes(ctx, f.recv, n)
}

// WaitSend blocks until n bytes of send budget are available or ctx is done.
func (f *FlowControl) WaitSend(ctx context.Context, n int) error {
	return waitBytes(ctx, f.send, n)
}

// waitBytes drains n bytes of budget from l in burst-sized chunks.
// rate.Limiter.WaitN rejects any single call exceeding the limiter's burst,
// so a message larger than one second's budget waits out multiple refills
// instead of being rejected outright.
func waitBytes(ctx context.Context, l *rate.Limiter, n int) error {
	burst := l.Burst()
	for n > 0 {
		chunk := n
		if chunk > burst {
			chunk = burst
		}
		if err := l.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}
