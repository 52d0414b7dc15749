// Package coalesce provides a single-slot mailbox that collapses bursts of
// values into execution of only the most recent one.
//
// A slider dragged across its range produces dozens of values per second,
// while the device behind it answers an HTTP PUT in tens to hundreds of
// milliseconds. Sending every value would queue stale writes; dropping
// values at random could lose the final position. A Dispatcher keeps one
// pending value, overwritten on every Send, and a dedicated worker that
// delivers whatever is pending once the previous delivery has finished.
//
// # Guarantees
//
//   - Send never blocks and never fails.
//   - At most one handler invocation is in flight per Dispatcher.
//   - Under a burst of N sends that outpaces the handler, the handler runs
//     fewer than N times, always with values that were actually sent, in
//     send order.
//   - Once sends stop, the last invocation carries the last value sent.
//   - A panicking handler is recovered and logged; the worker keeps going.
//
// # Lifecycle
//
//	d := coalesce.New("brightness", func(ctx context.Context, v int) {
//	    _ = client.PutBrightness(ctx, v)
//	})
//	d.Start(ctx)
//	defer d.Stop()
//	d.Send(128)
//
// Values sent before Start are delivered once the worker starts. Stop waits
// for an in-flight handler and drops anything still pending; Send after Stop
// is a no-op.
package coalesce
