// Package publisher moves pipeline events from the in-process queue to
// an external transport.
//
// The run loop publishes events into a bounded queue and never waits on
// delivery. A Publisher drains that queue on its own goroutines and
// hands each event to an api.Emitter, which may block, talk to a
// message bus, or write to a durable log.
//
// # Delivery contract
//
// Events are fire-and-forget end to end:
//
//   - A full queue drops the newest event at publish time.
//   - An emitter error drops that event; the loop keeps draining.
//   - Delivered and failed counts are exposed for monitoring.
//
// Nothing in the pipeline ever blocks on, retries, or acknowledges
// event delivery. Anything that must not be lost belongs in a
// checkpoint store, not in the event stream.
//
// # Usage
//
// Most applications construct the queue, publisher, and runner together
// via the fabula package (LocalPipeline, SQLiteBundle), which also owns
// the drain goroutines' lifecycle:
//
//	pipe := fabula.NewLocalPipeline(myEmitter)
//	pipe.StartPublishers(ctx, 2)
//	defer pipe.Stop()
//
// Use this package directly when managing the goroutines yourself.
// Multiple goroutines may call Drain on one Publisher to scale
// delivery; event ordering across goroutines is then not guaranteed.
package publisher
