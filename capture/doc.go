// Package capture provides e1381.CaptureSink implementations that persist
// every validated inbound message.
//
// A capture is the reassembled message with each record terminated by CR,
// the same bytes an instrument would print to a capture file. Sinks:
//
//   - FileSink: append-only local file.
//   - NewRotatingFileSink: FileSink over a size-rotated file (lumberjack).
//   - RedisSink: one XADD entry per message on a Redis stream.
//   - NATSSink: one NATS message per capture on a subject.
//   - MultiSink: fan-out to several sinks.
//   - AsyncSink: buffers captures for a slow sink and writes them in the
//     background.
//
// All sinks are safe for concurrent use by many sessions.
package capture
