package protocol

// This package implements parsing and serialising payloads for the
// line protocol that Stela uses to ingest time series data.
//
// This protocol aims to be
//
// - easy to implement
// - efficient to parse
// - minimize memory usage
// - be human readable
//
// We've stolen many ideas from the Redis protocol (RESP).
//
// - `Frame` - One line of the wire protocol, tagged by its leading sigil.
// - `Point` - A committed (series, timestamp, value) triple.
// - `Parser` - Turns a byte stream into Points or error outcomes.
//
// === General Syntax
//
// - lines are `\r\n` delimited, a bare `\n` is also accepted
// - the first byte of every line is a sigil naming the frame kind
//
//   ```
//     '+'  status line (series names, string timestamps, float values)
//     ':'  integer line (timestamps, integer values, ack sequence numbers)
//     '-'  error line (only ever sent by the server)
//   ```
//
// The `$` (bulk string) and `*` (array) sigils are reserved. We
// recognise them so the diagnostic can say so, but reject any frame
// that uses them.
//
// === Writing a data point
//
// A write is three frames: series name, timestamp, value.
//
//   ```
//     > +cpu.user host=web01 region=eu\r\n
//     > :1630000000000000000\r\n
//     > +0.75\r\n
//     < +OK\r\n
//   ```
//
// The series name is a metric name followed by one or more `key=value`
// tag pairs. A name with zero tags is invalid. Timestamps are either
// integer nanoseconds (`:` frame) or an RFC3339 string (`+` frame).
// Values are either integers (`:` frame) or decimal floats (`+` frame).
//
// When acknowledgement sequences are enabled the server replies with
// the storage sequence number instead of a bare OK:
//
//   ```
//     < :42\r\n
//   ```
//
// === Error responses
//
//   ```
//     < -ERR <message>\r\n
//   ```
//
// Where `<message>` is a human readable string. Every malformed write
// produces exactly one error line. The parser classifies a line as
// soon as its terminator is read: an empty line, or a line that grows
// past the configured maximum length without a terminator, is an error
// immediately, never a reason to wait for more input.
