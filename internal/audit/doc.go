// Package audit relays security events to a sink off the request path.
//
// The engine decides which events to emit. This package only buffers them
// and hands them to a [Sink]: [ZapSink] for structured logs, [ChannelSink]
// for tests and in-process consumers, [NoOpSink] to discard.
package audit
