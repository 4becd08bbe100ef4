// Package singer defines the message types exchanged between extractors,
// the orchestrator, and loaders: RECORD, SCHEMA and STATE messages, plus
// the stream catalog produced by discovery.
//
// The line-oriented codec in this package is also the wire format spoken
// by subprocess plugins over stdin/stdout.
package singer
