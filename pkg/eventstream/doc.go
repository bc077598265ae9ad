// Package eventstream persists and replays run events as NDJSON.
//
// Every run gets a journal file at <data-dir>/runs/<run-id>.ndjson holding
// one event per line, flushed as events arrive. The journal subscriber and
// the stdout streamer both hang off the telemetry event bus, so they see
// the same event sequence the orchestrator emitted, in order.
//
// ReadFile replays a journal for inspection. A partial final line is
// expected after a crash and is skipped; corruption anywhere else fails
// the read.
package eventstream
