// Package relay carries play requests from guest devices to the single host that holds Spotify credentials.
//
// A [Hub] fans each request out to the subscribers of a named channel. [Handler] exposes it over HTTP:
//
//	POST /relay/{channel}/publish    JSON RelayRequest, 202 accepted, 400 invalid, 429 rate limited
//	GET  /relay/{channel}/subscribe  text/event-stream, one "request" event per message
//
// [Client] is the remote side of both routes and reconnects with backoff when the stream drops. [Local] binds
// a hub channel in-process.
//
// Delivery is best effort. Requests published while the host is disconnected are lost, and a request may be
// delivered more than once; the host deduplicates by request id.
package relay
