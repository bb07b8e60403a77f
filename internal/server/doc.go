// Package server hosts the stream gateway's HTTP surface: device/stream
// lifecycle control, consumer negotiation, HLS playback, and snapshot/
// bookmark extraction.
//
// The server builds a consistent middleware chain of request-id tagging,
// CORS, security headers, logging, audit, metrics, and rate limiting so every
// route shares the same cross-cutting protections and instrumentation.
// Bearer-token authentication and scope checks are enforced per endpoint by
// api.Handler itself, not by this package.
package server
