// Package server hosts the orchestrator's signaling, chat, HLS origin, and
// stream-lifecycle HTTP surface behind a single multiplexer.
//
// The server builds a consistent middleware chain of request ID, security
// headers, CORS, rate limiting, metrics, audit, and logging so every route
// shares the same protections and instrumentation.
package server
