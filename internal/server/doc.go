// Package server hosts the metadata store's HTTP API behind a single multiplexer.
//
// The server builds a consistent middleware chain of rate limiting, metrics,
// audit, CORS, security headers, request IDs, and logging so handlers all
// share common protections and instrumentation. Capability checks live in the
// handlers themselves because each route guards a different token set.
package server
