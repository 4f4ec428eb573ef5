// Package api exposes the HTTP interface: synchronous parsing, asynchronous
// turn submission and lookup, and the Prometheus metrics endpoint.
package api
