// Package mcp exposes the routing pipeline as MCP tools over stdio.
//
// Tools:
//   - route_request: analyze and route one operation, optionally compressing its context
//   - compress_content: compress a payload under resource pressure
//   - record_outcome: report how a routed operation went
//   - get_effectiveness: read learned effectiveness for a fingerprint
//
// Every tool call is counted and timed through OpenTelemetry metrics.
package mcp
