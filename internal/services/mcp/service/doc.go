// Package service runs the read-only registry MCP server.
//
// It dials the registry gRPC API, registers the vehicle tools from the domain
// package and serves them over stdio or streamable HTTP.
package service
