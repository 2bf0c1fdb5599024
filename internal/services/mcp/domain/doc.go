// Package domain maps MCP tool calls onto read-only registry queries.
//
// Tools never mutate the registry: registration and transfer need a caller
// token and stay on the gRPC API and registryctl.
package domain
