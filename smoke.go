// Package smoke drives a network-stack binary and its probe tools as
// external processes and verifies their observable output.
package smoke

// Version is the harness version reported by the CLI and the MCP server.
const Version = "0.3.0"
