// Package server provides the optional local HTTP API of the agent:
// health, status snapshot, sanitized configuration and Prometheus metrics.
// It is read-only and intended for monitoring from the local network.
package server
