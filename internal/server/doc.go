// Package server implements the local HTTP control API: session control
// endpoints, a websocket stream of session snapshots, attempt history,
// statistics and the Prometheus metrics endpoint.
package server
