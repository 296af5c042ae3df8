// Package api defines the wire types shared by the daemon's management API
// and the CLI, plus a thin HTTP client.
package api
