// Package api implements the local HTTP control plane and live event stream
// for the KNX/IP gateway daemon.
//
// This package provides:
//   - REST endpoints for link status, bus inventory and device state
//   - Group value write and read endpoints that go straight to the link
//   - WebSocket hub streaming every group telegram and link change
//   - Prometheus exposition at /metrics
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Group Addresses in URLs
//
// Group addresses contain slashes, so clients escape them:
//
//	POST /api/v1/groups/1%2F2%2F3/write
//
// # Graceful Degradation
//
// Only the link is required. Without the bridge, /status reports link
// figures only; without the inventory, /inventory answers 503.
package api
