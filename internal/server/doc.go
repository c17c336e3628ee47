// Package server provides the HTTP server for the mapboard dashboard and API.
//
// This package is internal to mapboard and handles all HTTP concerns:
//
//   - Dashboard serving: Serves the embedded dashboard at "/"
//   - REST API: grid snapshots under "/api/grids", the marker map as GeoJSON
//     at "/api/markers", and popup open/close per marker
//   - Server-Sent Events: Real-time grid and marker updates at "/api/sse"
//
// Routing and middleware use chi. The server supports graceful shutdown via
// context cancellation, with a 5-second timeout for in-flight requests.
package server
