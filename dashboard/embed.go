// Package dashboard provides the embedded web UI for mapboard.
//
// The page renders the marker map with OpenLayers from the GeoJSON the
// server publishes, draws one table per grid, and follows both over
// Server-Sent Events. Embedding keeps deployment to a single binary.
package dashboard

import "embed"

// Assets is an embedded filesystem containing the dashboard web UI.
//
//	assets/
//	  index.html    - Dashboard page with inline CSS and JavaScript
//
//go:embed assets/*
var Assets embed.FS
