// Package dashboard provides the embedded web UI of the cadence dashboard.
//
// The page renders endpoint statuses from the SSE stream, shows each
// endpoint's current poll interval and mode, and posts throttled activity
// pings to /api/activity while the user interacts with it.
package dashboard

import "embed"

// Assets holds assets/index.html, a single page with inline CSS and
// JavaScript. The {{.Title}} placeholder is replaced by the server.
//
//go:embed assets/*
var Assets embed.FS
