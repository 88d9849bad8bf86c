// Package server provides the HTTP surface of the cadence dashboard.
//
// Besides serving the page, its JSON API and the SSE stream, the server is
// the dashboard's activity sensor: the page posts to /api/activity while the
// user interacts with it, and the server forwards each ping to an
// [adaptive.Notifier] so that activity-driven endpoints poll faster while
// someone is watching.
//
// The server shuts down gracefully on context cancellation, with a 5-second
// timeout for in-flight requests.
package server
