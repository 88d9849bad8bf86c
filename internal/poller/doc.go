// Package poller probes HTTP endpoints on adaptive cadences.
//
// The main components are:
//
//   - [Client]: HTTP client wrapper with per-request timeouts and a body limit
//   - [Probe]: probes one endpoint and classifies each cycle for the cadence
//   - [Pool]: one adaptive scheduler per endpoint, results published on an
//     event bus as [EventStatus] and [EventCycle]
//
// An endpoint whose status keeps changing is probed at its minimum interval;
// a stable or failing endpoint backs off towards its maximum. User activity
// ([EventActivity]) switches activity-driven endpoints to their active cadence.
//
// Users of the cadence library should not need this package directly.
package poller
