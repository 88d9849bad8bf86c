// Package store keeps the latest status of every endpoint in memory and
// pushes updates to subscribers (the dashboard's SSE stream).
//
// The store is fed from the event bus: the board subscribes to poller status
// events and calls [MemoryStore.Update] for each one. Subscribers receive
// updates via buffered channels with non-blocking sends, so a slow client
// misses updates instead of stalling polling.
package store
