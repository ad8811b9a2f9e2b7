// Package events is the coordinator's internal pub/sub bus: a single
// non-blocking broker that fans out catalog-changed, tablet
// online/offline, and session-reset notifications to every interested
// component (background schedulers, the admin RPC surface, metrics).
//
// Using one broker instead of per-watch callbacks keeps MetaStore watch
// handlers thin: a watch fires, translates into an Event, and publishes
// it; every stateful reaction to that event lives in a subscriber loop
// that takes the main mutex itself, rather than inside the watch
// callback (see design notes on "callback soup").
package events
