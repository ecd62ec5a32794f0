// Package registrar handles the node's identity with the collector in
// homemic mode. It registers the node by name and location, persists the
// assigned node id to a JSON state file so identity survives restarts,
// sends periodic heartbeats that also carry back the privacy status, and
// reports live audio levels. The collector being down never stops the
// agent; registration is retried through the heartbeat path.
package registrar
