// Package agent assembles the node's components and runs them as one unit.
// It selects the collector personality from the configured mode, glues the
// recorder's observations into the uploader, and owns the periodic duties:
// status summary, heartbeats and level reporting in homemic mode. Shutdown
// is ordered so the in-progress clip is flushed and offered for upload
// before the session ends.
package agent
