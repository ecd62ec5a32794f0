// Package store implements the durable on-disk clip queue.
// Clip state (recording, pending upload, uploaded) is encoded as zero-byte
// sidecar marker files next to each audio file, making the queue
// crash-consistent without a database: any clip without markers is pending
// and will be retried after a restart.
package store
