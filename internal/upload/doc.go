// Package upload implements the background loop that drains the local clip
// queue to the collector. Every poll it re-enumerates pending clips from the
// filesystem, uploads them in order, and marks each one uploaded only after
// the collector accepts it. Failed uploads are left in place and retried on
// the next poll, which also makes crash recovery automatic. A slower second
// ticker reclaims uploaded clips that have aged out of retention.
package upload
