// Package session implements the HTTP client for the remote collector. It
// covers the session lifecycle (start, end, score calculation) and the
// per-clip multipart upload, and exposes both through the API interface so
// the upload loop stays independent of the agent's mode. The sleep-mode
// Client tracks a session id and adopts one from upload responses when the
// collector assigns it server-side; the homemic-mode Static client uploads
// without sessions.
package session
