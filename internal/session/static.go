package session

import (
	"context"
	"log/slog"
)

// Static is the homemic-mode collector client. Uploads carry the same wire
// format as the sleep client but no session id; the collector groups clips
// by device instead. Session lifecycle calls are no-ops.
type Static struct {
	client *Client
}

// NewStatic creates a sessionless collector client
func NewStatic(config Config, logger *slog.Logger) (*Static, error) {
	client, err := NewClient(config, logger)
	if err != nil {
		return nil, err
	}

	return &Static{client: client}, nil
}

// StartSession is a no-op in homemic mode
func (s *Static) StartSession(ctx context.Context) (string, error) {
	return "", nil
}

// UploadClip sends one clip to the collector with an empty session id
func (s *Static) UploadClip(ctx context.Context, req UploadRequest) error {
	err := s.client.UploadClip(ctx, req)

	// The collector may hand back a session id; homemic uploads stay
	// sessionless
	s.client.setSessionID("")

	return err
}

// EndSession is a no-op in homemic mode
func (s *Static) EndSession(ctx context.Context) bool {
	return false
}

// SessionID always returns "" in homemic mode
func (s *Static) SessionID() string {
	return ""
}
