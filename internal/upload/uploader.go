package upload

import "context"

// Request carries everything the video platform needs for one upload.
type Request struct {
	FilePath    string
	Title       string
	Description string
	Tags        []string
	Privacy     string
	CategoryID  string
	Account     string
}

// Uploader is the video-platform client collaborator. Implementations handle
// authentication and chunked transfer; the orchestrator only sees the
// resulting external video id.
type Uploader interface {
	Upload(ctx context.Context, req Request) (videoID string, err error)
}
