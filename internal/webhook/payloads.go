package webhook

import (
	"encoding/json"
	"fmt"

	"cadence/internal/services"
)

// Provider names accepted by the pipeline.
const (
	ProviderYouTube   = "youtube"
	ProviderGenerator = "generator"
)

// YouTube event types.
const (
	EventVideoPublished  = "published"
	EventVideoUpdated    = "updated"
	EventVideoDeleted    = "deleted"
	EventAnalyticsUpdate = "analytics-update"
)

// Generation provider event types.
const (
	EventTrackGenerated = "generated"
	EventTrackUpdated   = "updated"
	EventTrackFailed    = "failed"
)

// YouTubePayload is the validated shape of a video-platform event.
type YouTubePayload struct {
	Event   string `json:"event"`
	VideoID string `json:"video_id"`
	TrackID int64  `json:"track_id,omitempty"`
}

// GeneratorPayload is the validated shape of a generation-provider event.
type GeneratorPayload struct {
	Event     string `json:"event"`
	TrackID   int64  `json:"track_id"`
	Progress  int    `json:"progress,omitempty"`
	AudioFile string `json:"audio_file,omitempty"`
	ImageFile string `json:"image_file,omitempty"`
	VideoFile string `json:"video_file,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ParseYouTubePayload validates a raw video-platform body. Malformed or
// incomplete payloads are rejected before any handler runs.
func ParseYouTubePayload(rawBody []byte) (YouTubePayload, error) {
	var p YouTubePayload
	if err := json.Unmarshal(rawBody, &p); err != nil {
		return YouTubePayload{}, services.Wrap(services.ErrValidation, "webhook", "parse", "malformed youtube payload", err)
	}
	if p.Event == "" {
		return YouTubePayload{}, services.Wrap(services.ErrValidation, "webhook", "parse", "youtube payload missing event field", nil)
	}
	switch p.Event {
	case EventVideoPublished, EventVideoUpdated, EventVideoDeleted, EventAnalyticsUpdate:
		if p.VideoID == "" {
			return YouTubePayload{}, services.Wrap(services.ErrValidation, "webhook", "parse",
				fmt.Sprintf("youtube %s event missing video_id", p.Event), nil)
		}
	}
	return p, nil
}

// ParseGeneratorPayload validates a raw generation-provider body.
func ParseGeneratorPayload(rawBody []byte) (GeneratorPayload, error) {
	var p GeneratorPayload
	if err := json.Unmarshal(rawBody, &p); err != nil {
		return GeneratorPayload{}, services.Wrap(services.ErrValidation, "webhook", "parse", "malformed generator payload", err)
	}
	if p.Event == "" {
		return GeneratorPayload{}, services.Wrap(services.ErrValidation, "webhook", "parse", "generator payload missing event field", nil)
	}
	if p.TrackID <= 0 {
		return GeneratorPayload{}, services.Wrap(services.ErrValidation, "webhook", "parse", "generator payload missing track_id", nil)
	}
	return p, nil
}
