package orchestrator

import (
	"fmt"
	"strings"

	"proxie/pkg/session"
)

// Attachment limits.
const (
	MaxAttachments = 5
	MaxImageBytes  = 5 << 20
	MaxVideoBytes  = 10 << 20
)

//nolint:gochecknoglobals // static allow-list
var allowedMime = map[string]string{
	"image/jpeg":      session.MediaImage,
	"image/png":       session.MediaImage,
	"image/gif":       session.MediaImage,
	"image/webp":      session.MediaImage,
	"image/heic":      session.MediaImage,
	"video/mp4":       session.MediaVideo,
	"video/quicktime": session.MediaVideo,
	"video/webm":      session.MediaVideo,
}

// ValidateMedia checks attachments and fills in their kind. The error text
// is shown to the user as is.
func ValidateMedia(media []session.Media) ([]session.Media, error) {
	if len(media) == 0 {
		return nil, nil
	}
	if len(media) > MaxAttachments {
		return nil, fmt.Errorf("You can attach at most %d files per message.", MaxAttachments) //nolint:revive,stylecheck // user-facing text
	}
	out := make([]session.Media, 0, len(media))
	for i, m := range media {
		if strings.TrimSpace(m.URL) == "" {
			return nil, fmt.Errorf("Attachment %d has no URL.", i+1) //nolint:revive,stylecheck // user-facing text
		}
		mime := strings.ToLower(strings.TrimSpace(m.MimeType))
		kind, ok := allowedMime[mime]
		if !ok {
			return nil, fmt.Errorf("Sorry, %q files aren't supported. Please attach a photo or a short video.", m.MimeType) //nolint:revive,stylecheck // user-facing text
		}
		limit := int64(MaxImageBytes)
		if kind == session.MediaVideo {
			limit = MaxVideoBytes
		}
		if m.Size > limit {
			return nil, fmt.Errorf("Attachment %d is too large (max %dMB for a %s).", i+1, limit>>20, kind) //nolint:revive,stylecheck // user-facing text
		}
		m.MimeType = mime
		m.Kind = kind
		out = append(out, m)
	}
	return out, nil
}

func mediaDescriptions(media []session.Media) []string {
	var out []string
	for _, m := range media {
		if m.Description != "" {
			out = append(out, m.Description)
		}
	}
	return out
}
