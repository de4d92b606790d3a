package dispatcher

import (
	"fmt"

	"surfacesync/internal/constants"
	"surfacesync/pkg/models"
)

// mediaField is one media reference of a payload and how much the surface
// depends on it.
type mediaField struct {
	role     string
	url      string
	required bool
}

func (f mediaField) key(messageID string) string {
	return models.MediaKey(messageID, f.role)
}

// classify lists the media a payload carries. A kind whose required URL is
// missing is rejected; every other present URL is fetched best-effort.
func classify(p models.PushPayload) ([]mediaField, error) {
	image := mediaField{role: constants.RolePrimaryImage, url: p.MediaRefs.ImageURL}
	media := mediaField{role: constants.RolePrimaryMedia, url: p.MediaRefs.MediaURL}
	video := mediaField{role: constants.RoleVideo, url: p.MediaRefs.VideoURL}

	switch p.ContentKind {
	case models.ContentVideo:
		video.required = true
	case models.ContentAudioOnly:
		media.required = true
	case models.ContentImageWithAudio:
		image.required = true
		media.required = true
	case models.ContentImageOnly:
		image.required = true
	default:
		return nil, invalidPayload("contentKind", fmt.Errorf("unsupported content kind %q", p.ContentKind))
	}

	fields := make([]mediaField, 0, 3)
	for _, f := range []mediaField{image, media, video} {
		if f.url == "" {
			if f.required {
				return nil, invalidPayload("mediaRefs", fmt.Errorf("%s requires a %s URL", p.ContentKind, f.role))
			}
			continue
		}
		fields = append(fields, f)
	}
	return fields, nil
}
