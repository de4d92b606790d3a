package models

// SurfaceStateSnapshot is the surface-ready projection of a PushPayload.
// Each *Ref field holds a local blob reference when the matching *Cached
// flag is set, the original remote URL otherwise, or "" when the payload had
// no such media.
type SurfaceStateSnapshot struct {
	MessageID       string      `json:"messageId" bson:"message_id"`
	SenderID        string      `json:"senderId" bson:"sender_id"`
	SenderName      string      `json:"senderName" bson:"sender_name"`
	ContentKind     ContentKind `json:"contentKind" bson:"content_kind"`
	ImageRef        string      `json:"imageRef" bson:"image_ref"`
	ImageCached     bool        `json:"imageCached" bson:"image_cached"`
	ImageWidth      int         `json:"imageWidth,omitempty" bson:"image_width,omitempty"`
	ImageHeight     int         `json:"imageHeight,omitempty" bson:"image_height,omitempty"`
	MediaRef        string      `json:"mediaRef" bson:"media_ref"`
	MediaCached     bool        `json:"mediaCached" bson:"media_cached"`
	VideoRef        string      `json:"videoRef" bson:"video_ref"`
	VideoCached     bool        `json:"videoCached" bson:"video_cached"`
	DurationSeconds int64       `json:"durationSeconds" bson:"duration_seconds"`
	CaptionPreview  string      `json:"captionPreview" bson:"caption_preview"`
	CreatedAtMillis int64       `json:"createdAtMillis" bson:"created_at_millis"`
	Sequence        int64       `json:"sequence,omitempty" bson:"sequence,omitempty"`
	UpdatedAtMillis int64       `json:"updatedAtMillis" bson:"updated_at_millis"`
}

// Remote returns the snapshot with local blob references replaced by the
// payload's remote URLs, for consumers on other devices.
func (s SurfaceStateSnapshot) Remote(refs MediaRefs) SurfaceStateSnapshot {
	out := s
	if s.ImageCached {
		out.ImageRef, out.ImageCached = refs.ImageURL, false
	}
	if s.MediaCached {
		out.MediaRef, out.MediaCached = refs.MediaURL, false
	}
	if s.VideoCached {
		out.VideoRef, out.VideoCached = refs.VideoURL, false
	}
	return out
}
