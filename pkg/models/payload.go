package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

type ContentKind string

const (
	ContentVideo          ContentKind = "Video"
	ContentAudioOnly      ContentKind = "AudioOnly"
	ContentImageWithAudio ContentKind = "ImageWithAudio"
	ContentImageOnly      ContentKind = "ImageOnly"
)

var contentKinds = map[string]ContentKind{
	"video":          ContentVideo,
	"audioonly":      ContentAudioOnly,
	"imagewithaudio": ContentImageWithAudio,
	"imageonly":      ContentImageOnly,
}

// ParseContentKind accepts the canonical names case-insensitively, with or
// without "_" or "-" separators.
func ParseContentKind(raw string) (ContentKind, error) {
	norm := strings.ToLower(strings.NewReplacer("_", "", "-", "", " ", "").Replace(raw))
	if kind, ok := contentKinds[norm]; ok {
		return kind, nil
	}
	return "", fmt.Errorf("unknown content kind %q", raw)
}

func (k ContentKind) Valid() bool {
	switch k {
	case ContentVideo, ContentAudioOnly, ContentImageWithAudio, ContentImageOnly:
		return true
	}
	return false
}

type MediaRefs struct {
	ImageURL string `json:"imageUrl,omitempty" bson:"image_url,omitempty"`
	MediaURL string `json:"mediaUrl,omitempty" bson:"media_url,omitempty"`
	VideoURL string `json:"videoUrl,omitempty" bson:"video_url,omitempty"`
}

// PushPayload is one push delivery. It may be delivered more than once.
type PushPayload struct {
	MessageID       string      `json:"messageId"`
	SenderID        string      `json:"senderId"`
	SenderName      string      `json:"senderName"`
	RecipientID     string      `json:"recipientId,omitempty"`
	ContentKind     ContentKind `json:"contentKind"`
	MediaRefs       MediaRefs   `json:"mediaRefs"`
	DurationSeconds int64       `json:"durationSeconds"`
	CaptionPreview  string      `json:"captionPreview"`
	CreatedAtMillis int64       `json:"createdAtMillis"`
	Sequence        int64       `json:"sequence,omitempty"`
	// Silent updates state without asking surfaces to redraw.
	Silent          bool        `json:"silent,omitempty"`
}

// Fingerprint hashes every field that affects published state.
func (p PushPayload) Fingerprint() string {
	var b strings.Builder
	for _, v := range []interface{}{
		p.MessageID, p.SenderID, p.SenderName, p.RecipientID, p.ContentKind,
		p.MediaRefs.ImageURL, p.MediaRefs.MediaURL, p.MediaRefs.VideoURL,
		p.DurationSeconds, p.CaptionPreview, p.CreatedAtMillis, p.Sequence,
	} {
		fmt.Fprintf(&b, "%v|", v)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
