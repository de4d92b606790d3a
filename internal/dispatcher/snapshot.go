package dispatcher

import (
	"sort"

	"github.com/goccy/go-json"

	"surfacesync/internal/sharedstate"
	"surfacesync/pkg/models"
)

// Field names surfaces read from the hero and contact scopes.
const (
	FieldMessageID       = "messageId"
	FieldSenderID        = "senderId"
	FieldSenderName      = "senderName"
	FieldContentKind     = "contentKind"
	FieldImageRef        = "imageRef"
	FieldImageCached     = "imageCached"
	FieldImageWidth      = "imageWidth"
	FieldImageHeight     = "imageHeight"
	FieldImageBytes      = "imageBytes"
	FieldMediaRef        = "mediaRef"
	FieldMediaCached     = "mediaCached"
	FieldVideoRef        = "videoRef"
	FieldVideoCached     = "videoCached"
	FieldDurationSeconds = "durationSeconds"
	FieldCaptionPreview  = "captionPreview"
	FieldCreatedAtMillis = "createdAtMillis"
	FieldSequence        = "sequence"
	FieldUpdatedAtMillis = "updatedAtMillis"

	FieldItems = "items"
	FieldCount = "count"
)

func snapshotFields(s models.SurfaceStateSnapshot, imageBytes []byte) sharedstate.Fields {
	f := sharedstate.Fields{
		FieldMessageID:       sharedstate.String(s.MessageID),
		FieldSenderID:        sharedstate.String(s.SenderID),
		FieldSenderName:      sharedstate.String(s.SenderName),
		FieldContentKind:     sharedstate.String(string(s.ContentKind)),
		FieldImageRef:        sharedstate.String(s.ImageRef),
		FieldImageCached:     sharedstate.Bool(s.ImageCached),
		FieldImageWidth:      sharedstate.Int(int64(s.ImageWidth)),
		FieldImageHeight:     sharedstate.Int(int64(s.ImageHeight)),
		FieldMediaRef:        sharedstate.String(s.MediaRef),
		FieldMediaCached:     sharedstate.Bool(s.MediaCached),
		FieldVideoRef:        sharedstate.String(s.VideoRef),
		FieldVideoCached:     sharedstate.Bool(s.VideoCached),
		FieldDurationSeconds: sharedstate.Int(s.DurationSeconds),
		FieldCaptionPreview:  sharedstate.String(s.CaptionPreview),
		FieldCreatedAtMillis: sharedstate.Int(s.CreatedAtMillis),
		FieldSequence:        sharedstate.Int(s.Sequence),
		FieldUpdatedAtMillis: sharedstate.Int(s.UpdatedAtMillis),
	}
	if len(imageBytes) > 0 {
		f[FieldImageBytes] = sharedstate.Bytes(imageBytes)
	}
	return f
}

func listFields(items []models.SurfaceStateSnapshot, updatedAtMillis int64) (sharedstate.Fields, error) {
	body, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}
	return sharedstate.Fields{
		FieldItems:           sharedstate.String(string(body)),
		FieldCount:           sharedstate.Int(int64(len(items))),
		FieldUpdatedAtMillis: sharedstate.Int(updatedAtMillis),
	}, nil
}

// ListItems decodes the list scope. A missing or empty scope yields nil.
func ListItems(f sharedstate.Fields) ([]models.SurfaceStateSnapshot, error) {
	raw := f.Get(FieldItems)
	if raw == "" {
		return nil, nil
	}
	var items []models.SurfaceStateSnapshot
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, err
	}
	return items, nil
}

// upsertList puts s at the front, replacing any entry for the same message,
// and keeps at most size entries. With bySequence the list is ordered by
// descending sequence instead of arrival.
func upsertList(items []models.SurfaceStateSnapshot, s models.SurfaceStateSnapshot, size int, bySequence bool) []models.SurfaceStateSnapshot {
	out := make([]models.SurfaceStateSnapshot, 0, len(items)+1)
	out = append(out, s)
	for _, it := range items {
		if it.MessageID != s.MessageID {
			out = append(out, it)
		}
	}
	if bySequence {
		sort.SliceStable(out, func(i, j int) bool { return out[i].Sequence > out[j].Sequence })
	}
	if size > 0 && len(out) > size {
		out = out[:size]
	}
	return out
}
