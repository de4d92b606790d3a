package models

import "time"

type PushPayloadBuilder struct {
	payload PushPayload
}

func NewPushPayloadBuilder() *PushPayloadBuilder {
	return &PushPayloadBuilder{
		payload: PushPayload{ContentKind: ContentImageOnly},
	}
}

func (b *PushPayloadBuilder) WithMessageID(id string) *PushPayloadBuilder {
	b.payload.MessageID = id
	return b
}

func (b *PushPayloadBuilder) WithSender(id, name string) *PushPayloadBuilder {
	b.payload.SenderID = id
	b.payload.SenderName = name
	return b
}

func (b *PushPayloadBuilder) WithRecipient(id string) *PushPayloadBuilder {
	b.payload.RecipientID = id
	return b
}

func (b *PushPayloadBuilder) WithKind(kind ContentKind) *PushPayloadBuilder {
	b.payload.ContentKind = kind
	return b
}

func (b *PushPayloadBuilder) WithImage(url string) *PushPayloadBuilder {
	b.payload.MediaRefs.ImageURL = url
	return b
}

func (b *PushPayloadBuilder) WithMedia(url string) *PushPayloadBuilder {
	b.payload.MediaRefs.MediaURL = url
	return b
}

func (b *PushPayloadBuilder) WithVideo(url string) *PushPayloadBuilder {
	b.payload.MediaRefs.VideoURL = url
	return b
}

func (b *PushPayloadBuilder) WithDuration(seconds int64) *PushPayloadBuilder {
	b.payload.DurationSeconds = seconds
	return b
}

func (b *PushPayloadBuilder) WithCaption(caption string) *PushPayloadBuilder {
	b.payload.CaptionPreview = caption
	return b
}

func (b *PushPayloadBuilder) WithCreatedAt(t time.Time) *PushPayloadBuilder {
	b.payload.CreatedAtMillis = t.UnixMilli()
	return b
}

func (b *PushPayloadBuilder) WithSequence(seq int64) *PushPayloadBuilder {
	b.payload.Sequence = seq
	return b
}

func (b *PushPayloadBuilder) WithSilent(silent bool) *PushPayloadBuilder {
	b.payload.Silent = silent
	return b
}

func (b *PushPayloadBuilder) Build() PushPayload {
	if b.payload.CreatedAtMillis == 0 {
		b.payload.CreatedAtMillis = time.Now().UnixMilli()
	}
	return b.payload
}
