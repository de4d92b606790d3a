package models

import (
	"fmt"
	"net/url"
	"strings"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidatePushPayload(p *PushPayload) error {
	if p == nil {
		return &ValidationError{
			Field:   "payload",
			Message: "push payload cannot be nil",
		}
	}

	if strings.TrimSpace(p.MessageID) == "" {
		return &ValidationError{
			Field:   "messageId",
			Message: "message ID is required",
		}
	}

	if !p.ContentKind.Valid() {
		return &ValidationError{
			Field:   "contentKind",
			Message: fmt.Sprintf("unsupported content kind %q", p.ContentKind),
		}
	}

	for field, raw := range map[string]string{
		"mediaRefs.imageUrl": p.MediaRefs.ImageURL,
		"mediaRefs.mediaUrl": p.MediaRefs.MediaURL,
		"mediaRefs.videoUrl": p.MediaRefs.VideoURL,
	} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return &ValidationError{
				Field:   field,
				Message: fmt.Sprintf("not an http(s) URL: %q", raw),
			}
		}
	}

	if p.DurationSeconds < 0 {
		return &ValidationError{
			Field:   "durationSeconds",
			Message: "duration cannot be negative",
		}
	}

	return nil
}

func ValidateReceiptRecord(r *ReceiptRecord) error {
	if r == nil {
		return &ValidationError{
			Field:   "receipt",
			Message: "receipt record cannot be nil",
		}
	}

	if strings.TrimSpace(r.MessageID) == "" {
		return &ValidationError{
			Field:   "messageId",
			Message: "message ID is required",
		}
	}

	if r.ConsumedAtMillis <= 0 {
		return &ValidationError{
			Field:   "consumedAtMillis",
			Message: "consumption time is required",
		}
	}

	return nil
}
