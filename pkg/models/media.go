package models

import "time"

type CachedMediaEntry struct {
	Key               string    `json:"key"`
	SourceURL         string    `json:"sourceUrl"`
	LocalBlobRef      string    `json:"localBlobRef"`
	ContentType       string    `json:"contentType"`
	ByteSize          int64     `json:"byteSize"`
	TransformedWidth  int       `json:"transformedWidth,omitempty"`
	TransformedHeight int       `json:"transformedHeight,omitempty"`
	CachedAt          time.Time `json:"cachedAt"`
}

// MediaKey derives the cache key for one media role of a message. Repeated
// pushes for the same message map to the same key.
func MediaKey(messageID, role string) string {
	return messageID + "." + role
}
