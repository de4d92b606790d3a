package models

import "time"

// RedrawEvent is emitted to the host platform when surfaces should re-read
// their scopes.
type RedrawEvent struct {
	Surfaces   []string  `json:"surfaces"`
	Generation uint64    `json:"generation"`
	Timestamp  time.Time `json:"timestamp"`
}
