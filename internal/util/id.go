package util

import "github.com/google/uuid"

// NewID returns a random id for requests, events and queue tasks.
func NewID() string {
	return uuid.NewString()
}
