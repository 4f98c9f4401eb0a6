package util

import "github.com/google/uuid"

// GenerateUUID returns a random v4 id for intent, audit and outbox rows.
func GenerateUUID() string {
	return uuid.NewString()
}
