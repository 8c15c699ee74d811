package utils

import (
	"strings"

	"github.com/google/uuid"
)

// GenerateSessionID generates a unique broadcast session ID
func GenerateSessionID() string {
	return "session_" + uuid.NewString()
}

// GenerateConnectionUID generates the per-connection user uid sent to the
// signaling service.
func GenerateConnectionUID() string {
	return uuid.NewString()
}

// GenerateRequestID generates a request ID for the X-Request-ID header.
func GenerateRequestID() string {
	return "req_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
