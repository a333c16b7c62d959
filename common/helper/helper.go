package helper

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const RequestIdKey = "X-Request-Id"

// GenRequestID returns a time-ordered request id. UUIDv7 keeps ids sortable
// in log storage; fall back to v4 if the clock source misbehaves.
func GenRequestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// MessageWithRequestId appends the request id to a client-facing message so
// error reports can be correlated with logs.
func MessageWithRequestId(message string, id string) string {
	if id == "" {
		return message
	}
	return fmt.Sprintf("%s (request id: %s)", message, id)
}

// GetTimestamp returns the current unix timestamp in seconds.
func GetTimestamp() int64 {
	return time.Now().Unix()
}
