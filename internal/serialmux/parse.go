package serialmux

import "strings"

const (
	EventTypeFrame   = "frame"
	EventTypeAck     = "ack"
	EventTypeStatus  = "status"
	EventTypeUnknown = "unknown"
)

// ClassifyPayload inspects a detector line and returns a simple event type
// token. Frames are JSON objects carrying a sequence number; other JSON
// objects are device status reports; OK/ERR lines acknowledge commands.
func ClassifyPayload(payload string) string {
	payload = strings.TrimSpace(payload)
	switch {
	case strings.HasPrefix(payload, "{") && strings.Contains(payload, `"seq"`):
		return EventTypeFrame
	case strings.HasPrefix(payload, "{"):
		return EventTypeStatus
	case strings.HasPrefix(payload, "OK"), strings.HasPrefix(payload, "ERR"):
		return EventTypeAck
	}
	return EventTypeUnknown
}
