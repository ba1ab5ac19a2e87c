package messaging

import "time"

// MirrorRepairEvent is the JSON payload sent via SQS to the mirror repair queue
// when a snapshot could not be published after the primary write succeeded.
type MirrorRepairEvent struct {
	UserID     string    `json:"userId"`
	DateKey    string    `json:"dateKey"`
	Version    int64     `json:"version"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurredAt"`
}
