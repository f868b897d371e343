package models

import (
	"encoding/json"
	"time"
)

// DateLayout is the ISO-8601 form used for envelope timestamps (UTC, millis).
const DateLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatDate renders t the way envelopes carry it.
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// RequestEnvelope is what a requester publishes on the reserve topic.
type RequestEnvelope struct {
	Data            json.RawMessage `json:"data"`
	RequestID       string          `json:"requestId"`
	ResponseChannel string          `json:"responseChannel"`
	Date            string          `json:"date"`
	ID              json.Number     `json:"id"` // any JSON number; opaque to the service
}

// ReserveData is the payload of a reserve request.
type ReserveData struct {
	Count int `json:"count"`
}

// ResponseEnvelope is published on the requester's response channel.
type ResponseEnvelope struct {
	Data []string `json:"data"`
	Date string   `json:"date"`
	ID   uint64   `json:"id"`
}
