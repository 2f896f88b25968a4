package models

import "time"

// UsageRecord is one append-only entry per completed API request. Records are
// written by the usage recorder for billing and observability; nothing in
// this service reads them back.
type UsageRecord struct {
	CredentialID   string    `json:"credential_id"`
	Endpoint       string    `json:"endpoint"`
	Method         string    `json:"method"`
	StatusCode     int       `json:"status_code"`
	ResponseTimeMs int64     `json:"response_time_ms"`
	RecordedAt     time.Time `json:"recorded_at"`
}
