package models

import (
	"time"

	"gorm.io/datatypes"
)

// Event types submitted by devices.
const (
	EventTypeDNI        = "dni"
	EventTypeDNIPIN     = "dni_pin"
	EventTypeCredential = "credential"
	EventTypeFob        = "fob"
	EventTypeCard       = "card"
	EventTypeQRToken    = "qr_token"
	EventTypeManual     = "manual_unlock"
	EventTypeEnroll     = "enroll_credential"
)

// Decisions recorded on an AccessEvent.
const (
	DecisionAllow = "allow"
	DecisionDeny  = "deny"
)

// AccessEvent is one row of the append-only access ledger. Rows are never
// updated or deleted: they are the system of record for idempotency replay
// and for the anti-passback and rate-limit lookups.
type AccessEvent struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"index:idx_events_device_time;index:idx_events_user_time" json:"created_at"`

	LocationID *uint  `gorm:"index" json:"location_id"`
	DeviceID   uint   `gorm:"not null;index:idx_events_device_time;uniqueIndex:ux_events_device_nonce" json:"device_id"`
	EventType  string `gorm:"size:32;not null" json:"event_type"`

	// UserID is the resolved subject, when any step managed to resolve one.
	UserID         *uint  `gorm:"index:idx_events_user_time" json:"user_id"`
	CredentialType string `gorm:"size:16" json:"credential_type"`

	InputKind   string `gorm:"size:16" json:"input_kind"`
	MaskedValue string `gorm:"size:32" json:"masked_value"`

	Decision string `gorm:"size:8;not null" json:"decision"`
	Reason   string `gorm:"size:128" json:"reason"`
	Unlock   bool   `gorm:"column:unlocked" json:"unlock"`
	UnlockMS *int   `json:"unlock_ms"`

	Meta datatypes.JSON `gorm:"type:jsonb" json:"meta"`

	// NonceHash is SHA-256 hex of the client-supplied nonce, unique per
	// device. Nil for rows written without a nonce.
	NonceHash *string `gorm:"size:64;uniqueIndex:ux_events_device_nonce" json:"-"`
}
