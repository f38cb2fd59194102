package models

import (
	"time"

	"gorm.io/datatypes"
)

// Command types operators can enqueue for a device.
const (
	CommandTypeUnlock      = "unlock"
	CommandTypeStartEnroll = "start_enroll"
)

// Command lifecycle. pending → claimed → acked is the happy path; cancel is
// valid only while pending. Expiry gates claimability independently of
// status.
const (
	CommandStatusPending  = "pending"
	CommandStatusClaimed  = "claimed"
	CommandStatusAcked    = "acked"
	CommandStatusCanceled = "canceled"
)

// AccessCommand is an operator-initiated action queued for asynchronous
// pickup by a polling device.
type AccessCommand struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	DeviceID uint   `gorm:"not null;index;uniqueIndex:ux_commands_device_request" json:"device_id"`
	Type     string `gorm:"size:32;not null" json:"type"`

	Payload datatypes.JSON `gorm:"type:jsonb" json:"payload"`

	Status string `gorm:"size:16;not null;default:pending;index" json:"status"`

	// RequestID makes enqueue idempotent per device: a second insert with
	// the same id is a no-op returning the existing row.
	RequestID *string `gorm:"size:128;uniqueIndex:ux_commands_device_request" json:"request_id"`

	ActorUserID *uint `json:"actor_user_id"`

	Result datatypes.JSON `gorm:"type:jsonb" json:"result"`

	ClaimedAt *time.Time `json:"claimed_at"`
	AckedAt   *time.Time `json:"acked_at"`
	ExpiresAt time.Time  `gorm:"not null;index" json:"expires_at"`
}
