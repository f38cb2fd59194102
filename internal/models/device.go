package models

import (
	"time"

	"gorm.io/datatypes"
)

// Device is a physical entry-point controller (turnstile, door relay).
// Devices are never hard-deleted; disable them instead.
type Device struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Name     string `gorm:"size:255" json:"name"`
	PublicID string `gorm:"uniqueIndex;size:64;not null" json:"public_id"`

	// LocationID is the branch the device is bound to. Unbound devices can
	// only deny.
	LocationID *uint `gorm:"index" json:"location_id"`
	Enabled    bool  `gorm:"default:true" json:"enabled"`

	// TokenHash is the SHA-256 hex of the bearer token, nil until paired.
	TokenHash *string `gorm:"size:128" json:"-"`

	// Pairing fields are set on create/rotate and cleared once paired.
	PairingCodeHash  *string    `gorm:"size:255" json:"-"`
	PairingExpiresAt *time.Time `json:"-"`

	Config datatypes.JSON `gorm:"type:jsonb" json:"config"`

	LastSeenAt *time.Time `json:"last_seen_at"`
}
