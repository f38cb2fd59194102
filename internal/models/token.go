package models

import "time"

// APIToken authenticates operator calls. Only the argon2id hash of the
// token is stored. Scope is a space-separated list ("devices events"),
// "*" grants everything.
type APIToken struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	Name      string     `gorm:"size:128" json:"name"`
	TokenHash string     `gorm:"size:255;not null" json:"-"`
	Scope     string     `gorm:"size:255;not null" json:"scope"`
	ExpiresAt *time.Time `json:"expires_at"`
}
