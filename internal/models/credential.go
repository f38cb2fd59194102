package models

import "time"

// Credential types accepted by the enrollment and lookup paths.
const (
	CredentialTypeFob  = "fob"
	CredentialTypeCard = "card"
	CredentialTypePIN  = "pin"
)

func ValidCredentialType(t string) bool {
	switch t {
	case CredentialTypeFob, CredentialTypeCard, CredentialTypePIN:
		return true
	}
	return false
}

// Credential binds a fob/card/PIN to a user. Raw values are never stored:
// Hash is a keyed HMAC of "type:normalized(value)". Uniqueness is enforced
// among active rows only, so a deactivated credential can be re-enrolled.
type Credential struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UserID uint   `gorm:"index;not null" json:"user_id"`
	Type   string `gorm:"size:16;not null" json:"type"`
	Hash   string `gorm:"size:128;not null;index:ux_credentials_hash_active,unique,where:active = true" json:"-"`
	Label  string `gorm:"size:64" json:"label"`
	Active bool   `gorm:"default:true;index" json:"active"`
}
