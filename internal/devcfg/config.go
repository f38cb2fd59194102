// Package devcfg turns the free-form JSON configuration blob stored on a
// device row into a typed value with explicit defaults and clamped ranges.
// Handlers parse it exactly once at the boundary and pass the typed value
// down; unknown keys survive round-trips untouched.
package devcfg

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// Clamp ranges and defaults for recognized options.
const (
	UnlockMSDefault = 3000
	UnlockMSMin     = 250
	UnlockMSMax     = 15000

	RateWindowDefault = 60
	RateWindowMin     = 5
	RateWindowMax     = 300

	AntiPassbackMin = 5
	AntiPassbackMax = 86400
)

// HourRule is one allowed-hours entry. Days use ISO numbering (1 = Monday
// … 7 = Sunday). End before Start means the span crosses midnight.
type HourRule struct {
	Days  []int  `json:"days"`
	Start string `json:"start"` // "HH:MM"
	End   string `json:"end"`   // "HH:MM"
}

// EnrollMode is the transient single-use enrollment window. It is cleared
// via a sub-key patch on successful enrollment.
type EnrollMode struct {
	Enabled        bool       `json:"enabled"`
	UserID         uint       `json:"user_id"`
	CredentialType string     `json:"credential_type"`
	Overwrite      bool       `json:"overwrite"`
	ExpiresAt      *time.Time `json:"expires_at"`
}

// ActiveAt reports whether the enrollment window is open at t.
func (m *EnrollMode) ActiveAt(t time.Time) bool {
	if m == nil || !m.Enabled {
		return false
	}
	if m.ExpiresAt != nil && !t.Before(*m.ExpiresAt) {
		return false
	}
	return true
}

// Config is the normalized device configuration.
type Config struct {
	AllowManualUnlock bool
	UnlockMS          int

	// AllowedHours empty means always allowed.
	AllowedHours []HourRule

	// AllowedEventTypes nil means every type is allowed. enroll_credential
	// bypasses the allow-list entirely.
	AllowedEventTypes []string

	// MaxEventsPerMinute 0 disables rate limiting.
	MaxEventsPerMinute int
	RateWindowSeconds  int

	// AntiPassbackSeconds 0 disables anti-passback.
	AntiPassbackSeconds int

	DNIRequiresPIN bool

	// Timezone is the IANA zone hour rules are evaluated in. Empty falls
	// back to the server-wide default.
	Timezone string

	Enroll *EnrollMode
}

// raw mirrors the JSON document. Pointers distinguish absent from zero.
type raw struct {
	AllowManualUnlock *bool       `json:"allow_manual_unlock"`
	UnlockMS          *int        `json:"unlock_ms"`
	AllowedHours      []HourRule  `json:"allowed_hours"`
	AllowedEventTypes []string    `json:"allowed_event_types"`
	MaxEventsPerMin   *int        `json:"max_events_per_minute"`
	RateWindowSeconds *int        `json:"rate_limit_window_seconds"`
	AntiPassbackSecs  *int        `json:"anti_passback_seconds"`
	DNIRequiresPIN    *bool       `json:"dni_requires_pin"`
	Timezone          string      `json:"timezone"`
	Enroll            *EnrollMode `json:"enroll_mode"`
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Parse decodes a config blob. A nil/empty blob yields pure defaults.
// Malformed JSON is an error: a device with an unreadable config must not
// silently fall back to permissive defaults.
func Parse(blob datatypes.JSON) (*Config, error) {
	cfg := &Config{
		UnlockMS:          UnlockMSDefault,
		RateWindowSeconds: RateWindowDefault,
	}
	if len(blob) == 0 {
		return cfg, nil
	}
	var r raw
	if err := json.Unmarshal(blob, &r); err != nil {
		return nil, fmt.Errorf("device config: %w", err)
	}

	if r.AllowManualUnlock != nil {
		cfg.AllowManualUnlock = *r.AllowManualUnlock
	}
	if r.UnlockMS != nil {
		cfg.UnlockMS = clamp(*r.UnlockMS, UnlockMSMin, UnlockMSMax)
	}
	cfg.AllowedHours = r.AllowedHours
	cfg.AllowedEventTypes = r.AllowedEventTypes
	if r.MaxEventsPerMin != nil && *r.MaxEventsPerMin > 0 {
		cfg.MaxEventsPerMinute = *r.MaxEventsPerMin
	}
	if r.RateWindowSeconds != nil {
		cfg.RateWindowSeconds = clamp(*r.RateWindowSeconds, RateWindowMin, RateWindowMax)
	}
	if r.AntiPassbackSecs != nil && *r.AntiPassbackSecs > 0 {
		cfg.AntiPassbackSeconds = clamp(*r.AntiPassbackSecs, AntiPassbackMin, AntiPassbackMax)
	}
	if r.DNIRequiresPIN != nil {
		cfg.DNIRequiresPIN = *r.DNIRequiresPIN
	}
	cfg.Timezone = r.Timezone
	cfg.Enroll = r.Enroll
	return cfg, nil
}

// TypeAllowed applies the allowed_event_types allow-list. Enrollment
// bypasses it: the enroll window has its own gate.
func (c *Config) TypeAllowed(eventType string) bool {
	if eventType == "enroll_credential" {
		return true
	}
	if c.AllowedEventTypes == nil {
		return true
	}
	for _, t := range c.AllowedEventTypes {
		if t == eventType {
			return true
		}
	}
	return false
}

// Location resolves the zone hour rules are evaluated in.
func (c *Config) Location(fallback *time.Location) *time.Location {
	if c.Timezone != "" {
		if loc, err := time.LoadLocation(c.Timezone); err == nil {
			return loc
		}
	}
	if fallback != nil {
		return fallback
	}
	return time.UTC
}
