// Package extsvc defines the narrow interfaces this gateway consumes from
// its two external collaborators — the Attendance Service (membership
// checks, DNI resolution, attendance recording) and the Token Service
// (one-time QR check-in tokens) — plus thin HTTP clients for both.
package extsvc

import "context"

// Attendance is the membership/attendance collaborator.
type Attendance interface {
	// ResolveDNI maps a normalized DNI to a user id; ok=false when the DNI
	// is unknown.
	ResolveDNI(ctx context.Context, dni string) (userID uint, ok bool, err error)
	// VerifyAccess is the final membership check for a user at a location.
	VerifyAccess(ctx context.Context, userID, locationID uint) (ok bool, reason string, err error)
	// VerifyDNIPIN validates DNI+PIN together and, on success, records the
	// attendance in the same call.
	VerifyDNIPIN(ctx context.Context, dni, pin string, locationID uint) (ok bool, reason string, userID uint, err error)
	// RecordAttendance registers the entry after a successful VerifyAccess.
	RecordAttendance(ctx context.Context, userID, locationID uint) error
}

// TokenState describes a one-time QR check-in token.
type TokenState struct {
	Exists  bool  `json:"exists"`
	Expired bool  `json:"expired"`
	Used    bool  `json:"used"`
	UserID  *uint `json:"user_id"`
}

// Tokens is the one-time token collaborator.
type Tokens interface {
	State(ctx context.Context, token string) (TokenState, error)
	// Consume validates and burns the token in one operation.
	Consume(ctx context.Context, token string, locationID uint) (ok bool, reason string, err error)
}
