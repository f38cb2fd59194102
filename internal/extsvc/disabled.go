package extsvc

import (
	"context"
	"errors"
)

// ErrDisabled is returned by the no-op clients installed when an upstream
// has no base_url configured. Callers treat it like any upstream failure,
// so the affected event types fail closed.
var ErrDisabled = errors.New("upstream not configured")

type DisabledAttendance struct{}

func (DisabledAttendance) ResolveDNI(context.Context, string) (uint, bool, error) {
	return 0, false, ErrDisabled
}

func (DisabledAttendance) VerifyAccess(context.Context, uint, uint) (bool, string, error) {
	return false, "", ErrDisabled
}

func (DisabledAttendance) VerifyDNIPIN(context.Context, string, string, uint) (bool, string, uint, error) {
	return false, "", 0, ErrDisabled
}

func (DisabledAttendance) RecordAttendance(context.Context, uint, uint) error {
	return ErrDisabled
}

type DisabledTokens struct{}

func (DisabledTokens) State(context.Context, string) (TokenState, error) {
	return TokenState{}, ErrDisabled
}

func (DisabledTokens) Consume(context.Context, string, uint) (bool, string, error) {
	return false, "", ErrDisabled
}

var (
	_ Attendance = DisabledAttendance{}
	_ Tokens     = DisabledTokens{}
)
