package engine

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"garita/internal/devcfg"
	"garita/internal/logs"
	"garita/internal/models"
	"garita/internal/secrets"
	"garita/internal/store"
)

func (e *Engine) dispatch(ctx context.Context, in Input, cfg *devcfg.Config, now time.Time) (outcome, error) {
	switch in.Type {
	case models.EventTypeManual:
		return e.handleManual(cfg), nil
	case models.EventTypeDNI:
		return e.handleDNI(ctx, in, cfg, now)
	case models.EventTypeDNIPIN:
		return e.handleDNIPIN(ctx, in, cfg, now)
	case models.EventTypeEnroll:
		return e.handleEnroll(ctx, in, cfg, now)
	case models.EventTypeCredential, models.EventTypeFob, models.EventTypeCard:
		return e.handleCredential(ctx, in, cfg, now)
	case models.EventTypeQRToken:
		return e.handleQRToken(ctx, in, cfg, now)
	}
	return deny(ReasonUnsupported), nil
}

func (e *Engine) allowEntry(cfg *devcfg.Config, userID *uint, credType string) outcome {
	ms := cfg.UnlockMS
	return outcome{
		reason:   ReasonOK,
		allow:    true,
		unlock:   true,
		unlockMS: &ms,
		userID:   userID,
		credType: credType,
	}
}

func (e *Engine) handleManual(cfg *devcfg.Config) outcome {
	if !cfg.AllowManualUnlock {
		return deny(ReasonManualDisabled)
	}
	return e.allowEntry(cfg, nil, "")
}

// normalizeDNI strips everything but digits and demands 7–9 of them.
func normalizeDNI(raw string) (string, bool) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	dni := b.String()
	if len(dni) < 7 || len(dni) > 9 {
		return "", false
	}
	return dni, true
}

func validPIN(pin string) bool {
	if len(pin) < 3 || len(pin) > 8 {
		return false
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (e *Engine) handleDNI(ctx context.Context, in Input, cfg *devcfg.Config, now time.Time) (outcome, error) {
	if cfg.DNIRequiresPIN {
		return deny(ReasonPINRequired), nil
	}
	dni, ok := normalizeDNI(in.Value)
	if !ok {
		return deny(ReasonBadDNI), nil
	}
	userID, found, err := e.attendance.ResolveDNI(ctx, dni)
	if err != nil {
		logs.Logger.Errorf("attendance resolve-dni: %v", err)
		return deny(ReasonServiceDown), nil
	}
	if !found {
		return deny(ReasonUnknownDNI), nil
	}
	if hit, err := e.antiPassback(ctx, cfg, in.Device, userID, now); err != nil {
		return outcome{}, err
	} else if hit {
		return denyUser(ReasonAntiPassback, userID), nil
	}
	return e.verifyAndRecord(ctx, cfg, in.Device, userID, "")
}

func (e *Engine) handleDNIPIN(ctx context.Context, in Input, cfg *devcfg.Config, now time.Time) (outcome, error) {
	// value format: "<dni>:<pin>", pin may also arrive via meta
	dniRaw, pin := in.Value, in.Meta["pin"]
	if i := strings.IndexByte(in.Value, ':'); i >= 0 {
		dniRaw, pin = in.Value[:i], in.Value[i+1:]
	}
	dni, ok := normalizeDNI(dniRaw)
	if !ok {
		return deny(ReasonBadDNI), nil
	}
	if !validPIN(pin) {
		return deny(ReasonBadPIN), nil
	}

	userID, found, err := e.attendance.ResolveDNI(ctx, dni)
	if err != nil {
		logs.Logger.Errorf("attendance resolve-dni: %v", err)
		return deny(ReasonServiceDown), nil
	}
	if !found {
		return deny(ReasonUnknownDNI), nil
	}
	if hit, err := e.antiPassback(ctx, cfg, in.Device, userID, now); err != nil {
		return outcome{}, err
	} else if hit {
		return denyUser(ReasonAntiPassback, userID), nil
	}

	ok, reason, respUser, err := e.attendance.VerifyDNIPIN(ctx, dni, pin, *in.Device.LocationID)
	if err != nil {
		logs.Logger.Errorf("attendance verify-dni-pin: %v", err)
		return denyUser(ReasonServiceDown, userID), nil
	}
	if !ok {
		if reason == "" {
			reason = ReasonAccessDenied
		}
		return denyUser(reason, userID), nil
	}
	if respUser != 0 {
		userID = respUser
	}
	return e.allowEntry(cfg, &userID, ""), nil
}

func (e *Engine) handleEnroll(ctx context.Context, in Input, cfg *devcfg.Config, now time.Time) (outcome, error) {
	mode := cfg.Enroll
	if mode == nil || !mode.Enabled {
		return deny(ReasonEnrollInactive), nil
	}
	if !mode.ActiveAt(now) {
		return deny(ReasonEnrollExpired), nil
	}
	reqUser, err := strconv.ParseUint(in.Meta["user_id"], 10, 64)
	if err != nil || uint(reqUser) != mode.UserID || in.Meta["credential_type"] != mode.CredentialType {
		return deny(ReasonEnrollMismatch), nil
	}
	if secrets.Normalize(in.Value) == "" {
		return deny(ReasonBadCredential), nil
	}

	if mode.Overwrite {
		if err := e.creds.DeactivateByUserType(ctx, mode.UserID, mode.CredentialType); err != nil {
			return outcome{}, err
		}
	}
	c, err := e.creds.Create(ctx, mode.UserID, mode.CredentialType, in.Value, "")
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			// the raw value already addresses someone's active credential
			return deny(ReasonCredentialUsed), nil
		}
		return outcome{}, err
	}

	// single use: close the window; the credential exists either way
	if err := e.devices.PatchConfigKey(ctx, in.Device.ID, "enroll_mode", nil); err != nil {
		logs.Logger.Errorf("device %d: enroll_mode clear failed: %v", in.Device.ID, err)
	}

	uid := c.UserID
	return outcome{
		reason:   ReasonEnrolled,
		allow:    true,
		userID:   &uid,
		credType: c.Type,
	}, nil
}

func (e *Engine) handleCredential(ctx context.Context, in Input, cfg *devcfg.Config, now time.Time) (outcome, error) {
	var (
		c   *models.Credential
		err error
	)
	if in.Type == models.EventTypeCredential {
		c, err = e.creds.ResolveActiveAny(ctx, in.Value)
	} else {
		c, err = e.creds.ResolveActive(ctx, in.Type, in.Value)
	}
	if errors.Is(err, store.ErrNotFound) {
		return deny(ReasonUnknownCredential), nil
	}
	if err != nil {
		return outcome{}, err
	}
	if hit, err := e.antiPassback(ctx, cfg, in.Device, c.UserID, now); err != nil {
		return outcome{}, err
	} else if hit {
		return denyUserCred(ReasonAntiPassback, c.UserID, c.Type), nil
	}
	return e.verifyAndRecord(ctx, cfg, in.Device, c.UserID, c.Type)
}

func (e *Engine) handleQRToken(ctx context.Context, in Input, cfg *devcfg.Config, now time.Time) (outcome, error) {
	state, err := e.tokens.State(ctx, in.Value)
	if err != nil {
		logs.Logger.Errorf("token state: %v", err)
		return deny(ReasonServiceDown), nil
	}
	switch {
	case !state.Exists:
		return deny(ReasonTokenInvalid), nil
	case state.Expired:
		return deny(ReasonTokenExpired), nil
	case state.Used:
		return deny(ReasonTokenUsed), nil
	}
	if state.UserID != nil {
		if hit, err := e.antiPassback(ctx, cfg, in.Device, *state.UserID, now); err != nil {
			return outcome{}, err
		} else if hit {
			return denyUser(ReasonAntiPassback, *state.UserID), nil
		}
	}
	ok, reason, err := e.tokens.Consume(ctx, in.Value, *in.Device.LocationID)
	if err != nil {
		logs.Logger.Errorf("token consume: %v", err)
		return deny(ReasonServiceDown), nil
	}
	if !ok {
		if reason == "" {
			reason = ReasonTokenInvalid
		}
		out := deny(reason)
		out.userID = state.UserID
		return out, nil
	}
	return e.allowEntry(cfg, state.UserID, ""), nil
}

// verifyAndRecord runs the final membership check and, on allow, records
// the attendance. A failed recording is logged, not turned into a deny:
// the member is already walking through the door.
func (e *Engine) verifyAndRecord(ctx context.Context, cfg *devcfg.Config, d *models.Device, userID uint, credType string) (outcome, error) {
	ok, reason, err := e.attendance.VerifyAccess(ctx, userID, *d.LocationID)
	if err != nil {
		logs.Logger.Errorf("attendance verify: %v", err)
		return denyUserCred(ReasonServiceDown, userID, credType), nil
	}
	if !ok {
		if reason == "" {
			reason = ReasonAccessDenied
		}
		return denyUserCred(reason, userID, credType), nil
	}
	if err := e.attendance.RecordAttendance(ctx, userID, *d.LocationID); err != nil {
		logs.Logger.Errorf("attendance record: %v", err)
	}
	return e.allowEntry(cfg, &userID, credType), nil
}

func denyUser(reason string, userID uint) outcome {
	out := deny(reason)
	out.userID = &userID
	return out
}

func denyUserCred(reason string, userID uint, credType string) outcome {
	out := denyUser(reason, userID)
	out.credType = credType
	return out
}
