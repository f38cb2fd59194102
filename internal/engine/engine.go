// Package engine evaluates access events against the device policy. Each
// call is stateless: all state lives in the stores, every outcome persists
// exactly one audit row, and replays of a known nonce return the stored
// decision verbatim.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/datatypes"

	"garita/internal/creds"
	"garita/internal/devcfg"
	"garita/internal/extsvc"
	"garita/internal/logs"
	"garita/internal/models"
	"garita/internal/secrets"
	"garita/internal/store"
)

// Bounds on client-supplied event metadata.
const (
	maxMetaKeys     = 16
	maxMetaKeyLen   = 64
	maxMetaValueLen = 256
)

type Engine struct {
	devices    store.DeviceStore
	events     store.EventStore
	creds      *creds.Service
	attendance extsvc.Attendance
	tokens     extsvc.Tokens

	fallbackTZ *time.Location
	now        func() time.Time
}

func New(devices store.DeviceStore, events store.EventStore, cr *creds.Service, att extsvc.Attendance, tok extsvc.Tokens, fallbackTZ *time.Location) *Engine {
	if fallbackTZ == nil {
		fallbackTZ = time.UTC
	}
	return &Engine{
		devices:    devices,
		events:     events,
		creds:      cr,
		attendance: att,
		tokens:     tok,
		fallbackTZ: fallbackTZ,
		now:        time.Now,
	}
}

// Input is one submitted scan event from an authenticated device.
type Input struct {
	Device *models.Device
	Type   string
	Value  string
	Nonce  string // validated by the transport layer (16–128 chars)
	Meta   map[string]string
}

// Result is the decision returned to the device.
type Result struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason"`
	Unlock   bool   `json:"unlock"`
	UnlockMS *int   `json:"unlock_ms,omitempty"`
	UserID   *uint  `json:"user_id,omitempty"`
	Replayed bool   `json:"replayed,omitempty"`
}

// outcome accumulates what the dispatch produced before it becomes an audit
// row plus a Result.
type outcome struct {
	reason   string
	allow    bool
	unlock   bool
	unlockMS *int
	userID   *uint
	credType string
}

func deny(reason string) outcome { return outcome{reason: reason} }

// Evaluate runs the policy pipeline for one event. Every path out of here
// (except a replay or an internal error) persists exactly one audit row;
// an audit write failure is logged and the computed decision is still
// returned.
func (e *Engine) Evaluate(ctx context.Context, in Input) (*Result, error) {
	d := in.Device
	now := e.now().UTC()

	var nonceHash string
	if in.Nonce != "" {
		nonceHash = secrets.NonceHash(in.Nonce)
		if prior, err := e.events.FindByNonce(ctx, d.ID, nonceHash); err == nil {
			return replayResult(prior), nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	cfg, err := devcfg.Parse(d.Config)
	if err != nil {
		logs.Logger.Errorf("device %d: %v", d.ID, err)
		return e.finish(ctx, in, nonceHash, now, deny(ReasonBadConfig))
	}

	out, err := e.evaluate(ctx, in, cfg, now)
	if err != nil {
		return nil, err
	}
	return e.finish(ctx, in, nonceHash, now, out)
}

func (e *Engine) evaluate(ctx context.Context, in Input, cfg *devcfg.Config, now time.Time) (outcome, error) {
	d := in.Device

	// 1. structural checks, in spec order
	if d.LocationID == nil {
		return deny(ReasonNoLocation), nil
	}
	if !cfg.TypeAllowed(in.Type) {
		return deny(ReasonTypeNotEnabled), nil
	}
	if !cfg.WithinHours(now.In(cfg.Location(e.fallbackTZ))) {
		return deny(ReasonOutsideHours), nil
	}
	if cfg.MaxEventsPerMinute > 0 {
		cutoff := now.Add(-time.Duration(cfg.RateWindowSeconds) * time.Second)
		n, err := e.events.CountSince(ctx, d.ID, cutoff)
		if err != nil {
			return outcome{}, err
		}
		// denied attempts count too: a misbehaving reader throttles itself
		if n >= int64(cfg.MaxEventsPerMinute) {
			return deny(ReasonRateLimit), nil
		}
	}

	// 2. type-specific handling
	return e.dispatch(ctx, in, cfg, now)
}

// antiPassback denies a repeat entry for the same user at this location
// inside the configured window.
func (e *Engine) antiPassback(ctx context.Context, cfg *devcfg.Config, d *models.Device, userID uint, now time.Time) (bool, error) {
	if cfg.AntiPassbackSeconds == 0 {
		return false, nil
	}
	cutoff := now.Add(-time.Duration(cfg.AntiPassbackSeconds) * time.Second)
	_, err := e.events.LastAllowUnlock(ctx, userID, d.LocationID, cutoff)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	return false, err
}

// finish writes the single audit row and shapes the response. The decision
// was already computed: a failed audit write is logged for reconciliation
// and never alters or re-runs it.
func (e *Engine) finish(ctx context.Context, in Input, nonceHash string, now time.Time, out outcome) (*Result, error) {
	decision := models.DecisionDeny
	reason := out.reason
	if out.allow {
		decision = models.DecisionAllow
		if reason == "" {
			reason = ReasonOK
		}
	}

	ev := &models.AccessEvent{
		CreatedAt:      now,
		LocationID:     in.Device.LocationID,
		DeviceID:       in.Device.ID,
		EventType:      in.Type,
		UserID:         out.userID,
		CredentialType: out.credType,
		InputKind:      inputKind(in.Type),
		MaskedValue:    secrets.Mask(in.Value),
		Decision:       decision,
		Reason:         reason,
		Unlock:         out.unlock,
		UnlockMS:       out.unlockMS,
		Meta:           sanitizeMeta(in.Meta),
	}
	if nonceHash != "" {
		h := nonceHash
		ev.NonceHash = &h
	}

	if err := e.events.Insert(ctx, ev); err != nil {
		if errors.Is(err, store.ErrConflict) && nonceHash != "" {
			// lost a same-nonce race: the first row is the decision of record
			if prior, ferr := e.events.FindByNonce(ctx, in.Device.ID, nonceHash); ferr == nil {
				return replayResult(prior), nil
			}
		}
		logs.Logger.Errorf("audit write failed for device %d: %v", in.Device.ID, err)
	}

	return &Result{
		Decision: decision,
		Reason:   reason,
		Unlock:   out.unlock,
		UnlockMS: out.unlockMS,
		UserID:   out.userID,
	}, nil
}

func replayResult(ev *models.AccessEvent) *Result {
	return &Result{
		Decision: ev.Decision,
		Reason:   ev.Reason,
		Unlock:   ev.Unlock,
		UnlockMS: ev.UnlockMS,
		UserID:   ev.UserID,
		Replayed: true,
	}
}

func inputKind(eventType string) string {
	switch eventType {
	case models.EventTypeDNI, models.EventTypeDNIPIN:
		return "dni"
	case models.EventTypeCredential, models.EventTypeFob, models.EventTypeCard:
		return "credential"
	case models.EventTypeQRToken:
		return "qr"
	case models.EventTypeManual:
		return "manual"
	case models.EventTypeEnroll:
		return "enroll"
	}
	return "other"
}

func sanitizeMeta(meta map[string]string) datatypes.JSON {
	if len(meta) == 0 {
		return nil
	}
	bounded := make(map[string]string, len(meta))
	n := 0
	for k, v := range meta {
		if n >= maxMetaKeys {
			break
		}
		if len(k) > maxMetaKeyLen {
			k = k[:maxMetaKeyLen]
		}
		if len(v) > maxMetaValueLen {
			v = v[:maxMetaValueLen]
		}
		bounded[k] = v
		n++
	}
	blob, err := json.Marshal(bounded)
	if err != nil {
		return nil
	}
	return blob
}
