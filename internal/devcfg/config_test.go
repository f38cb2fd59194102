package devcfg

import (
	"testing"
	"time"
)

func TestParseEmptyBlobYieldsDefaults(t *testing.T) {
	for _, blob := range [][]byte{nil, {}} {
		cfg, err := Parse(blob)
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		if cfg.UnlockMS != UnlockMSDefault {
			t.Errorf("UnlockMS = %d, want %d", cfg.UnlockMS, UnlockMSDefault)
		}
		if cfg.RateWindowSeconds != RateWindowDefault {
			t.Errorf("RateWindowSeconds = %d, want %d", cfg.RateWindowSeconds, RateWindowDefault)
		}
		if cfg.AllowManualUnlock {
			t.Error("AllowManualUnlock should default to false")
		}
		if cfg.MaxEventsPerMinute != 0 {
			t.Error("rate limiting should default to disabled")
		}
		if cfg.AntiPassbackSeconds != 0 {
			t.Error("anti-passback should default to disabled")
		}
	}
}

func TestParseMalformedJSONIsAnError(t *testing.T) {
	if _, err := Parse([]byte(`{"unlock_ms": `)); err == nil {
		t.Fatal("expected an error for malformed JSON")
	}
}

func TestParseClampsRanges(t *testing.T) {
	tests := []struct {
		blob         string
		unlockMS     int
		rateWindow   int
		antiPassback int
	}{
		{`{"unlock_ms": 50, "rate_limit_window_seconds": 1, "anti_passback_seconds": 2}`,
			UnlockMSMin, RateWindowMin, AntiPassbackMin},
		{`{"unlock_ms": 99999, "rate_limit_window_seconds": 9999, "anti_passback_seconds": 999999}`,
			UnlockMSMax, RateWindowMax, AntiPassbackMax},
		{`{"unlock_ms": 5000, "rate_limit_window_seconds": 30, "anti_passback_seconds": 60}`,
			5000, 30, 60},
	}
	for _, tt := range tests {
		cfg, err := Parse([]byte(tt.blob))
		if err != nil {
			t.Fatalf("Parse(%s): %v", tt.blob, err)
		}
		if cfg.UnlockMS != tt.unlockMS {
			t.Errorf("%s: UnlockMS = %d, want %d", tt.blob, cfg.UnlockMS, tt.unlockMS)
		}
		if cfg.RateWindowSeconds != tt.rateWindow {
			t.Errorf("%s: RateWindowSeconds = %d, want %d", tt.blob, cfg.RateWindowSeconds, tt.rateWindow)
		}
		if cfg.AntiPassbackSeconds != tt.antiPassback {
			t.Errorf("%s: AntiPassbackSeconds = %d, want %d", tt.blob, cfg.AntiPassbackSeconds, tt.antiPassback)
		}
	}
}

func TestParseUnknownKeysAreIgnored(t *testing.T) {
	cfg, err := Parse([]byte(`{"runtime_status": {"fw": "1.2"}, "unlock_ms": 4000}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.UnlockMS != 4000 {
		t.Errorf("UnlockMS = %d, want 4000", cfg.UnlockMS)
	}
}

func TestTypeAllowed(t *testing.T) {
	open := &Config{}
	if !open.TypeAllowed("dni") || !open.TypeAllowed("manual_unlock") {
		t.Error("nil allow-list must allow every type")
	}

	restricted := &Config{AllowedEventTypes: []string{"dni", "fob"}}
	if !restricted.TypeAllowed("dni") {
		t.Error("listed type should be allowed")
	}
	if restricted.TypeAllowed("qr_token") {
		t.Error("unlisted type should be denied")
	}
	if !restricted.TypeAllowed("enroll_credential") {
		t.Error("enrollment must bypass the allow-list")
	}

	empty := &Config{AllowedEventTypes: []string{}}
	if empty.TypeAllowed("dni") {
		t.Error("an explicit empty allow-list should deny everything")
	}
}

func TestEnrollModeActiveAt(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	later := now.Add(time.Minute)

	var nilMode *EnrollMode
	if nilMode.ActiveAt(now) {
		t.Error("nil mode must be inactive")
	}
	if (&EnrollMode{Enabled: false}).ActiveAt(now) {
		t.Error("disabled mode must be inactive")
	}
	if !(&EnrollMode{Enabled: true}).ActiveAt(now) {
		t.Error("enabled mode without expiry must be active")
	}
	if !(&EnrollMode{Enabled: true, ExpiresAt: &later}).ActiveAt(now) {
		t.Error("mode should be active before its expiry")
	}
	if (&EnrollMode{Enabled: true, ExpiresAt: &now}).ActiveAt(now) {
		t.Error("mode must be inactive at its expiry instant")
	}
}

func TestLocation(t *testing.T) {
	ba, err := time.LoadLocation("America/Argentina/Buenos_Aires")
	if err != nil {
		t.Skip("tzdata unavailable")
	}

	cfg := &Config{Timezone: "America/Argentina/Buenos_Aires"}
	if got := cfg.Location(time.UTC); got.String() != ba.String() {
		t.Errorf("Location = %v, want %v", got, ba)
	}

	cfg = &Config{}
	if got := cfg.Location(ba); got != ba {
		t.Errorf("empty timezone should use the fallback, got %v", got)
	}

	cfg = &Config{Timezone: "Not/AZone"}
	if got := cfg.Location(ba); got != ba {
		t.Errorf("bad timezone should use the fallback, got %v", got)
	}

	cfg = &Config{}
	if got := cfg.Location(nil); got != time.UTC {
		t.Errorf("no fallback should mean UTC, got %v", got)
	}
}
