package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"garita/internal/models"
	"garita/internal/store"
	"garita/internal/store/memory"
)

func newTestService(t *testing.T) (*Service, *time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	s := New(memory.NewStores().Commands, 30*time.Second, 60*time.Second)
	s.now = func() time.Time { return now }
	return s, &now
}

func TestEnqueueUnknownType(t *testing.T) {
	s, _ := newTestService(t)
	if _, _, err := s.Enqueue(context.Background(), 1, "reboot", nil, "", nil); err == nil {
		t.Fatal("unknown command type must be rejected")
	}
}

func TestEnqueueIsIdempotentPerRequestID(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	first, existing, err := s.Enqueue(ctx, 1, models.CommandTypeUnlock, nil, "req-1", nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if existing {
		t.Fatal("first enqueue should not report existing")
	}

	second, existing, err := s.Enqueue(ctx, 1, models.CommandTypeUnlock, nil, "req-1", nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if !existing {
		t.Fatal("the retry should report the existing command")
	}
	if second.ID != first.ID {
		t.Errorf("retry returned command %d, want %d", second.ID, first.ID)
	}

	// the same request id on a different device is a different command
	other, existing, err := s.Enqueue(ctx, 2, models.CommandTypeUnlock, nil, "req-1", nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if existing || other.ID == first.ID {
		t.Error("request ids are scoped per device")
	}
}

func TestEnqueueGeneratesRequestID(t *testing.T) {
	s, _ := newTestService(t)
	cmd, _, err := s.Enqueue(context.Background(), 1, models.CommandTypeUnlock, nil, "", nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if cmd.RequestID == nil || *cmd.RequestID == "" {
		t.Fatal("a server-side request id should be assigned")
	}
}

func TestEnqueueBoundsPayload(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	big := map[string]any{}
	for i := 0; i < 17; i++ {
		big[string(rune('a'+i))] = i
	}
	if _, _, err := s.Enqueue(ctx, 1, models.CommandTypeUnlock, big, "", nil); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("17 keys: %v, want ErrPayloadTooLarge", err)
	}

	huge := make([]byte, 5000)
	for i := range huge {
		huge[i] = 'x'
	}
	if _, _, err := s.Enqueue(ctx, 1, models.CommandTypeUnlock, map[string]any{"v": string(huge)}, "", nil); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("oversized blob: %v, want ErrPayloadTooLarge", err)
	}
}

func TestPollClaimsOldestFirstAndClampsLimit(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	var ids []uint
	for i := 0; i < 25; i++ {
		cmd, _, err := s.Enqueue(ctx, 1, models.CommandTypeUnlock, nil, "", nil)
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		ids = append(ids, cmd.ID)
	}

	got, err := s.Poll(ctx, 1, 100) // clamped to 20
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(got) != 20 {
		t.Fatalf("claimed %d commands, want 20", len(got))
	}
	for i, c := range got {
		if c.ID != ids[i] {
			t.Fatalf("claim order: got %d at %d, want %d", c.ID, i, ids[i])
		}
		if c.Status != models.CommandStatusClaimed {
			t.Errorf("command %d status %q, want claimed", c.ID, c.Status)
		}
	}

	// an immediate second poll sees only the remainder
	rest, err := s.Poll(ctx, 1, 20)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(rest) != 5 {
		t.Errorf("second poll claimed %d, want 5", len(rest))
	}

	// zero and negative limits claim at least one
	if _, _, err := s.Enqueue(ctx, 1, models.CommandTypeUnlock, nil, "", nil); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	one, err := s.Poll(ctx, 1, 0)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(one) != 1 {
		t.Errorf("limit 0 claimed %d, want 1", len(one))
	}
}

func TestExpiredCommandsAreNotClaimed(t *testing.T) {
	s, now := newTestService(t)
	ctx := context.Background()

	if _, _, err := s.Enqueue(ctx, 1, models.CommandTypeUnlock, nil, "", nil); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	*now = now.Add(31 * time.Second) // past the 30s TTL

	got, err := s.Poll(ctx, 1, 10)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("claimed %d expired commands, want 0", len(got))
	}
}

func TestClaimLeaseRequeuesUnacked(t *testing.T) {
	s, now := newTestService(t)
	ctx := context.Background()

	cmd, _, err := s.Enqueue(ctx, 1, models.CommandTypeUnlock, nil, "", nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if got, _ := s.Poll(ctx, 1, 10); len(got) != 1 {
		t.Fatalf("first poll claimed %d, want 1", len(got))
	}

	// inside the lease the command stays invisible
	*now = now.Add(30 * time.Second)
	if got, _ := s.Poll(ctx, 1, 10); len(got) != 0 {
		t.Fatalf("poll inside lease claimed %d, want 0", len(got))
	}

	// after the lease the claimer is presumed dead and the command requeues
	*now = now.Add(31 * time.Second)
	got, err := s.Poll(ctx, 1, 10)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(got) != 1 || got[0].ID != cmd.ID {
		t.Fatalf("poll after lease = %v, want command %d", got, cmd.ID)
	}
}

func TestClaimedCommandsExpireAfterTheRequeueWindow(t *testing.T) {
	s, now := newTestService(t)
	ctx := context.Background()
	start := *now

	if _, _, err := s.Enqueue(ctx, 1, models.CommandTypeUnlock, nil, "", nil); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	got, err := s.Poll(ctx, 1, 10)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("first poll claimed %d, want 1", len(got))
	}
	// claiming extends expiry to now+2*lease so one requeue can happen
	if want := start.Add(120 * time.Second); !got[0].ExpiresAt.Equal(want) {
		t.Fatalf("claimed expiry %v, want %v", got[0].ExpiresAt, want)
	}

	// past the extended expiry the command is gone for good, even though
	// its claim lease has long run out
	*now = start.Add(121 * time.Second)
	got, err = s.Poll(ctx, 1, 10)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("claimed %d commands past expiry, want 0", len(got))
	}
}

func TestAckLifecycle(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	cmd, _, err := s.Enqueue(ctx, 1, models.CommandTypeUnlock, nil, "", nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// acking before claiming is a conflict
	if _, err := s.Ack(ctx, 1, cmd.ID, nil); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("ack before claim: %v, want ErrConflict", err)
	}

	if _, err := s.Poll(ctx, 1, 1); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	already, err := s.Ack(ctx, 1, cmd.ID, map[string]any{"ok": true})
	if err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if already {
		t.Error("first ack should not report already")
	}

	// acking twice is success
	already, err = s.Ack(ctx, 1, cmd.ID, nil)
	if err != nil {
		t.Fatalf("second Ack: %v", err)
	}
	if !already {
		t.Error("second ack should report already")
	}

	// a foreign device cannot ack
	if _, err := s.Ack(ctx, 2, cmd.ID, nil); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("foreign ack: %v, want ErrNotFound", err)
	}
	if _, err := s.Ack(ctx, 1, 9999, nil); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("unknown id: %v, want ErrNotFound", err)
	}
}

func TestCancel(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	cmd, _, err := s.Enqueue(ctx, 1, models.CommandTypeUnlock, nil, "", nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := s.Cancel(ctx, cmd.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	// canceled commands are never claimed nor ackable
	if got, _ := s.Poll(ctx, 1, 10); len(got) != 0 {
		t.Fatalf("claimed %d canceled commands, want 0", len(got))
	}
	if _, err := s.Ack(ctx, 1, cmd.ID, nil); !errors.Is(err, store.ErrConflict) {
		t.Errorf("ack after cancel: %v, want ErrConflict", err)
	}

	// cancel is valid only while pending
	cmd2, _, err := s.Enqueue(ctx, 1, models.CommandTypeUnlock, nil, "", nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := s.Poll(ctx, 1, 1); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if err := s.Cancel(ctx, cmd2.ID); !errors.Is(err, store.ErrConflict) {
		t.Errorf("cancel after claim: %v, want ErrConflict", err)
	}
	if err := s.Cancel(ctx, 9999); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("cancel unknown: %v, want ErrNotFound", err)
	}
}
