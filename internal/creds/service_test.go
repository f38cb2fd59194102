package creds_test

import (
	"context"
	"errors"
	"testing"

	"garita/internal/creds"
	"garita/internal/models"
	"garita/internal/secrets"
	"garita/internal/store"
	"garita/internal/store/memory"
)

func newService(t *testing.T) *creds.Service {
	t.Helper()
	return creds.New(memory.NewStores().Credentials, secrets.NewHasher("test-key"))
}

func TestCreateDerivesMaskedLabel(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	c, err := s.Create(ctx, 7, models.CredentialTypeFob, "12341222", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if c.Label != "****1222" {
		t.Errorf("Label = %q, want %q", c.Label, "****1222")
	}
	if c.Hash == "" || c.Hash == "12341222" {
		t.Error("the stored hash must not be the raw value")
	}
	if !c.Active {
		t.Error("new credentials start active")
	}

	c2, err := s.Create(ctx, 8, models.CredentialTypeCard, "999955", "llavero azul")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if c2.Label != "llavero azul" {
		t.Errorf("an explicit label must win, got %q", c2.Label)
	}
}

func TestCreateRejectsInvalid(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	if _, err := s.Create(ctx, 7, "retina", "12341222", ""); !errors.Is(err, creds.ErrInvalid) {
		t.Errorf("unknown type: %v, want ErrInvalid", err)
	}
	if _, err := s.Create(ctx, 7, models.CredentialTypeFob, "----", ""); !errors.Is(err, creds.ErrInvalid) {
		t.Errorf("empty normalized value: %v, want ErrInvalid", err)
	}
}

func TestCreateConflictsOnActiveDuplicate(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	c, err := s.Create(ctx, 7, models.CredentialTypeFob, "AB-12 cd", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// same value after normalization, any owner
	if _, err := s.Create(ctx, 9, models.CredentialTypeFob, "ab12cd", ""); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("duplicate: %v, want ErrConflict", err)
	}

	// a deactivated credential frees the value
	if err := s.Deactivate(ctx, c.ID); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if _, err := s.Create(ctx, 9, models.CredentialTypeFob, "ab12cd", ""); err != nil {
		t.Fatalf("re-create after deactivation: %v", err)
	}
}

func TestResolveActive(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	c, err := s.Create(ctx, 7, models.CredentialTypeFob, "AB-12 cd", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.ResolveActive(ctx, models.CredentialTypeFob, "ab 12 CD")
	if err != nil {
		t.Fatalf("ResolveActive: %v", err)
	}
	if got.ID != c.ID {
		t.Errorf("resolved %d, want %d", got.ID, c.ID)
	}

	// the type is part of the address
	if _, err := s.ResolveActive(ctx, models.CredentialTypeCard, "ab12cd"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("wrong type: %v, want ErrNotFound", err)
	}

	if err := s.Deactivate(ctx, c.ID); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if _, err := s.ResolveActive(ctx, models.CredentialTypeFob, "ab12cd"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("deactivated: %v, want ErrNotFound", err)
	}
}

func TestResolveActiveAny(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	c, err := s.Create(ctx, 7, models.CredentialTypePIN, "4711", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := s.ResolveActiveAny(ctx, "4711")
	if err != nil {
		t.Fatalf("ResolveActiveAny: %v", err)
	}
	if got.ID != c.ID {
		t.Errorf("resolved %d, want %d", got.ID, c.ID)
	}
	if _, err := s.ResolveActiveAny(ctx, "0000"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("unknown value: %v, want ErrNotFound", err)
	}
}

func TestDeactivateByUserType(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	if _, err := s.Create(ctx, 7, models.CredentialTypeFob, "aaaa11", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.Create(ctx, 7, models.CredentialTypeFob, "bbbb22", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	keep, err := s.Create(ctx, 7, models.CredentialTypeCard, "cccc33", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := s.DeactivateByUserType(ctx, 7, models.CredentialTypeFob); err != nil {
		t.Fatalf("DeactivateByUserType: %v", err)
	}

	list, err := s.ListByUser(ctx, 7)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	active := 0
	for _, c := range list {
		if c.Active {
			active++
			if c.ID != keep.ID {
				t.Errorf("credential %d should be inactive", c.ID)
			}
		}
	}
	if active != 1 {
		t.Errorf("active credentials = %d, want 1", active)
	}
}
